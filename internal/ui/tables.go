package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/muurk/camstage/internal/dhcp"
)

var (
	tableHeaderStyle = lipgloss.NewStyle().
				Foreground(PrimaryColor).
				Bold(true)

	tableCellStyle = lipgloss.NewStyle().
			Foreground(TextColor)
)

// Column is one column of a fixed-width table.
type Column struct {
	Title string
	Width int
}

// RenderTable lays rows out under columns. Cells longer than their column
// wrap within it.
func RenderTable(columns []Column, rows [][]string) string {
	render := func(style lipgloss.Style, cells []string) string {
		out := make([]string, len(columns)+1)
		out[0] = "  "
		for i, c := range columns {
			var v string
			if i < len(cells) {
				v = cells[i]
			}
			out[i+1] = style.Width(c.Width + 1).Render(v)
		}
		return lipgloss.JoinHorizontal(lipgloss.Top, out...)
	}

	titles := make([]string, len(columns))
	for i, c := range columns {
		titles[i] = c.Title
	}

	var b strings.Builder
	b.WriteString(render(tableHeaderStyle, titles))
	b.WriteString("\n")
	for _, row := range rows {
		b.WriteString(render(tableCellStyle, row))
		b.WriteString("\n")
	}
	return b.String()
}

// RenderLeaseTable renders a lease snapshot in discovery order.
func RenderLeaseTable(leases []dhcp.Lease, now time.Time) string {
	if len(leases) == 0 {
		return StepPendingStyle.Render("  No leases.") + "\n"
	}
	columns := []Column{
		{Title: "#", Width: 4},
		{Title: "HARDWARE ID", Width: 14},
		{Title: "ADDRESS", Width: 16},
		{Title: "STATE", Width: 9},
		{Title: "EXPIRES", Width: 10},
		{Title: "HOSTNAME", Width: 24},
	}
	rows := make([][]string, 0, len(leases))
	for _, l := range leases {
		expires := "-"
		if l.Active(now) {
			expires = l.ExpiresAt.Sub(now).Round(time.Second).String()
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", l.Sequence),
			l.HardwareID,
			l.Address.String(),
			l.State.String(),
			expires,
			l.Hostname,
		})
	}
	return RenderTable(columns, rows)
}

// FormatLeaseEvent renders one lease event as a progress line.
func FormatLeaseEvent(ev dhcp.LeaseEvent) string {
	switch ev.Kind {
	case dhcp.EventBound:
		return StepCompleteStyle.Render(fmt.Sprintf("  %s %s bound %s", StepMarkerComplete, ev.Lease.HardwareID, ev.Lease.Address))
	case dhcp.EventOffered:
		return StepRunningStyle.Render(fmt.Sprintf("  %s %s offered %s", StepMarkerRunning, ev.Lease.HardwareID, ev.Lease.Address))
	case dhcp.EventExhausted:
		return WarningTitleStyle.Render(fmt.Sprintf("  %s pool exhausted, %s got no address", WarningMarker, ev.Lease.HardwareID))
	default:
		return StepPendingStyle.Render(fmt.Sprintf("  %s %s %s %s", StepMarkerPending, ev.Lease.HardwareID, ev.Kind, ev.Lease.Address))
	}
}
