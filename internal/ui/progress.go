package ui

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"

	"github.com/muurk/camstage/internal/device"
	"github.com/muurk/camstage/internal/provision"
)

// DeviceStatus represents where a device is in the batch
type DeviceStatus int

const (
	DevicePending DeviceStatus = iota // Not yet started
	DeviceRunning                     // State machine in progress
	DeviceDone                        // Finished with status Done
	DeviceFailed                      // Finished with status Failed
	DeviceSkipped                     // Never started because the batch was cancelled
)

// DeviceRow is one device line in the progress display
type DeviceRow struct {
	Number     int // 1-based batch position
	HardwareID string
	TempAddr   string
	FinalAddr  string
	Status     DeviceStatus
	Step       string // Last step reported
	StepFailed bool
	Message    string
	Attempts   int
	Completed  int // Steps finished so far
}

// Progress tracks every device of a batch and renders a bar plus one line
// per device.
type Progress struct {
	Rows  []DeviceRow
	Width int
	bar   progress.Model
}

// NewProgress creates a row for each target, in batch order
func NewProgress(targets []device.Target) *Progress {
	p := &Progress{Rows: make([]DeviceRow, len(targets))}
	for i, t := range targets {
		p.Rows[i] = DeviceRow{
			Number:     t.Index + 1,
			HardwareID: t.HardwareID,
			TempAddr:   addrString(t.TemporaryAddress),
			FinalAddr:  addrString(t.FinalAddress),
		}
	}
	p.SetWidth(GetTerminalWidth())
	return p
}

// SetWidth sets the terminal width for responsive rendering
func (p *Progress) SetWidth(width int) *Progress {
	p.Width = clampWidth(width)
	barWidth := min(max(p.Width-30, 20), 60)
	p.bar = progress.New(
		progress.WithDefaultGradient(),
		progress.WithWidth(barWidth),
		progress.WithoutPercentage(),
	)
	return p
}

func (p *Progress) row(ev provision.Event) *DeviceRow {
	for i := range p.Rows {
		if p.Rows[i].Number == ev.Index+1 {
			return &p.Rows[i]
		}
	}
	return nil
}

// Apply folds one progress event into the display
func (p *Progress) Apply(ev provision.Event) {
	r := p.row(ev)
	if r == nil {
		return
	}

	switch ev.Kind {
	case provision.EventDeviceStarted:
		r.Status = DeviceRunning
	case provision.EventStepCompleted:
		if ev.Step == nil {
			return
		}
		r.Completed++
		r.Step = ev.Step.Name
		r.StepFailed = ev.Step.Status == provision.StepFailed
		r.Message = ev.Step.Message
		r.Attempts = ev.Step.Attempts
	case provision.EventDeviceFinished:
		switch {
		case ev.Status == provision.StatusDone:
			r.Status = DeviceDone
		case r.Status == DevicePending:
			r.Status = DeviceSkipped
		default:
			r.Status = DeviceFailed
		}
	}
}

// Counts returns finished, done and failed device counts
func (p *Progress) Counts() (finished, done, failed int) {
	for _, r := range p.Rows {
		switch r.Status {
		case DeviceDone:
			done++
		case DeviceFailed, DeviceSkipped:
			failed++
		}
	}
	return done + failed, done, failed
}

// Percent is the share of devices that have finished
func (p *Progress) Percent() float64 {
	if len(p.Rows) == 0 {
		return 0
	}
	finished, _, _ := p.Counts()
	return float64(finished) / float64(len(p.Rows))
}

// Render returns the bar and device list. spinner replaces the running
// marker when non-empty.
func (p *Progress) Render(spinner string) string {
	finished, done, failed := p.Counts()

	var b strings.Builder
	b.WriteString(lipgloss.NewStyle().PaddingLeft(2).Render(
		fmt.Sprintf("%s  %3.0f%%  [%d/%d]", p.bar.ViewAs(p.Percent()), p.Percent()*100, finished, len(p.Rows)),
	))
	b.WriteString("  ")
	b.WriteString(StepCompleteStyle.Render(fmt.Sprintf("%d done", done)))
	if failed > 0 {
		b.WriteString("  ")
		b.WriteString(ErrorTitleStyle.Render(fmt.Sprintf("%d failed", failed)))
	}
	b.WriteString("\n\n")

	lines := make([]string, len(p.Rows))
	for i, r := range p.Rows {
		lines[i] = p.RenderRow(r, spinner)
	}
	b.WriteString(strings.Join(lines, "\n"))
	return b.String()
}

// RenderRow renders a single device line
func (p *Progress) RenderRow(r DeviceRow, spinner string) string {
	prefix := fmt.Sprintf("  [%*d/%d] %-17s  %15s → %-15s ",
		len(fmt.Sprint(len(p.Rows))), r.Number, len(p.Rows), r.HardwareID, r.TempAddr, r.FinalAddr)

	var marker string
	var style lipgloss.Style
	switch r.Status {
	case DeviceDone:
		marker, style = StepMarkerComplete, StepCompleteStyle
	case DeviceFailed:
		marker, style = FailureMarker, ErrorTitleStyle
	case DeviceSkipped:
		marker, style = StepMarkerSkipped, StepPendingStyle
	case DeviceRunning:
		marker, style = StepMarkerRunning, StepRunningStyle
		if spinner != "" {
			marker = spinner
		}
	default:
		marker, style = StepMarkerPending, StepPendingStyle
	}

	var b strings.Builder
	b.WriteString(style.Render(prefix))
	b.WriteString(style.Render(marker))

	switch {
	case r.Status == DeviceSkipped:
		b.WriteString("  ")
		b.WriteString(StepNoteStyle.Render("not started"))
	case r.Step != "":
		b.WriteString("  ")
		stepStyle := style
		if r.StepFailed {
			stepStyle = ErrorMessageStyle
		}
		b.WriteString(stepStyle.Render(r.Step))
		if note := stepNote(r); note != "" {
			b.WriteString("  ")
			b.WriteString(StepNoteStyle.Render("(" + note + ")"))
		}
	}
	return b.String()
}

func stepNote(r DeviceRow) string {
	var parts []string
	if r.Attempts > 1 {
		parts = append(parts, fmt.Sprintf("%d attempts", r.Attempts))
	}
	if r.StepFailed && r.Message != "" {
		parts = append(parts, r.Message)
	}
	return strings.Join(parts, ", ")
}

func addrString(a netip.Addr) string {
	if !a.IsValid() {
		return "-"
	}
	return a.String()
}
