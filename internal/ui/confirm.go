package ui

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/muurk/camstage/internal/batch"
)

// RenderPlan renders the resolved batch: which device gets which address,
// plus anything left over on either side.
func RenderPlan(res *batch.Resolution, width int) string {
	width = clampWidth(width)

	var lines []string
	lines = append(lines, "", WarningTitleStyle.Render(fmt.Sprintf("%s  PLAN  ─  %d devices, %s mode", WarningMarker, len(res.Targets), res.Mode)), "")

	for _, t := range res.Targets {
		lines = append(lines, ResultValueStyle.Render(fmt.Sprintf("  %3d  %-17s  %15s → %s",
			t.Index+1, t.HardwareID, addrString(t.TemporaryAddress), addrString(t.FinalAddress))))
	}

	if len(res.Unused) > 0 {
		lines = append(lines, "", StepNoteStyle.Render(fmt.Sprintf("  %d assignment rows have no device:", len(res.Unused))))
		for _, d := range res.Unused {
			lines = append(lines, StepPendingStyle.Render(fmt.Sprintf("    row %d  %s  %s", d.Row, addrString(d.FinalAddress), d.HardwareID)))
		}
	}
	if len(res.Unassigned) > 0 {
		lines = append(lines, "", StepNoteStyle.Render(fmt.Sprintf("  %d devices have no assignment and will be left alone:", len(res.Unassigned))))
		for _, d := range res.Unassigned {
			lines = append(lines, StepPendingStyle.Render(fmt.Sprintf("    %s  %s", d.HardwareID, addrString(d.Address))))
		}
	}
	lines = append(lines, "")

	return boxStyle(width, WarningColor).Render(strings.Join(lines, "\n"))
}

// ConfirmPlan prints the plan and asks the operator to type "yes". Any
// other answer, including end of input, declines.
func ConfirmPlan(in io.Reader, out io.Writer, res *batch.Resolution) bool {
	_, _ = fmt.Fprintln(out, RenderPlan(res, GetTerminalWidth()))
	_, _ = fmt.Fprintln(out)

	promptStyle := lipgloss.NewStyle().
		Foreground(WarningColor).
		Bold(true)
	_, _ = fmt.Fprint(out, promptStyle.Render("Credentials and addresses will be written to these devices. Type \"yes\" to proceed: "))

	input, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && input == "" {
		_, _ = fmt.Fprintln(out)
		return false
	}

	if strings.EqualFold(strings.TrimSpace(input), "yes") {
		_, _ = fmt.Fprintln(out)
		return true
	}

	_, _ = fmt.Fprintln(out)
	_, _ = fmt.Fprintln(out, lipgloss.NewStyle().Foreground(MutedColor).Render("  Provisioning cancelled."))
	return false
}
