package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/muurk/camstage/internal/batch"
	"github.com/muurk/camstage/internal/provision"
)

// ResultType indicates how a batch ended
type ResultType int

const (
	ResultSuccess ResultType = iota
	ResultFailure
	ResultWarning
)

// Result is the box printed when a batch ends.
type Result struct {
	Type     ResultType
	Title    string
	Details  []Param
	Failures []string // One line per failed device
	Warnings []string
	Width    int
}

// NewBatchResult summarises a finished batch. Any failed device makes the
// result a failure; a cancelled batch without failures is a warning.
func NewBatchResult(sum *batch.Summary, reports []*provision.DeviceReport) *Result {
	r := &Result{Width: GetTerminalWidth()}

	switch {
	case sum.Failed > 0:
		r.Type = ResultFailure
		r.Title = fmt.Sprintf("%d of %d devices failed", sum.Failed, sum.Total)
	case sum.Cancelled:
		r.Type = ResultWarning
		r.Title = "Batch cancelled"
	default:
		r.Type = ResultSuccess
		r.Title = fmt.Sprintf("All %d devices provisioned", sum.Total)
	}

	r.Details = []Param{
		{"Run", sum.RunID},
		{"Devices", fmt.Sprintf("%d", sum.Total)},
		{"Done", fmt.Sprintf("%d", sum.Done)},
		{"Failed", fmt.Sprintf("%d", sum.Failed)},
	}
	if notStarted := sum.Total - sum.Started; notStarted > 0 {
		r.Details = append(r.Details, Param{"Not started", fmt.Sprintf("%d", notStarted)})
	}
	r.Details = append(r.Details, Param{"Elapsed", sum.Elapsed.Round(time.Millisecond).String()})

	for _, rep := range reports {
		if !rep.Done() {
			r.Failures = append(r.Failures, failureLine(rep))
		}
		for _, w := range rep.Warnings {
			r.Warnings = append(r.Warnings, fmt.Sprintf("#%d %s: %s", rep.Target.Index+1, rep.Target.HardwareID, w))
		}
	}
	return r
}

// failureLine names the first critical step that did not succeed.
func failureLine(rep *provision.DeviceReport) string {
	prefix := fmt.Sprintf("#%d %s → %s", rep.Target.Index+1, rep.Target.HardwareID, addrString(rep.Target.FinalAddress))
	for _, s := range rep.Steps {
		if s.Critical && !s.Succeeded() {
			return fmt.Sprintf("%s: %s %s (%s)", prefix, s.Name, s.Status, s.Message)
		}
	}
	return prefix
}

// SetWidth sets the terminal width for responsive rendering
func (r *Result) SetWidth(width int) *Result {
	r.Width = width
	return r
}

// Render returns the styled result box as a string
func (r *Result) Render() string {
	width := clampWidth(r.Width)

	var lines []string
	switch r.Type {
	case ResultSuccess:
		lines = append(lines, "", SuccessTitleStyle.Render(SuccessMarker+"  DONE  ─  "+r.Title), "")
	case ResultFailure:
		lines = append(lines, "", ErrorTitleStyle.Render(FailureMarker+"  FAILED  ─  "+r.Title), "")
	case ResultWarning:
		lines = append(lines, "", WarningTitleStyle.Render(WarningMarker+"  CANCELLED  ─  "+r.Title), "")
	}

	for _, d := range r.Details {
		lines = append(lines, ResultKeyStyle.Render(d.Key+":")+" "+ResultValueStyle.Render(d.Value))
	}

	if len(r.Failures) > 0 {
		lines = append(lines, "", ErrorTitleStyle.Render("Failed devices:"))
		for _, f := range r.Failures {
			lines = append(lines, ErrorMessageStyle.Render("  • "+f))
		}
	}
	if len(r.Warnings) > 0 {
		lines = append(lines, "", WarningTitleStyle.Render("Warnings:"))
		for _, w := range r.Warnings {
			lines = append(lines, StepNoteStyle.Render("  • "+w))
		}
	}
	lines = append(lines, "")

	color := SuccessColor
	switch r.Type {
	case ResultFailure:
		color = ErrorColor
	case ResultWarning:
		color = WarningColor
	}
	return boxStyle(width, color).Render(strings.Join(lines, "\n"))
}

// String implements fmt.Stringer
func (r *Result) String() string {
	return r.Render()
}
