package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/muurk/camstage/internal/batch"
	"github.com/muurk/camstage/internal/device"
	"github.com/muurk/camstage/internal/provision"
)

// EventMsg carries one progress event into the live view
type EventMsg provision.Event

// DoneMsg tells the live view the batch has finished
type DoneMsg struct {
	Summary *batch.Summary
	Err     error
}

type batchKeyMap struct {
	Cancel key.Binding
	Force  key.Binding
}

// ShortHelp returns keybindings to be shown in the mini help view
func (k batchKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Cancel, k.Force}
}

// FullHelp returns keybindings for the expanded help view
func (k batchKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{{k.Cancel, k.Force}}
}

// BatchModel is the live view of a running batch. The first cancel
// keypress stops new work; a second one abandons the view.
type BatchModel struct {
	header   *Header
	progress *Progress
	spinner  spinner.Model
	help     help.Model
	keys     batchKeyMap
	cancel   func()

	cancelling bool
	forced     bool
	done       bool
	summary    *batch.Summary
	err        error
}

// NewBatchModel creates the live view. cancel is called once on the first
// cancel keypress.
func NewBatchModel(header *Header, targets []device.Target, cancel func()) BatchModel {
	s := spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(StepRunningStyle))
	return BatchModel{
		header:   header,
		progress: NewProgress(targets),
		spinner:  s,
		help:     help.New(),
		keys: batchKeyMap{
			Cancel: key.NewBinding(
				key.WithKeys("q", "ctrl+c"),
				key.WithHelp("q/ctrl+c", "stop after in-flight steps"),
			),
			Force: key.NewBinding(
				key.WithKeys("ctrl+c"),
				key.WithHelp("ctrl+c again", "quit now"),
			),
		},
		cancel: cancel,
	}
}

// Init implements tea.Model
func (m BatchModel) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update implements tea.Model
func (m BatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.header.SetWidth(msg.Width)
		m.progress.SetWidth(msg.Width)
		m.help.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		if !key.Matches(msg, m.keys.Cancel) {
			return m, nil
		}
		if m.cancelling {
			m.forced = true
			return m, tea.Quit
		}
		m.cancelling = true
		if m.cancel != nil {
			m.cancel()
		}
		return m, nil

	case EventMsg:
		m.progress.Apply(provision.Event(msg))
		return m, nil

	case DoneMsg:
		m.done = true
		m.summary = msg.Summary
		m.err = msg.Err
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View implements tea.Model
func (m BatchModel) View() string {
	var b strings.Builder
	b.WriteString(m.header.Render())
	b.WriteString("\n\n")

	spin := m.spinner.View()
	if m.done {
		spin = ""
	}
	b.WriteString(m.progress.Render(spin))
	b.WriteString("\n\n")

	switch {
	case m.done:
	case m.cancelling:
		b.WriteString(WarningTitleStyle.Render("  Cancelling: waiting for in-flight steps. Press ctrl+c again to quit now."))
		b.WriteString("\n")
	default:
		b.WriteString(HelpStyle.Render(m.help.View(m.keys)))
		b.WriteString("\n")
	}
	return b.String()
}

// Progress returns the device rows as last rendered
func (m BatchModel) Progress() *Progress {
	return m.progress
}

// Forced reports whether the operator quit without waiting.
func (m BatchModel) Forced() bool {
	return m.forced
}

// Live runs a BatchModel and feeds it events from other goroutines.
type Live struct {
	program *tea.Program
}

// NewLive creates the live view writing to out, reading keys from in.
func NewLive(model BatchModel, in io.Reader, out io.Writer) *Live {
	return &Live{
		program: tea.NewProgram(model, tea.WithInput(in), tea.WithOutput(out)),
	}
}

// Emit forwards ev to the view. It matches provision.Emitter.
func (l *Live) Emit(ev provision.Event) {
	l.program.Send(EventMsg(ev))
}

// Finish tells the view the batch is over.
func (l *Live) Finish(sum *batch.Summary, err error) {
	l.program.Send(DoneMsg{Summary: sum, Err: err})
}

// Run blocks until the view exits and returns the final model.
func (l *Live) Run() (BatchModel, error) {
	final, err := l.program.Run()
	if err != nil {
		return BatchModel{}, err
	}
	return final.(BatchModel), nil
}

// Printer writes plain progress lines when no terminal is attached. It is
// safe for concurrent use.
type Printer struct {
	mu    sync.Mutex
	out   io.Writer
	width int
}

// NewPrinter creates a new Printer that writes to the given writer.
// If w is nil, os.Stdout is used.
func NewPrinter(w io.Writer) *Printer {
	if w == nil {
		w = os.Stdout
	}
	return &Printer{
		out:   w,
		width: GetTerminalWidth(),
	}
}

// Println writes content with a newline
func (p *Printer) Println(content string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = fmt.Fprintln(p.out, content)
}

// PrintHeader prints the batch header
func (p *Printer) PrintHeader(h *Header) {
	p.Println(h.SetWidth(p.width).Render())
}

// PrintResult prints the closing result box
func (p *Printer) PrintResult(r *Result) {
	p.Println("")
	p.Println(r.SetWidth(p.width).Render())
}

// Emit prints one line per step and per finished device. It matches
// provision.Emitter.
func (p *Printer) Emit(ev provision.Event) {
	tag := fmt.Sprintf("  #%-3d %-17s ", ev.Index+1, ev.DeviceID)
	switch ev.Kind {
	case provision.EventDeviceStarted:
		p.Println(StepRunningStyle.Render(tag + StepMarkerRunning + " started at " + ev.Address))
	case provision.EventStepCompleted:
		if ev.Step == nil {
			return
		}
		marker, style := StepMarkerComplete, StepCompleteStyle
		switch ev.Step.Status {
		case provision.StepFailed:
			marker, style = FailureMarker, ErrorMessageStyle
		case provision.StepSkipped:
			marker, style = StepMarkerSkipped, StepPendingStyle
		}
		line := style.Render(tag + marker + " " + ev.Step.Name)
		if ev.Step.Message != "" {
			line += "  " + StepNoteStyle.Render("("+ev.Step.Message+")")
		}
		p.Println(line)
	case provision.EventDeviceFinished:
		if ev.Status == provision.StatusDone {
			p.Println(SuccessTitleStyle.Render(tag + SuccessMarker + " done"))
		} else {
			p.Println(ErrorTitleStyle.Render(tag + FailureMarker + " failed"))
		}
	}
}
