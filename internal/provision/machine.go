package provision

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/camstage/internal/device"
	"github.com/muurk/camstage/internal/logging"
)

const (
	reasonCancelled      = "cancelled"
	reasonCriticalFailed = "not attempted: a critical step failed"
)

// Machine runs the provisioning sequence against devices. One Machine
// serves a whole batch; Run may be called concurrently, since everything
// specific to a device lives in the call.
type Machine struct {
	client device.Client
	opts   Options

	runID     string
	emit      Emitter
	cancelled func() bool
	now       func() time.Time
	sleep     func(context.Context, time.Duration)
}

// Option customizes a Machine.
type Option func(*Machine)

// WithRunID stamps reports and events with a run id.
func WithRunID(id string) Option {
	return func(m *Machine) { m.runID = id }
}

// WithEmitter sets the receiver of progress events.
func WithEmitter(e Emitter) Option {
	return func(m *Machine) { m.emit = e }
}

// WithCancelCheck sets the cooperative cancellation check consulted
// between steps.
func WithCancelCheck(f func() bool) Option {
	return func(m *Machine) { m.cancelled = f }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// WithSleep replaces the delay between retries.
func WithSleep(f func(context.Context, time.Duration)) Option {
	return func(m *Machine) { m.sleep = f }
}

// NewMachine creates a Machine for client and opts.
func NewMachine(client device.Client, opts Options, options ...Option) *Machine {
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultOptions().CallTimeout
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.Verify.Attempts < 1 {
		opts.Verify.Attempts = 1
	}
	if opts.FirmwareClass == "" {
		opts.FirmwareClass = FirmwareAxisOS10
	}

	m := &Machine{
		client:    client,
		opts:      opts,
		emit:      func(Event) {},
		cancelled: func() bool { return false },
		now:       time.Now,
		sleep:     sleepContext,
	}
	for _, o := range options {
		o(m)
	}
	return m
}

// Options returns the options in effect.
func (m *Machine) Options() Options {
	return m.opts
}

// run is the state of one device's pass through the machine.
type run struct {
	m      *Machine
	target device.Target

	// creds is the identity subsequent steps authenticate as.
	creds  device.Credentials
	report *DeviceReport
}

// Run provisions one device and returns its finished report. Cancellation
// is observed between steps only; a step that has started completes.
func (m *Machine) Run(ctx context.Context, target device.Target) *DeviceReport {
	username, overridden := m.opts.FirmwareClass.InitialAdminUsername(m.opts.Admin.Username)
	if overridden {
		logging.Warn("Firmware requires the first administrator to be root, ignoring configured username",
			zap.String("device", target.ID()),
			zap.String("configured", m.opts.Admin.Username),
			zap.String("firmware_class", string(m.opts.FirmwareClass)),
		)
	}

	r := &run{
		m:      m,
		target: target,
		creds:  device.Credentials{Username: username, Password: m.opts.Admin.Password},
		report: &DeviceReport{
			RunID:     m.runID,
			Target:    target,
			State:     StateInit,
			StartedAt: m.now(),
		},
	}
	r.event(EventDeviceStarted, nil)
	logging.Info("Provisioning device",
		zap.String("device", target.ID()),
		zap.String("temporary", target.TemporaryAddress.String()),
		zap.String("final", target.FinalAddress.String()),
	)

	steps := plan(m.opts, m.client)
	halted := ""
	for _, s := range steps {
		if halted == "" && m.cancelled() {
			halted = reasonCancelled
			r.report.Cancelled = true
		}
		if halted != "" {
			r.record(r.skipped(s.name, s.critical, halted))
			continue
		}

		result := r.runStep(ctx, s)
		r.record(result)

		if result.Succeeded() || !s.critical {
			r.advance(s, result)
			continue
		}

		r.report.State = StateFailed
		halted = reasonCriticalFailed
	}

	if halted == "" {
		r.verify(ctx)
	} else {
		r.skipVerification(halted)
	}

	r.finish()
	return r.report
}

// advance applies the effects of a step that has run without halting the
// device.
func (r *run) advance(s step, result StepResult) {
	r.report.State = s.advance

	switch s.name {
	case StepSecondaryAdmin:
		if result.Succeeded() && r.m.opts.UseSecondaryForSubsequent {
			r.creds = r.m.opts.SecondaryAdmin
			logging.Debug("Switching to secondary admin",
				zap.String("device", r.target.ID()),
				zap.String("username", r.creds.Username),
			)
		}
	case StepStaticAddress:
		r.target = r.target.AtFinalAddress()
	}
}

func (r *run) skipped(name string, critical bool, reason string) StepResult {
	return StepResult{
		Name:      name,
		Status:    StepSkipped,
		Message:   reason,
		Timestamp: r.m.now(),
		Critical:  critical,
	}
}

func (r *run) record(result StepResult) {
	r.report.Steps = append(r.report.Steps, result)
	r.event(EventStepCompleted, &result)
}

func (r *run) warn(msg string) {
	r.report.Warnings = append(r.report.Warnings, msg)
	logging.Warn("Provisioning warning",
		zap.String("device", r.target.ID()),
		zap.String("warning", msg),
	)
}

func (r *run) finish() {
	r.report.Status = overallStatus(r.report.Steps)
	switch {
	case r.report.Status == StatusFailed:
		r.report.State = StateFailed
	case !r.report.State.Terminal():
		r.report.State = StateDone
	}
	r.report.FinishedAt = r.m.now()
	r.event(EventDeviceFinished, nil)

	logging.Info("Device finished",
		zap.String("device", r.target.ID()),
		zap.String("status", string(r.report.Status)),
		zap.Int("warnings", len(r.report.Warnings)),
		zap.Duration("elapsed", r.report.FinishedAt.Sub(r.report.StartedAt)),
	)
}

func (r *run) event(kind EventKind, result *StepResult) {
	ev := Event{
		RunID:    r.m.runID,
		DeviceID: r.target.ID(),
		Index:    r.target.Index,
		Kind:     kind,
		Time:     r.m.now(),
		Step:     result,
		State:    r.report.State,
		Address:  r.target.Address.String(),
	}
	if kind == EventDeviceFinished {
		ev.Status = r.report.Status
	}
	r.m.emit(ev)
}
