package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/muurk/camstage/internal/device"
	"github.com/muurk/camstage/internal/logging"
	"github.com/muurk/camstage/internal/provision"
)

const (
	// MaxAutoWorkers caps the worker count chosen for Workers == 0.
	MaxAutoWorkers = 8

	defaultEventBuffer = 256
)

// ErrNothingToProvision is returned when a batch has no targets.
var ErrNothingToProvision = errors.New("no devices to provision")

// Sink receives each finished report exactly once. Add is called
// concurrently from workers.
type Sink interface {
	Add(report *provision.DeviceReport)
}

// Config configures an Orchestrator.
type Config struct {
	// Workers bounds concurrent devices. Zero picks min(batch size,
	// MaxAutoWorkers).
	Workers int

	// Sink receives finished reports.
	Sink Sink

	// OnEvent is called for every progress event from a single goroutine.
	OnEvent provision.Emitter

	// EventBuffer sizes the queue between workers and OnEvent.
	EventBuffer int

	// MachineOptions are appended to the machine's options, mainly for
	// tests.
	MachineOptions []provision.Option
}

// Summary describes a finished run. Reports themselves belong to the sink.
type Summary struct {
	RunID      string        `json:"run_id"`
	Total      int           `json:"total"`
	Started    int           `json:"started"`
	Done       int           `json:"done"`
	Failed     int           `json:"failed"`
	Cancelled  bool          `json:"cancelled"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Elapsed    time.Duration `json:"elapsed"`
}

// Orchestrator runs one state machine per target on a bounded worker pool.
type Orchestrator struct {
	client device.Client
	opts   provision.Options
	config Config
	runID  string

	cancelled atomic.Bool
	started   atomic.Int32
	done      atomic.Int32
	failed    atomic.Int32
}

// New creates an Orchestrator with a fresh run id.
func New(client device.Client, opts provision.Options, config Config) *Orchestrator {
	if config.EventBuffer <= 0 {
		config.EventBuffer = defaultEventBuffer
	}
	if config.OnEvent == nil {
		config.OnEvent = func(provision.Event) {}
	}
	return &Orchestrator{
		client: client,
		opts:   opts,
		config: config,
		runID:  uuid.Must(uuid.NewRandom()).String(),
	}
}

// RunID identifies this run in events and reports.
func (o *Orchestrator) RunID() string {
	return o.runID
}

// Cancel requests cooperative cancellation. Steps in flight complete; no
// new step or device starts afterwards. Safe to call from any goroutine.
func (o *Orchestrator) Cancel() {
	if o.cancelled.CompareAndSwap(false, true) {
		logging.Info("Cancellation requested, finishing in-flight steps", zap.String("run_id", o.runID))
	}
}

// Cancelled reports whether cancellation was requested.
func (o *Orchestrator) Cancelled() bool {
	return o.cancelled.Load()
}

// Workers returns the pool size used for n targets.
func (o *Orchestrator) Workers(n int) int {
	if o.config.Workers > 0 {
		return o.config.Workers
	}
	return max(1, min(n, MaxAutoWorkers))
}

// Run provisions targets and blocks until every device has a report.
// Cancelling ctx has the same effect as Cancel. Only systemic problems
// return an error; device failures are recorded in reports.
func (o *Orchestrator) Run(ctx context.Context, targets []device.Target) (*Summary, error) {
	if len(targets) == 0 {
		return nil, ErrNothingToProvision
	}
	if o.config.Sink == nil {
		return nil, errors.New("batch: no report sink configured")
	}
	if err := o.opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid provisioning options: %w", err)
	}

	stop := context.AfterFunc(ctx, o.Cancel)
	defer stop()

	summary := &Summary{RunID: o.runID, Total: len(targets), StartedAt: time.Now()}
	workers := o.Workers(len(targets))
	logging.Info("Starting batch",
		zap.String("run_id", o.runID),
		zap.Int("devices", len(targets)),
		zap.Int("workers", workers),
	)

	// Workers only enqueue; one goroutine delivers to OnEvent.
	events := make(chan provision.Event, o.config.EventBuffer)
	dispatched := make(chan struct{})
	go func() {
		defer close(dispatched)
		for ev := range events {
			o.config.OnEvent(ev)
		}
	}()
	emit := func(ev provision.Event) { events <- ev }

	machineOpts := append([]provision.Option{
		provision.WithRunID(o.runID),
		provision.WithEmitter(emit),
		provision.WithCancelCheck(o.Cancelled),
	}, o.config.MachineOptions...)
	machine := provision.NewMachine(o.client, o.opts, machineOpts...)

	g := new(errgroup.Group)
	g.SetLimit(workers)
	for _, target := range targets {
		g.Go(func() error {
			o.finish(o.runDevice(ctx, machine, target, emit))
			return nil
		})
	}
	_ = g.Wait()

	close(events)
	<-dispatched

	summary.Started = int(o.started.Load())
	summary.Done = int(o.done.Load())
	summary.Failed = int(o.failed.Load())
	summary.Cancelled = o.Cancelled()
	summary.FinishedAt = time.Now()
	summary.Elapsed = summary.FinishedAt.Sub(summary.StartedAt)

	logging.Info("Batch finished",
		zap.String("run_id", o.runID),
		zap.Int("done", summary.Done),
		zap.Int("failed", summary.Failed),
		zap.Bool("cancelled", summary.Cancelled),
		zap.Duration("elapsed", summary.Elapsed),
	)
	return summary, nil
}

func (o *Orchestrator) runDevice(ctx context.Context, machine *provision.Machine, target device.Target, emit provision.Emitter) *provision.DeviceReport {
	if o.Cancelled() {
		now := time.Now()
		report := provision.NotStartedReport(o.runID, target, machine.Options(), "cancelled before start", now)
		emit(provision.Event{
			RunID:    o.runID,
			DeviceID: target.ID(),
			Index:    target.Index,
			Kind:     provision.EventDeviceFinished,
			Time:     now,
			State:    report.State,
			Status:   report.Status,
			Address:  target.Address.String(),
		})
		return report
	}

	o.started.Inc()
	return machine.Run(ctx, target)
}

// finish hands the report to the sink; the orchestrator keeps no reference.
func (o *Orchestrator) finish(report *provision.DeviceReport) {
	if report.Done() {
		o.done.Inc()
	} else {
		o.failed.Inc()
	}
	o.config.Sink.Add(report)
}
