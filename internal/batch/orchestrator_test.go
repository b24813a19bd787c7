package batch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muurk/camstage/internal/device"
	"github.com/muurk/camstage/internal/provision"
)

// eventRecorder is only called from the dispatch goroutine, but the test
// reads it after Run returns, so it still locks.
type eventRecorder struct {
	mu     sync.Mutex
	events []provision.Event
}

func (r *eventRecorder) emit(ev provision.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) byDevice() map[string][]provision.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string][]provision.Event)
	for _, ev := range r.events {
		out[ev.DeviceID] = append(out[ev.DeviceID], ev)
	}
	return out
}

func TestRunIsolatesDeviceFailure(t *testing.T) {
	targets := testTargets(5)
	client := newFakeClient()
	client.failAdmin[targets[2].HardwareID] = true
	sink := &sliceSink{}

	o := New(client, testOptions(), Config{Workers: 3, Sink: sink})
	summary, err := o.Run(context.Background(), targets)
	require.NoError(t, err)

	assert.Equal(t, 5, summary.Total)
	assert.Equal(t, 4, summary.Done)
	assert.Equal(t, 1, summary.Failed)
	assert.False(t, summary.Cancelled)
	assert.Equal(t, o.RunID(), summary.RunID)

	reports := sink.all()
	require.Len(t, reports, 5)
	for _, r := range reports {
		assert.Equal(t, o.RunID(), r.RunID)
		if r.Target.HardwareID == targets[2].HardwareID {
			assert.Equal(t, provision.StatusFailed, r.Status)
			continue
		}
		assert.Equal(t, provision.StatusDone, r.Status, r.Target.ID())
	}
	assert.Equal(t, 1, client.callCount(targets[2].HardwareID), "failed device makes no further calls")
}

func TestRunNothingToProvision(t *testing.T) {
	o := New(newFakeClient(), testOptions(), Config{Sink: &sliceSink{}})
	_, err := o.Run(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNothingToProvision)
}

func TestRunRejectsInvalidOptions(t *testing.T) {
	opts := testOptions()
	opts.Admin.Password = ""
	sink := &sliceSink{}
	o := New(newFakeClient(), opts, Config{Sink: sink})

	_, err := o.Run(context.Background(), testTargets(1))
	assert.Error(t, err)
	assert.Empty(t, sink.all())
}

func TestRunRespectsWorkerLimit(t *testing.T) {
	client := newFakeClient()
	client.delay = 20 * time.Millisecond
	o := New(client, testOptions(), Config{Workers: 2, Sink: &sliceSink{}})

	_, err := o.Run(context.Background(), testTargets(6))
	require.NoError(t, err)
	assert.LessOrEqual(t, client.maxInFlight.Load(), int32(2))
}

func TestWorkersDefault(t *testing.T) {
	o := New(newFakeClient(), testOptions(), Config{})
	assert.Equal(t, 3, o.Workers(3))
	assert.Equal(t, MaxAutoWorkers, o.Workers(50))
	assert.Equal(t, 1, o.Workers(0))

	o = New(newFakeClient(), testOptions(), Config{Workers: 4})
	assert.Equal(t, 4, o.Workers(50))
}

func TestCancelStopsNewWork(t *testing.T) {
	targets := testTargets(3)
	client := newFakeClient()
	sink := &sliceSink{}

	var o *Orchestrator
	client.onAdmin = func(device.Target) { o.Cancel() }
	o = New(client, testOptions(), Config{Workers: 1, Sink: sink})

	summary, err := o.Run(context.Background(), targets)
	require.NoError(t, err)

	assert.True(t, summary.Cancelled)
	assert.Equal(t, 1, summary.Started)
	assert.Equal(t, 3, summary.Failed)

	reports := sink.all()
	require.Len(t, reports, 3)
	for _, r := range reports {
		assert.True(t, r.Cancelled)
		assert.Equal(t, provision.StatusFailed, r.Status)
	}

	first, ok := reportFor(reports, targets[0].HardwareID)
	require.True(t, ok)
	admin, ok := first.Step(provision.StepInitialAdmin)
	require.True(t, ok)
	assert.Equal(t, provision.StepSuccess, admin.Status, "in-flight step completes")

	assert.Equal(t, 1, client.callCount(targets[0].HardwareID))
	assert.Zero(t, client.callCount(targets[1].HardwareID))
	assert.Zero(t, client.callCount(targets[2].HardwareID))
}

func TestContextCancellationCancelsRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	client := newFakeClient()
	client.onAdmin = func(device.Target) { cancel() }
	o := New(client, testOptions(), Config{Workers: 1, Sink: &sliceSink{}})

	_, err := o.Run(ctx, testTargets(2))
	require.NoError(t, err)
	assert.Eventually(t, o.Cancelled, time.Second, time.Millisecond)
}

func TestEventsPerDevice(t *testing.T) {
	targets := testTargets(4)
	recorder := &eventRecorder{}
	o := New(newFakeClient(), testOptions(), Config{Sink: &sliceSink{}, OnEvent: recorder.emit})

	_, err := o.Run(context.Background(), targets)
	require.NoError(t, err)

	byDevice := recorder.byDevice()
	require.Len(t, byDevice, 4)
	for _, target := range targets {
		events := byDevice[target.ID()]
		require.NotEmpty(t, events)
		assert.Equal(t, provision.EventDeviceStarted, events[0].Kind)
		last := events[len(events)-1]
		assert.Equal(t, provision.EventDeviceFinished, last.Kind)
		assert.Equal(t, provision.StatusDone, last.Status)
		for _, ev := range events {
			assert.Equal(t, o.RunID(), ev.RunID)
			assert.Equal(t, target.Index, ev.Index)
		}
	}
}

func TestFanout(t *testing.T) {
	var a, b []provision.EventKind
	emit := Fanout(
		func(ev provision.Event) { a = append(a, ev.Kind) },
		nil,
		func(ev provision.Event) { b = append(b, ev.Kind) },
	)

	emit(provision.Event{Kind: provision.EventDeviceStarted})
	emit(provision.Event{Kind: provision.EventDeviceFinished})

	want := []provision.EventKind{provision.EventDeviceStarted, provision.EventDeviceFinished}
	assert.Equal(t, want, a)
	assert.Equal(t, want, b)
}

func reportFor(reports []*provision.DeviceReport, hwid string) (*provision.DeviceReport, bool) {
	for _, r := range reports {
		if r.Target.HardwareID == hwid {
			return r, true
		}
	}
	return nil, false
}
