package journal

import (
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muurk/camstage/internal/provision"
)

var base = time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

func sampleEvents() []provision.Event {
	return []provision.Event{
		{RunID: "run-1", DeviceID: "ac:cc:8e:00:00:01", Index: 0, Kind: provision.EventDeviceStarted, Time: base, Address: "192.168.0.100"},
		{
			RunID: "run-1", DeviceID: "ac:cc:8e:00:00:01", Index: 0, Kind: provision.EventStepCompleted,
			Time: base.Add(time.Second), State: provision.StateAdminCreated,
			Step: &provision.StepResult{Name: provision.StepInitialAdmin, Status: provision.StepSuccess, Message: "created root", Attempts: 2, Timestamp: base.Add(time.Second), Critical: true},
		},
		{RunID: "run-1", DeviceID: "ac:cc:8e:00:00:02", Index: 1, Kind: provision.EventDeviceStarted, Time: base.Add(2 * time.Second)},
		{RunID: "run-1", DeviceID: "ac:cc:8e:00:00:01", Index: 0, Kind: provision.EventDeviceFinished, Time: base.Add(3 * time.Second), State: provision.StateDone, Status: provision.StatusDone},
	}
}

func writeJournal(t *testing.T, events []provision.Event) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "events.cbor")
	w, err := Create(path)
	require.NoError(t, err)
	for _, ev := range events {
		w.Record(ev)
	}
	require.NoError(t, w.Close())
	return path
}

func readAll(t *testing.T, path string, filter Filter) []provision.Event {
	t.Helper()
	r, err := Open(path, filter)
	require.NoError(t, err)
	defer r.Close()

	var out []provision.Event
	for {
		ev, err := r.Next()
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		out = append(out, ev)
	}
}

func TestRoundTrip(t *testing.T) {
	want := sampleEvents()
	got := readAll(t, writeJournal(t, want), Filter{})

	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i].DeviceID, got[i].DeviceID)
		assert.Equal(t, want[i].Kind, got[i].Kind)
		assert.True(t, want[i].Time.Equal(got[i].Time), "event %d time", i)
	}

	step := got[1].Step
	require.NotNil(t, step)
	assert.Equal(t, provision.StepInitialAdmin, step.Name)
	assert.Equal(t, 2, step.Attempts)
	assert.True(t, step.Critical)
	assert.Equal(t, provision.StatusDone, got[3].Status)
	assert.Equal(t, "192.168.0.100", got[0].Address)
}

func TestAppendAcrossWriters(t *testing.T) {
	events := sampleEvents()
	path := writeJournal(t, events[:2])

	w, err := Create(path)
	require.NoError(t, err)
	for _, ev := range events[2:] {
		w.Record(ev)
	}
	require.NoError(t, w.Close())

	assert.Len(t, readAll(t, path, Filter{}), len(events))
}

func TestFilter(t *testing.T) {
	path := writeJournal(t, sampleEvents())

	byDevice := readAll(t, path, Filter{DeviceID: "AC:CC:8E:00:00:02"})
	require.Len(t, byDevice, 1)
	assert.Equal(t, 1, byDevice[0].Index)

	byKind := readAll(t, path, Filter{Kind: provision.EventDeviceStarted})
	assert.Len(t, byKind, 2)

	assert.Empty(t, readAll(t, path, Filter{RunID: "other"}))
}

func TestRecordAfterClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.cbor")
	w, err := Create(path)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	w.Record(sampleEvents()[0])
	assert.Empty(t, readAll(t, path, Filter{}))
}

func TestConcurrentRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.cbor")
	w, err := Create(path)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				w.Record(provision.Event{RunID: "run", Index: i, Kind: provision.EventStepCompleted, Time: base})
			}
		}(i)
	}
	wg.Wait()
	require.NoError(t, w.Close())

	assert.Len(t, readAll(t, path, Filter{}), 80)
}

func TestFormat(t *testing.T) {
	events := sampleEvents()

	line := Format(events[1])
	assert.Contains(t, line, "initial_admin=success")
	assert.Contains(t, line, "(2 attempts)")
	assert.Contains(t, line, "created root")

	assert.Contains(t, Format(events[0]), "at 192.168.0.100")
	assert.Contains(t, Format(events[3]), "Done")
}
