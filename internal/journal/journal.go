package journal

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"go.uber.org/zap"

	"github.com/muurk/camstage/internal/logging"
	"github.com/muurk/camstage/internal/provision"
)

// Writer appends progress events to a CBOR file. It is safe for
// concurrent use.
type Writer struct {
	mu      sync.Mutex
	file    *os.File
	encoder *cbor.Encoder
	closed  bool
	failed  bool
}

// Create opens path for appending, creating it if needed.
func Create(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	return &Writer{file: f, encoder: newEncoder(f)}, nil
}

// Record appends ev. It matches provision.Emitter. A write error is logged
// once and later events are dropped; the journal never stops a batch.
func (w *Writer) Record(ev provision.Event) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed || w.failed {
		return
	}
	if err := w.encoder.Encode(ev); err != nil {
		w.failed = true
		logging.Warn("Journal write failed, further events are not recorded",
			zap.String("path", w.file.Name()),
			zap.Error(err),
		)
	}
}

// Close closes the file. Later Record calls are ignored.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	return w.file.Close()
}

// Filter selects events. Zero fields match everything.
type Filter struct {
	RunID    string
	DeviceID string
	Kind     provision.EventKind
}

func (f Filter) matches(ev provision.Event) bool {
	if f.RunID != "" && ev.RunID != f.RunID {
		return false
	}
	if f.DeviceID != "" && !strings.EqualFold(ev.DeviceID, f.DeviceID) {
		return false
	}
	if f.Kind != "" && ev.Kind != f.Kind {
		return false
	}
	return true
}

// Reader streams events from a journal file.
type Reader struct {
	file    *os.File
	decoder *cbor.Decoder
	filter  Filter
}

// Open opens a journal for reading.
func Open(path string, filter Filter) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &Reader{file: f, decoder: newDecoder(f), filter: filter}, nil
}

// Next returns the next matching event, or io.EOF.
func (r *Reader) Next() (provision.Event, error) {
	for {
		var ev provision.Event
		if err := r.decoder.Decode(&ev); err != nil {
			if errors.Is(err, io.EOF) {
				return provision.Event{}, io.EOF
			}
			return provision.Event{}, fmt.Errorf("corrupt journal entry: %w", err)
		}
		if r.filter.matches(ev) {
			return ev, nil
		}
	}
}

// Close closes the file.
func (r *Reader) Close() error {
	return r.file.Close()
}

// Format renders ev as one line of text.
func Format(ev provision.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s  %-17s  #%d %s", ev.Time.Format("2006-01-02 15:04:05.000"), ev.DeviceID, ev.Index, ev.Kind)
	switch ev.Kind {
	case provision.EventStepCompleted:
		if ev.Step != nil {
			fmt.Fprintf(&b, "  %s=%s", ev.Step.Name, ev.Step.Status)
			if ev.Step.Attempts > 1 {
				fmt.Fprintf(&b, " (%d attempts)", ev.Step.Attempts)
			}
			if ev.Step.Message != "" {
				fmt.Fprintf(&b, "  %s", ev.Step.Message)
			}
		}
	case provision.EventDeviceFinished:
		fmt.Fprintf(&b, "  %s", ev.Status)
	case provision.EventDeviceStarted:
		if ev.Address != "" {
			fmt.Fprintf(&b, "  at %s", ev.Address)
		}
	}
	return b.String()
}
