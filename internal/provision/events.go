package provision

import "time"

// EventKind identifies a progress event.
type EventKind string

const (
	EventDeviceStarted  EventKind = "device-started"
	EventStepCompleted  EventKind = "step-completed"
	EventDeviceFinished EventKind = "device-finished"
)

// Event is one progress notification. Events are values; consumers never
// share state with the goroutine that produced them.
type Event struct {
	RunID    string    `json:"run_id" cbor:"1,keyasint"`
	DeviceID string    `json:"device_id" cbor:"2,keyasint"`
	Index    int       `json:"index" cbor:"3,keyasint"`
	Kind     EventKind `json:"kind" cbor:"4,keyasint"`
	Time     time.Time `json:"time" cbor:"5,keyasint"`

	// Step is set on step-completed events.
	Step *StepResult `json:"step,omitempty" cbor:"6,keyasint,omitempty"`

	// State and Status are set on device-finished events; State also
	// tracks progress on step-completed events.
	State  State  `json:"state,omitempty" cbor:"7,keyasint,omitempty"`
	Status Status `json:"status,omitempty" cbor:"8,keyasint,omitempty"`

	// Address is where the device answers at the time of the event.
	Address string `json:"address,omitempty" cbor:"9,keyasint,omitempty"`
}

// Emitter receives progress events. It must not block for long; the
// orchestrator supplies one that hands events to a single consuming loop.
type Emitter func(Event)
