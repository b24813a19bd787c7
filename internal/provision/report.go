package provision

import (
	"time"

	"github.com/muurk/camstage/internal/device"
)

// StepStatus is the outcome of one provisioning step.
type StepStatus string

const (
	StepSuccess StepStatus = "success"
	StepFailed  StepStatus = "failed"
	StepSkipped StepStatus = "skipped"
)

// Status is the overall outcome of a device.
type Status string

const (
	StatusDone   Status = "Done"
	StatusFailed Status = "Failed"
)

// State is a position in the per-device state machine.
type State string

const (
	StateInit               State = "Init"
	StateAdminCreated       State = "AdminCreated"
	StateSecondaryAdminDone State = "SecondaryAdminDone"
	StateOnvifUserDone      State = "OnvifUserDone"
	StateSettingsApplied    State = "SettingsApplied"
	StateStaticAddressSet   State = "StaticAddressSet"
	StateVerified           State = "Verified"
	StateDone               State = "Done"
	StateFailed             State = "Failed"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// Step names. Settings use SettingStepPrefix followed by the parameter name.
const (
	StepInitialAdmin    = "initial_admin"
	StepSecondaryAdmin  = "secondary_admin"
	StepIntegrationUser = "integration_user"
	StepStaticAddress   = "static_address"
	StepVerifyReachable = "verify_reachable"
	StepVerifyIdentity  = "verify_identity"

	SettingStepPrefix = "setting:"
)

// StepResult records one step.
type StepResult struct {
	Name      string     `json:"name"`
	Status    StepStatus `json:"status"`
	Message   string     `json:"message"`
	Attempts  int        `json:"attempts"`
	Timestamp time.Time  `json:"timestamp"`
	Critical  bool       `json:"critical"`
}

// Succeeded reports whether the step succeeded.
func (r StepResult) Succeeded() bool {
	return r.Status == StepSuccess
}

// DeviceReport is the complete record of one device's run. It is built by a
// single goroutine and handed to the report sink once finished.
type DeviceReport struct {
	RunID    string          `json:"run_id"`
	Target   device.Target   `json:"target"`
	Steps    []StepResult    `json:"steps"`
	Status   Status          `json:"status"`
	State    State           `json:"state"`
	Identity device.Identity `json:"identity"`
	Warnings []string        `json:"warnings,omitempty"`

	// Cancelled is set when cancellation cut the run short.
	Cancelled bool `json:"cancelled"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Step returns the named step result, if recorded.
func (r *DeviceReport) Step(name string) (StepResult, bool) {
	for _, s := range r.Steps {
		if s.Name == name {
			return s, true
		}
	}
	return StepResult{}, false
}

// Done reports whether the device finished with status Done.
func (r *DeviceReport) Done() bool {
	return r.Status == StatusDone
}

// overallStatus is Failed iff a critical step did not succeed. A critical
// step skipped because of cancellation counts as not succeeded.
func overallStatus(steps []StepResult) Status {
	for _, s := range steps {
		if s.Critical && !s.Succeeded() {
			return StatusFailed
		}
	}
	return StatusDone
}

// NotStartedReport builds the report of a device that never started, with
// every planned step skipped.
func NotStartedReport(runID string, target device.Target, opts Options, reason string, now time.Time) *DeviceReport {
	report := &DeviceReport{
		RunID:      runID,
		Target:     target,
		State:      StateFailed,
		Cancelled:  true,
		StartedAt:  now,
		FinishedAt: now,
	}
	skip := func(name string, critical bool) {
		report.Steps = append(report.Steps, StepResult{
			Name:      name,
			Status:    StepSkipped,
			Message:   reason,
			Timestamp: now,
			Critical:  critical,
		})
	}
	for _, s := range plan(opts, nil) {
		skip(s.name, s.critical)
	}
	skip(StepVerifyReachable, false)
	skip(StepVerifyIdentity, false)
	report.Status = overallStatus(report.Steps)
	return report
}
