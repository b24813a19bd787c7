// Package ui renders batch progress in the terminal.
//
// Two outputs consume the same progress events:
//
//   - Live: a Bubble Tea program showing a header, an overall progress bar
//     and one line per device, updated as events arrive. The first q or
//     ctrl+c asks the batch to stop after in-flight steps; a second ctrl+c
//     quits the view immediately.
//   - Printer: one plain line per step, used when stdout is not a terminal
//     or the live view is turned off.
//
// Both Live.Emit and Printer.Emit match provision.Emitter, so either can be
// passed to the orchestrator alongside the journal and the status server.
//
// Before a batch starts, ConfirmPlan shows which device receives which
// address and waits for the operator to type "yes". After it ends,
// NewBatchResult summarises done and failed devices.
//
// # Logging Integration
//
// zap logging is silent unless CAMSTAGE_LOG_LEVEL is set, so log lines do
// not tear the live view. Set it to "debug", "info", "warn" or "error" and
// use --no-live when logs are wanted on the terminal.
package ui
