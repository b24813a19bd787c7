// Package provision drives one camera through its configuration sequence.
//
// A Machine plans the steps from the batch options and runs them in order:
//
//	initial_admin (critical)
//	secondary_admin, integration_user, setting:<name>...
//	static_address (critical)
//	verify_reachable, verify_identity
//
// Each step tries its strategies in priority order and retries the round
// while failures are transient. A failed critical step moves the device to
// Failed and the remaining steps are recorded as skipped. Verification
// problems become warnings on the report.
//
// The identity used for authentication is carried per run and handed to
// every call. Cancellation is checked between steps only.
package provision
