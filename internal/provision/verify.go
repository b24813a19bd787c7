package provision

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/muurk/camstage/internal/device"
	"github.com/muurk/camstage/internal/logging"
)

var errCancelled = errors.New("cancelled")

// verify polls the device at its final address until it answers, then
// confirms it is the device that was discovered. Both outcomes are
// warnings, never failures of the device.
func (r *run) verify(ctx context.Context) {
	if r.checkCancelled() {
		r.skipVerification(reasonCancelled)
		return
	}

	reach := r.verifyReachable(ctx)
	r.record(reach)
	if !reach.Succeeded() {
		if r.report.Cancelled {
			r.record(r.skipped(StepVerifyIdentity, false, reasonCancelled))
			return
		}
		r.warn(fmt.Sprintf("device did not answer at %s: %s", r.target.FinalAddress, reach.Message))
		r.record(r.skipped(StepVerifyIdentity, false, "device not reachable"))
		return
	}
	r.report.State = StateVerified

	if r.checkCancelled() {
		r.record(r.skipped(StepVerifyIdentity, false, reasonCancelled))
		return
	}
	r.record(r.verifyIdentity(ctx))
}

func (r *run) checkCancelled() bool {
	if r.m.cancelled() {
		r.report.Cancelled = true
		return true
	}
	return false
}

func (r *run) skipVerification(reason string) {
	r.record(r.skipped(StepVerifyReachable, false, reason))
	r.record(r.skipped(StepVerifyIdentity, false, reason))
}

// verifyReachable probes with exponential backoff for a bounded number of
// attempts. Progress is logged at half and three quarters of the budget.
func (r *run) verifyReachable(ctx context.Context) StepResult {
	opts := r.m.opts.Verify
	result := StepResult{Name: StepVerifyReachable}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = opts.InitialDelay
	b.MaxInterval = opts.MaxDelay
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(opts.Attempts-1)), ctx)

	var last device.Result
	operation := func() error {
		if r.m.cancelled() {
			return backoff.Permanent(errCancelled)
		}
		result.Attempts++

		last = r.probe(ctx)
		if last.Success {
			return nil
		}
		if !last.Transient {
			return backoff.Permanent(errors.New(last.Message))
		}
		return errors.New(last.Message)
	}

	half, threeQuarters := opts.Attempts/2, opts.Attempts*3/4
	notify := func(err error, next time.Duration) {
		switch result.Attempts {
		case half, threeQuarters:
			logging.Info("Still waiting for device at new address",
				zap.String("device", r.target.ID()),
				zap.String("address", r.target.Address.String()),
				zap.Int("attempt", result.Attempts),
				zap.Int("max_attempts", opts.Attempts),
				zap.Duration("next", next),
				zap.Error(err),
			)
		}
	}

	err := backoff.RetryNotify(operation, policy, notify)
	result.Timestamp = r.m.now()
	switch {
	case err == nil:
		result.Status = StepSuccess
		result.Message = fmt.Sprintf("reachable at %s after %d attempt(s)", r.target.Address, result.Attempts)
	case errors.Is(err, errCancelled), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		r.report.Cancelled = true
		result.Status = StepFailed
		result.Message = fmt.Sprintf("cancelled after %d attempt(s)", result.Attempts)
	default:
		result.Status = StepFailed
		result.Message = fmt.Sprintf("not reachable after %d attempt(s): %s", result.Attempts, last.Message)
	}
	logging.LogStep(r.target.ID(), result.Name, string(result.Status), result.Attempts, result.Message)
	return result
}

func (r *run) probe(ctx context.Context) device.Result {
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.m.opts.CallTimeout)
	defer cancel()
	return r.m.client.Probe(callCtx, r.target, r.creds)
}

// verifyIdentity reads the hardware id at the final address and compares it
// with the one the device was discovered under.
func (r *run) verifyIdentity(ctx context.Context) StepResult {
	result := StepResult{Name: StepVerifyIdentity, Attempts: 1}

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.m.opts.CallTimeout)
	id, res := r.m.client.GetIdentity(callCtx, r.target, r.creds)
	cancel()
	result.Timestamp = r.m.now()

	switch {
	case !res.Success:
		result.Status = StepFailed
		result.Message = res.Message
		r.warn("could not read device identity: " + res.Message)
	case r.target.HardwareID != "" && !strings.EqualFold(id.HardwareID, r.target.HardwareID):
		r.report.Identity = id
		result.Status = StepFailed
		result.Message = fmt.Sprintf("hardware id mismatch: discovered %s, device reports %s", r.target.HardwareID, id.HardwareID)
		r.warn(result.Message)
	default:
		r.report.Identity = id
		result.Status = StepSuccess
		result.Message = fmt.Sprintf("identity confirmed: %s (serial %s)", id.HardwareID, id.Serial)
	}
	logging.LogStep(r.target.ID(), result.Name, string(result.Status), result.Attempts, result.Message)
	return result
}
