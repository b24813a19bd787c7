package provision

import (
	"context"
	"fmt"
	"net/netip"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/camstage/internal/device"
	"github.com/muurk/camstage/internal/logging"
)

// Strategy is one way of performing a step. The target and the
// authenticated identity are passed on every call.
type Strategy struct {
	Name string
	Call func(ctx context.Context, target device.Target, creds device.Credentials) device.Result
}

// step is one entry of a device's plan.
type step struct {
	name     string
	critical bool

	// advance is the state reached once the step has run.
	advance State

	strategies []Strategy
}

// plan returns the ordered steps for opts. A nil client yields the step
// names and criticality only.
func plan(opts Options, client device.Client) []step {
	var steps []step

	steps = append(steps, step{
		name:       StepInitialAdmin,
		critical:   true,
		advance:    StateAdminCreated,
		strategies: initialAdminStrategies(opts, client),
	})

	if !opts.SecondaryAdmin.IsZero() {
		steps = append(steps, step{
			name:       StepSecondaryAdmin,
			advance:    StateSecondaryAdminDone,
			strategies: secondaryAdminStrategies(opts, client),
		})
	}

	if !opts.IntegrationUser.IsZero() {
		steps = append(steps, step{
			name:       StepIntegrationUser,
			advance:    StateOnvifUserDone,
			strategies: integrationUserStrategies(opts, client),
		})
	}

	for _, setting := range opts.Settings {
		steps = append(steps, step{
			name:       SettingStepPrefix + setting.Name,
			advance:    StateSettingsApplied,
			strategies: settingStrategies(setting, client),
		})
	}

	steps = append(steps, step{
		name:       StepStaticAddress,
		critical:   true,
		advance:    StateStaticAddressSet,
		strategies: staticAddressStrategies(opts, client),
	})
	return steps
}

func initialAdminStrategies(opts Options, client device.Client) []Strategy {
	if client == nil {
		return nil
	}
	username, _ := opts.FirmwareClass.InitialAdminUsername(opts.Admin.Username)
	return []Strategy{{
		Name: "pwdgrp",
		Call: func(ctx context.Context, t device.Target, _ device.Credentials) device.Result {
			return client.CreateInitialAdmin(ctx, t, username, opts.Admin.Password)
		},
	}}
}

func secondaryAdminStrategies(opts Options, client device.Client) []Strategy {
	if client == nil {
		return nil
	}
	user := opts.SecondaryAdmin
	return []Strategy{{
		Name: "pwdgrp",
		Call: func(ctx context.Context, t device.Target, creds device.Credentials) device.Result {
			return client.CreateSecondaryAdmin(ctx, t, creds, user.Username, user.Password)
		},
	}}
}

func integrationUserStrategies(opts Options, client device.Client) []Strategy {
	if client == nil {
		return nil
	}
	user := opts.IntegrationUser
	strategies := []Strategy{{
		Name: "vapix",
		Call: func(ctx context.Context, t device.Target, creds device.Credentials) device.Result {
			return client.CreateIntegrationUser(ctx, t, creds, user.Username, user.Password)
		},
	}}
	if onvif, ok := client.(device.ONVIFUserCreator); ok {
		strategies = append(strategies, Strategy{
			Name: "onvif",
			Call: func(ctx context.Context, t device.Target, creds device.Credentials) device.Result {
				return onvif.CreateIntegrationUserONVIF(ctx, t, creds, user.Username, user.Password)
			},
		})
	}
	return strategies
}

func settingStrategies(setting Setting, client device.Client) []Strategy {
	if client == nil {
		return nil
	}
	return []Strategy{{
		Name: "param",
		Call: func(ctx context.Context, t device.Target, creds device.Credentials) device.Result {
			return client.SetParameter(ctx, t, creds, setting.Name, setting.Value)
		},
	}}
}

func staticAddressStrategies(opts Options, client device.Client) []Strategy {
	if client == nil {
		return nil
	}
	static := func(set func(context.Context, device.Target, device.Credentials, netip.Addr, netip.Addr, netip.Addr) device.Result) func(context.Context, device.Target, device.Credentials) device.Result {
		return func(ctx context.Context, t device.Target, creds device.Credentials) device.Result {
			return set(ctx, t, creds, t.FinalAddress, opts.SubnetMask, opts.Gateway)
		}
	}

	strategies := []Strategy{{Name: "network-settings", Call: static(client.SetStaticNetwork)}}
	if legacy, ok := client.(device.LegacyNetworkSetter); ok {
		strategies = append(strategies, Strategy{Name: "legacy-param", Call: static(legacy.SetStaticNetworkLegacy)})
	}
	return strategies
}

// runStep tries the strategies in order, retrying the whole round while a
// failure in it was transient and attempts remain. Retries stop once
// cancellation is observed. In-flight calls are never aborted: each call
// gets its own timeout detached from ctx cancellation.
func (r *run) runStep(ctx context.Context, s step) StepResult {
	result := StepResult{Name: s.name, Critical: s.critical}

	for attempt := 1; ; attempt++ {
		result.Attempts = attempt

		res, transient := r.tryStrategies(ctx, s)
		if res.Success {
			result.Status = StepSuccess
			result.Message = res.Message
			break
		}

		result.Status = StepFailed
		result.Message = res.Message
		if !transient || attempt >= r.m.opts.MaxAttempts {
			break
		}
		if r.m.cancelled() {
			result.Message = res.Message + " (retries stopped: cancelled)"
			break
		}

		logging.Info("Retrying provisioning step",
			zap.String("device", r.target.ID()),
			zap.String("step", s.name),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", r.m.opts.MaxAttempts),
			zap.String("reason", res.Message),
		)
		r.m.sleep(ctx, r.m.opts.RetryDelay)
		if r.m.cancelled() {
			result.Message = res.Message + " (retries stopped: cancelled)"
			break
		}
	}

	result.Timestamp = r.m.now()
	logging.LogStep(r.target.ID(), s.name, string(result.Status), result.Attempts, result.Message)
	return result
}

// tryStrategies returns the first success, or the last failure and
// whether any failure in the round was transient.
func (r *run) tryStrategies(ctx context.Context, s step) (device.Result, bool) {
	if len(s.strategies) == 0 {
		return device.Failed("no strategy available for %s", s.name), false
	}

	var last device.Result
	transient := false
	for i, strategy := range s.strategies {
		res := r.call(ctx, strategy)
		if res.Success {
			return res, false
		}
		last = res
		transient = transient || res.Transient

		if i < len(s.strategies)-1 {
			logging.Debug("Strategy failed, trying next",
				zap.String("device", r.target.ID()),
				zap.String("step", s.name),
				zap.String("strategy", strategy.Name),
				zap.String("reason", res.Message),
			)
		}
	}
	if len(s.strategies) > 1 {
		last.Message = fmt.Sprintf("all %d strategies failed, last: %s", len(s.strategies), last.Message)
	}
	return last, transient
}

func (r *run) call(ctx context.Context, strategy Strategy) device.Result {
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.m.opts.CallTimeout)
	defer cancel()
	return strategy.Call(callCtx, r.target, r.creds)
}

func sleepContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
