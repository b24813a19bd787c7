package config

import (
	"fmt"
	"net/netip"

	"github.com/muurk/camstage/internal/batch"
	"github.com/muurk/camstage/internal/device"
	"github.com/muurk/camstage/internal/dhcp"
	"github.com/muurk/camstage/internal/provision"
)

func parseAddr(field, s string) (netip.Addr, error) {
	a, err := netip.ParseAddr(s)
	if err != nil || !a.Is4() {
		return netip.Addr{}, fmt.Errorf("%s: %q is not an IPv4 address", field, s)
	}
	return a, nil
}

func parseOptionalAddr(field, s string) (netip.Addr, error) {
	if s == "" {
		return netip.Addr{}, nil
	}
	return parseAddr(field, s)
}

// ResponderConfig converts the responder section and validates it.
func (c *Config) ResponderConfig() (dhcp.Config, error) {
	r := c.Responder
	out := dhcp.Config{
		Interfaces:    r.Interfaces,
		LeaseDuration: r.LeaseTime,
		OfferHold:     r.OfferHold,
		SweepInterval: r.SweepInterval,
	}

	var err error
	if out.ServerIP, err = parseAddr("responder.server_ip", r.ServerIP); err != nil {
		return dhcp.Config{}, err
	}
	if out.PoolStart, err = parseAddr("responder.pool_start", r.PoolStart); err != nil {
		return dhcp.Config{}, err
	}
	if out.PoolEnd, err = parseAddr("responder.pool_end", r.PoolEnd); err != nil {
		return dhcp.Config{}, err
	}
	if out.SubnetMask, err = parseAddr("responder.subnet_mask", r.SubnetMask); err != nil {
		return dhcp.Config{}, err
	}
	if out.Gateway, err = parseOptionalAddr("responder.gateway", r.Gateway); err != nil {
		return dhcp.Config{}, err
	}
	for i, s := range r.DNS {
		a, err := parseAddr(fmt.Sprintf("responder.dns[%d]", i), s)
		if err != nil {
			return dhcp.Config{}, err
		}
		out.DNS = append(out.DNS, a)
	}

	if err := out.Validate(); err != nil {
		return dhcp.Config{}, fmt.Errorf("responder: %w", err)
	}
	return out, nil
}

// ProvisionOptions converts the provisioning section and validates it.
func (c *Config) ProvisionOptions() (provision.Options, error) {
	p := c.Provisioning

	class, err := provision.ParseFirmwareClass(p.FirmwareClass)
	if err != nil {
		return provision.Options{}, fmt.Errorf("provisioning.firmware_class: %w", err)
	}

	opts := provision.Options{
		FirmwareClass:             class,
		Admin:                     device.Credentials(p.Admin),
		SecondaryAdmin:            device.Credentials(p.SecondaryAdmin),
		IntegrationUser:           device.Credentials(p.IntegrationUser),
		UseSecondaryForSubsequent: p.UseSecondaryForSubsequent,
		Settings:                  p.Settings,
		CallTimeout:               p.CallTimeout,
		MaxAttempts:               p.MaxAttempts,
		RetryDelay:                p.RetryDelay,
		Verify: provision.VerifyOptions{
			Attempts:     p.Verify.Attempts,
			InitialDelay: p.Verify.InitialDelay,
			MaxDelay:     p.Verify.MaxDelay,
		},
	}
	if opts.SubnetMask, err = parseAddr("provisioning.network.subnet_mask", p.Network.SubnetMask); err != nil {
		return provision.Options{}, err
	}
	if opts.Gateway, err = parseOptionalAddr("provisioning.network.gateway", p.Network.Gateway); err != nil {
		return provision.Options{}, err
	}

	if err := opts.Validate(); err != nil {
		return provision.Options{}, fmt.Errorf("provisioning: %w", err)
	}
	return opts, nil
}

// BatchMode returns the configured assignment mode.
func (c *Config) BatchMode() (batch.Mode, error) {
	m, err := batch.ParseMode(c.Batch.Mode)
	if err != nil {
		return "", fmt.Errorf("batch.mode: %w", err)
	}
	return m, nil
}
