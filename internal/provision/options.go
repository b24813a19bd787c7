package provision

import (
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/muurk/camstage/internal/device"
	"github.com/muurk/camstage/internal/dhcp"
)

// FirmwareClass selects behaviour that differs between camera firmware
// generations.
type FirmwareClass string

const (
	// FirmwareAxisOS10 is AXIS OS 10 and later, where the first
	// administrator must be named root.
	FirmwareAxisOS10 FirmwareClass = "axis-os-10"

	// FirmwareLegacy accepts any name for the first administrator.
	FirmwareLegacy FirmwareClass = "legacy"
)

// RequiredAdminUsername is the first administrator name AXIS OS 10 enforces.
const RequiredAdminUsername = "root"

// ParseFirmwareClass validates a firmware class name. Empty selects
// FirmwareAxisOS10.
func ParseFirmwareClass(s string) (FirmwareClass, error) {
	switch FirmwareClass(s) {
	case "":
		return FirmwareAxisOS10, nil
	case FirmwareAxisOS10, FirmwareLegacy:
		return FirmwareClass(s), nil
	}
	return "", fmt.Errorf("unknown firmware class %q (want %s or %s)", s, FirmwareAxisOS10, FirmwareLegacy)
}

// InitialAdminUsername returns the username to create the first
// administrator with, and whether the configured name was overridden.
func (f FirmwareClass) InitialAdminUsername(configured string) (string, bool) {
	if f == FirmwareLegacy {
		if configured == "" {
			return RequiredAdminUsername, false
		}
		return configured, false
	}
	return RequiredAdminUsername, configured != "" && configured != RequiredAdminUsername
}

// Setting is one baseline parameter applied to every device.
type Setting struct {
	Name  string `yaml:"name" json:"name"`
	Value string `yaml:"value" json:"value"`
}

// VerifyOptions bounds the reachability poll after the address change.
type VerifyOptions struct {
	// Attempts is the number of probes before giving up.
	Attempts int

	// InitialDelay is the first backoff interval.
	InitialDelay time.Duration

	// MaxDelay caps the backoff interval.
	MaxDelay time.Duration
}

// Options is the shared configuration of a batch.
type Options struct {
	FirmwareClass FirmwareClass

	Admin           device.Credentials
	SecondaryAdmin  device.Credentials
	IntegrationUser device.Credentials

	// UseSecondaryForSubsequent authenticates the steps after a
	// successful secondary admin creation as that secondary admin.
	UseSecondaryForSubsequent bool

	Settings []Setting

	SubnetMask netip.Addr
	Gateway    netip.Addr

	// CallTimeout bounds every device call.
	CallTimeout time.Duration

	// MaxAttempts bounds the attempts of a step on transient failures.
	MaxAttempts int
	RetryDelay  time.Duration

	Verify VerifyOptions
}

// DefaultSettings are applied when the configuration names none.
func DefaultSettings() []Setting {
	return []Setting{
		{Name: "ImageSource.I0.Sensor.WDR", Value: "off"},
		{Name: "WebService.UsernameToken.ReplayAttackProtection", Value: "no"},
	}
}

// DefaultOptions returns options with the default timings. Credentials and
// network parameters must still be filled in.
func DefaultOptions() Options {
	return Options{
		FirmwareClass: FirmwareAxisOS10,
		Admin:         device.Credentials{Username: RequiredAdminUsername},
		Settings:      DefaultSettings(),
		SubnetMask:    netip.AddrFrom4([4]byte{255, 255, 255, 0}),
		CallTimeout:   10 * time.Second,
		MaxAttempts:   3,
		RetryDelay:    2 * time.Second,
		Verify: VerifyOptions{
			Attempts:     30,
			InitialDelay: 2 * time.Second,
			MaxDelay:     10 * time.Second,
		},
	}
}

// Validate checks the options before a batch starts.
func (o Options) Validate() error {
	if o.Admin.Password == "" {
		return errors.New("admin password is required")
	}
	if !o.SubnetMask.Is4() {
		return errors.New("subnet mask is required")
	}
	if _, err := dhcp.MaskToPrefix(o.SubnetMask); err != nil {
		return err
	}
	if o.Gateway.IsValid() && !o.Gateway.Is4() {
		return fmt.Errorf("gateway %s is not IPv4", o.Gateway)
	}
	if !o.SecondaryAdmin.IsZero() && o.SecondaryAdmin.Password == "" {
		return fmt.Errorf("secondary admin %s has no password", o.SecondaryAdmin.Username)
	}
	if !o.IntegrationUser.IsZero() && o.IntegrationUser.Password == "" {
		return fmt.Errorf("integration user %s has no password", o.IntegrationUser.Username)
	}
	if o.MaxAttempts < 1 {
		return errors.New("max attempts must be at least 1")
	}
	if o.Verify.Attempts < 1 {
		return errors.New("verify attempts must be at least 1")
	}
	return nil
}
