package config

import (
	"time"

	"github.com/muurk/camstage/internal/provision"
)

// CurrentVersion is the only configuration file version understood.
const CurrentVersion = 1

// Config is the run configuration file.
type Config struct {
	Version      int          `yaml:"version"`
	Responder    Responder    `yaml:"responder"`
	Provisioning Provisioning `yaml:"provisioning"`
	Batch        Batch        `yaml:"batch"`
}

// Responder configures the DHCP responder. Addresses are dotted IPv4
// strings; they are validated when converted.
type Responder struct {
	Interfaces    []string      `yaml:"interfaces,omitempty"` // Empty binds one unbound socket
	ServerIP      string        `yaml:"server_ip"`            // This host's address on the bench network
	PoolStart     string        `yaml:"pool_start"`
	PoolEnd       string        `yaml:"pool_end"`
	SubnetMask    string        `yaml:"subnet_mask"`
	Gateway       string        `yaml:"gateway,omitempty"`
	DNS           []string      `yaml:"dns,omitempty"`
	LeaseTime     time.Duration `yaml:"lease_time"`
	OfferHold     time.Duration `yaml:"offer_hold"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// Credentials is a username and password pair. Passwords may be left out
// of the file and supplied through the environment instead.
type Credentials struct {
	Username string `yaml:"username"`
	Password string `yaml:"password,omitempty"`
}

// IsZero reports whether neither field is set.
func (c Credentials) IsZero() bool {
	return c.Username == "" && c.Password == ""
}

// Network is applied to every device along with its final address.
type Network struct {
	SubnetMask string `yaml:"subnet_mask"`
	Gateway    string `yaml:"gateway,omitempty"`
}

// Verify bounds the reachability poll after the address change.
type Verify struct {
	Attempts     int           `yaml:"attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
}

// Provisioning configures the per-device step sequence.
type Provisioning struct {
	FirmwareClass string `yaml:"firmware_class"` // axis-os-10 or legacy
	Scheme        string `yaml:"scheme"`         // http or https
	InsecureTLS   bool   `yaml:"insecure_tls"`

	Admin           Credentials `yaml:"admin"`
	SecondaryAdmin  Credentials `yaml:"secondary_admin,omitempty"`
	IntegrationUser Credentials `yaml:"integration_user,omitempty"`

	UseSecondaryForSubsequent bool `yaml:"use_secondary_for_subsequent"`

	Settings []provision.Setting `yaml:"settings"`
	Network  Network             `yaml:"network"`

	CallTimeout time.Duration `yaml:"call_timeout"`
	MaxAttempts int           `yaml:"max_attempts"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
	Verify      Verify        `yaml:"verify"`
}

// Batch configures how devices are matched and scheduled.
type Batch struct {
	Mode       string        `yaml:"mode"`    // positional or hardware-id
	Workers    int           `yaml:"workers"` // 0 picks min(batch size, 8)
	Expect     int           `yaml:"expect,omitempty"`
	Wait       time.Duration `yaml:"wait"`
	StatusAddr string        `yaml:"status_addr,omitempty"`
}

// Default returns the configuration used when no file exists. Factory
// cameras fall back to 192.168.0.90, so the responder serves that /24.
func Default() *Config {
	opts := provision.DefaultOptions()
	return &Config{
		Version: CurrentVersion,
		Responder: Responder{
			ServerIP:      "192.168.0.1",
			PoolStart:     "192.168.0.100",
			PoolEnd:       "192.168.0.199",
			SubnetMask:    "255.255.255.0",
			LeaseTime:     time.Hour,
			OfferHold:     30 * time.Second,
			SweepInterval: 10 * time.Second,
		},
		Provisioning: Provisioning{
			FirmwareClass: string(opts.FirmwareClass),
			Scheme:        "http",
			Admin:         Credentials{Username: opts.Admin.Username},
			Settings:      opts.Settings,
			Network:       Network{SubnetMask: opts.SubnetMask.String()},
			CallTimeout:   opts.CallTimeout,
			MaxAttempts:   opts.MaxAttempts,
			RetryDelay:    opts.RetryDelay,
			Verify: Verify{
				Attempts:     opts.Verify.Attempts,
				InitialDelay: opts.Verify.InitialDelay,
				MaxDelay:     opts.Verify.MaxDelay,
			},
		},
		Batch: Batch{
			Mode: "positional",
			Wait: 5 * time.Minute,
		},
	}
}

// Redacted returns a copy with passwords masked, for display.
func (c *Config) Redacted() *Config {
	out := *c
	mask := func(cr *Credentials) {
		if cr.Password != "" {
			cr.Password = "********"
		}
	}
	mask(&out.Provisioning.Admin)
	mask(&out.Provisioning.SecondaryAdmin)
	mask(&out.Provisioning.IntegrationUser)
	return &out
}
