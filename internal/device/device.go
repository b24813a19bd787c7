package device

import (
	"context"
	"fmt"
	"net/netip"
)

// Credentials is a username/password pair used to authenticate device calls.
type Credentials struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"-"`
}

// IsZero reports whether no username is set.
func (c Credentials) IsZero() bool {
	return c.Username == ""
}

// String returns the username only so credentials are safe to log.
func (c Credentials) String() string {
	return c.Username
}

// Directive is one operator-supplied assignment: the address a device must
// end up on and, in hardware-id mode, which device that is.
type Directive struct {
	Row          int        `json:"row"`
	FinalAddress netip.Addr `json:"final_address"`
	HardwareID   string     `json:"hardware_id,omitempty"`
}

// Target is one device for the duration of a provisioning run.
type Target struct {
	// Index is the target's position in the resolved batch.
	Index            int        `json:"index"`
	HardwareID       string     `json:"hardware_id"`
	TemporaryAddress netip.Addr `json:"temporary_address"`
	FinalAddress     netip.Addr `json:"final_address"`
	Directive        Directive  `json:"directive"`

	// Address is where the device currently answers. It starts at the
	// temporary address and moves once the static address is applied.
	Address netip.Addr `json:"-"`
}

// NewTarget resolves a directive against a discovered device.
func NewTarget(index int, hardwareID string, temporary netip.Addr, d Directive) Target {
	return Target{
		Index:            index,
		HardwareID:       hardwareID,
		TemporaryAddress: temporary,
		FinalAddress:     d.FinalAddress,
		Directive:        d,
		Address:          temporary,
	}
}

// AtFinalAddress returns a copy of t addressed at its final address.
func (t Target) AtFinalAddress() Target {
	t.Address = t.FinalAddress
	return t
}

// ID identifies the target in logs and progress events.
func (t Target) ID() string {
	if t.HardwareID != "" {
		return t.HardwareID
	}
	return t.TemporaryAddress.String()
}

// String implements fmt.Stringer.
func (t Target) String() string {
	return fmt.Sprintf("%s (%s -> %s)", t.ID(), t.TemporaryAddress, t.FinalAddress)
}

// Result is the outcome of a single device call.
type Result struct {
	Success bool
	Message string

	// Transient marks failures worth retrying (timeouts, refused
	// connections, 5xx). Credential rejection is never transient.
	Transient bool
}

// OK returns a successful Result.
func OK(format string, args ...any) Result {
	return Result{Success: true, Message: fmt.Sprintf(format, args...)}
}

// Failed returns a non-transient failure.
func Failed(format string, args ...any) Result {
	return Result{Message: fmt.Sprintf(format, args...)}
}

// Retry returns a transient failure.
func Retry(format string, args ...any) Result {
	return Result{Message: fmt.Sprintf(format, args...), Transient: true}
}

// Identity is what a device reports about itself.
type Identity struct {
	HardwareID string `json:"hardware_id"`
	Serial     string `json:"serial"`
}

// Client executes authenticated calls against one device. Implementations
// must honour ctx deadlines and must not retry internally; retry policy
// belongs to the caller.
type Client interface {
	CreateInitialAdmin(ctx context.Context, target Target, username, password string) Result
	CreateSecondaryAdmin(ctx context.Context, target Target, admin Credentials, username, password string) Result
	CreateIntegrationUser(ctx context.Context, target Target, admin Credentials, username, password string) Result
	SetParameter(ctx context.Context, target Target, admin Credentials, name, value string) Result
	SetStaticNetwork(ctx context.Context, target Target, admin Credentials, address, mask, gateway netip.Addr) Result
	GetIdentity(ctx context.Context, target Target, admin Credentials) (Identity, Result)

	// Probe checks that the device answers authenticated requests at
	// target.Address.
	Probe(ctx context.Context, target Target, admin Credentials) Result
}

// LegacyNetworkSetter is implemented by clients that can also apply a
// static address through an older firmware endpoint.
type LegacyNetworkSetter interface {
	SetStaticNetworkLegacy(ctx context.Context, target Target, admin Credentials, address, mask, gateway netip.Addr) Result
}

// ONVIFUserCreator is implemented by clients that can create the
// integration user through the ONVIF device service.
type ONVIFUserCreator interface {
	CreateIntegrationUserONVIF(ctx context.Context, target Target, admin Credentials, username, password string) Result
}
