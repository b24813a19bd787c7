package provision

import (
	"context"
	"net/netip"
	"sync"
	"time"

	"github.com/muurk/camstage/internal/device"
)

const (
	mCreateInitialAdmin   = "CreateInitialAdmin"
	mCreateSecondaryAdmin = "CreateSecondaryAdmin"
	mCreateIntegration    = "CreateIntegrationUser"
	mCreateIntegrationONV = "CreateIntegrationUserONVIF"
	mSetParameter         = "SetParameter"
	mSetStaticNetwork     = "SetStaticNetwork"
	mSetStaticLegacy      = "SetStaticNetworkLegacy"
	mGetIdentity          = "GetIdentity"
	mProbe                = "Probe"
)

type fakeCall struct {
	method  string
	address netip.Addr
	creds   device.Credentials

	// arg is the username for user calls and the parameter name for
	// SetParameter.
	arg string
}

// fakeClient returns queued results per method; the last queued result
// repeats and an empty queue means success.
type fakeClient struct {
	mu      sync.Mutex
	calls   []fakeCall
	results map[string][]device.Result

	// identity overrides what GetIdentity reports; by default the device
	// reports the hardware id it was discovered under.
	identity *device.Identity

	// onCall runs after each call is recorded.
	onCall func(method string)
}

func newFakeClient() *fakeClient {
	return &fakeClient{results: make(map[string][]device.Result)}
}

func (f *fakeClient) queue(method string, results ...device.Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[method] = append(f.results[method], results...)
}

func (f *fakeClient) next(method string, t device.Target, creds device.Credentials, arg string) device.Result {
	f.mu.Lock()
	f.calls = append(f.calls, fakeCall{method: method, address: t.Address, creds: creds, arg: arg})
	res := device.OK("%s ok", method)
	if q := f.results[method]; len(q) > 0 {
		res = q[0]
		if len(q) > 1 {
			f.results[method] = q[1:]
		}
	}
	hook := f.onCall
	f.mu.Unlock()

	if hook != nil {
		hook(method)
	}
	return res
}

func (f *fakeClient) callsTo(method string) []fakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []fakeCall
	for _, c := range f.calls {
		if c.method == method {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeClient) methods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.method)
	}
	return out
}

func (f *fakeClient) CreateInitialAdmin(_ context.Context, t device.Target, username, password string) device.Result {
	return f.next(mCreateInitialAdmin, t, device.Credentials{Username: username, Password: password}, username)
}

func (f *fakeClient) CreateSecondaryAdmin(_ context.Context, t device.Target, admin device.Credentials, username, _ string) device.Result {
	return f.next(mCreateSecondaryAdmin, t, admin, username)
}

func (f *fakeClient) CreateIntegrationUser(_ context.Context, t device.Target, admin device.Credentials, username, _ string) device.Result {
	return f.next(mCreateIntegration, t, admin, username)
}

func (f *fakeClient) SetParameter(_ context.Context, t device.Target, admin device.Credentials, name, _ string) device.Result {
	return f.next(mSetParameter, t, admin, name)
}

func (f *fakeClient) SetStaticNetwork(_ context.Context, t device.Target, admin device.Credentials, address, _, _ netip.Addr) device.Result {
	return f.next(mSetStaticNetwork, t, admin, address.String())
}

func (f *fakeClient) GetIdentity(_ context.Context, t device.Target, admin device.Credentials) (device.Identity, device.Result) {
	res := f.next(mGetIdentity, t, admin, "")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.identity != nil {
		return *f.identity, res
	}
	return device.Identity{HardwareID: t.HardwareID, Serial: device.CompactHardwareID(t.HardwareID)}, res
}

func (f *fakeClient) Probe(_ context.Context, t device.Target, admin device.Credentials) device.Result {
	return f.next(mProbe, t, admin, "")
}

// fallbackClient also offers the legacy and ONVIF strategies.
type fallbackClient struct {
	*fakeClient
}

func (f fallbackClient) SetStaticNetworkLegacy(_ context.Context, t device.Target, admin device.Credentials, address, _, _ netip.Addr) device.Result {
	return f.next(mSetStaticLegacy, t, admin, address.String())
}

func (f fallbackClient) CreateIntegrationUserONVIF(_ context.Context, t device.Target, admin device.Credentials, username, _ string) device.Result {
	return f.next(mCreateIntegrationONV, t, admin, username)
}

var (
	tempAddr  = netip.MustParseAddr("192.168.0.100")
	finalAddr = netip.MustParseAddr("192.168.1.50")
)

func testTarget() device.Target {
	return device.NewTarget(0, "ac:cc:8e:00:00:01", tempAddr, device.Directive{Row: 1, FinalAddress: finalAddr})
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.Admin = device.Credentials{Username: "root", Password: "rootpw"}
	opts.SecondaryAdmin = device.Credentials{Username: "ops", Password: "opspw"}
	opts.IntegrationUser = device.Credentials{Username: "vms", Password: "vmspw"}
	opts.Gateway = netip.MustParseAddr("192.168.1.1")
	opts.CallTimeout = time.Second
	opts.MaxAttempts = 3
	opts.RetryDelay = 0
	opts.Verify = VerifyOptions{Attempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}
	return opts
}

// eventLog collects emitted events.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) emit(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) kinds() []EventKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]EventKind, 0, len(l.events))
	for _, ev := range l.events {
		out = append(out, ev.Kind)
	}
	return out
}
