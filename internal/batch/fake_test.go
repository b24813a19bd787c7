package batch

import (
	"context"
	"fmt"
	"net/netip"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/muurk/camstage/internal/device"
	"github.com/muurk/camstage/internal/provision"
)

// fakeClient succeeds at everything unless told otherwise per hardware id.
type fakeClient struct {
	mu    sync.Mutex
	calls map[string]int

	failAdmin map[string]bool

	// delay is spent inside every CreateInitialAdmin call.
	delay time.Duration

	// onAdmin runs inside CreateInitialAdmin.
	onAdmin func(t device.Target)

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func newFakeClient() *fakeClient {
	return &fakeClient{calls: make(map[string]int), failAdmin: make(map[string]bool)}
}

func (f *fakeClient) record(t device.Target) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[t.HardwareID]++
}

func (f *fakeClient) callCount(hwid string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[hwid]
}

func (f *fakeClient) CreateInitialAdmin(_ context.Context, t device.Target, _, _ string) device.Result {
	f.record(t)
	n := f.inFlight.Inc()
	for {
		m := f.maxInFlight.Load()
		if n <= m || f.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}
	defer f.inFlight.Dec()

	if f.onAdmin != nil {
		f.onAdmin(t)
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.failAdmin[t.HardwareID] {
		return device.Failed("authentication failed, check credentials")
	}
	return device.OK("admin created")
}

func (f *fakeClient) CreateSecondaryAdmin(_ context.Context, t device.Target, _ device.Credentials, _, _ string) device.Result {
	f.record(t)
	return device.OK("created")
}

func (f *fakeClient) CreateIntegrationUser(_ context.Context, t device.Target, _ device.Credentials, _, _ string) device.Result {
	f.record(t)
	return device.OK("created")
}

func (f *fakeClient) SetParameter(_ context.Context, t device.Target, _ device.Credentials, _, _ string) device.Result {
	f.record(t)
	return device.OK("set")
}

func (f *fakeClient) SetStaticNetwork(_ context.Context, t device.Target, _ device.Credentials, _, _, _ netip.Addr) device.Result {
	f.record(t)
	return device.OK("applied")
}

func (f *fakeClient) GetIdentity(_ context.Context, t device.Target, _ device.Credentials) (device.Identity, device.Result) {
	f.record(t)
	return device.Identity{HardwareID: t.HardwareID}, device.OK("identity")
}

func (f *fakeClient) Probe(_ context.Context, t device.Target, _ device.Credentials) device.Result {
	f.record(t)
	return device.OK("reachable")
}

// sliceSink collects reports.
type sliceSink struct {
	mu      sync.Mutex
	reports []*provision.DeviceReport
}

func (s *sliceSink) Add(r *provision.DeviceReport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, r)
}

func (s *sliceSink) all() []*provision.DeviceReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*provision.DeviceReport(nil), s.reports...)
}

func testOptions() provision.Options {
	opts := provision.DefaultOptions()
	opts.Admin = device.Credentials{Username: "root", Password: "rootpw"}
	opts.Settings = []provision.Setting{{Name: "Time.NTP.Server", Value: "10.0.0.1"}}
	opts.CallTimeout = time.Second
	opts.RetryDelay = 0
	opts.Verify = provision.VerifyOptions{Attempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}
	return opts
}

// testTargets builds n targets with distinct hardware ids in index order.
func testTargets(n int) []device.Target {
	targets := make([]device.Target, 0, n)
	for i := 0; i < n; i++ {
		id, _ := device.NormalizeHardwareID(fmt.Sprintf("accc8e0000%02x", i+1))
		temp := netip.AddrFrom4([4]byte{192, 168, 0, byte(100 + i)})
		final := netip.AddrFrom4([4]byte{192, 168, 1, byte(50 + i)})
		targets = append(targets, device.NewTarget(i, id, temp, device.Directive{Row: i + 1, FinalAddress: final}))
	}
	return targets
}
