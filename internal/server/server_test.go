package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muurk/camstage/internal/device"
	"github.com/muurk/camstage/internal/dhcp"
	"github.com/muurk/camstage/internal/provision"
	"github.com/muurk/camstage/internal/report"
)

type fakeLeases struct {
	leases []dhcp.Lease
}

func (f *fakeLeases) Snapshot() []dhcp.Lease { return f.leases }

func (f *fakeLeases) Stats() dhcp.Stats {
	return dhcp.Stats{PoolSize: 10, Free: 10 - len(f.leases), Bound: len(f.leases)}
}

func testReport(index int, hwid string, status provision.Status) *provision.DeviceReport {
	return &provision.DeviceReport{
		RunID:  "run-1",
		Target: device.Target{Index: index, HardwareID: hwid, FinalAddress: netip.MustParseAddr("192.168.1.50")},
		Status: status,
	}
}

func newTestServer(t *testing.T, leases LeaseSource) (*Server, *report.Collector, *httptest.Server) {
	t.Helper()
	reports := report.NewCollector()
	srv := New(Config{}, leases, reports)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Hub().Close()
		ts.Close()
	})
	return srv, reports, ts
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	return resp.StatusCode
}

func TestLiveness(t *testing.T) {
	_, _, ts := newTestServer(t, nil)

	var body map[string]string
	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/livez", &body))
	assert.Equal(t, "alive", body["status"])
}

func TestLeases(t *testing.T) {
	leases := &fakeLeases{leases: []dhcp.Lease{
		{HardwareID: "ac:cc:8e:00:00:01", Address: netip.MustParseAddr("192.168.0.100"), State: dhcp.LeaseBound, Sequence: 1},
	}}
	_, _, ts := newTestServer(t, leases)

	var body struct {
		Stats  dhcp.Stats `json:"stats"`
		Leases []struct {
			HardwareID string `json:"hardware_id"`
			Address    string `json:"address"`
			State      string `json:"state"`
		} `json:"leases"`
	}
	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/leases", &body))
	assert.Equal(t, 1, body.Stats.Bound)
	require.Len(t, body.Leases, 1)
	assert.Equal(t, "192.168.0.100", body.Leases[0].Address)
	assert.Equal(t, "bound", body.Leases[0].State)
}

func TestLeasesWithoutResponder(t *testing.T) {
	_, _, ts := newTestServer(t, nil)

	var body map[string]string
	assert.Equal(t, http.StatusNotFound, getJSON(t, ts.URL+"/api/leases", &body))
	assert.Contains(t, body["error"], "responder")
}

func TestReports(t *testing.T) {
	_, reports, ts := newTestServer(t, nil)

	var empty []json.RawMessage
	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/reports", &empty))
	assert.Empty(t, empty)

	reports.Add(testReport(1, "ac:cc:8e:00:00:02", provision.StatusFailed))
	reports.Add(testReport(0, "ac:cc:8e:00:00:01", provision.StatusDone))

	var all []provision.DeviceReport
	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/reports", &all))
	require.Len(t, all, 2)
	assert.Equal(t, "ac:cc:8e:00:00:01", all[0].Target.HardwareID)

	var one provision.DeviceReport
	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/reports/ACCC8E000002", &one))
	assert.Equal(t, provision.StatusFailed, one.Status)

	var missing map[string]string
	assert.Equal(t, http.StatusNotFound, getJSON(t, ts.URL+"/api/reports/ac:cc:8e:00:00:09", &missing))

	var bad map[string]string
	assert.Equal(t, http.StatusBadRequest, getJSON(t, ts.URL+"/api/reports/nope", &bad))
}

func TestSummary(t *testing.T) {
	_, reports, ts := newTestServer(t, nil)
	reports.Add(testReport(0, "ac:cc:8e:00:00:01", provision.StatusDone))
	reports.Add(testReport(1, "ac:cc:8e:00:00:02", provision.StatusFailed))
	reports.Add(testReport(2, "ac:cc:8e:00:00:03", provision.StatusDone))

	var body summaryResponse
	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/summary", &body))
	assert.Equal(t, summaryResponse{Finished: 3, Done: 2, Failed: 1}, body)
}

func dialEvents(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/events"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestEventFeed(t *testing.T) {
	srv, _, ts := newTestServer(t, nil)
	first := dialEvents(t, ts)
	second := dialEvents(t, ts)

	require.Eventually(t, func() bool { return srv.Hub().Len() == 2 }, 2*time.Second, 10*time.Millisecond)

	emit := provision.Emitter(srv.Hub().Broadcast)
	emit(provision.Event{RunID: "run-1", DeviceID: "ac:cc:8e:00:00:01", Kind: provision.EventDeviceStarted})
	emit(provision.Event{RunID: "run-1", DeviceID: "ac:cc:8e:00:00:01", Kind: provision.EventDeviceFinished, Status: provision.StatusDone})

	for _, conn := range []*websocket.Conn{first, second} {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var ev provision.Event
		require.NoError(t, conn.ReadJSON(&ev))
		assert.Equal(t, provision.EventDeviceStarted, ev.Kind)
		require.NoError(t, conn.ReadJSON(&ev))
		assert.Equal(t, provision.EventDeviceFinished, ev.Kind)
		assert.Equal(t, provision.StatusDone, ev.Status)
	}
}

func TestEventFeedClientLeaves(t *testing.T) {
	srv, _, ts := newTestServer(t, nil)
	conn := dialEvents(t, ts)
	require.Eventually(t, func() bool { return srv.Hub().Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return srv.Hub().Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHubCloseDisconnectsClients(t *testing.T) {
	srv, _, ts := newTestServer(t, nil)
	conn := dialEvents(t, ts)
	require.Eventually(t, func() bool { return srv.Hub().Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	srv.Hub().Close()
	assert.Equal(t, 0, srv.Hub().Len())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)

	// New clients are turned away once the hub is closed.
	late := dialEvents(t, ts)
	require.NoError(t, late.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = late.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}

func TestStartShutdown(t *testing.T) {
	srv := New(Config{Addr: "127.0.0.1:0"}, nil, report.NewCollector())
	assert.Nil(t, srv.Addr())
	require.NoError(t, srv.Start())
	require.Error(t, srv.Start())

	resp, err := http.Get("http://" + srv.Addr().String() + "/livez")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, srv.Shutdown(context.Background()))
}

func TestShutdownBeforeStart(t *testing.T) {
	srv := New(Config{}, nil, report.NewCollector())
	assert.NoError(t, srv.Shutdown(context.Background()))
}

func TestResponderOnly(t *testing.T) {
	srv := New(Config{}, &fakeLeases{}, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	var reports []*provision.DeviceReport
	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/reports", &reports))
	assert.Empty(t, reports)

	var summary summaryResponse
	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/summary", &summary))
	assert.Zero(t, summary.Done)
	assert.Zero(t, summary.Failed)
}
