package dhcp

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	cfg := Config{
		ServerIP:   netip.MustParseAddr("192.168.0.1"),
		SubnetMask: netip.MustParseAddr("255.255.255.0"),
		PoolStart:  netip.MustParseAddr("192.168.0.50"),
		PoolEnd:    netip.MustParseAddr("192.168.0.99"),
	}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, ":67", cfg.ListenAddr)
	assert.Equal(t, ClientPort, cfg.ClientPort)
	assert.Equal(t, DefaultSweepInterval, cfg.SweepInterval)

	bad := cfg
	bad.SubnetMask = netip.MustParseAddr("255.0.255.0")
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.ServerIP = netip.Addr{}
	assert.Error(t, bad.Validate())
}

// TestServerLoopback runs a full DISCOVER/REQUEST exchange over real UDP
// sockets on the loopback interface.
func TestServerLoopback(t *testing.T) {
	client, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = client.Close() }()
	clientPort := client.LocalAddr().(*net.UDPAddr).Port

	srv, err := New(Config{
		ServerIP:      netip.MustParseAddr("192.168.0.1"),
		SubnetMask:    netip.MustParseAddr("255.255.255.0"),
		Gateway:       netip.MustParseAddr("192.168.0.1"),
		PoolStart:     netip.MustParseAddr("192.168.0.50"),
		PoolEnd:       netip.MustParseAddr("192.168.0.60"),
		ListenAddr:    "127.0.0.1:0",
		BroadcastAddr: netip.MustParseAddr("127.0.0.1"),
		ClientPort:    clientPort,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, srv.Start(ctx))
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
		defer done()
		_ = srv.Shutdown(shutdownCtx)
	}()

	addrs := srv.Addrs()
	require.Len(t, addrs, 1)
	serverAddr := addrs[0]

	exchange := func(p *Packet) *Packet {
		_, err := client.WriteTo(p.Encode(), serverAddr)
		require.NoError(t, err)

		require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
		buf := make([]byte, 1500)
		n, _, err := client.ReadFrom(buf)
		require.NoError(t, err)
		reply, err := Decode(buf[:n])
		require.NoError(t, err)
		return reply
	}

	// Garbage must be dropped without killing the loop.
	_, err = client.WriteTo([]byte("not a dhcp packet"), serverAddr)
	require.NoError(t, err)

	mac := "00:40:8c:aa:bb:cc"
	offer := exchange(newClientPacket(t, Discover, mac, 77))
	assert.Equal(t, Offer, replyType(t, offer))
	assert.Equal(t, uint32(77), offer.XID)

	req := newClientPacket(t, Request, mac, 78)
	req.Options.SetAddr(OptRequestedIP, offer.YIAddr)
	ack := exchange(req)
	assert.Equal(t, Ack, replyType(t, ack))

	bound := srv.Store().Bound()
	require.Len(t, bound, 1)
	assert.Equal(t, mac, bound[0].HardwareID)
	assert.Equal(t, offer.YIAddr, bound[0].Address)
}

func TestServerBindFailure(t *testing.T) {
	srv, err := New(Config{
		Interfaces: []string{"camstage-test-missing0"},
		ServerIP:   netip.MustParseAddr("192.168.0.1"),
		SubnetMask: netip.MustParseAddr("255.255.255.0"),
		PoolStart:  netip.MustParseAddr("192.168.0.50"),
		PoolEnd:    netip.MustParseAddr("192.168.0.60"),
		ListenAddr: "127.0.0.1:0",
	})
	require.NoError(t, err)

	err = srv.Start(context.Background())
	require.Error(t, err)

	var bindErr *BindError
	require.True(t, errors.As(err, &bindErr))
	assert.Equal(t, "camstage-test-missing0", bindErr.Interface)
	assert.Empty(t, srv.Addrs())
}
