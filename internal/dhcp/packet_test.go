package dhcp

import (
	"encoding/binary"
	"net"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustMAC(t *testing.T, s string) net.HardwareAddr {
	t.Helper()
	mac, err := net.ParseMAC(s)
	require.NoError(t, err)
	return mac
}

func newClientPacket(t *testing.T, mt MessageType, mac string, xid uint32) *Packet {
	t.Helper()
	return &Packet{
		Op:      BootRequest,
		HType:   1,
		HLen:    6,
		XID:     xid,
		CIAddr:  netip.IPv4Unspecified(),
		YIAddr:  netip.IPv4Unspecified(),
		SIAddr:  netip.IPv4Unspecified(),
		GIAddr:  netip.IPv4Unspecified(),
		CHAddr:  mustMAC(t, mac),
		Options: Options{OptMessageType: {byte(mt)}},
	}
}

func TestDecodeClientDiscover(t *testing.T) {
	p := newClientPacket(t, Discover, "00:40:8c:12:34:56", 0xdeadbeef)
	p.Flags = FlagBroadcast
	p.Options[OptHostname] = []byte("axis-00408c123456")

	got, err := Decode(p.Encode())
	require.NoError(t, err)

	mt, ok := got.MessageType()
	require.True(t, ok)
	assert.Equal(t, Discover, mt)
	assert.Equal(t, uint32(0xdeadbeef), got.XID)
	assert.Equal(t, "00:40:8c:12:34:56", got.HardwareID())
	assert.Equal(t, "axis-00408c123456", got.Hostname())
	assert.True(t, got.Broadcast())
}

func TestEncodeLayout(t *testing.T) {
	req := newClientPacket(t, Request, "00:40:8c:12:34:56", 42)
	reply := NewReply(req, Ack, netip.MustParseAddr("192.168.0.50"), netip.MustParseAddr("192.168.0.1"))
	reply.Options.SetUint32(OptLeaseTime, 3600)

	data := reply.Encode()

	assert.GreaterOrEqual(t, len(data), minReplySize)
	assert.Equal(t, byte(BootReply), data[offOp])
	assert.Equal(t, uint32(42), binary.BigEndian.Uint32(data[offXID:]))
	assert.Equal(t, []byte{192, 168, 0, 50}, data[offYIAddr:offYIAddr+4])
	assert.Equal(t, MagicCookie, binary.BigEndian.Uint32(data[offCookie:]))
	// Message type is always the first option.
	assert.Equal(t, []byte{byte(OptMessageType), 1, byte(Ack)}, data[offOpts:offOpts+3])
}

func TestDecodeMalformed(t *testing.T) {
	valid := newClientPacket(t, Discover, "00:40:8c:12:34:56", 1).Encode()

	tests := []struct {
		name   string
		mutate func([]byte) []byte
	}{
		{"too short", func(b []byte) []byte { return b[:100] }},
		{"bad cookie", func(b []byte) []byte { b[offCookie] = 0; return b }},
		{"zero hlen", func(b []byte) []byte { b[offHLen] = 0; return b }},
		{"oversized hlen", func(b []byte) []byte { b[offHLen] = 17; return b }},
		{"option overruns packet", func(b []byte) []byte {
			b = b[:offOpts]
			return append(b, byte(OptHostname), 20, 'a')
		}},
		{"option without length", func(b []byte) []byte {
			b = b[:offOpts]
			return append(b, byte(OptHostname))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := tt.mutate(append([]byte(nil), valid...))
			_, err := Decode(data)
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestParseOptionsSkipsPadAndStopsAtEnd(t *testing.T) {
	raw := []byte{
		byte(OptPad), byte(OptPad),
		byte(OptMessageType), 1, byte(Request),
		byte(OptRequestedIP), 4, 192, 168, 0, 77,
		byte(OptEnd),
		byte(OptHostname), 3, 'x', 'y', 'z',
	}
	opts, err := parseOptions(raw)
	require.NoError(t, err)

	a, ok := opts.Addr(OptRequestedIP)
	require.True(t, ok)
	assert.Equal(t, netip.MustParseAddr("192.168.0.77"), a)
	assert.NotContains(t, opts, OptHostname)
}

func TestRequestedAddrFallsBackToCIAddr(t *testing.T) {
	p := newClientPacket(t, Request, "00:40:8c:12:34:56", 1)
	assert.False(t, p.RequestedAddr().IsValid())

	p.CIAddr = netip.MustParseAddr("192.168.0.60")
	assert.Equal(t, netip.MustParseAddr("192.168.0.60"), p.RequestedAddr())

	p.Options.SetAddr(OptRequestedIP, netip.MustParseAddr("192.168.0.61"))
	assert.Equal(t, netip.MustParseAddr("192.168.0.61"), p.RequestedAddr())
}

func TestMessageTypeString(t *testing.T) {
	assert.Equal(t, "DISCOVER", Discover.String())
	assert.Equal(t, "NAK", Nak.String())
	assert.Equal(t, "UNKNOWN(42)", MessageType(42).String())
}
