package dhcp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sort"
	"strings"
)

const (
	// ServerPort is the well-known UDP port the responder listens on.
	ServerPort = 67

	// ClientPort is the UDP port clients receive replies on.
	ClientPort = 68

	// MagicCookie marks the start of the options area (RFC 2131 §3).
	MagicCookie uint32 = 0x63825363

	// MinPacketSize is the fixed BOOTP header plus the magic cookie.
	MinPacketSize = 240

	// minReplySize pads replies to the historical BOOTP minimum so that
	// picky clients accept them.
	minReplySize = 300

	// FlagBroadcast asks the server to broadcast its reply.
	FlagBroadcast uint16 = 0x8000

	maxHardwareLen = 16
)

// Header field offsets.
const (
	offOp     = 0
	offHType  = 1
	offHLen   = 2
	offHops   = 3
	offXID    = 4
	offSecs   = 8
	offFlags  = 10
	offCIAddr = 12
	offYIAddr = 16
	offSIAddr = 20
	offGIAddr = 24
	offCHAddr = 28
	offCookie = 236
	offOpts   = 240
)

// ErrMalformed is wrapped by every decode failure.
var ErrMalformed = errors.New("malformed DHCP packet")

// OpCode is the BOOTP operation code.
type OpCode byte

const (
	BootRequest OpCode = 1
	BootReply   OpCode = 2
)

// MessageType is the value of option 53.
type MessageType byte

const (
	Discover MessageType = 1
	Offer    MessageType = 2
	Request  MessageType = 3
	Decline  MessageType = 4
	Ack      MessageType = 5
	Nak      MessageType = 6
	Release  MessageType = 7
	Inform   MessageType = 8
)

// String returns the conventional upper-case name of the message type.
func (m MessageType) String() string {
	switch m {
	case Discover:
		return "DISCOVER"
	case Offer:
		return "OFFER"
	case Request:
		return "REQUEST"
	case Decline:
		return "DECLINE"
	case Ack:
		return "ACK"
	case Nak:
		return "NAK"
	case Release:
		return "RELEASE"
	case Inform:
		return "INFORM"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", byte(m))
	}
}

// OptionCode identifies a DHCP option.
type OptionCode byte

const (
	OptPad              OptionCode = 0
	OptSubnetMask       OptionCode = 1
	OptRouter           OptionCode = 3
	OptDNS              OptionCode = 6
	OptHostname         OptionCode = 12
	OptRequestedIP      OptionCode = 50
	OptLeaseTime        OptionCode = 51
	OptMessageType      OptionCode = 53
	OptServerID         OptionCode = 54
	OptParamRequestList OptionCode = 55
	OptMessage          OptionCode = 56
	OptEnd              OptionCode = 255
)

// Options holds the raw value of each option present in a packet.
type Options map[OptionCode][]byte

// Addr returns an IPv4 option value.
func (o Options) Addr(code OptionCode) (netip.Addr, bool) {
	v, ok := o[code]
	if !ok || len(v) != 4 {
		return netip.Addr{}, false
	}
	return netip.AddrFrom4([4]byte(v)), true
}

// SetAddr stores one or more IPv4 addresses under code.
func (o Options) SetAddr(code OptionCode, addrs ...netip.Addr) {
	v := make([]byte, 0, 4*len(addrs))
	for _, a := range addrs {
		b := a.As4()
		v = append(v, b[:]...)
	}
	o[code] = v
}

// SetUint32 stores a 32-bit big-endian value under code.
func (o Options) SetUint32(code OptionCode, n uint32) {
	v := make([]byte, 4)
	binary.BigEndian.PutUint32(v, n)
	o[code] = v
}

// Uint32 returns a 32-bit big-endian option value.
func (o Options) Uint32(code OptionCode) (uint32, bool) {
	v, ok := o[code]
	if !ok || len(v) != 4 {
		return 0, false
	}
	return binary.BigEndian.Uint32(v), true
}

// Packet is a decoded BOOTP/DHCP message. The sname and file fields are
// not interpreted and option overloading is not supported.
type Packet struct {
	Op      OpCode
	HType   byte
	HLen    byte
	Hops    byte
	XID     uint32
	Secs    uint16
	Flags   uint16
	CIAddr  netip.Addr
	YIAddr  netip.Addr
	SIAddr  netip.Addr
	GIAddr  netip.Addr
	CHAddr  net.HardwareAddr
	Options Options
}

// Decode parses a raw datagram. Any structural problem is reported as an
// error wrapping ErrMalformed; the caller drops the datagram.
func Decode(data []byte) (*Packet, error) {
	if len(data) < MinPacketSize {
		return nil, fmt.Errorf("%w: packet too short: %d bytes (minimum %d)", ErrMalformed, len(data), MinPacketSize)
	}

	if cookie := binary.BigEndian.Uint32(data[offCookie:offOpts]); cookie != MagicCookie {
		return nil, fmt.Errorf("%w: bad magic cookie 0x%08x", ErrMalformed, cookie)
	}

	hlen := data[offHLen]
	if hlen == 0 || hlen > maxHardwareLen {
		return nil, fmt.Errorf("%w: invalid hardware address length %d", ErrMalformed, hlen)
	}

	opts, err := parseOptions(data[offOpts:])
	if err != nil {
		return nil, err
	}

	return &Packet{
		Op:      OpCode(data[offOp]),
		HType:   data[offHType],
		HLen:    hlen,
		Hops:    data[offHops],
		XID:     binary.BigEndian.Uint32(data[offXID:]),
		Secs:    binary.BigEndian.Uint16(data[offSecs:]),
		Flags:   binary.BigEndian.Uint16(data[offFlags:]),
		CIAddr:  addrAt(data, offCIAddr),
		YIAddr:  addrAt(data, offYIAddr),
		SIAddr:  addrAt(data, offSIAddr),
		GIAddr:  addrAt(data, offGIAddr),
		CHAddr:  net.HardwareAddr(append([]byte(nil), data[offCHAddr:offCHAddr+int(hlen)]...)),
		Options: opts,
	}, nil
}

// parseOptions walks the TLV area. Pad bytes are skipped and parsing stops
// at the end marker; a missing end marker is tolerated.
func parseOptions(b []byte) (Options, error) {
	opts := make(Options)
	for i := 0; i < len(b); {
		code := OptionCode(b[i])
		switch code {
		case OptPad:
			i++
			continue
		case OptEnd:
			return opts, nil
		}

		if i+1 >= len(b) {
			return nil, fmt.Errorf("%w: option %d has no length byte", ErrMalformed, code)
		}
		n := int(b[i+1])
		if i+2+n > len(b) {
			return nil, fmt.Errorf("%w: option %d length %d overruns packet", ErrMalformed, code, n)
		}
		opts[code] = append([]byte(nil), b[i+2:i+2+n]...)
		i += 2 + n
	}
	return opts, nil
}

func addrAt(b []byte, off int) netip.Addr {
	return netip.AddrFrom4([4]byte(b[off : off+4]))
}

func putAddr(dst []byte, a netip.Addr) {
	if !a.IsValid() || !a.Is4() {
		return
	}
	b := a.As4()
	copy(dst, b[:])
}

// Encode serialises the packet. The message type option is written first
// and the remaining options follow in ascending code order.
func (p *Packet) Encode() []byte {
	buf := make([]byte, offOpts, minReplySize)

	buf[offOp] = byte(p.Op)
	buf[offHType] = p.HType
	buf[offHLen] = p.HLen
	buf[offHops] = p.Hops
	binary.BigEndian.PutUint32(buf[offXID:], p.XID)
	binary.BigEndian.PutUint16(buf[offSecs:], p.Secs)
	binary.BigEndian.PutUint16(buf[offFlags:], p.Flags)
	putAddr(buf[offCIAddr:], p.CIAddr)
	putAddr(buf[offYIAddr:], p.YIAddr)
	putAddr(buf[offSIAddr:], p.SIAddr)
	putAddr(buf[offGIAddr:], p.GIAddr)
	copy(buf[offCHAddr:offCHAddr+maxHardwareLen], p.CHAddr)
	binary.BigEndian.PutUint32(buf[offCookie:], MagicCookie)

	if v, ok := p.Options[OptMessageType]; ok {
		buf = appendOption(buf, OptMessageType, v)
	}

	codes := make([]int, 0, len(p.Options))
	for code := range p.Options {
		if code == OptMessageType || code == OptPad || code == OptEnd {
			continue
		}
		codes = append(codes, int(code))
	}
	sort.Ints(codes)
	for _, code := range codes {
		buf = appendOption(buf, OptionCode(code), p.Options[OptionCode(code)])
	}

	buf = append(buf, byte(OptEnd))
	for len(buf) < minReplySize {
		buf = append(buf, byte(OptPad))
	}
	return buf
}

func appendOption(buf []byte, code OptionCode, v []byte) []byte {
	if len(v) > 255 {
		v = v[:255]
	}
	buf = append(buf, byte(code), byte(len(v)))
	return append(buf, v...)
}

// MessageType returns the option 53 value.
func (p *Packet) MessageType() (MessageType, bool) {
	v, ok := p.Options[OptMessageType]
	if !ok || len(v) != 1 {
		return 0, false
	}
	return MessageType(v[0]), true
}

// HardwareID returns the client hardware address in canonical lower-case
// colon form, or "" when the packet is not Ethernet-sized.
func (p *Packet) HardwareID() string {
	if len(p.CHAddr) != 6 {
		return ""
	}
	return p.CHAddr.String()
}

// RequestedAddr returns option 50 when present, otherwise ciaddr (a
// renewing client), otherwise the zero Addr.
func (p *Packet) RequestedAddr() netip.Addr {
	if a, ok := p.Options.Addr(OptRequestedIP); ok {
		return a
	}
	if p.CIAddr.IsValid() && !p.CIAddr.IsUnspecified() {
		return p.CIAddr
	}
	return netip.Addr{}
}

// ServerID returns option 54.
func (p *Packet) ServerID() (netip.Addr, bool) {
	return p.Options.Addr(OptServerID)
}

// Hostname returns option 12 when the client sent one.
func (p *Packet) Hostname() string {
	return string(p.Options[OptHostname])
}

// Broadcast reports whether the client set the broadcast flag.
func (p *Packet) Broadcast() bool {
	return p.Flags&FlagBroadcast != 0
}

// String returns a one-line summary for logs.
func (p *Packet) String() string {
	mt, _ := p.MessageType()
	var b strings.Builder
	fmt.Fprintf(&b, "%s xid=0x%08x chaddr=%s", mt, p.XID, p.CHAddr)
	if p.CIAddr.IsValid() && !p.CIAddr.IsUnspecified() {
		fmt.Fprintf(&b, " ciaddr=%s", p.CIAddr)
	}
	if p.YIAddr.IsValid() && !p.YIAddr.IsUnspecified() {
		fmt.Fprintf(&b, " yiaddr=%s", p.YIAddr)
	}
	if a, ok := p.Options.Addr(OptRequestedIP); ok {
		fmt.Fprintf(&b, " requested=%s", a)
	}
	return b.String()
}

// NewReply builds a server reply to req. The transaction id, flags, relay
// address and client hardware address are echoed from the request.
func NewReply(req *Packet, mt MessageType, yiaddr, serverID netip.Addr) *Packet {
	reply := &Packet{
		Op:      BootReply,
		HType:   req.HType,
		HLen:    req.HLen,
		XID:     req.XID,
		Flags:   req.Flags,
		CIAddr:  netip.IPv4Unspecified(),
		YIAddr:  netip.IPv4Unspecified(),
		SIAddr:  netip.IPv4Unspecified(),
		GIAddr:  req.GIAddr,
		CHAddr:  req.CHAddr,
		Options: Options{OptMessageType: {byte(mt)}},
	}
	if yiaddr.IsValid() {
		reply.YIAddr = yiaddr
	}
	if serverID.IsValid() {
		reply.SIAddr = serverID
		reply.Options.SetAddr(OptServerID, serverID)
	}
	if mt == Ack && req.CIAddr.IsValid() {
		reply.CIAddr = req.CIAddr
	}
	return reply
}
