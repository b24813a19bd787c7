package dhcp

import (
	"errors"
	"fmt"
	"net/netip"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/camstage/internal/logging"
)

// EventKind classifies a lease event.
type EventKind int

const (
	EventOffered EventKind = iota
	EventBound
	EventReleased
	EventDeclined
	EventExpired
	EventExhausted
)

// String returns the lower-case event name.
func (k EventKind) String() string {
	switch k {
	case EventOffered:
		return "offered"
	case EventBound:
		return "bound"
	case EventReleased:
		return "released"
	case EventDeclined:
		return "declined"
	case EventExpired:
		return "expired"
	case EventExhausted:
		return "exhausted"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// LeaseEvent is published for every lease table transition and for pool
// exhaustion. Exhaustion events carry only the hardware id.
type LeaseEvent struct {
	Kind  EventKind
	Lease Lease
	Time  time.Time
}

// HandlerConfig holds the values written into replies.
type HandlerConfig struct {
	ServerIP   netip.Addr
	SubnetMask netip.Addr
	Gateway    netip.Addr
	DNS        []netip.Addr
}

// Handler turns decoded requests into lease store operations and replies.
// It holds no lease state of its own.
type Handler struct {
	config HandlerConfig
	store  *LeaseStore
	events chan LeaseEvent
}

// NewHandler creates a handler over store. Events are delivered on a
// buffered channel and dropped when nobody drains it.
func NewHandler(config HandlerConfig, store *LeaseStore, eventBuffer int) *Handler {
	if eventBuffer <= 0 {
		eventBuffer = 64
	}
	return &Handler{
		config: config,
		store:  store,
		events: make(chan LeaseEvent, eventBuffer),
	}
}

// Events returns the lease event stream.
func (h *Handler) Events() <-chan LeaseEvent {
	return h.events
}

func (h *Handler) publish(kind EventKind, lease Lease) {
	select {
	case h.events <- LeaseEvent{Kind: kind, Lease: lease, Time: time.Now()}:
	default:
		logging.Debug("Lease event dropped, no consumer",
			zap.String("event", kind.String()),
			zap.String("hardware_id", lease.HardwareID),
		)
	}
}

// Handle processes one decoded packet and returns the reply to send, or nil
// when no reply is due.
func (h *Handler) Handle(req *Packet) *Packet {
	if req.Op != BootRequest {
		return nil
	}

	mt, ok := req.MessageType()
	if !ok {
		logging.Warn("Dropping DHCP packet without message type",
			zap.Uint32("xid", req.XID),
			zap.String("chaddr", req.CHAddr.String()),
		)
		return nil
	}

	hwid := req.HardwareID()
	if hwid == "" {
		logging.Warn("Dropping DHCP packet with non-Ethernet hardware address",
			zap.String("message_type", mt.String()),
			zap.Uint8("hlen", req.HLen),
		)
		return nil
	}

	switch mt {
	case Discover:
		return h.handleDiscover(req, hwid)
	case Request:
		return h.handleRequest(req, hwid)
	case Release:
		if lease, ok := h.store.Release(hwid, req.CIAddr); ok {
			logging.LogLease("released", hwid, lease.Address.String())
			h.publish(EventReleased, lease)
		}
		return nil
	case Decline:
		if lease, ok := h.store.Decline(hwid, req.RequestedAddr()); ok {
			logging.Warn("Client declined address, quarantining it",
				zap.String("hardware_id", hwid),
				zap.String("address", lease.Address.String()),
			)
			h.publish(EventDeclined, lease)
		}
		return nil
	default:
		logging.Debug("Ignoring DHCP message",
			zap.String("message_type", mt.String()),
			zap.String("hardware_id", hwid),
		)
		return nil
	}
}

func (h *Handler) handleDiscover(req *Packet, hwid string) *Packet {
	lease, err := h.store.Discover(hwid, req.XID)
	if err != nil {
		if errors.Is(err, ErrPoolExhausted) {
			logging.Warn("Address pool exhausted, refusing discovery",
				zap.String("hardware_id", hwid),
			)
			h.publish(EventExhausted, Lease{HardwareID: hwid})
			return h.nak(req, "address pool exhausted")
		}
		logging.Error("Lease allocation failed", zap.String("hardware_id", hwid), zap.Error(err))
		return nil
	}

	h.store.SetHostname(hwid, req.Hostname())
	logging.LogLease("offered", hwid, lease.Address.String(), zap.Uint32("xid", req.XID))
	h.publish(EventOffered, lease)
	return h.ack(req, Offer, lease.Address)
}

func (h *Handler) handleRequest(req *Packet, hwid string) *Packet {
	if sid, ok := req.ServerID(); ok && sid != h.config.ServerIP {
		logging.Debug("Client selected another server",
			zap.String("hardware_id", hwid),
			zap.String("server_id", sid.String()),
		)
		return nil
	}

	requested := req.RequestedAddr()
	lease, err := h.store.Request(hwid, req.XID, requested)
	if err != nil {
		logging.Warn("Refusing DHCP request",
			zap.String("hardware_id", hwid),
			zap.String("requested", requested.String()),
			zap.Error(err),
		)
		return h.nak(req, err.Error())
	}

	logging.LogLease("bound", hwid, lease.Address.String(), zap.Time("expires_at", lease.ExpiresAt))
	h.publish(EventBound, lease)
	return h.ack(req, Ack, lease.Address)
}

// ack builds an Offer or Ack carrying the network parameters.
func (h *Handler) ack(req *Packet, mt MessageType, addr netip.Addr) *Packet {
	reply := NewReply(req, mt, addr, h.config.ServerIP)
	reply.Options.SetUint32(OptLeaseTime, uint32(h.store.LeaseDuration()/time.Second))
	if h.config.SubnetMask.IsValid() {
		reply.Options.SetAddr(OptSubnetMask, h.config.SubnetMask)
	}
	if h.config.Gateway.IsValid() {
		reply.Options.SetAddr(OptRouter, h.config.Gateway)
	}
	if len(h.config.DNS) > 0 {
		reply.Options.SetAddr(OptDNS, h.config.DNS...)
	}
	return reply
}

func (h *Handler) nak(req *Packet, message string) *Packet {
	reply := NewReply(req, Nak, netip.Addr{}, h.config.ServerIP)
	reply.SIAddr = netip.IPv4Unspecified()
	reply.Options[OptMessage] = []byte(message)
	return reply
}
