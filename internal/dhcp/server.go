package dhcp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/camstage/internal/logging"
)

// DefaultSweepInterval is how often expired leases are reclaimed.
const DefaultSweepInterval = 10 * time.Second

// Config holds the responder configuration.
type Config struct {
	// Interfaces to bind, one socket each. Empty means a single socket on
	// ListenAddr without interface binding.
	Interfaces []string

	ServerIP   netip.Addr
	SubnetMask netip.Addr
	Gateway    netip.Addr
	DNS        []netip.Addr
	PoolStart  netip.Addr
	PoolEnd    netip.Addr

	LeaseDuration time.Duration
	OfferHold     time.Duration
	SweepInterval time.Duration

	// ListenAddr defaults to ":67".
	ListenAddr string

	// BroadcastAddr and ClientPort control where broadcast replies go.
	// They default to 255.255.255.255 and 68.
	BroadcastAddr netip.Addr
	ClientPort    int

	// Now overrides the lease clock.
	Now func() time.Time
}

// Validate checks the configuration and fills in defaults.
func (c *Config) Validate() error {
	if !c.ServerIP.Is4() {
		return fmt.Errorf("server ip must be an IPv4 address, got %q", c.ServerIP)
	}
	if !c.SubnetMask.Is4() {
		return fmt.Errorf("subnet mask must be an IPv4 address, got %q", c.SubnetMask)
	}
	if _, err := MaskToPrefix(c.SubnetMask); err != nil {
		return err
	}
	if !c.PoolStart.Is4() || !c.PoolEnd.Is4() {
		return fmt.Errorf("pool start and end must be IPv4 addresses")
	}
	if c.Gateway.IsValid() && !c.Gateway.Is4() {
		return fmt.Errorf("gateway must be an IPv4 address, got %q", c.Gateway)
	}
	if c.ListenAddr == "" {
		c.ListenAddr = ":" + strconv.Itoa(ServerPort)
	}
	if !c.BroadcastAddr.IsValid() {
		c.BroadcastAddr = netip.AddrFrom4([4]byte{255, 255, 255, 255})
	}
	if c.ClientPort == 0 {
		c.ClientPort = ClientPort
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	return nil
}

// Subnet returns the prefix formed by ServerIP and SubnetMask.
func (c *Config) Subnet() (netip.Prefix, error) {
	bits, err := MaskToPrefix(c.SubnetMask)
	if err != nil {
		return netip.Prefix{}, err
	}
	return netip.PrefixFrom(c.ServerIP, bits).Masked(), nil
}

// BindError reports a socket that could not be bound. It is fatal to the
// responder only.
type BindError struct {
	Interface string
	Addr      string
	Err       error
}

func (e *BindError) Error() string {
	if e.Interface != "" {
		return fmt.Sprintf("bind DHCP socket %s on %s: %v", e.Addr, e.Interface, e.Err)
	}
	return fmt.Sprintf("bind DHCP socket %s: %v", e.Addr, e.Err)
}

func (e *BindError) Unwrap() error {
	return e.Err
}

// Server is the address-assignment responder. Each bound socket is served
// by one goroutine that handles its datagrams in arrival order.
type Server struct {
	config  Config
	store   *LeaseStore
	handler *Handler

	mu      sync.Mutex
	conns   []net.PacketConn
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New builds the pool, lease store and handler for config.
func New(config Config) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid responder config: %w", err)
	}

	subnet, err := config.Subnet()
	if err != nil {
		return nil, err
	}

	pool, err := NewAddressPool(config.PoolStart, config.PoolEnd, subnet, config.ServerIP, config.Gateway)
	if err != nil {
		return nil, err
	}

	store := NewLeaseStore(pool, StoreConfig{
		LeaseDuration: config.LeaseDuration,
		OfferHold:     config.OfferHold,
		Now:           config.Now,
	})

	handler := NewHandler(HandlerConfig{
		ServerIP:   config.ServerIP,
		SubnetMask: config.SubnetMask,
		Gateway:    config.Gateway,
		DNS:        config.DNS,
	}, store, 0)

	return &Server{
		config:  config,
		store:   store,
		handler: handler,
	}, nil
}

// Store returns the lease store for snapshot reads.
func (s *Server) Store() *LeaseStore {
	return s.store
}

// Events returns the lease event stream.
func (s *Server) Events() <-chan LeaseEvent {
	return s.handler.Events()
}

// Addrs returns the local addresses of the bound sockets.
func (s *Server) Addrs() []net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	addrs := make([]net.Addr, 0, len(s.conns))
	for _, c := range s.conns {
		addrs = append(addrs, c.LocalAddr())
	}
	return addrs
}

// Start binds every socket and begins serving. If any socket fails to bind,
// the ones already bound are closed and a *BindError is returned.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("responder already running")
	}

	ifaces := s.config.Interfaces
	if len(ifaces) == 0 {
		ifaces = []string{""}
	}

	conns := make([]net.PacketConn, 0, len(ifaces))
	for _, iface := range ifaces {
		conn, err := listenUDP(ctx, iface, s.config.ListenAddr)
		if err != nil {
			for _, c := range conns {
				_ = c.Close()
			}
			logging.Error("Failed to bind DHCP socket",
				zap.String("interface", iface),
				zap.String("addr", s.config.ListenAddr),
				zap.Error(err),
			)
			return &BindError{Interface: iface, Addr: s.config.ListenAddr, Err: err}
		}
		conns = append(conns, conn)
	}

	ctx, cancel := context.WithCancel(ctx)
	s.conns = conns
	s.cancel = cancel
	s.running = true

	for i, conn := range conns {
		logging.Info("DHCP responder listening",
			zap.String("interface", ifaces[i]),
			zap.String("addr", conn.LocalAddr().String()),
			zap.String("server_ip", s.config.ServerIP.String()),
			zap.String("pool", s.config.PoolStart.String()+"-"+s.config.PoolEnd.String()),
		)
		s.wg.Add(1)
		go s.serve(ctx, conn, ifaces[i])
	}

	s.wg.Add(1)
	go s.sweep(ctx)

	go func() {
		<-ctx.Done()
		s.closeConns()
	}()

	return nil
}

func (s *Server) closeConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		_ = c.Close()
	}
	s.running = false
}

// Shutdown stops the responder and waits for the serve loops to exit or ctx
// to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	s.closeConns()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logging.Info("DHCP responder stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("responder shutdown: %w", ctx.Err())
	}
}

func (s *Server) serve(ctx context.Context, conn net.PacketConn, iface string) {
	defer s.wg.Done()

	buf := make([]byte, 1500)
	for {
		n, remote, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			logging.Warn("DHCP read failed", zap.String("interface", iface), zap.Error(err))
			continue
		}

		data := buf[:n]
		req, err := Decode(data)
		if err != nil {
			logging.Warn("Dropping malformed DHCP packet",
				zap.String("interface", iface),
				zap.String("remote_addr", remote.String()),
				zap.Error(err),
			)
			logging.LogRawBytes("Malformed DHCP packet", data)
			continue
		}

		mt, _ := req.MessageType()
		logging.LogPacket("in", remote.String(), mt.String(), data)

		reply := s.handler.Handle(req)
		if reply == nil {
			continue
		}

		dst := s.replyDestination(req, reply)
		out := reply.Encode()
		rt, _ := reply.MessageType()
		logging.LogPacket("out", dst.String(), rt.String(), out)
		if _, err := conn.WriteTo(out, dst); err != nil {
			logging.Warn("Failed to send DHCP reply",
				zap.String("interface", iface),
				zap.String("message_type", rt.String()),
				zap.String("dst", dst.String()),
				zap.Error(err),
			)
		}
	}
}

// replyDestination unicasts to a configured client that did not ask for
// broadcast and broadcasts everything else, including every NAK.
func (s *Server) replyDestination(req, reply *Packet) *net.UDPAddr {
	rt, _ := reply.MessageType()
	if rt != Nak && !req.Broadcast() && req.CIAddr.IsValid() && !req.CIAddr.IsUnspecified() {
		return net.UDPAddrFromAddrPort(netip.AddrPortFrom(req.CIAddr, uint16(s.config.ClientPort)))
	}
	return net.UDPAddrFromAddrPort(netip.AddrPortFrom(s.config.BroadcastAddr, uint16(s.config.ClientPort)))
}

func (s *Server) sweep(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, lease := range s.store.SweepExpired() {
				logging.LogLease("expired", lease.HardwareID, lease.Address.String())
				s.handler.publish(EventExpired, lease)
			}
		}
	}
}
