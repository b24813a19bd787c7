package dhcp

import (
	"errors"
	"fmt"
	"net/netip"
	"sort"
	"sync"
	"time"
)

// ErrNoLease is returned when a request does not match the client's
// current Offered or Bound lease.
var ErrNoLease = errors.New("no matching lease")

// declinedOwner holds quarantined addresses in the pool.
const declinedOwner = "declined"

// Lease store defaults.
const (
	DefaultLeaseDuration = time.Hour
	DefaultOfferHold     = 30 * time.Second
)

// LeaseState is the lifecycle position of a lease.
type LeaseState int

const (
	LeaseOffered LeaseState = iota
	LeaseBound
	LeaseExpired
)

// String returns the lower-case state name.
func (s LeaseState) String() string {
	switch s {
	case LeaseOffered:
		return "offered"
	case LeaseBound:
		return "bound"
	case LeaseExpired:
		return "expired"
	default:
		return fmt.Sprintf("LeaseState(%d)", int(s))
	}
}

// MarshalText lets leases render state names in JSON snapshots.
func (s LeaseState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Lease is a hardware identity's temporary address binding. Values returned
// by LeaseStore are copies.
type Lease struct {
	HardwareID    string     `json:"hardware_id"`
	Address       netip.Addr `json:"address"`
	State         LeaseState `json:"state"`
	OfferedAt     time.Time  `json:"offered_at"`
	BoundAt       time.Time  `json:"bound_at,omitzero"`
	ExpiresAt     time.Time  `json:"expires_at"`
	TransactionID uint32     `json:"transaction_id"`
	Hostname      string     `json:"hostname,omitempty"`

	// FirstSeen and Sequence record when the identity was first discovered.
	// Sequence is monotonic and defines discovery order.
	FirstSeen time.Time `json:"first_seen"`
	Sequence  uint64    `json:"sequence"`
}

// Active reports whether the lease still holds its address at now.
func (l Lease) Active(now time.Time) bool {
	return l.State != LeaseExpired && now.Before(l.ExpiresAt)
}

// StoreConfig controls lease timing.
type StoreConfig struct {
	LeaseDuration time.Duration
	OfferHold     time.Duration

	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

// Stats summarises the lease table.
type Stats struct {
	PoolSize int `json:"pool_size"`
	Free     int `json:"free"`
	Offered  int `json:"offered"`
	Bound    int `json:"bound"`
	Expired  int `json:"expired"`
	Declined int `json:"declined"`
}

// LeaseStore owns the address pool and the hardware-id → lease table. Every
// mutation goes through its methods under one mutex, so the table has a
// single writer at any instant; readers receive copies.
type LeaseStore struct {
	mu       sync.Mutex
	pool     *AddressPool
	leases   map[string]*Lease
	declined map[netip.Addr]time.Time
	seq      uint64

	leaseDuration time.Duration
	offerHold     time.Duration
	now           func() time.Time
}

// NewLeaseStore wraps pool. Zero durations fall back to the defaults.
func NewLeaseStore(pool *AddressPool, cfg StoreConfig) *LeaseStore {
	s := &LeaseStore{
		pool:          pool,
		leases:        make(map[string]*Lease),
		declined:      make(map[netip.Addr]time.Time),
		leaseDuration: cfg.LeaseDuration,
		offerHold:     cfg.OfferHold,
		now:           cfg.Now,
	}
	if s.leaseDuration <= 0 {
		s.leaseDuration = DefaultLeaseDuration
	}
	if s.offerHold <= 0 {
		s.offerHold = DefaultOfferHold
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// LeaseDuration returns the full lease time granted on Bound.
func (s *LeaseStore) LeaseDuration() time.Duration {
	return s.leaseDuration
}

// Discover handles a client discovery. An identity that still holds an
// unexpired lease gets the same address back; otherwise the lowest free
// address is provisionally held for the offer-hold period.
func (s *LeaseStore) Discover(hardwareID string, xid uint32) (Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	l, known := s.leases[hardwareID]
	if known {
		if l.Active(now) {
			if l.State == LeaseOffered {
				l.OfferedAt = now
				l.ExpiresAt = now.Add(s.offerHold)
			}
			l.TransactionID = xid
			return *l, nil
		}
		s.expireLocked(l)
	}

	addr, err := s.pool.Allocate(hardwareID)
	if err != nil {
		return Lease{}, err
	}

	if !known {
		s.seq++
		l = &Lease{
			HardwareID: hardwareID,
			FirstSeen:  now,
			Sequence:   s.seq,
		}
		s.leases[hardwareID] = l
	}
	l.Address = addr
	l.State = LeaseOffered
	l.OfferedAt = now
	l.BoundAt = time.Time{}
	l.ExpiresAt = now.Add(s.offerHold)
	l.TransactionID = xid
	return *l, nil
}

// Request handles a confirming request. It binds the lease when requested
// matches the identity's Offered or Bound address; a request for an address
// held by any other identity always fails with ErrAddressInUse.
func (s *LeaseStore) Request(hardwareID string, xid uint32, requested netip.Addr) (Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if owner, held := s.pool.Owner(requested); held && owner != hardwareID {
		return Lease{}, fmt.Errorf("%w: %s", ErrAddressInUse, requested)
	}

	l, known := s.leases[hardwareID]
	if !known || !l.Active(now) || l.Address != requested {
		return Lease{}, fmt.Errorf("%w for %s requesting %s", ErrNoLease, hardwareID, requested)
	}

	l.State = LeaseBound
	l.BoundAt = now
	l.ExpiresAt = now.Add(s.leaseDuration)
	l.TransactionID = xid
	return *l, nil
}

// SetHostname records the hostname a client reported.
func (s *LeaseStore) SetHostname(hardwareID, hostname string) {
	if hostname == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.leases[hardwareID]; ok {
		l.Hostname = hostname
	}
}

// Release returns the identity's address to the pool. addr may be the zero
// Addr when the client did not say which address it is releasing.
func (s *LeaseStore) Release(hardwareID string, addr netip.Addr) (Lease, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.leases[hardwareID]
	if !ok || l.State == LeaseExpired {
		return Lease{}, false
	}
	if addr.IsValid() && !addr.IsUnspecified() && addr != l.Address {
		return Lease{}, false
	}
	s.expireLocked(l)
	return *l, true
}

// Decline releases the identity's lease and quarantines the address for one
// lease duration, since the client found it already in use on the wire.
func (s *LeaseStore) Decline(hardwareID string, addr netip.Addr) (Lease, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.leases[hardwareID]
	if !ok || l.State == LeaseExpired {
		return Lease{}, false
	}
	if addr.IsValid() && !addr.IsUnspecified() && addr != l.Address {
		return Lease{}, false
	}
	declined := l.Address
	s.expireLocked(l)
	if err := s.pool.Claim(declined, declinedOwner); err == nil {
		s.declined[declined] = s.now().Add(s.leaseDuration)
	}
	return *l, true
}

// SweepExpired reclaims every lease whose expiry has passed and lifts
// elapsed quarantines. It returns the leases that expired in this sweep.
func (s *LeaseStore) SweepExpired() []Lease {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var expired []Lease
	for _, l := range s.leases {
		if l.State != LeaseExpired && !now.Before(l.ExpiresAt) {
			s.expireLocked(l)
			expired = append(expired, *l)
		}
	}
	for addr, until := range s.declined {
		if !now.Before(until) {
			s.pool.Release(addr, declinedOwner)
			delete(s.declined, addr)
		}
	}

	sort.Slice(expired, func(i, j int) bool { return expired[i].Sequence < expired[j].Sequence })
	return expired
}

func (s *LeaseStore) expireLocked(l *Lease) {
	s.pool.Release(l.Address, l.HardwareID)
	l.State = LeaseExpired
}

// Lookup returns the lease held by hardwareID.
func (s *LeaseStore) Lookup(hardwareID string) (Lease, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leases[hardwareID]
	if !ok {
		return Lease{}, false
	}
	return *l, true
}

// Snapshot returns a consistent copy of every lease in discovery order.
func (s *LeaseStore) Snapshot() []Lease {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Lease, 0, len(s.leases))
	for _, l := range s.leases {
		out = append(out, *l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out
}

// Bound returns the currently Bound, unexpired leases in discovery order.
func (s *LeaseStore) Bound() []Lease {
	now := s.now()
	all := s.Snapshot()
	out := all[:0]
	for _, l := range all {
		if l.State == LeaseBound && l.Active(now) {
			out = append(out, l)
		}
	}
	return out
}

// Stats returns counts for the lease table and pool.
func (s *LeaseStore) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{
		PoolSize: s.pool.Size(),
		Free:     s.pool.Free(),
		Declined: len(s.declined),
	}
	for _, l := range s.leases {
		switch l.State {
		case LeaseOffered:
			st.Offered++
		case LeaseBound:
			st.Bound++
		case LeaseExpired:
			st.Expired++
		}
	}
	return st
}
