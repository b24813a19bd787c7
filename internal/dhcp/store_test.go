package dhcp

import (
	"fmt"
	"math/rand"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time           { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestStore(t *testing.T, first, last string) (*LeaseStore, *fakeClock) {
	t.Helper()
	pool, err := NewAddressPool(
		netip.MustParseAddr(first),
		netip.MustParseAddr(last),
		netip.MustParsePrefix("192.168.0.0/24"),
		netip.MustParseAddr("192.168.0.1"),
	)
	require.NoError(t, err)

	clock := &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	store := NewLeaseStore(pool, StoreConfig{
		LeaseDuration: time.Hour,
		OfferHold:     30 * time.Second,
		Now:           clock.Now,
	})
	return store, clock
}

func bind(t *testing.T, s *LeaseStore, hwid string) Lease {
	t.Helper()
	offer, err := s.Discover(hwid, 1)
	require.NoError(t, err)
	lease, err := s.Request(hwid, 2, offer.Address)
	require.NoError(t, err)
	return lease
}

func TestDiscoverAllocatesLowestFree(t *testing.T) {
	s, _ := newTestStore(t, "192.168.0.1", "192.168.0.20")

	a, err := s.Discover("aa", 1)
	require.NoError(t, err)
	b, err := s.Discover("bb", 2)
	require.NoError(t, err)

	assert.Equal(t, netip.MustParseAddr("192.168.0.2"), a.Address, ".1 is the server")
	assert.Equal(t, netip.MustParseAddr("192.168.0.3"), b.Address)
	assert.Equal(t, LeaseOffered, a.State)
	assert.Less(t, a.Sequence, b.Sequence)
}

func TestRediscoverIsSticky(t *testing.T) {
	s, clock := newTestStore(t, "192.168.0.10", "192.168.0.20")

	first := bind(t, s, "aa")
	_, err := s.Discover("bb", 3)
	require.NoError(t, err)

	clock.Advance(10 * time.Minute)
	again, err := s.Discover("aa", 4)
	require.NoError(t, err)

	assert.Equal(t, first.Address, again.Address)
	assert.Equal(t, LeaseBound, again.State)
	assert.Equal(t, uint32(4), again.TransactionID)
}

func TestOfferHoldExpires(t *testing.T) {
	s, clock := newTestStore(t, "192.168.0.10", "192.168.0.20")

	offer, err := s.Discover("aa", 1)
	require.NoError(t, err)

	clock.Advance(31 * time.Second)
	_, err = s.Request("aa", 2, offer.Address)
	assert.ErrorIs(t, err, ErrNoLease)

	expired := s.SweepExpired()
	require.Len(t, expired, 1)
	assert.Equal(t, LeaseExpired, expired[0].State)
	assert.Equal(t, 0, s.Stats().Offered)
}

func TestRequestForeignAddressIsRefused(t *testing.T) {
	s, _ := newTestStore(t, "192.168.0.10", "192.168.0.20")

	owned := bind(t, s, "aa")
	_, err := s.Discover("bb", 5)
	require.NoError(t, err)

	_, err = s.Request("bb", 6, owned.Address)
	assert.ErrorIs(t, err, ErrAddressInUse)

	l, ok := s.Lookup("aa")
	require.True(t, ok)
	assert.Equal(t, LeaseBound, l.State, "victim lease must be untouched")
}

func TestRequestWrongAddressIsRefused(t *testing.T) {
	s, _ := newTestStore(t, "192.168.0.10", "192.168.0.20")

	_, err := s.Discover("aa", 1)
	require.NoError(t, err)

	_, err = s.Request("aa", 2, netip.MustParseAddr("192.168.0.15"))
	assert.ErrorIs(t, err, ErrNoLease)

	_, err = s.Request("unknown", 3, netip.MustParseAddr("192.168.0.16"))
	assert.ErrorIs(t, err, ErrNoLease)
}

func TestBoundLeaseExpiresAndIsReclaimed(t *testing.T) {
	s, clock := newTestStore(t, "192.168.0.10", "192.168.0.10")

	bind(t, s, "aa")
	_, err := s.Discover("bb", 1)
	require.ErrorIs(t, err, ErrPoolExhausted)

	clock.Advance(time.Hour)
	require.Len(t, s.SweepExpired(), 1)

	offer, err := s.Discover("bb", 2)
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddr("192.168.0.10"), offer.Address)
}

func TestExhaustionKeepsTableConsistent(t *testing.T) {
	s, _ := newTestStore(t, "192.168.0.10", "192.168.0.12")

	for i := 0; i < 3; i++ {
		bind(t, s, fmt.Sprintf("dev-%d", i))
	}

	_, err := s.Discover("late", 9)
	assert.ErrorIs(t, err, ErrPoolExhausted)

	st := s.Stats()
	assert.Equal(t, 3, st.Bound)
	assert.Equal(t, 0, st.Free)
	_, known := s.Lookup("late")
	assert.False(t, known, "exhaustion must not create a lease")
}

func TestReleaseAndDecline(t *testing.T) {
	s, clock := newTestStore(t, "192.168.0.10", "192.168.0.11")

	a := bind(t, s, "aa")
	_, ok := s.Release("aa", netip.MustParseAddr("192.168.0.99"))
	assert.False(t, ok, "release for another address is ignored")

	released, ok := s.Release("aa", a.Address)
	require.True(t, ok)
	assert.Equal(t, LeaseExpired, released.State)

	b, err := s.Discover("bb", 1)
	require.NoError(t, err)
	assert.Equal(t, a.Address, b.Address)

	_, ok = s.Decline("bb", b.Address)
	require.True(t, ok)

	c, err := s.Discover("cc", 2)
	require.NoError(t, err)
	assert.NotEqual(t, b.Address, c.Address, "declined address is quarantined")

	clock.Advance(time.Hour)
	s.SweepExpired()
	assert.Equal(t, 0, s.Stats().Declined)
}

func TestSnapshotIsDiscoveryOrdered(t *testing.T) {
	s, _ := newTestStore(t, "192.168.0.10", "192.168.0.30")

	for _, hwid := range []string{"cc", "aa", "bb"} {
		bind(t, s, hwid)
	}

	snap := s.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, []string{"cc", "aa", "bb"}, []string{snap[0].HardwareID, snap[1].HardwareID, snap[2].HardwareID})

	// Mutating the copy must not leak into the store.
	snap[0].State = LeaseExpired
	l, _ := s.Lookup("cc")
	assert.Equal(t, LeaseBound, l.State)
}

func TestNoTwoBoundLeasesShareAnAddress(t *testing.T) {
	s, clock := newTestStore(t, "192.168.0.10", "192.168.0.17")
	rng := rand.New(rand.NewSource(7))

	hwids := make([]string, 12)
	for i := range hwids {
		hwids[i] = fmt.Sprintf("02:00:00:00:00:%02x", i)
	}

	for step := 0; step < 2000; step++ {
		hwid := hwids[rng.Intn(len(hwids))]
		switch rng.Intn(5) {
		case 0, 1:
			_, _ = s.Discover(hwid, uint32(step))
		case 2:
			if l, ok := s.Lookup(hwid); ok {
				_, _ = s.Request(hwid, uint32(step), l.Address)
			}
		case 3:
			// Attempt to steal a random pool address.
			addr := netip.AddrFrom4([4]byte{192, 168, 0, byte(10 + rng.Intn(8))})
			_, _ = s.Request(hwid, uint32(step), addr)
		case 4:
			clock.Advance(time.Duration(rng.Intn(20)) * time.Minute)
			s.SweepExpired()
		}

		seen := make(map[netip.Addr]string)
		for _, l := range s.Snapshot() {
			if l.State == LeaseExpired {
				continue
			}
			if other, dup := seen[l.Address]; dup {
				t.Fatalf("step %d: %s and %s both hold %s", step, other, l.HardwareID, l.Address)
			}
			seen[l.Address] = l.HardwareID
		}
	}
}

func TestBoundFiltersExpired(t *testing.T) {
	s, clock := newTestStore(t, "192.168.0.10", "192.168.0.20")
	bind(t, s, "aa")
	_, err := s.Discover("bb", 1)
	require.NoError(t, err)

	assert.Len(t, s.Bound(), 1)
	clock.Advance(2 * time.Hour)
	assert.Empty(t, s.Bound())
}
