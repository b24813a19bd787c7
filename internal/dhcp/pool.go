package dhcp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"
)

var (
	// ErrPoolExhausted is returned when every assignable address is held.
	ErrPoolExhausted = errors.New("address pool exhausted")

	// ErrAddressInUse is returned when an address is held by a different
	// hardware identity.
	ErrAddressInUse = errors.New("address in use by another client")

	// ErrOutOfRange is returned for addresses outside the assignable range.
	ErrOutOfRange = errors.New("address outside pool range")
)

// AddressPool tracks which addresses of a contiguous IPv4 range are held and
// by whom. It is not safe for concurrent use; LeaseStore serialises access.
type AddressPool struct {
	first     uint32
	last      uint32
	prefix    netip.Prefix
	reserved  map[netip.Addr]struct{}
	allocated map[netip.Addr]string
}

// NewAddressPool creates a pool covering first..last inside subnet. The
// subnet's network and broadcast addresses are always reserved, as is every
// address in reserved (typically the gateway and the server itself).
func NewAddressPool(first, last netip.Addr, subnet netip.Prefix, reserved ...netip.Addr) (*AddressPool, error) {
	if !first.Is4() || !last.Is4() {
		return nil, fmt.Errorf("pool range must be IPv4: %s - %s", first, last)
	}
	if !subnet.IsValid() || !subnet.Addr().Is4() {
		return nil, fmt.Errorf("invalid subnet %s", subnet)
	}
	subnet = subnet.Masked()
	if !subnet.Contains(first) || !subnet.Contains(last) {
		return nil, fmt.Errorf("pool range %s - %s is not inside subnet %s", first, last, subnet)
	}
	if last.Less(first) {
		return nil, fmt.Errorf("pool range is inverted: %s - %s", first, last)
	}

	p := &AddressPool{
		first:     addrToUint32(first),
		last:      addrToUint32(last),
		prefix:    subnet,
		reserved:  make(map[netip.Addr]struct{}),
		allocated: make(map[netip.Addr]string),
	}

	p.reserved[subnet.Addr()] = struct{}{}
	p.reserved[BroadcastAddr(subnet)] = struct{}{}
	for _, a := range reserved {
		if a.IsValid() {
			p.reserved[a] = struct{}{}
		}
	}

	if p.Size() == 0 {
		return nil, fmt.Errorf("pool range %s - %s has no assignable addresses", first, last)
	}
	return p, nil
}

// BroadcastAddr returns the directed broadcast address of an IPv4 prefix.
func BroadcastAddr(subnet netip.Prefix) netip.Addr {
	subnet = subnet.Masked()
	network := addrToUint32(subnet.Addr())
	hostBits := 32 - subnet.Bits()
	if hostBits <= 0 {
		return subnet.Addr()
	}
	return uint32ToAddr(network | (uint32(1)<<hostBits - 1))
}

// Contains reports whether addr may be handed out by this pool.
func (p *AddressPool) Contains(addr netip.Addr) bool {
	if !addr.Is4() {
		return false
	}
	n := addrToUint32(addr)
	if n < p.first || n > p.last {
		return false
	}
	_, reserved := p.reserved[addr]
	return !reserved
}

// Allocate hands out the lowest free address to owner.
func (p *AddressPool) Allocate(owner string) (netip.Addr, error) {
	for n := p.first; n <= p.last; n++ {
		addr := uint32ToAddr(n)
		if _, reserved := p.reserved[addr]; reserved {
			if n == p.last {
				break
			}
			continue
		}
		if _, held := p.allocated[addr]; !held {
			p.allocated[addr] = owner
			return addr, nil
		}
		if n == p.last {
			break
		}
	}
	return netip.Addr{}, ErrPoolExhausted
}

// Claim marks addr as held by owner. Claiming an address the owner already
// holds is a no-op.
func (p *AddressPool) Claim(addr netip.Addr, owner string) error {
	if !p.Contains(addr) {
		return fmt.Errorf("%w: %s", ErrOutOfRange, addr)
	}
	if current, held := p.allocated[addr]; held && current != owner {
		return fmt.Errorf("%w: %s", ErrAddressInUse, addr)
	}
	p.allocated[addr] = owner
	return nil
}

// Release frees addr if it is held by owner.
func (p *AddressPool) Release(addr netip.Addr, owner string) bool {
	if current, held := p.allocated[addr]; held && current == owner {
		delete(p.allocated, addr)
		return true
	}
	return false
}

// Owner returns the identity currently holding addr.
func (p *AddressPool) Owner(addr netip.Addr) (string, bool) {
	owner, held := p.allocated[addr]
	return owner, held
}

// Size returns the number of assignable addresses.
func (p *AddressPool) Size() int {
	size := 0
	for n := p.first; n <= p.last; n++ {
		if _, reserved := p.reserved[uint32ToAddr(n)]; !reserved {
			size++
		}
		if n == p.last {
			break
		}
	}
	return size
}

// Free returns the number of assignable addresses not currently held.
func (p *AddressPool) Free() int {
	return p.Size() - len(p.allocated)
}

// Prefix returns the subnet the pool lives in.
func (p *AddressPool) Prefix() netip.Prefix {
	return p.prefix
}

func addrToUint32(a netip.Addr) uint32 {
	b := a.As4()
	return binary.BigEndian.Uint32(b[:])
}

func uint32ToAddr(n uint32) netip.Addr {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], n)
	return netip.AddrFrom4(b)
}

// MaskToPrefix converts a dotted subnet mask into a prefix length,
// rejecting non-contiguous masks.
func MaskToPrefix(mask netip.Addr) (int, error) {
	if !mask.Is4() {
		return 0, fmt.Errorf("subnet mask must be IPv4: %s", mask)
	}
	m := addrToUint32(mask)
	bits := 0
	for m&0x80000000 != 0 {
		bits++
		m <<= 1
	}
	if m != 0 {
		return 0, fmt.Errorf("subnet mask %s is not contiguous", mask)
	}
	return bits, nil
}

// PrefixToMask converts a prefix length into a dotted subnet mask.
func PrefixToMask(bits int) netip.Addr {
	if bits <= 0 {
		return netip.IPv4Unspecified()
	}
	if bits >= 32 {
		return uint32ToAddr(0xffffffff)
	}
	return uint32ToAddr(^(uint32(1)<<(32-bits) - 1))
}
