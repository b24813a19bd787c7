package dhcp

import (
	"fmt"
	"net"
	"net/netip"
)

// Interface describes a local interface the responder could bind to.
type Interface struct {
	Name   string
	MAC    string
	Prefix netip.Prefix
}

// ListInterfaces returns the up, non-loopback interfaces that carry an IPv4
// address, one entry per address.
func ListInterfaces() ([]Interface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("list interfaces: %w", err)
	}

	var out []Interface
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			prefix, ok := prefixFromIPNet(ipnet)
			if !ok {
				continue
			}
			out = append(out, Interface{
				Name:   iface.Name,
				MAC:    iface.HardwareAddr.String(),
				Prefix: prefix,
			})
		}
	}
	return out, nil
}

func prefixFromIPNet(ipnet *net.IPNet) (netip.Prefix, bool) {
	ip4 := ipnet.IP.To4()
	if ip4 == nil {
		return netip.Prefix{}, false
	}
	bits, size := ipnet.Mask.Size()
	if size != 32 {
		return netip.Prefix{}, false
	}
	return netip.PrefixFrom(netip.AddrFrom4([4]byte(ip4)), bits), true
}

// InterfaceFor returns the local interface whose subnet contains addr.
func InterfaceFor(addr netip.Addr) (Interface, bool) {
	ifaces, err := ListInterfaces()
	if err != nil {
		return Interface{}, false
	}
	for _, iface := range ifaces {
		if iface.Prefix.Contains(addr) {
			return iface, true
		}
	}
	return Interface{}, false
}
