// Package dhcp implements the embedded address-assignment responder.
//
// Factory-default cameras all boot with the same link-local or vendor
// default address, so before they can be configured each one needs a
// unique temporary address. The responder hands those out from a small
// pool and remembers which hardware address holds which lease.
//
// # Components
//
//   - Packet: BOOTP/DHCP codec (RFC 2131 subset, no option overloading)
//   - AddressPool: lowest-free allocation over a contiguous IPv4 range,
//     skipping the network, broadcast, gateway and server addresses
//   - LeaseStore: the hardware-id → lease table; Offered → Bound → Expired
//   - Handler: maps DISCOVER/REQUEST/RELEASE/DECLINE onto the store and
//     builds OFFER/ACK/NAK replies
//   - Server: one UDP socket per interface, one goroutine per socket
//
// # Lease Lifecycle
//
// A DISCOVER from an unknown hardware address provisionally holds the
// lowest free address for the offer-hold period. A REQUEST for that
// address binds it for the full lease time. Re-discovery before expiry
// returns the same address. A REQUEST naming an address held by another
// client is always refused with a NAK. The periodic sweep returns expired
// leases to the pool.
//
// # Usage
//
//	srv, err := dhcp.New(dhcp.Config{
//	    Interfaces: []string{"eth1"},
//	    ServerIP:   netip.MustParseAddr("192.168.0.1"),
//	    SubnetMask: netip.MustParseAddr("255.255.255.0"),
//	    PoolStart:  netip.MustParseAddr("192.168.0.50"),
//	    PoolEnd:    netip.MustParseAddr("192.168.0.99"),
//	})
//	if err := srv.Start(ctx); err != nil {
//	    var bindErr *dhcp.BindError
//	    // responder unavailable; continue with pre-known addresses
//	}
//	for _, lease := range srv.Store().Bound() {
//	    fmt.Println(lease.HardwareID, lease.Address)
//	}
//
// Binding to a named interface uses SO_BINDTODEVICE and is Linux only.
package dhcp
