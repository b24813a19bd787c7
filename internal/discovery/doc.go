// Package discovery finds cameras that already hold an address by browsing
// for their "_axis-video._tcp" mDNS advertisements.
//
// Each answer is reduced to a hardware id (from the macaddress TXT record,
// or failing that the axis-<mac> hostname) and an address. Repeated
// announcements are collapsed, and devices keep the order in which they
// first answered, so a scan can stand in for the DHCP responder as a source
// of discovery order:
//
//	scanner := discovery.NewScanner()
//	scanner.Timeout = 30 * time.Second
//	devices, err := scanner.WaitForDevices(ctx, 12)
//	if err != nil {
//	    return err
//	}
//	res, err := batch.Resolve(mode, directives, discovery.ToDiscovered(devices))
//
// # Network Requirements
//
// - Requires multicast support on the network interface
// - Devices must be on the same local network segment
// - Firewall must allow mDNS (UDP port 5353)
package discovery
