package discovery

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/muurk/camstage/internal/batch"
)

// Device represents a camera found by an mDNS scan
type Device struct {
	// HardwareID is the normalized MAC address (e.g., "ac:cc:8e:12:34:56")
	HardwareID string

	// Instance is the advertised service instance name
	// (e.g., "AXIS P3245-V - ACCC8E123456")
	Instance string

	// Hostname is the mDNS hostname (e.g., "axis-accc8e123456.local.")
	Hostname string

	// Address is the advertised address, IPv4 preferred
	Address netip.Addr

	// Port is the HTTP port (typically 80)
	Port int

	// Metadata contains the TXT record data
	// Common fields: "macaddress=ACCC8E123456"
	Metadata map[string]string

	// DiscoveredAt is when the device first answered
	DiscoveredAt time.Time
}

// String returns a human-readable string representation of the device
func (d *Device) String() string {
	return fmt.Sprintf("%s (%s) at %s", d.HardwareID, d.Instance, netip.AddrPortFrom(d.Address, uint16(d.Port)))
}

// BaseURL returns the HTTP base URL for the device
func (d *Device) BaseURL() string {
	return "http://" + netip.AddrPortFrom(d.Address, uint16(d.Port)).String()
}

// GetMetadata retrieves a metadata value by key, or returns empty string if not found
func (d *Device) GetMetadata(key string) string {
	if d.Metadata == nil {
		return ""
	}
	return d.Metadata[key]
}

// Discovered converts the device into a batch input.
func (d *Device) Discovered() batch.Discovered {
	return batch.Discovered{
		HardwareID: d.HardwareID,
		Address:    d.Address,
		Hostname:   d.Hostname,
		FirstSeen:  d.DiscoveredAt,
		Source:     SourceName,
	}
}

// ToDiscovered converts devices, keeping their order.
func ToDiscovered(devices []*Device) []batch.Discovered {
	out := make([]batch.Discovered, 0, len(devices))
	for _, d := range devices {
		out = append(out, d.Discovered())
	}
	return out
}
