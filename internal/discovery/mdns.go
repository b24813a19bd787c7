package discovery

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
	"go.uber.org/zap"

	"github.com/muurk/camstage/internal/device"
	"github.com/muurk/camstage/internal/logging"
)

const (
	// ServiceType is the mDNS service type cameras advertise
	ServiceType = "_axis-video._tcp"

	// ServiceDomain is the mDNS domain (typically "local.")
	ServiceDomain = "local."

	// SourceName tags devices found by a scan
	SourceName = "mdns"

	// DefaultScanTimeout is the default timeout for device discovery
	DefaultScanTimeout = 10 * time.Second

	// DefaultPort is the default HTTP port for cameras
	DefaultPort = 80
)

// hostPattern matches camera hostnames (e.g., "axis-accc8e123456.local.")
var hostPattern = regexp.MustCompile(`(?i)^axis-([0-9a-f]{12})\.local\.?$`)

// Scanner handles mDNS device discovery
type Scanner struct {
	// Timeout is the maximum time to wait for device discovery
	Timeout time.Duration

	// Interface restricts the browse to one network interface. Empty
	// means all multicast-capable interfaces.
	Interface string

	now func() time.Time
}

// NewScanner creates a new mDNS scanner with default settings
func NewScanner() *Scanner {
	return &Scanner{
		Timeout: DefaultScanTimeout,
		now:     time.Now,
	}
}

func (s *Scanner) resolver() (*zeroconf.Resolver, error) {
	var opts []zeroconf.ClientOption
	if s.Interface != "" {
		iface, err := net.InterfaceByName(s.Interface)
		if err != nil {
			return nil, fmt.Errorf("interface %s: %w", s.Interface, err)
		}
		opts = append(opts, zeroconf.SelectIfaces([]net.Interface{*iface}))
	}
	resolver, err := zeroconf.NewResolver(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}
	return resolver, nil
}

// Scan browses until the timeout or ctx ends and returns every camera
// that answered, in the order they first answered.
func (s *Scanner) Scan(ctx context.Context) ([]*Device, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	resolver, err := s.resolver()
	if err != nil {
		return nil, err
	}

	entries := make(chan *zeroconf.ServiceEntry)
	var (
		wg      sync.WaitGroup
		devices []*Device
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		devices = s.collect(entries, 0)
	}()

	if err := resolver.Browse(ctx, ServiceType, ServiceDomain, entries); err != nil {
		return nil, fmt.Errorf("failed to browse for mDNS services: %w", err)
	}

	// The resolver closes entries once ctx is done.
	wg.Wait()
	return devices, nil
}

// WaitForDevices browses until expect distinct cameras have answered or the
// timeout elapses. Fewer devices than expected is not an error; the caller
// decides what a short count means.
func (s *Scanner) WaitForDevices(ctx context.Context, expect int) ([]*Device, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	resolver, err := s.resolver()
	if err != nil {
		return nil, err
	}

	entries := make(chan *zeroconf.ServiceEntry)
	done := make(chan []*Device, 1)
	go func() {
		done <- s.collect(entries, expect)
		cancel()
		// Drain until the resolver closes the channel.
		for range entries {
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, ServiceDomain, entries); err != nil {
		return nil, fmt.Errorf("failed to browse for mDNS services: %w", err)
	}
	return <-done, nil
}

// collect reads entries, dropping non-cameras and repeated announcements.
// It returns after expect devices when expect > 0, otherwise when entries
// is closed.
func (s *Scanner) collect(entries <-chan *zeroconf.ServiceEntry, expect int) []*Device {
	seen := make(map[string]bool)
	var devices []*Device
	for entry := range entries {
		d := s.parseServiceEntry(entry)
		if d == nil || seen[d.HardwareID] {
			continue
		}
		seen[d.HardwareID] = true
		devices = append(devices, d)
		logging.Debug("mDNS device found",
			zap.String("hwid", d.HardwareID),
			zap.Stringer("address", d.Address),
			zap.String("instance", d.Instance),
		)
		if expect > 0 && len(devices) >= expect {
			break
		}
	}
	return devices
}

// parseServiceEntry converts a zeroconf service entry to a Device.
// Returns nil if no hardware id or address can be found.
func (s *Scanner) parseServiceEntry(entry *zeroconf.ServiceEntry) *Device {
	metadata := parseText(entry.Text)

	hwid := hardwareIDFrom(metadata["macaddress"], entry.HostName)
	if hwid == "" {
		return nil
	}

	var addr netip.Addr
	for _, ip := range entry.AddrIPv4 {
		if a, ok := netip.AddrFromSlice(ip); ok {
			addr = a.Unmap()
			break
		}
	}
	if !addr.IsValid() {
		for _, ip := range entry.AddrIPv6 {
			if a, ok := netip.AddrFromSlice(ip); ok {
				addr = a
				break
			}
		}
	}
	if !addr.IsValid() {
		return nil
	}

	port := entry.Port
	if port == 0 {
		port = DefaultPort
	}

	return &Device{
		HardwareID:   hwid,
		Instance:     entry.Instance,
		Hostname:     entry.HostName,
		Address:      addr,
		Port:         port,
		Metadata:     metadata,
		DiscoveredAt: s.now(),
	}
}

// parseText splits "key=value" TXT records. Keys are lower-cased.
func parseText(txt []string) map[string]string {
	metadata := make(map[string]string, len(txt))
	for _, t := range txt {
		key, value, _ := strings.Cut(t, "=")
		metadata[strings.ToLower(key)] = value
	}
	return metadata
}

// hardwareIDFrom prefers the TXT macaddress and falls back to the hostname.
func hardwareIDFrom(mac, hostname string) string {
	if mac != "" {
		if hwid, err := device.NormalizeHardwareID(mac); err == nil {
			return hwid
		}
	}
	if m := hostPattern.FindStringSubmatch(hostname); m != nil {
		if hwid, err := device.NormalizeHardwareID(m[1]); err == nil {
			return hwid
		}
	}
	return ""
}
