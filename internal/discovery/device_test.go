package discovery

import (
	"net/netip"
	"testing"
	"time"
)

func TestDevice_String(t *testing.T) {
	device := &Device{
		HardwareID: "ac:cc:8e:12:34:56",
		Instance:   "AXIS P3245-V - ACCC8E123456",
		Address:    netip.MustParseAddr("192.168.0.100"),
		Port:       80,
	}

	expected := "ac:cc:8e:12:34:56 (AXIS P3245-V - ACCC8E123456) at 192.168.0.100:80"
	if device.String() != expected {
		t.Errorf("Device.String() = %v, want %v", device.String(), expected)
	}
}

func TestDevice_BaseURL(t *testing.T) {
	tests := []struct {
		name     string
		device   *Device
		expected string
	}{
		{
			name: "standard HTTP port",
			device: &Device{
				Address: netip.MustParseAddr("192.168.4.16"),
				Port:    80,
			},
			expected: "http://192.168.4.16:80",
		},
		{
			name: "custom port",
			device: &Device{
				Address: netip.MustParseAddr("10.0.0.5"),
				Port:    8080,
			},
			expected: "http://10.0.0.5:8080",
		},
		{
			name: "IPv6",
			device: &Device{
				Address: netip.MustParseAddr("fe80::1"),
				Port:    80,
			},
			expected: "http://[fe80::1]:80",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.device.BaseURL(); got != tt.expected {
				t.Errorf("Device.BaseURL() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestDevice_GetMetadata_NilMap(t *testing.T) {
	device := &Device{
		Metadata: nil,
	}

	if got := device.GetMetadata("anything"); got != "" {
		t.Errorf("Device.GetMetadata() with nil map = %v, want empty string", got)
	}
}

func TestToDiscovered(t *testing.T) {
	first := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	devices := []*Device{
		{HardwareID: "ac:cc:8e:00:00:02", Address: netip.MustParseAddr("192.168.0.20"), Hostname: "axis-accc8e000002.local.", DiscoveredAt: first},
		{HardwareID: "ac:cc:8e:00:00:01", Address: netip.MustParseAddr("192.168.0.10"), DiscoveredAt: first.Add(time.Second)},
	}

	got := ToDiscovered(devices)
	if len(got) != 2 {
		t.Fatalf("ToDiscovered() returned %d devices, want 2", len(got))
	}
	if got[0].HardwareID != "ac:cc:8e:00:00:02" || got[1].HardwareID != "ac:cc:8e:00:00:01" {
		t.Errorf("ToDiscovered() reordered devices: %v", got)
	}
	if got[0].Source != SourceName {
		t.Errorf("Source = %q, want %q", got[0].Source, SourceName)
	}
	if got[0].Hostname != "axis-accc8e000002.local." {
		t.Errorf("Hostname = %q", got[0].Hostname)
	}
	if !got[1].FirstSeen.Equal(first.Add(time.Second)) {
		t.Errorf("FirstSeen = %v", got[1].FirstSeen)
	}
}
