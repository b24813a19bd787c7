package batch

import (
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/muurk/camstage/internal/device"
	"github.com/muurk/camstage/internal/dhcp"
)

// Mode selects how directives are matched to discovered devices.
type Mode string

const (
	// ModePositional pairs directives with devices in discovery order.
	ModePositional Mode = "positional"

	// ModeHardwareID pairs directives with devices by hardware id.
	ModeHardwareID Mode = "hardware-id"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModePositional, ModeHardwareID:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown assignment mode %q (want %s or %s)", s, ModePositional, ModeHardwareID)
}

var (
	// ErrMissingHardwareID is returned in hardware-id mode for a directive
	// without a hardware id.
	ErrMissingHardwareID = errors.New("directive has no hardware id")

	// ErrDuplicateHardwareID is returned when two directives name the same
	// device.
	ErrDuplicateHardwareID = errors.New("duplicate hardware id in directives")
)

// Discovered is a device found by the responder or a scan, in discovery
// order.
type Discovered struct {
	HardwareID string     `json:"hardware_id"`
	Address    netip.Addr `json:"address"`
	Hostname   string     `json:"hostname,omitempty"`
	FirstSeen  time.Time  `json:"first_seen"`

	// Source is "dhcp" or "mdns".
	Source string `json:"source"`
}

// FromLeases converts Bound leases, already in discovery order, into
// discovered devices.
func FromLeases(leases []dhcp.Lease) []Discovered {
	out := make([]Discovered, 0, len(leases))
	for _, l := range leases {
		out = append(out, Discovered{
			HardwareID: l.HardwareID,
			Address:    l.Address,
			Hostname:   l.Hostname,
			FirstSeen:  l.FirstSeen,
			Source:     "dhcp",
		})
	}
	return out
}

// Resolution is the outcome of matching directives to devices. Unused and
// Unassigned are reported, never fatal.
type Resolution struct {
	Mode       Mode               `json:"mode"`
	Targets    []device.Target    `json:"targets"`
	Unused     []device.Directive `json:"unused"`
	Unassigned []Discovered       `json:"unassigned"`
}

// Resolve matches directives to discovered devices. Targets are indexed
// and ordered by discovery order in both modes.
func Resolve(mode Mode, directives []device.Directive, discovered []Discovered) (*Resolution, error) {
	switch mode {
	case ModePositional:
		return resolvePositional(directives, discovered), nil
	case ModeHardwareID:
		return resolveByHardwareID(directives, discovered)
	}
	return nil, fmt.Errorf("unknown assignment mode %q", mode)
}

func resolvePositional(directives []device.Directive, discovered []Discovered) *Resolution {
	res := &Resolution{Mode: ModePositional}

	n := min(len(directives), len(discovered))
	for i := 0; i < n; i++ {
		d := discovered[i]
		res.Targets = append(res.Targets, device.NewTarget(i, d.HardwareID, d.Address, directives[i]))
	}
	res.Unused = append(res.Unused, directives[n:]...)
	res.Unassigned = append(res.Unassigned, discovered[n:]...)
	return res
}

func resolveByHardwareID(directives []device.Directive, discovered []Discovered) (*Resolution, error) {
	res := &Resolution{Mode: ModeHardwareID}

	byID := make(map[string]device.Directive, len(directives))
	for _, d := range directives {
		if d.HardwareID == "" {
			return nil, fmt.Errorf("row %d: %w", d.Row, ErrMissingHardwareID)
		}
		hwid, err := device.NormalizeHardwareID(d.HardwareID)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", d.Row, err)
		}
		if _, dup := byID[hwid]; dup {
			return nil, fmt.Errorf("row %d: %s: %w", d.Row, hwid, ErrDuplicateHardwareID)
		}
		byID[hwid] = d
	}

	matched := make(map[string]bool, len(directives))
	for _, d := range discovered {
		hwid, err := device.NormalizeHardwareID(d.HardwareID)
		if err != nil {
			res.Unassigned = append(res.Unassigned, d)
			continue
		}
		directive, ok := byID[hwid]
		if !ok || matched[hwid] {
			res.Unassigned = append(res.Unassigned, d)
			continue
		}
		matched[hwid] = true
		res.Targets = append(res.Targets, device.NewTarget(len(res.Targets), hwid, d.Address, directive))
	}

	for _, d := range directives {
		hwid, _ := device.NormalizeHardwareID(d.HardwareID)
		if !matched[hwid] {
			res.Unused = append(res.Unused, d)
		}
	}
	return res, nil
}
