// Package assign reads and writes the operator's assignment CSV.
//
// The file has a FinalIPAddress column and, for hardware-id mode, a
// MACAddress column:
//
//	FinalIPAddress,MACAddress
//	192.168.1.100,00408C123456
//
// The presence of the MAC column selects the mode.
package assign

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/muurk/camstage/internal/batch"
	"github.com/muurk/camstage/internal/device"
	"github.com/muurk/camstage/internal/logging"
)

var (
	ErrMissingAddressColumn = errors.New("CSV must have a FinalIPAddress column")
	ErrNoAssignments        = errors.New("no assignments found")
	ErrDuplicateAddress     = errors.New("duplicate final address")
	ErrDuplicateHardwareID  = errors.New("duplicate MAC address")
	ErrInvalidAddress       = errors.New("invalid IPv4 address")
	ErrMissingHardwareID    = errors.New("missing MAC address")
)

var (
	addressColumns  = []string{"finalipaddress", "final_ip", "ip"}
	hardwareColumns = []string{"macaddress", "mac"}
)

// Assignments is a validated assignment file.
type Assignments struct {
	Mode       batch.Mode
	Directives []device.Directive

	// Warnings are problems that do not stop a batch.
	Warnings []string
}

// ReadFile reads and validates an assignment file.
func ReadFile(path string) (*Assignments, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open assignments: %w", err)
	}
	defer func() { _ = f.Close() }()

	a, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return a, nil
}

// Read parses and validates assignments. Every invalid row is reported;
// the returned error joins them. Rows are file line numbers, so the header
// is row 1.
func Read(r io.Reader) (*Assignments, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrNoAssignments
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	addrCol := findColumn(header, addressColumns)
	if addrCol < 0 {
		return nil, ErrMissingAddressColumn
	}
	macCol := findColumn(header, hardwareColumns)

	a := &Assignments{Mode: batch.ModePositional}
	if macCol >= 0 {
		a.Mode = batch.ModeHardwareID
	}

	var errs []error
	seenAddr := make(map[netip.Addr]int)
	seenMAC := make(map[string]int)

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			errs = append(errs, err)
			break
		}
		if blank(record) {
			continue
		}
		row, _ := reader.FieldPos(0)

		d := device.Directive{Row: row}

		addr, err := netip.ParseAddr(field(record, addrCol))
		if err != nil || !addr.Is4() {
			errs = append(errs, fmt.Errorf("row %d: %q: %w", row, field(record, addrCol), ErrInvalidAddress))
			continue
		}
		if first, dup := seenAddr[addr]; dup {
			errs = append(errs, fmt.Errorf("row %d: %s already on row %d: %w", row, addr, first, ErrDuplicateAddress))
			continue
		}
		seenAddr[addr] = row
		d.FinalAddress = addr

		if macCol >= 0 {
			raw := field(record, macCol)
			if raw == "" {
				errs = append(errs, fmt.Errorf("row %d: %w", row, ErrMissingHardwareID))
				continue
			}
			hwid, err := device.NormalizeHardwareID(raw)
			if err != nil {
				errs = append(errs, fmt.Errorf("row %d: %w", row, err))
				continue
			}
			if first, dup := seenMAC[hwid]; dup {
				errs = append(errs, fmt.Errorf("row %d: %s already on row %d: %w", row, hwid, first, ErrDuplicateHardwareID))
				continue
			}
			seenMAC[hwid] = row
			d.HardwareID = hwid
		}

		a.Directives = append(a.Directives, d)
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if len(a.Directives) == 0 {
		return nil, ErrNoAssignments
	}

	if w := subnetWarning(a.Directives); w != "" {
		a.Warnings = append(a.Warnings, w)
		logging.Warn("Assignment addresses span several subnets", zap.String("detail", w))
	}
	return a, nil
}

// subnetWarning flags addresses outside the /24 of the first one.
func subnetWarning(directives []device.Directive) string {
	first := directives[0].FinalAddress
	prefix := netip.PrefixFrom(first, 24).Masked()

	var outside []string
	for _, d := range directives[1:] {
		if !prefix.Contains(d.FinalAddress) {
			outside = append(outside, d.FinalAddress.String())
		}
	}
	if len(outside) == 0 {
		return ""
	}
	return fmt.Sprintf("addresses outside %s: %s", prefix, strings.Join(outside, ", "))
}

func findColumn(header []string, names []string) int {
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		for _, n := range names {
			if h == n {
				return i
			}
		}
	}
	return -1
}

func field(record []string, i int) string {
	if i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

func blank(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
