package device

import (
	"fmt"
	"strings"
)

// NormalizeHardwareID converts a MAC address in any of the common notations
// (00408C123456, 00:40:8C:12:34:56, 00-40-8c-12-34-56, 0040.8c12.3456)
// into lower-case colon form. All-zero and broadcast addresses are
// rejected.
func NormalizeHardwareID(s string) (string, error) {
	clean := strings.Map(func(r rune) rune {
		switch r {
		case ':', '-', '.', ' ':
			return -1
		}
		return r
	}, strings.TrimSpace(s))

	if len(clean) != 12 {
		return "", fmt.Errorf("invalid MAC address %q: want 12 hex digits", s)
	}
	clean = strings.ToLower(clean)
	for _, r := range clean {
		if !strings.ContainsRune("0123456789abcdef", r) {
			return "", fmt.Errorf("invalid MAC address %q: %q is not a hex digit", s, r)
		}
	}
	if clean == "000000000000" || clean == "ffffffffffff" {
		return "", fmt.Errorf("invalid MAC address %q: reserved value", s)
	}

	var b strings.Builder
	for i := 0; i < 12; i += 2 {
		if i > 0 {
			b.WriteByte(':')
		}
		b.WriteString(clean[i : i+2])
	}
	return b.String(), nil
}

// CompactHardwareID returns the upper-case form without separators that
// cameras use for serial numbers and mDNS TXT records.
func CompactHardwareID(hwid string) string {
	return strings.ToUpper(strings.ReplaceAll(hwid, ":", ""))
}
