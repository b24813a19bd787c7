package assign

import (
	"encoding/csv"
	"fmt"
	"io"
	"net/netip"
	"os"

	"github.com/muurk/camstage/internal/batch"
)

// WriteSample writes a template with count consecutive addresses starting
// at base. Hardware-id mode adds placeholder MAC addresses.
func WriteSample(w io.Writer, mode batch.Mode, count int, base netip.Addr) error {
	if !base.Is4() {
		return fmt.Errorf("base address %s is not IPv4", base)
	}
	if count < 1 {
		return fmt.Errorf("count must be positive, got %d", count)
	}
	last := base.As4()[3]
	if int(last)+count-1 > 254 {
		return fmt.Errorf("%d addresses from %s leave the /24", count, base)
	}

	writer := csv.NewWriter(w)
	header := []string{"FinalIPAddress"}
	if mode == batch.ModeHardwareID {
		header = append(header, "MACAddress")
	}
	if err := writer.Write(header); err != nil {
		return err
	}

	addr := base
	for i := 0; i < count; i++ {
		record := []string{addr.String()}
		if mode == batch.ModeHardwareID {
			record = append(record, fmt.Sprintf("00408C%02X%02X%02X", i, i+10, i+20))
		}
		if err := writer.Write(record); err != nil {
			return err
		}
		addr = addr.Next()
	}

	writer.Flush()
	return writer.Error()
}

// WriteSampleFile writes a template to path.
func WriteSampleFile(path string, mode batch.Mode, count int, base netip.Addr) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := WriteSample(f, mode, count, base); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
