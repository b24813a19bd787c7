package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"net/netip"
	"os"
	"strconv"
	"time"

	"github.com/muurk/camstage/internal/provision"
	"github.com/muurk/camstage/internal/version"
)

var inventoryColumns = []string{"final_ip", "temp_ip", "mac", "verified_mac", "serial", "status"}

// WriteInventory writes one CSV row per device. Every step seen in any
// report gets a <step>_success and <step>_message column, in first-seen
// order, followed by report_generated and tool_version.
func WriteInventory(w io.Writer, reports []*provision.DeviceReport, generated time.Time) error {
	if len(reports) == 0 {
		return fmt.Errorf("no device reports to write")
	}

	var steps []string
	seen := make(map[string]bool)
	for _, r := range reports {
		for _, s := range r.Steps {
			if !seen[s.Name] {
				seen[s.Name] = true
				steps = append(steps, s.Name)
			}
		}
	}

	header := append([]string(nil), inventoryColumns...)
	for _, name := range steps {
		header = append(header, name+"_success", name+"_message")
	}
	header = append(header, "report_generated", "tool_version")

	writer := csv.NewWriter(w)
	if err := writer.Write(header); err != nil {
		return err
	}

	stamp := generated.Format("2006-01-02 15:04:05")
	for _, r := range reports {
		row := []string{
			addrString(r.Target.FinalAddress),
			addrString(r.Target.TemporaryAddress),
			r.Target.HardwareID,
			r.Identity.HardwareID,
			r.Identity.Serial,
			string(r.Status),
		}
		for _, name := range steps {
			s, ok := r.Step(name)
			if !ok {
				row = append(row, "", "")
				continue
			}
			row = append(row, stepSuccess(s), s.Message)
		}
		row = append(row, stamp, version.Version)
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

// WriteInventoryFile writes the inventory CSV to path.
func WriteInventoryFile(path string, reports []*provision.DeviceReport, generated time.Time) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report: %w", err)
	}
	if err := WriteInventory(f, reports, generated); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write report: %w", err)
	}
	return f.Close()
}

func stepSuccess(s provision.StepResult) string {
	if s.Status == provision.StepSkipped {
		return "skipped"
	}
	return strconv.FormatBool(s.Succeeded())
}

func addrString(a netip.Addr) string {
	if !a.IsValid() {
		return ""
	}
	return a.String()
}
