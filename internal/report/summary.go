package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/muurk/camstage/internal/batch"
	"github.com/muurk/camstage/internal/device"
	"github.com/muurk/camstage/internal/provision"
	"github.com/muurk/camstage/internal/version"
)

// Summary is the JSON document written at the end of a run.
type Summary struct {
	Generated  time.Time                 `json:"generated"`
	Tool       version.Info              `json:"tool"`
	Mode       batch.Mode                `json:"mode"`
	Run        *batch.Summary            `json:"run"`
	Devices    []*provision.DeviceReport `json:"devices"`
	Unused     []device.Directive        `json:"unused"`
	Unassigned []batch.Discovered        `json:"unassigned"`
}

// NewSummary assembles a summary. res may be nil when targets came from
// somewhere other than directive resolution.
func NewSummary(run *batch.Summary, res *batch.Resolution, reports []*provision.DeviceReport, generated time.Time) *Summary {
	s := &Summary{
		Generated:  generated,
		Tool:       version.Get(),
		Run:        run,
		Devices:    reports,
		Unused:     []device.Directive{},
		Unassigned: []batch.Discovered{},
	}
	if res != nil {
		s.Mode = res.Mode
		s.Unused = append(s.Unused, res.Unused...)
		s.Unassigned = append(s.Unassigned, res.Unassigned...)
	}
	return s
}

// Write encodes the summary as indented JSON.
func (s *Summary) Write(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

// WriteFile writes the summary to path.
func (s *Summary) WriteFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create summary: %w", err)
	}
	if err := s.Write(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write summary: %w", err)
	}
	return f.Close()
}
