package report

import (
	"sort"
	"sync"

	"github.com/muurk/camstage/internal/provision"
)

// Collector is a report sink safe for concurrent Add calls. Reports are
// kept in batch order regardless of completion order.
type Collector struct {
	mu      sync.RWMutex
	reports []*provision.DeviceReport
}

// NewCollector returns an empty Collector.
func NewCollector() *Collector {
	return &Collector{}
}

// Add stores a finished report.
func (c *Collector) Add(r *provision.DeviceReport) {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := sort.Search(len(c.reports), func(i int) bool {
		return c.reports[i].Target.Index > r.Target.Index
	})
	c.reports = append(c.reports, nil)
	copy(c.reports[i+1:], c.reports[i:])
	c.reports[i] = r
}

// Reports returns the reports collected so far, ordered by target index.
func (c *Collector) Reports() []*provision.DeviceReport {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]*provision.DeviceReport(nil), c.reports...)
}

// Len returns the number of reports.
func (c *Collector) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.reports)
}

// Counts returns how many devices finished Done and Failed.
func (c *Collector) Counts() (done, failed int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, r := range c.reports {
		if r.Done() {
			done++
		} else {
			failed++
		}
	}
	return done, failed
}
