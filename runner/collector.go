package runner

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Collector accumulates extracted data for one job session and writes it to
// a JSON file under the output directory when the job finishes. It is safe
// for concurrent use by the worker pool.
type Collector struct {
	mu        sync.Mutex
	outputDir string
	testMode  bool
	// sku -> site -> extracted fields
	data map[string]map[string]map[string]any
}

// NewCollector creates a collector writing to outputDir. An empty outputDir
// keeps results in memory only.
func NewCollector(outputDir string, testMode bool) *Collector {
	return &Collector{
		outputDir: outputDir,
		testMode:  testMode,
		data:      make(map[string]map[string]map[string]any),
	}
}

// Add records the extracted fields for one item on one site.
func (c *Collector) Add(sku, site string, fields map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	bySite, ok := c.data[sku]
	if !ok {
		bySite = make(map[string]map[string]any)
		c.data[sku] = bySite
	}
	bySite[site] = fields
}

// Data returns a shallow copy of the collected sku -> site -> fields map.
func (c *Collector) Data() map[string]map[string]map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]map[string]map[string]any, len(c.data))
	for sku, bySite := range c.data {
		siteCopy := make(map[string]map[string]any, len(bySite))
		for site, fields := range bySite {
			siteCopy[site] = fields
		}
		out[sku] = siteCopy
	}
	return out
}

// Count returns how many (sku, site) results were collected.
func (c *Collector) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, bySite := range c.data {
		n += len(bySite)
	}
	return n
}

type sessionFile struct {
	JobID       string                               `json:"job_id"`
	TestMode    bool                                 `json:"test_mode"`
	GeneratedAt time.Time                            `json:"generated_at"`
	Results     map[string]map[string]map[string]any `json:"results"`
}

// Flush writes the session results to a timestamped JSON file and returns
// its path. With no output directory configured it is a no-op.
func (c *Collector) Flush(jobID string) (string, error) {
	if c.outputDir == "" {
		return "", nil
	}
	if err := os.MkdirAll(c.outputDir, 0o755); err != nil {
		return "", fmt.Errorf("collector: %w", err)
	}

	now := time.Now().UTC()
	payload := sessionFile{
		JobID:       jobID,
		TestMode:    c.testMode,
		GeneratedAt: now,
		Results:     c.Data(),
	}
	raw, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", fmt.Errorf("collector: %w", err)
	}

	path := filepath.Join(c.outputDir, fmt.Sprintf("session_%s_%s.json", now.Format("20060102_150405"), jobID))
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return "", fmt.Errorf("collector: %w", err)
	}
	return path, nil
}
