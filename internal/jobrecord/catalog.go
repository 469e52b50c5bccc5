package jobrecord

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// wireCatalogURL is the JSON wire shape for one catalog entry.
type wireCatalogURL struct {
	URL              string          `json:"url"`
	Category         CatalogCategory `json:"category"`
	Enabled          bool            `json:"enabled"`
	PerformanceScore float64         `json:"performanceScore"`
	LastRunAt        string          `json:"lastRunAt,omitempty"`
	HourlyStats      [24]BucketStats `json:"hourlyStats"`
	DailyStats       [7]BucketStats  `json:"dailyStats"`
}

// LoadCatalog reads the fixed set of query URLs the Scheduler selects from.
// A missing file is not an error — it returns an empty catalog so a fresh
// deployment can start from zero and grow the catalog file over time.
func LoadCatalog(path string) ([]*CatalogURL, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	var wire []wireCatalogURL
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	out := make([]*CatalogURL, 0, len(wire))
	for _, w := range wire {
		c := &CatalogURL{
			URL:              w.URL,
			Category:         w.Category,
			Enabled:          w.Enabled,
			PerformanceScore: w.PerformanceScore,
			HourlyStats:      w.HourlyStats,
			DailyStats:       w.DailyStats,
		}
		if w.LastRunAt != "" {
			if t, err := time.Parse(time.RFC3339, w.LastRunAt); err == nil {
				c.LastRunAt = t
			}
		}
		out = append(out, c)
	}
	return out, nil
}

// SaveCatalog persists updated catalog scores and bucket stats back to disk
// via write-then-rename, so a crash mid-write never corrupts the prior
// catalog (same discipline as the Checkpoint Manager).
func SaveCatalog(path string, catalog []*CatalogURL) error {
	wire := make([]wireCatalogURL, 0, len(catalog))
	for _, c := range catalog {
		w := wireCatalogURL{
			URL:              c.URL,
			Category:         c.Category,
			Enabled:          c.Enabled,
			PerformanceScore: c.PerformanceScore,
			HourlyStats:      c.HourlyStats,
			DailyStats:       c.DailyStats,
		}
		if !c.LastRunAt.IsZero() {
			w.LastRunAt = c.LastRunAt.Format(time.RFC3339)
		}
		wire = append(wire, w)
	}

	data, err := json.MarshalIndent(wire, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal catalog: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir catalog dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "catalog-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp catalog: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp catalog: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp catalog: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp catalog: %w", err)
	}
	return nil
}
