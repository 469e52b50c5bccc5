package jobrecord

import (
	"path/filepath"
	"testing"
	"time"
)

func TestLoadCatalogMissingFileReturnsEmpty(t *testing.T) {
	catalog, err := LoadCatalog(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(catalog) != 0 {
		t.Fatalf("expected empty catalog, got %d entries", len(catalog))
	}
}

func TestSaveThenLoadCatalogRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	original := []*CatalogURL{
		{URL: "https://x/remote", Category: CategoryRemote, Enabled: true, PerformanceScore: 0.75, LastRunAt: now},
	}
	original[0].HourlyStats[14] = BucketStats{Runs: 3, NewJobs: 9}

	if err := SaveCatalog(path, original); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	loaded, err := LoadCatalog(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(loaded))
	}
	got := loaded[0]
	if got.URL != original[0].URL || got.Category != original[0].Category || got.Enabled != original[0].Enabled {
		t.Fatalf("core fields did not round-trip: %+v", got)
	}
	if got.PerformanceScore != 0.75 {
		t.Fatalf("expected score 0.75, got %f", got.PerformanceScore)
	}
	if !got.LastRunAt.Equal(now) {
		t.Fatalf("expected LastRunAt %v, got %v", now, got.LastRunAt)
	}
	if got.HourlyStats[14].Runs != 3 || got.HourlyStats[14].NewJobs != 9 {
		t.Fatalf("expected hourly bucket 14 to round-trip, got %+v", got.HourlyStats[14])
	}
}

func TestSaveCatalogDoesNotLeaveTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.json")
	if err := SaveCatalog(path, []*CatalogURL{{URL: "https://x/a", Category: CategoryGeneral, Enabled: true}}); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	entries, err := filepath.Glob(filepath.Join(dir, "catalog-*.tmp"))
	if err != nil {
		t.Fatalf("glob failed: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no leftover temp files, found %v", entries)
	}
}
