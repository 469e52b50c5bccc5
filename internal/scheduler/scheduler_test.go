package scheduler

import (
	"io"
	"log/slog"
	"testing"

	"github.com/edukz/vagas-collector/internal/jobrecord"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleCatalog() []*jobrecord.CatalogURL {
	return []*jobrecord.CatalogURL{
		{URL: "https://x/remote-1", Category: jobrecord.CategoryRemote, Enabled: true},
		{URL: "https://x/remote-2", Category: jobrecord.CategoryRemote, Enabled: true},
		{URL: "https://x/onsite-1", Category: jobrecord.CategoryOnSite, Enabled: true},
		{URL: "https://x/hybrid-1", Category: jobrecord.CategoryHybrid, Enabled: true},
		{URL: "https://x/geo-1", Category: jobrecord.CategoryGeographic, Enabled: true},
		{URL: "https://x/general-1", Category: jobrecord.CategoryGeneral, Enabled: true},
		{URL: "https://x/disabled", Category: jobrecord.CategoryGeneral, Enabled: false},
	}
}

func TestSelectNeverReturnsDuplicates(t *testing.T) {
	s := New(sampleCatalog(), nil, testLogger())
	sel := s.Select(Balanced, 6, nil, 5, 12, 42)

	seen := make(map[string]bool)
	for _, u := range sel.URLs {
		if seen[u] {
			t.Fatalf("duplicate URL in selection: %s", u)
		}
		seen[u] = true
	}
}

func TestSelectExcludesDisabledCatalogEntries(t *testing.T) {
	s := New(sampleCatalog(), nil, testLogger())
	sel := s.Select(Complete, 10, nil, 5, 12, 1)

	for _, u := range sel.URLs {
		if u == "https://x/disabled" {
			t.Fatal("expected disabled catalog entry to never be selected")
		}
	}
}

func TestSelectCustomReturnsExactActiveURLs(t *testing.T) {
	s := New(sampleCatalog(), nil, testLogger())
	active := []string{"https://x/remote-1", "https://x/onsite-1"}
	sel := s.Select(Custom, 2, active, 5, 12, 7)

	if len(sel.URLs) != 2 {
		t.Fatalf("expected exactly the 2 pinned URLs, got %d", len(sel.URLs))
	}
	for i, u := range active {
		if sel.URLs[i] != u {
			t.Fatalf("expected custom order preserved, got %v", sel.URLs)
		}
	}
}

func TestSelectGeographicRestrictsToCategory(t *testing.T) {
	s := New(sampleCatalog(), nil, testLogger())
	sel := s.Select(Geographic, 10, nil, 5, 12, 3)

	if len(sel.URLs) != 1 || sel.URLs[0] != "https://x/geo-1" {
		t.Fatalf("expected only the single geographic URL, got %v", sel.URLs)
	}
}

type fakeRecorder struct {
	samples map[string]int
	scores  map[string]float64
}

func (f *fakeRecorder) SampleCount(url string) int { return f.samples[url] }
func (f *fakeRecorder) Score(url string) float64    { return f.scores[url] }

func TestSelectMLGatesOnMinimumSamples(t *testing.T) {
	catalog := []*jobrecord.CatalogURL{
		{URL: "https://x/proven", Category: jobrecord.CategoryGeneral, Enabled: true},
		{URL: "https://x/untested", Category: jobrecord.CategoryGeneral, Enabled: true},
	}
	rec := &fakeRecorder{
		samples: map[string]int{"https://x/proven": 10, "https://x/untested": 1},
		scores:  map[string]float64{"https://x/proven": 0.9, "https://x/untested": 0.1},
	}
	s := New(catalog, rec, testLogger())
	sel := s.Select(ML, 1, nil, 5, 12, 9)

	if len(sel.URLs) != 1 || sel.URLs[0] != "https://x/proven" {
		t.Fatalf("expected the url with enough samples to rank first, got %v", sel.URLs)
	}
}

func TestSelectMLGatesOnPersistedCatalogSamplesWithoutRecorder(t *testing.T) {
	proven := &jobrecord.CatalogURL{URL: "https://x/proven", Category: jobrecord.CategoryGeneral, Enabled: true, PerformanceScore: 0.9}
	proven.HourlyStats[9] = jobrecord.BucketStats{Runs: 6, NewJobs: 20}
	proven.HourlyStats[14] = jobrecord.BucketStats{Runs: 4, NewJobs: 10}
	untested := &jobrecord.CatalogURL{URL: "https://x/untested", Category: jobrecord.CategoryGeneral, Enabled: true, PerformanceScore: 0.1}

	// No recorder at all — a fresh process's scheduler, as every real CLI
	// invocation constructs it, relying purely on the catalog's own
	// persisted hourly run buckets to clear minMLSamples.
	s := New([]*jobrecord.CatalogURL{proven, untested}, nil, testLogger())
	sel := s.Select(ML, 1, nil, 5, 12, 9)

	if len(sel.URLs) != 1 || sel.URLs[0] != "https://x/proven" {
		t.Fatalf("expected the url with enough persisted catalog samples to rank first, got %v", sel.URLs)
	}
}

func TestSelectionRecordsSeedUsed(t *testing.T) {
	s := New(sampleCatalog(), nil, testLogger())
	sel := s.Select(Balanced, 3, nil, 5, 12, 99)
	if sel.Seed != 99 {
		t.Fatalf("expected seed 99 to be echoed back, got %d", sel.Seed)
	}
}
