package cache

import (
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/edukz/vagas-collector/internal/jobrecord"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func rec(title, company, url string, techs ...string) *jobrecord.JobRecord {
	techSet := make(map[string]struct{}, len(techs))
	for _, t := range techs {
		techSet[t] = struct{}{}
	}
	r := &jobrecord.JobRecord{
		Title: title, Company: company, URL: url,
		Location:     "Sao Paulo, SP",
		Technologies: techSet,
		CollectedAt:  time.Now().UTC(),
	}
	return r.WithFingerprint()
}

func TestPutThenGetRoundTrips(t *testing.T) {
	c, err := Open(t.TempDir(), 6, 0, testLogger())
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer c.Close()

	r := rec("Go Developer", "Acme", "https://x/go", "golang", "docker")
	if err := c.Put(r); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	got, ok := c.Get(r.Fingerprint)
	if !ok {
		t.Fatal("expected entry to be found")
	}
	if got.Title != "Go Developer" {
		t.Fatalf("expected title round-trip, got %q", got.Title)
	}
}

func TestIndexesNeverDangle(t *testing.T) {
	c, err := Open(t.TempDir(), 6, 0, testLogger())
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer c.Close()

	r := rec("Go Developer", "Acme", "https://x/go", "golang")
	if err := c.Put(r); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	results := c.Search(SearchQuery{Companies: []string{"Acme"}})
	if len(results) != 1 {
		t.Fatalf("expected 1 result for company search, got %d", len(results))
	}
	for _, entry := range results {
		if _, ok := c.primary[entry.Fingerprint]; !ok {
			t.Fatal("index referenced a fingerprint absent from the primary map")
		}
	}
}

func TestSearchIntersectsDimensions(t *testing.T) {
	c, err := Open(t.TempDir(), 6, 0, testLogger())
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer c.Close()

	_ = c.Put(rec("Go Developer", "Acme", "https://x/1", "golang"))
	_ = c.Put(rec("Python Developer", "Acme", "https://x/2", "python"))
	_ = c.Put(rec("Go Developer", "Globex", "https://x/3", "golang"))

	results := c.Search(SearchQuery{Companies: []string{"acme"}, Technologies: []string{"golang"}})
	if len(results) != 1 {
		t.Fatalf("expected 1 result at the intersection, got %d", len(results))
	}
	if results[0].Record.Company != "Acme" {
		t.Fatalf("expected Acme, got %q", results[0].Record.Company)
	}
}

func TestTopCompaniesOrdersByFrequency(t *testing.T) {
	c, err := Open(t.TempDir(), 6, 0, testLogger())
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer c.Close()

	_ = c.Put(rec("A", "Acme", "https://x/1"))
	_ = c.Put(rec("B", "Acme", "https://x/2"))
	_ = c.Put(rec("C", "Globex", "https://x/3"))

	top := c.TopCompanies(10)
	if len(top) == 0 || top[0].Name != "acme" {
		t.Fatalf("expected acme to lead top companies, got %+v", top)
	}
}

func TestEvictRemovesFromPrimaryAndIndexes(t *testing.T) {
	c, err := Open(t.TempDir(), 6, 0, testLogger())
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer c.Close()

	r := rec("Go Developer", "Acme", "https://x/go", "golang")
	r.CollectedAt = time.Now().UTC().Add(-2 * time.Hour)
	_ = c.Put(r)

	evicted := c.Evict(EvictPolicy{OlderThan: time.Hour})
	if evicted != 1 {
		t.Fatalf("expected 1 evicted entry, got %d", evicted)
	}
	if _, ok := c.Get(r.Fingerprint); ok {
		t.Fatal("expected evicted fingerprint to be gone")
	}
	if len(c.Search(SearchQuery{Companies: []string{"Acme"}})) != 0 {
		t.Fatal("expected no dangling index entries after eviction")
	}
}

func TestReopenRebuildsFromPrimaryOnIndexMismatch(t *testing.T) {
	dir := t.TempDir()
	c1, err := Open(dir, 6, 0, testLogger())
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	r := rec("Go Developer", "Acme", "https://x/go", "golang")
	_ = c1.Put(r)
	_ = c1.blobFile.Close() // simulate a crash before clean Close()

	// Corrupt the index so its checksum no longer matches the primary blob,
	// forcing a rebuild scan on reopen.
	if err := os.WriteFile(indexPath(dir), []byte(`{"primaryChecksum":"stale"}`), 0o644); err != nil {
		t.Fatalf("corrupt index setup failed: %v", err)
	}

	c2, err := Open(dir, 6, 0, testLogger())
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer c2.Close()

	got, ok := c2.Get(r.Fingerprint)
	if !ok {
		t.Fatal("expected record to survive reopen via rebuild")
	}
	if got.Company != "Acme" {
		t.Fatalf("expected Acme, got %q", got.Company)
	}
}
