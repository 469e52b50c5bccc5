package dedup

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/edukz/vagas-collector/internal/jobrecord"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeCache struct {
	m map[[16]byte]*jobrecord.JobRecord
}

func newFakeCache() *fakeCache { return &fakeCache{m: map[[16]byte]*jobrecord.JobRecord{}} }

func (c *fakeCache) Get(fp [16]byte) (*jobrecord.JobRecord, bool) {
	r, ok := c.m[fp]
	return r, ok
}

func (c *fakeCache) Put(r *jobrecord.JobRecord) error {
	c.m[r.Fingerprint] = r
	return nil
}

func rec(title, company, salary, loc, url string) *jobrecord.JobRecord {
	r := &jobrecord.JobRecord{
		Title: title, Company: company, SalaryText: salary, Location: loc,
		URL: url, Modality: jobrecord.Remote, CollectedAt: time.Now().UTC(),
	}
	return r.WithFingerprint()
}

func TestDedupPartitionDisjointAndCoversBatch(t *testing.T) {
	cache := newFakeCache()
	d := New(cache, true, false, testLogger())

	batch := []*jobrecord.JobRecord{
		rec("Go Dev", "Acme", "", "", "https://x/1"),
		rec("Py Dev", "Acme", "", "", "https://x/2"),
		rec("Go Dev", "Acme", "", "", "https://x/1"), // same-batch dup
	}
	res := d.Process(batch)

	if len(res.New)+len(res.Updated)+len(res.Duplicate) != 2 {
		t.Fatalf("expected 2 records after same-batch collapse, got %d", len(res.New)+len(res.Updated)+len(res.Duplicate))
	}
	if len(res.New) != 2 {
		t.Fatalf("expected both records New on first run, got %d", len(res.New))
	}
}

func TestDedupRun2MarksOnlyNewJobNew(t *testing.T) {
	cache := newFakeCache()
	d := New(cache, true, false, testLogger())

	page1 := []*jobrecord.JobRecord{
		rec("Go Dev", "Acme", "", "", "https://x/go"),
		rec("Py Dev", "Acme", "", "", "https://x/py"),
		rec("JS Dev", "Acme", "", "", "https://x/js"),
	}
	d.Process(page1)

	run2 := []*jobrecord.JobRecord{
		rec("Go Dev", "Acme", "", "", "https://x/go"),
		rec("Py Dev", "Acme", "", "", "https://x/py"),
		rec("JS Dev", "Acme", "", "", "https://x/js"),
		rec("Rust Dev", "Acme", "", "", "https://x/rust"),
	}
	res := d.Process(run2)

	if len(res.New) != 1 {
		t.Fatalf("expected 1 new record, got %d", len(res.New))
	}
	if len(res.Duplicate) != 3 {
		t.Fatalf("expected 3 duplicates, got %d", len(res.Duplicate))
	}
}

func TestDedupMaterialFieldChangeMarksUpdated(t *testing.T) {
	cache := newFakeCache()
	d := New(cache, true, false, testLogger())

	r1 := rec("Senior Go", "Acme", "8k", "", "https://x/go")
	d.Process([]*jobrecord.JobRecord{r1})

	r2 := rec("Senior Go", "Acme", "10k", "", "https://x/go")
	res := d.Process([]*jobrecord.JobRecord{r2})

	if len(res.Updated) != 1 {
		t.Fatalf("expected 1 updated record (salary changed), got %d", len(res.Updated))
	}
	stored, _ := cache.Get(r2.Fingerprint)
	if stored.SalaryText != "10k" {
		t.Fatalf("expected cache to hold new salary, got %q", stored.SalaryText)
	}
}

func TestDedupDisabledMarksEverythingNew(t *testing.T) {
	cache := newFakeCache()
	d := New(cache, false, false, testLogger())

	r1 := rec("Go Dev", "Acme", "", "", "https://x/go")
	d.Process([]*jobrecord.JobRecord{r1})
	res := d.Process([]*jobrecord.JobRecord{r1})

	if len(res.New) != 1 || len(res.Duplicate) != 0 {
		t.Fatalf("expected dedup-disabled batch to be all New, got new=%d dup=%d", len(res.New), len(res.Duplicate))
	}
}

type fakeMirror struct {
	mirrored []*jobrecord.JobRecord
}

func (m *fakeMirror) Mirror(r *jobrecord.JobRecord) error {
	m.mirrored = append(m.mirrored, r)
	return nil
}

func TestDedupMirrorsEveryNewAndUpdatedRecord(t *testing.T) {
	cache := newFakeCache()
	mirror := &fakeMirror{}
	d := New(cache, true, false, testLogger()).WithMirror(mirror)

	r1 := rec("Senior Go", "Acme", "8k", "", "https://x/go")
	d.Process([]*jobrecord.JobRecord{r1})

	r2 := rec("Senior Go", "Acme", "10k", "", "https://x/go")
	d.Process([]*jobrecord.JobRecord{r2})

	if len(mirror.mirrored) != 2 {
		t.Fatalf("expected both the new and updated record to be mirrored, got %d", len(mirror.mirrored))
	}
}

func TestDedupNoMirrorConfiguredDoesNotPanic(t *testing.T) {
	cache := newFakeCache()
	d := New(cache, true, false, testLogger())

	r1 := rec("Go Dev", "Acme", "", "", "https://x/go")
	if res := d.Process([]*jobrecord.JobRecord{r1}); len(res.New) != 1 {
		t.Fatalf("expected 1 new record, got %d", len(res.New))
	}
}
