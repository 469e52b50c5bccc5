package checkpoint

import (
	"io"
	"log/slog"
	"os"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLoadMissingReturnsFresh(t *testing.T) {
	dir := t.TempDir()
	m := New(dir, testLogger())

	state, err := m.Load("https://x.example/remoto/")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(state.FingerprintsSeen) != 0 {
		t.Fatalf("expected empty fingerprint set, got %d", len(state.FingerprintsSeen))
	}
}

func TestCommitThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	m := New(dir, testLogger())
	url := "https://x.example/remoto/"

	var fp [16]byte
	fp[0] = 0xAB
	state := &State{
		FingerprintsSeen: [][16]byte{fp},
		LastRunAt:        time.Now().UTC().Truncate(time.Second),
		LastOutcome:      Outcome{New: 3, Updated: 1, Duplicate: 2},
		PerformanceScore: 0.72,
	}
	if err := m.Commit(url, state); err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	loaded, err := m.Load(url)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if !loaded.Has(fp) {
		t.Fatal("expected round-tripped fingerprint to be present")
	}
	if loaded.LastOutcome != state.LastOutcome {
		t.Fatalf("expected outcome %+v, got %+v", state.LastOutcome, loaded.LastOutcome)
	}
	if loaded.PerformanceScore != 0.72 {
		t.Fatalf("expected performance score 0.72, got %v", loaded.PerformanceScore)
	}
}

func TestCommitDoesNotLeaveTempFiles(t *testing.T) {
	dir := t.TempDir()
	m := New(dir, testLogger())
	if err := m.Commit("https://x.example/a", &State{}); err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir failed: %v", err)
	}
	for _, e := range entries {
		if len(e.Name()) >= 4 && e.Name()[len(e.Name())-4:] == ".tmp" {
			t.Fatalf("found leftover temp file %q", e.Name())
		}
	}
}

func TestCorruptCheckpointTreatedAsFresh(t *testing.T) {
	dir := t.TempDir()
	m := New(dir, testLogger())
	url := "https://x.example/corrupt"

	if err := os.WriteFile(m.pathFor(url), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	state, err := m.Load(url)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(state.FingerprintsSeen) != 0 {
		t.Fatalf("expected fresh state for corrupt checkpoint, got %d fingerprints", len(state.FingerprintsSeen))
	}
}

func TestDifferentURLsGetDistinctFiles(t *testing.T) {
	dir := t.TempDir()
	m := New(dir, testLogger())

	p1 := m.pathFor("https://x.example/a")
	p2 := m.pathFor("https://x.example/b")
	if p1 == p2 {
		t.Fatal("expected distinct checkpoint paths for distinct URLs")
	}
}
