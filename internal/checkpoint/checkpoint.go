// Package checkpoint implements C7: one persisted cursor per SourceQuery
// URL, committed atomically via write-then-rename. Grounded on the
// teacher's CheckpointManager (internal/engine/checkpoint.go) — same
// temp-file-then-os.Rename discipline, generalized from one global
// checkpoint file to one file per tracked URL.
package checkpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/edukz/vagas-collector/internal/errs"
)

// Outcome summarizes one run's dedup result for a URL.
type Outcome struct {
	New       int `json:"new"`
	Updated   int `json:"updated"`
	Duplicate int `json:"duplicate"`
}

// State is the persisted per-URL cursor.
type State struct {
	FingerprintsSeen [][16]byte `json:"-"`
	LastRunAt        time.Time  `json:"lastRunAt"`
	LastOutcome      Outcome    `json:"lastOutcome"`
	PerformanceScore float64    `json:"performanceScore"`
}

// wireState is State's JSON-serializable shape (fixed-size byte arrays
// don't round-trip through encoding/json cleanly, so fingerprints are
// hex-encoded on the wire).
type wireState struct {
	FingerprintsSeen []string  `json:"fingerprintsSeen"`
	LastRunAt        time.Time `json:"lastRunAt"`
	Stats            Outcome   `json:"stats"`
	PerformanceScore float64   `json:"performanceScore"`
}

// Fresh returns an empty State, used on first sighting of a URL and
// whenever a stored checkpoint is unreadable.
func Fresh() *State {
	return &State{FingerprintsSeen: nil}
}

// Has reports whether fp was seen in a prior run.
func (s *State) Has(fp [16]byte) bool {
	for _, seen := range s.FingerprintsSeen {
		if seen == fp {
			return true
		}
	}
	return false
}

// Manager loads and commits per-URL checkpoint state.
type Manager struct {
	dir    string
	logger *slog.Logger
}

// New creates a Manager rooted at dir (created if absent).
func New(dir string, logger *slog.Logger) *Manager {
	_ = os.MkdirAll(dir, 0o755)
	return &Manager{dir: dir, logger: logger.With("component", "checkpoint")}
}

func (m *Manager) pathFor(url string) string {
	h := sha256.Sum256([]byte(url))
	return filepath.Join(m.dir, hex.EncodeToString(h[:])+".json")
}

// Load returns the prior state for url, or a fresh empty one if no
// checkpoint exists. A checkpoint that fails to parse is treated as an
// empty checkpoint and logged — CheckpointCorruption is non-fatal; the run
// proceeds.
func (m *Manager) Load(url string) (*State, error) {
	path := m.pathFor(url)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Fresh(), nil
		}
		return Fresh(), &errs.CheckpointError{URL: url, Cause: err}
	}

	var w wireState
	if err := json.Unmarshal(data, &w); err != nil {
		m.logger.Warn("checkpoint unreadable, treating as empty", "url", url, "error", err)
		return Fresh(), nil
	}

	fps := make([][16]byte, 0, len(w.FingerprintsSeen))
	for _, hexFp := range w.FingerprintsSeen {
		b, err := hex.DecodeString(hexFp)
		if err != nil || len(b) != 16 {
			continue
		}
		var fp [16]byte
		copy(fp[:], b)
		fps = append(fps, fp)
	}

	return &State{
		FingerprintsSeen: fps,
		LastRunAt:        w.LastRunAt,
		LastOutcome:      w.Stats,
		PerformanceScore: w.PerformanceScore,
	}, nil
}

// Commit atomically replaces the stored state for url via a write to a
// temp file in the same directory followed by os.Rename, so a concurrent
// reader observes either the pre- or post-state, never a partial write.
func (m *Manager) Commit(url string, state *State) error {
	w := wireState{
		FingerprintsSeen: make([]string, len(state.FingerprintsSeen)),
		LastRunAt:        state.LastRunAt,
		Stats:            state.LastOutcome,
		PerformanceScore: state.PerformanceScore,
	}
	for i, fp := range state.FingerprintsSeen {
		w.FingerprintsSeen[i] = hex.EncodeToString(fp[:])
	}

	data, err := json.MarshalIndent(w, "", "  ")
	if err != nil {
		return &errs.CheckpointError{URL: url, Cause: err}
	}

	finalPath := m.pathFor(url)
	tmp, err := os.CreateTemp(m.dir, "checkpoint-*.tmp")
	if err != nil {
		return &errs.CheckpointError{URL: url, Cause: err}
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return &errs.CheckpointError{URL: url, Cause: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return &errs.CheckpointError{URL: url, Cause: err}
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return &errs.CheckpointError{URL: url, Cause: err}
	}
	return nil
}
