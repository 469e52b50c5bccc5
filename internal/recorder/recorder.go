// Package recorder implements C10: per-URL and per-hour outcome recording
// that feeds the Scheduler's ml policy. Grounded on the teacher's
// Metrics/Snapshot accounting (internal/observability/metrics.go) — same
// "accumulate in memory, expose a read snapshot" shape, generalized from
// process-wide counters into a per-CatalogURL scored history, using
// montanaflynn/stats for the percentile/mean arithmetic behind the speed
// term of the scoring function.
package recorder

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/montanaflynn/stats"

	"github.com/edukz/vagas-collector/internal/jobrecord"
)

// Observation is one URL's outcome from a single run, the unit Record
// consumes.
type Observation struct {
	URL           string
	Timestamp     time.Time
	NewJobs       int
	TotalJobs     int
	Errors        int
	DurationMs    int64
	URLsProcessed int
}

// ScoreWeights are the §4.3/§4.10 scoring weights.
type ScoreWeights struct {
	NewJobs         float64
	UniquenessRatio float64
	Speed           float64
	ErrorFreedom    float64
}

// DefaultWeights matches the spec's scoring function:
// 0.4*normNewJobs + 0.3*uniquenessRatio + 0.2*normSpeed + 0.1*(1-errorRate).
var DefaultWeights = ScoreWeights{NewJobs: 0.4, UniquenessRatio: 0.3, Speed: 0.2, ErrorFreedom: 0.1}

type urlHistory struct {
	observations []Observation
	durationsMs  []float64
	score        float64
}

// Recorder accumulates per-URL history in memory for one session; it has no
// persistence of its own. One instance is scoped to a single session per
// the concurrency contract (§5).
type Recorder struct {
	mu      sync.Mutex
	history map[string]*urlHistory
	weights ScoreWeights
	logger  *slog.Logger
}

// New creates a Recorder with the default scoring weights.
func New(logger *slog.Logger) *Recorder {
	return &Recorder{
		history: make(map[string]*urlHistory),
		weights: DefaultWeights,
		logger:  logger.With("component", "recorder"),
	}
}

// Record logs one URL's outcome and returns its freshly recomputed
// PerformanceScore.
func (r *Recorder) Record(obs Observation) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.history[obs.URL]
	if !ok {
		h = &urlHistory{}
		r.history[obs.URL] = h
	}
	h.observations = append(h.observations, obs)
	h.durationsMs = append(h.durationsMs, float64(obs.DurationMs))
	h.score = r.score(h)
	return h.score
}

// score computes the §4.3/§4.10 formula for a URL's accumulated history.
func (r *Recorder) score(h *urlHistory) float64 {
	if len(h.observations) == 0 {
		return 0
	}

	var totalNew, totalJobs, totalErrors, totalURLs int
	for _, o := range h.observations {
		totalNew += o.NewJobs
		totalJobs += o.TotalJobs
		totalErrors += o.Errors
		totalURLs += o.URLsProcessed
	}

	normNewJobs := normalize(float64(totalNew), 0, 50)

	uniquenessRatio := 0.0
	if totalJobs > 0 {
		uniquenessRatio = float64(totalNew) / float64(totalJobs)
	}

	meanDuration, err := stats.Mean(h.durationsMs)
	if err != nil || meanDuration <= 0 {
		meanDuration = 1
	}
	// Faster runs score higher: invert and normalize against a 30s ceiling.
	normSpeed := normalize(30000/meanDuration, 0, 10)

	errorRate := 0.0
	if totalURLs > 0 {
		errorRate = float64(totalErrors) / float64(totalURLs)
	}

	return r.weights.NewJobs*normNewJobs +
		r.weights.UniquenessRatio*uniquenessRatio +
		r.weights.Speed*normSpeed +
		r.weights.ErrorFreedom*(1-errorRate)
}

func normalize(v, lo, hi float64) float64 {
	if hi <= lo {
		return 0
	}
	n := (v - lo) / (hi - lo)
	return math.Max(0, math.Min(1, n))
}

// SampleCount reports how many observations a URL has accumulated, used by
// the Scheduler's ml policy to enforce its minimum-samples gate.
func (r *Recorder) SampleCount(url string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.history[url]
	if !ok {
		return 0
	}
	return len(h.observations)
}

// Score returns a URL's most recently computed PerformanceScore, or 0 if
// it has no history yet.
func (r *Recorder) Score(url string) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.history[url]; ok {
		return h.score
	}
	return 0
}

// ApplyBuckets bumps catalog's hourly/weekday buckets for the given
// observation timestamp, using UTC to keep bucket assignment deterministic
// across machines.
func ApplyBuckets(catalog *jobrecord.CatalogURL, obs Observation) {
	hour := obs.Timestamp.UTC().Hour()
	weekday := int(obs.Timestamp.UTC().Weekday())
	catalog.HourlyStats[hour].Runs++
	catalog.HourlyStats[hour].NewJobs += obs.NewJobs
	catalog.DailyStats[weekday].Runs++
	catalog.DailyStats[weekday].NewJobs += obs.NewJobs
	catalog.LastRunAt = obs.Timestamp
}

// ReportEntry summarizes one URL's accumulated performance for Report().
type ReportEntry struct {
	URL              string
	Samples          int
	PerformanceScore float64
	MeanDurationMs   float64
	P95DurationMs    float64
}

// Report returns a summary across all recorded URLs. Entries are not
// sorted; their order is unspecified.
func (r *Recorder) Report() []ReportEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]ReportEntry, 0, len(r.history))
	for url, h := range r.history {
		mean, _ := stats.Mean(h.durationsMs)
		p95, _ := stats.Percentile(h.durationsMs, 95)
		out = append(out, ReportEntry{
			URL:              url,
			Samples:          len(h.observations),
			PerformanceScore: h.score,
			MeanDurationMs:   mean,
			P95DurationMs:    p95,
		})
	}
	return out
}
