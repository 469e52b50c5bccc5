// Package observability exposes operational counters for a collection
// session as Prometheus text, each counter registered against the pipeline
// stage that owns it (C2, C4, C5, C6, C8, C9) rather than listed in a fixed
// exposition table, so a stage's counters stay
// next to the stage that owns them instead of being re-listed by hand at
// scrape time.
package observability

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
)

// stageGauge is one counter registered against the stage that owns it.
type stageGauge struct {
	stage string // C1-C10 label, e.g. "c4_fetcher"
	name  string
	help  string
	value func() int64
}

// Metrics tracks operational counters for one or more collection sessions.
// Every field below is registered against its owning stage in NewMetrics;
// ServeHTTP walks the registry rather than listing fields again.
type Metrics struct {
	// Fetcher (C4)
	FetchesTotal    atomic.Int64
	FetchesFailed   atomic.Int64
	FetchesRetried  atomic.Int64
	PagesNavigated  atomic.Int64
	EndOfPagination atomic.Int64
	AntiBotHits     atomic.Int64

	// Extractor (C5)
	RecordsExtracted atomic.Int64
	ExtractionEmpty  atomic.Int64

	// Deduplicator (C6)
	DedupNew       atomic.Int64
	DedupUpdated   atomic.Int64
	DedupDuplicate atomic.Int64

	// Compressed Cache (C8)
	CacheEntries atomic.Int64
	CacheEvicted atomic.Int64

	// Browser Pool (C2)
	PoolLeases    atomic.Int64
	PoolExhausted atomic.Int64
	PoolRecycled  atomic.Int64

	// Session Orchestrator (C9)
	ActiveWorkers atomic.Int32

	gauges []stageGauge
	logger *slog.Logger
}

// NewMetrics creates a Metrics instance with every counter registered
// against its owning stage.
func NewMetrics(logger *slog.Logger) *Metrics {
	m := &Metrics{logger: logger.With("component", "metrics")}
	m.register("c4_fetcher", "fetches_total", "Total page fetches attempted", m.FetchesTotal.Load)
	m.register("c4_fetcher", "fetches_failed_total", "Total fetches that exhausted retries", m.FetchesFailed.Load)
	m.register("c4_fetcher", "fetches_retried_total", "Total fetch retry attempts", m.FetchesRetried.Load)
	m.register("c4_fetcher", "pages_navigated_total", "Total successful page navigations", m.PagesNavigated.Load)
	m.register("c4_fetcher", "end_of_pagination_total", "Total end-of-pagination signals observed", m.EndOfPagination.Load)
	m.register("c4_fetcher", "antibot_hits_total", "Total anti-bot/challenge detections", m.AntiBotHits.Load)
	m.register("c5_extractor", "records_extracted_total", "Total JobRecords extracted", m.RecordsExtracted.Load)
	m.register("c5_extractor", "extraction_empty_total", "Total pages extracted to zero records", m.ExtractionEmpty.Load)
	m.register("c6_deduplicator", "dedup_new_total", "Total records classified New", m.DedupNew.Load)
	m.register("c6_deduplicator", "dedup_updated_total", "Total records classified Updated", m.DedupUpdated.Load)
	m.register("c6_deduplicator", "dedup_duplicate_total", "Total records classified Duplicate", m.DedupDuplicate.Load)
	m.register("c8_cache", "cache_entries", "Current live entries in the cache", m.CacheEntries.Load)
	m.register("c8_cache", "cache_evicted_total", "Total cache entries evicted", m.CacheEvicted.Load)
	m.register("c2_browser_pool", "pool_leases_total", "Total browser page leases", m.PoolLeases.Load)
	m.register("c2_browser_pool", "pool_exhausted_total", "Total leases that failed with Exhausted", m.PoolExhausted.Load)
	m.register("c2_browser_pool", "pool_recycled_total", "Total browser pages recycled as Poisoned", m.PoolRecycled.Load)
	m.register("c9_orchestrator", "active_workers", "Currently active per-URL workers", func() int64 { return int64(m.ActiveWorkers.Load()) })
	return m
}

// register attaches one gauge to stage's entry in the registry.
func (m *Metrics) register(stage, name, help string, value func() int64) {
	m.gauges = append(m.gauges, stageGauge{stage: stage, name: name, help: help, value: value})
}

// ServeHTTP serves metrics in Prometheus text exposition format, walking
// the stage registry rather than a hand-maintained table.
func (m *Metrics) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	for _, g := range m.gauges {
		fullName := "vagas_collector_" + g.name
		fmt.Fprintf(w, "# HELP %s %s\n", fullName, g.help)
		fmt.Fprintf(w, "# TYPE %s counter\n", fullName)
		fmt.Fprintf(w, "%s{stage=%q} %d\n", fullName, g.stage, g.value())
	}
}

// StartServer starts the metrics HTTP server in the background.
func (m *Metrics) StartServer(port int, path string) error {
	mux := http.NewServeMux()
	mux.Handle(path, m)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})

	addr := fmt.Sprintf(":%d", port)
	m.logger.Info("metrics server starting", "addr", addr, "path", path)

	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			m.logger.Error("metrics server error", "error", err)
		}
	}()

	return nil
}

// Snapshot returns a hand-listed subset of the counters as a map; it does
// not walk the registry.
func (m *Metrics) Snapshot() map[string]int64 {
	return map[string]int64{
		"fetches_total":     m.FetchesTotal.Load(),
		"fetches_failed":    m.FetchesFailed.Load(),
		"fetches_retried":   m.FetchesRetried.Load(),
		"pages_navigated":   m.PagesNavigated.Load(),
		"records_extracted": m.RecordsExtracted.Load(),
		"dedup_new":         m.DedupNew.Load(),
		"dedup_updated":     m.DedupUpdated.Load(),
		"dedup_duplicate":   m.DedupDuplicate.Load(),
		"cache_entries":     m.CacheEntries.Load(),
		"pool_leases":       m.PoolLeases.Load(),
		"pool_exhausted":    m.PoolExhausted.Load(),
		"active_workers":    int64(m.ActiveWorkers.Load()),
	}
}
