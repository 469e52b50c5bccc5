// Package collector implements C9: driving one collection run end-to-end
// per SPEC_FULL.md §4.9's seven steps. Grounded on the teacher's Engine
// orchestrator (internal/engine/engine.go) — same Start/drain/Stop
// lifecycle shape and "stream records through a pipeline, commit storage
// at stable points" discipline, generalized from a single BFS-style
// frontier into one bounded worker per selected catalog URL using
// sourcegraph/conc's pool for the concurrency bound instead of a custom
// goroutine+channel frontier.
package collector

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"
	"golang.org/x/sync/errgroup"

	"github.com/edukz/vagas-collector/internal/browserpool"
	"github.com/edukz/vagas-collector/internal/checkpoint"
	"github.com/edukz/vagas-collector/internal/config"
	"github.com/edukz/vagas-collector/internal/dedup"
	"github.com/edukz/vagas-collector/internal/extractor"
	"github.com/edukz/vagas-collector/internal/fetcher"
	"github.com/edukz/vagas-collector/internal/jobrecord"
	"github.com/edukz/vagas-collector/internal/observability"
	"github.com/edukz/vagas-collector/internal/ratelimit"
	"github.com/edukz/vagas-collector/internal/recorder"
	"github.com/edukz/vagas-collector/internal/scheduler"
)

// mirror is the subset of internal/storage.MongoMirror's contract the
// Orchestrator needs, kept narrow so tests can fake it without pulling in
// a mongo driver dependency.
type mirror interface {
	Mirror(r *jobrecord.JobRecord) error
}

// URLMetrics summarizes one URL's outcome within a session.
type URLMetrics struct {
	PagesFetched     int
	RecordsExtracted int
	New              int
	Updated          int
	Duplicate        int
	Errors           int
	DurationMs       int64
	Completed        bool
	Err              string
}

// SessionResult is the per-run output persisted separately from the cache
// (§3 DATA MODEL).
type SessionResult struct {
	New           []*jobrecord.JobRecord
	Updated       []*jobrecord.JobRecord
	PerURLMetrics map[string]URLMetrics
	Seed          int64
	StartedAt     time.Time
	FinishedAt    time.Time
	WallClockMs   int64
}

// Orchestrator drives Run. It owns the Browser Pool engine, the shared
// catalog, and the components handed to it at construction; it builds a
// fresh Rate Limiter, Browser Pool, Fetcher, and Deduplicator per Run so
// state from one session never leaks into the next.
type Orchestrator struct {
	engine      browserpool.Engine
	catalog     []*jobrecord.CatalogURL
	cache       dedup.Cache
	checkpoints *checkpoint.Manager
	recorder    *recorder.Recorder
	metrics     *observability.Metrics
	extractor   *extractor.Extractor
	mirror      mirror
	logger      *slog.Logger
}

// WithMirror attaches the optional Mongo mirror (C8's secondary sink); every
// Run call passes it through to that run's Deduplicator.
func (o *Orchestrator) WithMirror(m mirror) *Orchestrator {
	o.mirror = m
	return o
}

// New creates an Orchestrator. recorder may be nil if the session config
// never selects the ml diversity mode.
func New(
	engine browserpool.Engine,
	catalog []*jobrecord.CatalogURL,
	cache dedup.Cache,
	checkpoints *checkpoint.Manager,
	rec *recorder.Recorder,
	metrics *observability.Metrics,
	ex *extractor.Extractor,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		engine:      engine,
		catalog:     catalog,
		cache:       cache,
		checkpoints: checkpoints,
		recorder:    rec,
		metrics:     metrics,
		extractor:   ex,
		logger:      logger.With("component", "orchestrator"),
	}
}

// Run executes one collection session per §4.9.
func (o *Orchestrator) Run(ctx context.Context, cfg *config.Config) (*SessionResult, error) {
	startedAt := time.Now().UTC()

	var sched *scheduler.Scheduler
	if o.recorder != nil {
		sched = scheduler.New(o.catalog, o.recorder, o.logger)
	} else {
		sched = scheduler.New(o.catalog, nil, o.logger)
	}
	sel := sched.Select(
		scheduler.Policy(cfg.Session.DiversityMode),
		cfg.Session.URLsPerSession,
		cfg.Session.ActiveURLs,
		cfg.Session.MinMLSamples,
		startedAt.Hour(),
		0,
	)

	poolMax := max(cfg.Browser.MaxPages, min(len(sel.URLs), cfg.Session.MaxConcurrent))
	if poolMax < 1 {
		poolMax = 1
	}
	browserPool := browserpool.New(o.engine, cfg.Browser.MinPages, poolMax, cfg.Browser.IdleTTL, o.logger)
	defer browserPool.Close()

	limiter := ratelimit.New(cfg.Limiter.RequestsPerSecond, cfg.Limiter.BurstLimit, o.logger)
	f := fetcher.New(limiter, browserPool, o.extractor, cfg.Session.PageLoadTimeout, cfg.Session.ElementWaitTimeout, cfg.Session.LeaseDeadline, cfg.Session.RetryAttempts, cfg.Session.RetryDelay, o.logger)
	dd := dedup.New(o.cache, cfg.Session.EnableDeduplication, cfg.Session.EnableSimilarityDedup, o.logger)
	if o.mirror != nil {
		dd = dd.WithMirror(o.mirror)
	}

	result := &SessionResult{
		PerURLMetrics: make(map[string]URLMetrics, len(sel.URLs)),
		Seed:          sel.Seed,
		StartedAt:     startedAt,
	}
	var resultMu sync.Mutex

	concurrency := cfg.Session.MaxConcurrent
	if concurrency < 1 {
		concurrency = 1
	}

	// errgroup.WithContext gives the whole dispatch a single cancelable
	// context, derived from the caller's ctx, that the conc pool's bounded
	// per-URL workers all share — cancellation propagates uniformly even
	// though no worker currently returns an error of its own.
	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		workers := pool.New().WithMaxGoroutines(concurrency)
		for _, u := range sel.URLs {
			url := u
			workers.Go(func() {
				o.runURL(gctx, cfg, f, dd, url, result, &resultMu)
			})
		}
		workers.Wait()
		return nil
	})
	if err := group.Wait(); err != nil {
		return nil, err
	}

	sortByURL(result.New)
	sortByURL(result.Updated)

	result.FinishedAt = time.Now().UTC()
	result.WallClockMs = result.FinishedAt.Sub(startedAt).Milliseconds()
	return result, nil
}

// sortByURL groups records by SourceQuery while preserving intra-URL
// extraction order, approximating §4.9's "extraction order, ties broken by
// (URL, pageNo, element-index)" ordering guarantee — per-record pageNo and
// element-index aren't tracked separately, so records from the same URL
// keep whatever relative order Process emitted them in.
func sortByURL(records []*jobrecord.JobRecord) {
	sort.SliceStable(records, func(i, j int) bool { return records[i].SourceQuery < records[j].SourceQuery })
}

// runURL paginates one URL from 1 to MaxPages, stopping early on
// end-of-pagination or a fatal anti-bot signal, then commits the
// checkpoint and recorder observation only if at least one page
// succeeded (§5's cancellation contract).
func (o *Orchestrator) runURL(ctx context.Context, cfg *config.Config, f *fetcher.Fetcher, dd *dedup.Deduplicator, url string, result *SessionResult, resultMu *sync.Mutex) {
	started := time.Now()
	if o.metrics != nil {
		o.metrics.ActiveWorkers.Add(1)
		defer o.metrics.ActiveWorkers.Add(-1)
	}

	var allRecords []*jobrecord.JobRecord
	pagesFetched := 0
	var fetchErrCount int
	var lastErr error

	for page := 1; page <= cfg.Session.MaxPages; page++ {
		if ctx.Err() != nil {
			break
		}

		res, err := f.FetchPage(ctx, url, page, url)
		if err != nil {
			fetchErrCount++
			lastErr = err
			break
		}
		pagesFetched++
		if o.metrics != nil {
			o.metrics.PagesNavigated.Add(1)
		}

		allRecords = append(allRecords, res.Records...)
		if len(res.Records) == 0 && o.metrics != nil {
			o.metrics.ExtractionEmpty.Add(1)
		}

		if res.End != fetcher.NoEnd {
			if o.metrics != nil {
				o.metrics.EndOfPagination.Add(1)
				if res.End == fetcher.AntiBot {
					o.metrics.AntiBotHits.Add(1)
				}
			}
			break
		}
	}

	if pagesFetched == 0 {
		resultMu.Lock()
		m := URLMetrics{Errors: fetchErrCount, Completed: false, DurationMs: time.Since(started).Milliseconds()}
		if lastErr != nil {
			m.Err = lastErr.Error()
		}
		result.PerURLMetrics[url] = m
		resultMu.Unlock()
		return
	}

	ddResult := dd.Process(allRecords)
	if o.metrics != nil {
		o.metrics.RecordsExtracted.Add(int64(len(allRecords)))
		o.metrics.DedupNew.Add(int64(len(ddResult.New)))
		o.metrics.DedupUpdated.Add(int64(len(ddResult.Updated)))
		o.metrics.DedupDuplicate.Add(int64(len(ddResult.Duplicate)))
	}

	resultMu.Lock()
	result.New = append(result.New, ddResult.New...)
	result.Updated = append(result.Updated, ddResult.Updated...)
	result.PerURLMetrics[url] = URLMetrics{
		PagesFetched:     pagesFetched,
		RecordsExtracted: len(allRecords),
		New:              len(ddResult.New),
		Updated:          len(ddResult.Updated),
		Duplicate:        len(ddResult.Duplicate),
		Errors:           fetchErrCount,
		DurationMs:       time.Since(started).Milliseconds(),
		Completed:        true,
	}
	resultMu.Unlock()

	if ctx.Err() != nil {
		o.logger.Debug("session cancelled after partial pagination", "url", url, "pages", pagesFetched)
	}

	// §4.7/§6: force-full bypasses the persisted cursor outright, and
	// disabling incremental mode treats every URL as first-run — in both
	// cases the run still commits fresh state afterward.
	var state *checkpoint.State
	if cfg.Session.ForceFull || !cfg.Session.EnableIncremental {
		state = checkpoint.Fresh()
	} else {
		var err error
		state, err = o.checkpoints.Load(url)
		if err != nil {
			o.logger.Error("checkpoint load failed", "url", url, "error", err)
			state = checkpoint.Fresh()
		}
	}
	for _, r := range ddResult.New {
		if !state.Has(r.Fingerprint) {
			state.FingerprintsSeen = append(state.FingerprintsSeen, r.Fingerprint)
		}
	}
	for _, r := range ddResult.Updated {
		if !state.Has(r.Fingerprint) {
			state.FingerprintsSeen = append(state.FingerprintsSeen, r.Fingerprint)
		}
	}
	state.LastRunAt = time.Now().UTC()
	state.LastOutcome = checkpoint.Outcome{New: len(ddResult.New), Updated: len(ddResult.Updated), Duplicate: len(ddResult.Duplicate)}

	if o.recorder != nil {
		obs := recorder.Observation{
			URL:           url,
			Timestamp:     state.LastRunAt,
			NewJobs:       len(ddResult.New),
			TotalJobs:     len(allRecords),
			Errors:        fetchErrCount,
			DurationMs:    time.Since(started).Milliseconds(),
			URLsProcessed: 1,
		}
		state.PerformanceScore = o.recorder.Record(obs)
	}

	if err := o.checkpoints.Commit(url, state); err != nil {
		o.logger.Error("checkpoint commit failed", "url", url, "error", err)
	}
}
