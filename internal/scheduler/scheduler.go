// Package scheduler implements C3: picking an ordered, duplicate-free list
// of N catalog URLs per run under one of eight closed policies. Grounded
// on the teacher's Frontier (internal/engine/frontier.go) for the
// "maintain an orderable candidate set, pop by priority" shape — here
// generalized from a single priority queue into policy-specific selection
// over a fixed CatalogURL set, since the catalog (unlike the teacher's
// frontier) is small, known up front, and re-ranked between runs rather
// than mutated mid-run.
package scheduler

import (
	"log/slog"
	"math/rand"
	"sort"
	"time"

	"github.com/edukz/vagas-collector/internal/jobrecord"
)

// Policy is the closed set of diversity modes from SPEC_FULL.md §6.
type Policy string

const (
	Balanced     Policy = "balanced"
	Geographic   Policy = "geographic"
	RemoteOnly   Policy = "remote_only"
	Professional Policy = "professional"
	SeniorityP   Policy = "seniority"
	Complete     Policy = "complete"
	Custom       Policy = "custom"
	ML           Policy = "ml"
)

// Recorder is the subset of C10's contract the ml policy needs.
type Recorder interface {
	SampleCount(url string) int
	Score(url string) float64
}

// Scheduler selects URLs from a fixed catalog under one of the closed
// policies.
type Scheduler struct {
	catalog  []*jobrecord.CatalogURL
	recorder Recorder
	logger   *slog.Logger
}

// New creates a Scheduler over catalog. recorder may be nil if the ml
// policy will never be selected.
func New(catalog []*jobrecord.CatalogURL, recorder Recorder, logger *slog.Logger) *Scheduler {
	return &Scheduler{catalog: catalog, recorder: recorder, logger: logger.With("component", "scheduler")}
}

// Selection is the result of one Select call, including the seed used for
// any randomized tie-breaking so SessionResult can record it for
// reproducibility.
type Selection struct {
	URLs []string
	Seed int64
}

// Select resolves N URLs from the catalog per the named policy. activeURLs
// is only consulted by Custom. minMLSamples and currentHour parameterize
// ML. seed drives all randomized tie-breaks; pass 0 to have Select mint
// one from the wall clock (recorded in the returned Selection so callers
// can persist it for reproducibility).
func (s *Scheduler) Select(policy Policy, n int, activeURLs []string, minMLSamples, currentHour int, seed int64) Selection {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	var urls []string
	switch policy {
	case Custom:
		urls = s.selectCustom(activeURLs, n)
	case Geographic:
		urls = s.selectCategory(jobrecord.CategoryGeographic, n, rng)
	case RemoteOnly:
		urls = s.selectCategory(jobrecord.CategoryRemote, n, rng)
	case Professional:
		urls = s.selectCategory(jobrecord.CategoryArea, n, rng)
	case SeniorityP:
		urls = s.selectCategory(jobrecord.CategorySeniority, n, rng)
	case Complete:
		urls = s.selectProportional(n, rng)
	case ML:
		urls = s.selectML(n, minMLSamples, currentHour, rng)
	case Balanced:
		fallthrough
	default:
		urls = s.selectBalanced(n, rng)
	}

	return Selection{URLs: urls, Seed: seed}
}

func (s *Scheduler) enabled() []*jobrecord.CatalogURL {
	out := make([]*jobrecord.CatalogURL, 0, len(s.catalog))
	for _, c := range s.catalog {
		if c.Enabled {
			out = append(out, c)
		}
	}
	return out
}

func byCategory(urls []*jobrecord.CatalogURL, cat jobrecord.CatalogCategory) []*jobrecord.CatalogURL {
	out := make([]*jobrecord.CatalogURL, 0, len(urls))
	for _, u := range urls {
		if u.Category == cat {
			out = append(out, u)
		}
	}
	return out
}

func shuffleCopy(urls []*jobrecord.CatalogURL, rng *rand.Rand) []*jobrecord.CatalogURL {
	out := make([]*jobrecord.CatalogURL, len(urls))
	copy(out, urls)
	rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

func take(urls []*jobrecord.CatalogURL, n int) []string {
	if n > len(urls) {
		n = len(urls)
	}
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = urls[i].URL
	}
	return out
}

func (s *Scheduler) selectCategory(cat jobrecord.CatalogCategory, n int, rng *rand.Rand) []string {
	candidates := shuffleCopy(byCategory(s.enabled(), cat), rng)
	return take(candidates, n)
}

// selectBalanced draws one URL from each of {remote, onsite, hybrid,
// geographic, general} while slots remain, then fills randomly from the
// remaining catalog.
func (s *Scheduler) selectBalanced(n int, rng *rand.Rand) []string {
	categories := []jobrecord.CatalogCategory{
		jobrecord.CategoryRemote, jobrecord.CategoryOnSite, jobrecord.CategoryHybrid,
		jobrecord.CategoryGeographic, jobrecord.CategoryGeneral,
	}
	enabled := s.enabled()
	chosen := make(map[string]struct{}, n)
	var out []string

	pools := make(map[jobrecord.CatalogCategory][]*jobrecord.CatalogURL, len(categories))
	for _, cat := range categories {
		pools[cat] = shuffleCopy(byCategory(enabled, cat), rng)
	}

	for len(out) < n {
		progressed := false
		for _, cat := range categories {
			if len(out) >= n {
				break
			}
			pool := pools[cat]
			for len(pool) > 0 {
				candidate := pool[0]
				pool = pool[1:]
				if _, dup := chosen[candidate.URL]; !dup {
					chosen[candidate.URL] = struct{}{}
					out = append(out, candidate.URL)
					progressed = true
					break
				}
			}
			pools[cat] = pool
		}
		if !progressed {
			break
		}
	}

	if len(out) < n {
		remaining := shuffleCopy(enabled, rng)
		for _, c := range remaining {
			if len(out) >= n {
				break
			}
			if _, dup := chosen[c.URL]; dup {
				continue
			}
			chosen[c.URL] = struct{}{}
			out = append(out, c.URL)
		}
	}
	return out
}

// selectProportional samples across every category proportionally to its
// share of the enabled catalog.
func (s *Scheduler) selectProportional(n int, rng *rand.Rand) []string {
	enabled := s.enabled()
	if len(enabled) == 0 {
		return nil
	}

	byCat := make(map[jobrecord.CatalogCategory][]*jobrecord.CatalogURL)
	var cats []jobrecord.CatalogCategory
	for _, u := range enabled {
		if _, ok := byCat[u.Category]; !ok {
			cats = append(cats, u.Category)
		}
		byCat[u.Category] = append(byCat[u.Category], u)
	}
	sort.Slice(cats, func(i, j int) bool { return cats[i] < cats[j] })

	chosen := make(map[string]struct{}, n)
	var out []string
	for _, cat := range cats {
		pool := shuffleCopy(byCat[cat], rng)
		share := int(float64(n)*float64(len(pool))/float64(len(enabled))) + 1
		for i := 0; i < share && i < len(pool) && len(out) < n; i++ {
			if _, dup := chosen[pool[i].URL]; dup {
				continue
			}
			chosen[pool[i].URL] = struct{}{}
			out = append(out, pool[i].URL)
		}
	}

	if len(out) < n {
		remaining := shuffleCopy(enabled, rng)
		for _, c := range remaining {
			if len(out) >= n {
				break
			}
			if _, dup := chosen[c.URL]; dup {
				continue
			}
			chosen[c.URL] = struct{}{}
			out = append(out, c.URL)
		}
	}
	return out
}

func (s *Scheduler) selectCustom(activeURLs []string, n int) []string {
	seen := make(map[string]struct{}, len(activeURLs))
	out := make([]string, 0, len(activeURLs))
	for _, u := range activeURLs {
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
		if len(out) >= n && n > 0 {
			break
		}
	}
	return out
}

type mlCandidate struct {
	url             string
	score           float64
	recencyPenalty  float64
	daysSinceLast   float64
}

// selectML ranks catalog URLs with at least minMLSamples historical
// sessions by score, optionally weighted by the current hour's historical
// bucket, minus a recency penalty, and returns the top n.
func (s *Scheduler) selectML(n, minMLSamples, currentHour int, rng *rand.Rand) []string {
	enabled := s.enabled()
	var eligible []mlCandidate
	var ineligible []*jobrecord.CatalogURL

	now := time.Now().UTC()
	for _, c := range enabled {
		// Eligibility is gated on the catalog's own persisted run buckets,
		// not the in-memory recorder's SampleCount: the Recorder is
		// rebuilt empty at the start of every process, so SampleCount
		// alone would stay 0 forever and the ml policy could never clear
		// minMLSamples across real invocations. HourlyStats/DailyStats
		// survive in the catalog file across runs, so their sum is the
		// durable sample count; SampleCount still contributes in case this
		// Scheduler outlives a single Run (e.g. a long-lived recorder).
		samples := catalogSampleCount(c)
		if s.recorder != nil {
			if rc := s.recorder.SampleCount(c.URL); rc > samples {
				samples = rc
			}
		}
		if samples < minMLSamples {
			ineligible = append(ineligible, c)
			continue
		}

		score := c.PerformanceScore
		if s.recorder != nil {
			if rs := s.recorder.Score(c.URL); rs > 0 {
				score = rs
			}
		}
		if currentHour >= 0 && currentHour < 24 {
			bucket := c.HourlyStats[currentHour]
			if bucket.Runs > 0 {
				weight := float64(bucket.NewJobs) / float64(bucket.Runs)
				score = score * (1 + normalizedWeight(weight))
			}
		}

		daysSince := 0.0
		if !c.LastRunAt.IsZero() {
			daysSince = now.Sub(c.LastRunAt).Hours() / 24
		}
		penalty := 0.1 * minFloat(daysSince/30, 1)

		eligible = append(eligible, mlCandidate{url: c.URL, score: score - penalty, recencyPenalty: penalty, daysSinceLast: daysSince})
	}

	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].score != eligible[j].score {
			return eligible[i].score > eligible[j].score
		}
		return eligible[i].url < eligible[j].url // deterministic tie-break
	})

	var out []string
	for i := 0; i < n && i < len(eligible); i++ {
		out = append(out, eligible[i].url)
	}

	// Backfill from ineligible (insufficient-sample) URLs at random when the
	// ml-eligible set can't fill the session.
	if len(out) < n {
		backfill := shuffleCopy(ineligible, rng)
		seen := make(map[string]struct{}, len(out))
		for _, u := range out {
			seen[u] = struct{}{}
		}
		for _, c := range backfill {
			if len(out) >= n {
				break
			}
			if _, dup := seen[c.URL]; dup {
				continue
			}
			out = append(out, c.URL)
		}
	}
	return out
}

// catalogSampleCount sums the persisted hourly run buckets, the durable
// record of how many sessions have observed this URL across process
// restarts (each observation bumps exactly one hour's Runs).
func catalogSampleCount(c *jobrecord.CatalogURL) int {
	total := 0
	for _, b := range c.HourlyStats {
		total += b.Runs
	}
	return total
}

func normalizedWeight(w float64) float64 {
	if w > 1 {
		return 1
	}
	if w < 0 {
		return 0
	}
	return w
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
