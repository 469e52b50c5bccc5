// Package dedup implements C6: partitioning a batch of freshly extracted
// JobRecords into {New, Updated, Duplicate} against the Compressed Cache
// and the current batch. Grounded on the teacher's Deduplicator
// (internal/engine/dedup.go) — same map-keyed seen-set shape, repurposed
// from a URL-seen set into a material-field comparison against stored
// records, and promoted to the only component allowed to write the cache.
package dedup

import (
	"log/slog"
	"strings"

	"github.com/edukz/vagas-collector/internal/jobrecord"
)

// Cache is the subset of C8's contract the Deduplicator needs. It is the
// only component permitted to call Put.
type Cache interface {
	Get(fp [16]byte) (*jobrecord.JobRecord, bool)
	Put(r *jobrecord.JobRecord) error
}

// Mirror is the optional secondary sink (internal/storage.MongoMirror)
// that New/Updated records are also written to, when configured.
type Mirror interface {
	Mirror(r *jobrecord.JobRecord) error
}

// Result holds the three disjoint output sets of one Process call.
type Result struct {
	New       []*jobrecord.JobRecord
	Updated   []*jobrecord.JobRecord
	Duplicate []*jobrecord.JobRecord
}

// Deduplicator is the only component allowed to write into the cache.
type Deduplicator struct {
	cache              Cache
	mirror             Mirror
	enableSimilarity   bool
	enableDeduplication bool
	logger             *slog.Logger
}

// New creates a Deduplicator backed by cache. When enableDeduplication is
// false, Process marks every record New without consulting the cache,
// matching the `enableDeduplication` configuration knob in SPEC_FULL.md §6.
func New(cache Cache, enableDeduplication, enableSimilarity bool, logger *slog.Logger) *Deduplicator {
	return &Deduplicator{
		cache:               cache,
		enableSimilarity:    enableSimilarity,
		enableDeduplication: enableDeduplication,
		logger:              logger.With("component", "deduplicator"),
	}
}

// WithMirror attaches the optional secondary sink. Every New/Updated record
// committed to the cache is also mirrored; a mirror failure is logged but
// never turns a successful cache write into a failed Process call, since
// the primary compressed blob remains the source of truth (SPEC_FULL.md
// Storage section).
func (d *Deduplicator) WithMirror(m Mirror) *Deduplicator {
	d.mirror = m
	return d
}

func (d *Deduplicator) put(r *jobrecord.JobRecord) error {
	if err := d.cache.Put(r); err != nil {
		return err
	}
	if d.mirror != nil {
		if err := d.mirror.Mirror(r); err != nil {
			d.logger.Error("mongo mirror failed", "url", r.URL, "error", err)
		}
	}
	return nil
}

// Process partitions batch into New/Updated/Duplicate, committing
// New/Updated records to the cache as it goes.
func (d *Deduplicator) Process(batch []*jobrecord.JobRecord) Result {
	collapsed := collapseSameBatch(batch)
	if d.enableSimilarity {
		collapsed = d.collapseSimilar(collapsed)
	}

	var res Result
	for _, r := range collapsed {
		if !d.enableDeduplication {
			res.New = append(res.New, r)
			_ = d.put(r)
			continue
		}

		prev, ok := d.cache.Get(r.Fingerprint)
		switch {
		case !ok:
			res.New = append(res.New, r)
			if err := d.put(r); err != nil {
				d.logger.Error("cache put failed", "url", r.URL, "error", err)
			}
		case !prev.MaterialEqual(r):
			res.Updated = append(res.Updated, r)
			if err := d.put(r); err != nil {
				d.logger.Error("cache put failed", "url", r.URL, "error", err)
			}
		default:
			res.Duplicate = append(res.Duplicate, r)
		}
	}
	return res
}

// collapseSameBatch collapses records sharing a Fingerprint within the same
// batch, later wins, preserving first-seen position for the surviving
// record so extraction order is retained for non-collapsed entries.
func collapseSameBatch(batch []*jobrecord.JobRecord) []*jobrecord.JobRecord {
	index := make(map[[16]byte]int, len(batch))
	order := make([]*jobrecord.JobRecord, 0, len(batch))
	for _, r := range batch {
		if i, ok := index[r.Fingerprint]; ok {
			order[i] = r // later wins
			continue
		}
		index[r.Fingerprint] = len(order)
		order = append(order, r)
	}
	return order
}

// collapseSimilar implements the optional same-batch similarity dedup:
// title cosine over character 3-gram count vectors (raw counts; no IDF
// weighting is applied) and normalized title Levenshtein ratio, both scoped
// to records sharing a company. Disabled by default (SPEC_FULL.md Open Question a).
func (d *Deduplicator) collapseSimilar(batch []*jobrecord.JobRecord) []*jobrecord.JobRecord {
	keep := make([]bool, len(batch))
	for i := range keep {
		keep[i] = true
	}

	byCompany := make(map[string][]int)
	for i, r := range batch {
		key := strings.ToLower(strings.TrimSpace(r.Company))
		byCompany[key] = append(byCompany[key], i)
	}

	for _, idxs := range byCompany {
		for a := 0; a < len(idxs); a++ {
			if !keep[idxs[a]] {
				continue
			}
			for b := a + 1; b < len(idxs); b++ {
				if !keep[idxs[b]] {
					continue
				}
				i, j := idxs[a], idxs[b]
				if trigramCosine(batch[i].Title, batch[j].Title) >= 0.85 ||
					levenshteinRatio(batch[i].Title, batch[j].Title) >= 0.85 {
					keep[j] = false // earlier-inserted record (i) is master
				}
			}
		}
	}

	out := make([]*jobrecord.JobRecord, 0, len(batch))
	for i, r := range batch {
		if keep[i] {
			out = append(out, r)
		}
	}
	return out
}
