// Package jobrecord defines the atomic data types the collection engine
// moves between components: JobRecord, CatalogURL, and the canonicalization
// and fingerprinting rules that give JobRecord a stable identity.
package jobrecord

import (
	"crypto/sha256"
	"net/url"
	"sort"
	"strings"
	"time"
)

// Modality classifies where a posting is performed.
type Modality string

const (
	Remote  Modality = "remote"
	OnSite  Modality = "onsite"
	Hybrid  Modality = "hybrid"
	ModalityUnknown Modality = "unknown"
)

// Seniority classifies the experience level a posting targets.
type Seniority string

const (
	Intern    Seniority = "intern"
	Junior    Seniority = "junior"
	Mid       Seniority = "mid"
	Senior    Seniority = "senior"
	Specialist Seniority = "specialist"
	SeniorityUnknown Seniority = "unknown"
)

// AreaUnknown is the sentinel value for JobRecord.Area when no professional
// area could be inferred.
const AreaUnknown = "unknown"

// JobRecord is the single concrete record type every component in the
// collection engine produces and consumes. Fields that the portal may not
// publish are represented as their explicit zero value, never a sentinel
// string baked into a free-form map.
type JobRecord struct {
	Fingerprint  [16]byte
	URL          string
	Title        string
	Company      string
	Location     string
	Modality     Modality
	Seniority    Seniority
	Area         string
	Technologies map[string]struct{}
	SalaryText   string
	SalaryMin    *float64
	SalaryMax    *float64
	CollectedAt  time.Time
	SourceQuery  string
}

// CanonicalURL returns the record's URL normalized the way Fingerprint
// expects: lowercase scheme/host, fragment dropped, tracking query
// parameters stripped.
func CanonicalURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	if u.RawQuery != "" {
		q := u.Query()
		for _, tracking := range trackingParams {
			q.Del(tracking)
		}
		keys := make([]string, 0, len(q))
		for k := range q {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var parts []string
		for _, k := range keys {
			vals := q[k]
			sort.Strings(vals)
			for _, v := range vals {
				parts = append(parts, url.QueryEscape(k)+"="+url.QueryEscape(v))
			}
		}
		u.RawQuery = strings.Join(parts, "&")
	}

	if u.Path != "/" {
		u.Path = strings.TrimRight(u.Path, "/")
	}
	return u.String()
}

var trackingParams = []string{"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content", "gclid", "fbclid"}

// Fingerprint deterministically hashes the canonicalized
// {title, company, url-path} triple. Equality of Fingerprint defines
// logical identity of a posting.
func Fingerprint(title, company, rawURL string) [16]byte {
	u, err := url.Parse(rawURL)
	path := ""
	if err == nil {
		path = strings.ToLower(strings.TrimRight(u.Path, "/"))
	}
	key := strings.ToLower(strings.TrimSpace(title)) + "\x00" +
		strings.ToLower(strings.TrimSpace(company)) + "\x00" + path
	sum := sha256.Sum256([]byte(key))
	var out [16]byte
	copy(out[:], sum[:16])
	return out
}

// WithFingerprint computes and assigns r.Fingerprint from its current
// Title/Company/URL.
func (r *JobRecord) WithFingerprint() *JobRecord {
	r.Fingerprint = Fingerprint(r.Title, r.Company, r.URL)
	return r
}

// MaterialEqual reports whether the material fields compared by the
// Deduplicator (title, company, salaryText, location, modality) are equal.
func (r *JobRecord) MaterialEqual(other *JobRecord) bool {
	return r.Title == other.Title &&
		r.Company == other.Company &&
		r.SalaryText == other.SalaryText &&
		r.Location == other.Location &&
		r.Modality == other.Modality
}

// CatalogCategory is the closed set of query dimensions a CatalogURL may
// belong to.
type CatalogCategory string

const (
	CategoryRemote       CatalogCategory = "remote"
	CategoryOnSite       CatalogCategory = "onsite"
	CategoryHybrid       CatalogCategory = "hybrid"
	CategoryGeographic   CatalogCategory = "geographic"
	CategoryArea         CatalogCategory = "area"
	CategorySeniority    CatalogCategory = "seniority"
	CategoryGeneral      CatalogCategory = "general"
)

// BucketStats accumulates per-bucket (hour-of-day or weekday) performance.
type BucketStats struct {
	Runs    int
	NewJobs int
}

// CatalogURL is one query endpoint the scheduler may select and the
// recorder scores.
type CatalogURL struct {
	URL              string
	Category         CatalogCategory
	Enabled          bool
	PerformanceScore float64
	LastRunAt        time.Time
	HourlyStats      [24]BucketStats
	DailyStats       [7]BucketStats
}
