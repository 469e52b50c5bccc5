// Package extractor implements C5: parsing a listing page DOM into typed
// JobRecords, with a selector cascade and URL-driven field inference.
// Grounded on the teacher's CSSParser (internal/parser/css.go) and its
// AutoSelectorGenerator candidate-scoring idea (internal/parser/autoselector.go),
// generalized from "generate selectors for arbitrary text" into "try a
// fixed cascade of known listing selectors in priority order".
package extractor

import (
	"bytes"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/edukz/vagas-collector/internal/errs"
	"github.com/edukz/vagas-collector/internal/jobrecord"
)

// DefaultK is the minimum number of matched elements a cascade candidate
// selector must yield to be accepted; guards against false positives from
// navigation links matching an overly generic selector.
const DefaultK = 2

const maxTextLen = 200

// cssCascade is tried in order; the first selector yielding >= K elements
// wins. Grounded on common job-board listing markup.
var cssCascade = []string{
	`article[data-job-id] a.job-title`,
	`li.job-listing a`,
	`div.vaga-item a.vaga-link`,
	`div[class*="job-card"] a`,
	`a[href*="/vaga/"]`,
	`a[href*="/job/"]`,
}

// xpathCascade is tried if no CSS selector in the cascade wins.
var xpathCascade = []string{
	`//article[@data-job-id]//a`,
	`//*[contains(@class,"job")]//a[@href]`,
}

// Extractor is pure: it never mutates external state.
type Extractor struct {
	k            int
	cssCascade   []string
	xpathCascade []string
	technologies map[string]string // lowercase synonym -> canonical token
	logger       *slog.Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithK overrides the cascade's minimum-match threshold.
func WithK(k int) Option {
	return func(e *Extractor) { e.k = k }
}

// WithCascades overrides the default CSS/XPath candidate lists.
func WithCascades(css, xpath []string) Option {
	return func(e *Extractor) {
		e.cssCascade = css
		e.xpathCascade = xpath
	}
}

// New creates an Extractor with the default selector cascade and
// technology synonym map.
func New(logger *slog.Logger, opts ...Option) *Extractor {
	e := &Extractor{
		k:            DefaultK,
		cssCascade:   cssCascade,
		xpathCascade: xpathCascade,
		technologies: defaultTechnologies(),
		logger:       logger.With("component", "extractor"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract parses html (the page body the Fetcher retrieved for pageURL,
// which was produced querying sourceQuery) into JobRecords. Returns an
// empty, non-error slice when no cascade candidate wins.
func (e *Extractor) Extract(body []byte, pageURL, sourceQuery string) ([]*jobrecord.JobRecord, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, &errs.ParseError{URL: pageURL, Cause: err}
	}

	sel, selector := e.winningCSSSelector(doc)
	if sel == nil {
		nodes, xp := e.winningXPath(body)
		if nodes == nil {
			return nil, nil
		}
		return e.recordsFromXPath(nodes, xp, pageURL, sourceQuery)
	}
	return e.recordsFromCSS(sel, selector, pageURL, sourceQuery)
}

func (e *Extractor) winningCSSSelector(doc *goquery.Document) (*goquery.Selection, string) {
	for _, candidate := range e.cssCascade {
		matches := doc.Find(candidate)
		if matches.Length() >= e.k {
			return matches, candidate
		}
	}
	return nil, ""
}

func (e *Extractor) winningXPath(body []byte) ([]*html.Node, string) {
	root, err := htmlquery.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, ""
	}
	for _, candidate := range e.xpathCascade {
		nodes, err := htmlquery.QueryAll(root, candidate)
		if err != nil || len(nodes) < e.k {
			continue
		}
		return nodes, candidate
	}
	return nil, ""
}

func (e *Extractor) recordsFromCSS(sel *goquery.Selection, selector, pageURL, sourceQuery string) ([]*jobrecord.JobRecord, error) {
	base, _ := url.Parse(pageURL)
	modality, seniority, area := inferFromURL(pageURL)

	var out []*jobrecord.JobRecord
	sel.Each(func(i int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		absURL := resolveHref(base, href)
		text := truncate(strings.TrimSpace(s.Text()), maxTextLen)
		if text == "" && absURL == "" {
			return
		}
		r := &jobrecord.JobRecord{
			URL:          jobrecord.CanonicalURL(absURL),
			Title:        text,
			Company:      "",
			Location:     "",
			Modality:     modality,
			Seniority:    seniority,
			Area:         area,
			Technologies: e.matchTechnologies(text),
			CollectedAt:  time.Now().UTC(),
			SourceQuery:  sourceQuery,
		}
		r.WithFingerprint()
		out = append(out, r)
	})
	return out, nil
}

func (e *Extractor) recordsFromXPath(nodes []*html.Node, selector, pageURL, sourceQuery string) ([]*jobrecord.JobRecord, error) {
	// The XPath fallback path only fires when the CSS cascade found
	// nothing; it extracts the same minimal fields from raw node text.
	base, _ := url.Parse(pageURL)
	modality, seniority, area := inferFromURL(pageURL)
	var out []*jobrecord.JobRecord
	for _, n := range nodes {
		absURL := resolveHref(base, htmlquery.SelectAttr(n, "href"))
		text := truncate(strings.TrimSpace(htmlquery.InnerText(n)), maxTextLen)
		if text == "" && absURL == "" {
			continue
		}
		r := &jobrecord.JobRecord{
			URL:          jobrecord.CanonicalURL(absURL),
			Title:        text,
			Modality:     modality,
			Seniority:    seniority,
			Area:         area,
			Technologies: e.matchTechnologies(text),
			CollectedAt:  time.Now().UTC(),
			SourceQuery:  sourceQuery,
		}
		r.WithFingerprint()
		out = append(out, r)
	}
	return out, nil
}

func resolveHref(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || base == nil {
		return ""
	}
	if strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "mailto:") {
		return ""
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	resolved := base.ResolveReference(u)
	resolved.Fragment = ""
	return resolved.String()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

// inferFromURL derives Modality/Seniority/Area from the catalog query URL
// path the extractor was invoked on, e.g. a URL containing "/home-office/"
// implies Remote.
func inferFromURL(rawURL string) (jobrecord.Modality, jobrecord.Seniority, string) {
	path := strings.ToLower(rawURL)

	modality := jobrecord.ModalityUnknown
	switch {
	case strings.Contains(path, "/home-office/"), strings.Contains(path, "/remoto/"):
		modality = jobrecord.Remote
	case strings.Contains(path, "/hibrido/"), strings.Contains(path, "/hybrid/"):
		modality = jobrecord.Hybrid
	case strings.Contains(path, "/presencial/"), strings.Contains(path, "/onsite/"):
		modality = jobrecord.OnSite
	}

	seniority := jobrecord.SeniorityUnknown
	switch {
	case strings.Contains(path, "/estagio/"), strings.Contains(path, "/intern/"):
		seniority = jobrecord.Intern
	case strings.Contains(path, "/junior/"):
		seniority = jobrecord.Junior
	case strings.Contains(path, "/pleno/"), strings.Contains(path, "/mid/"):
		seniority = jobrecord.Mid
	case strings.Contains(path, "/senior/"):
		seniority = jobrecord.Senior
	case strings.Contains(path, "/especialista/"), strings.Contains(path, "/specialist/"):
		seniority = jobrecord.Specialist
	}

	area := jobrecord.AreaUnknown
	for _, a := range []string{"tecnologia", "vendas", "marketing", "financeiro", "rh", "juridico"} {
		if strings.Contains(path, "/"+a+"/") {
			area = a
			break
		}
	}

	return modality, seniority, area
}

var wordRe = regexp.MustCompile(`[a-z0-9+#.]+`)

// matchTechnologies detects known terms by case-insensitive, whole-word
// token matching against the synonym map.
func (e *Extractor) matchTechnologies(text string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, tok := range wordRe.FindAllString(strings.ToLower(text), -1) {
		if canonical, ok := e.technologies[tok]; ok {
			out[canonical] = struct{}{}
		}
	}
	return out
}

func defaultTechnologies() map[string]string {
	m := map[string]string{}
	add := func(canonical string, synonyms ...string) {
		m[canonical] = canonical
		for _, s := range synonyms {
			m[s] = canonical
		}
	}
	add("golang", "go")
	add("python", "py")
	add("javascript", "js")
	add("typescript", "ts")
	add("java")
	add("kotlin")
	add("react", "reactjs")
	add("angular")
	add("vue", "vuejs")
	add("docker")
	add("kubernetes", "k8s")
	add("aws")
	add("gcp")
	add("azure")
	add("postgresql", "postgres")
	add("mongodb", "mongo")
	add("redis")
	add("terraform")
	add("c++", "cpp")
	add("c#", "csharp")
	return m
}
