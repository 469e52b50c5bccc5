// Package fetcher implements C4: FetchPage drives one paginated page load
// end-to-end — rate-limiter acquisition, pool lease, compound-wait
// navigation, not-found/anti-bot terminal detection, extraction, and
// retry-with-backoff. Grounded on the teacher's BrowserFetcher.Fetch —
// same navigate-then-WaitStable sequence and page-pool discipline,
// generalized from returning a raw *types.Response into calling through
// the Extractor (C5) and reporting outcomes to the Rate Limiter (C1).
// http.go adapts the teacher's HTTPFetcher into a narrower last-resort
// fallback path for when the Browser Pool path exhausts its retries.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-rod/rod"

	"github.com/edukz/vagas-collector/internal/browserpool"
	"github.com/edukz/vagas-collector/internal/errs"
	"github.com/edukz/vagas-collector/internal/extractor"
	"github.com/edukz/vagas-collector/internal/jobrecord"
	"github.com/edukz/vagas-collector/internal/ratelimit"
)

// EndSignal reports whether the caller should stop paginating a URL.
type EndSignal int

const (
	// NoEnd means pagination may continue.
	NoEnd EndSignal = iota
	// HardEnd means the page matched a not-found/404 pattern — stop now.
	HardEnd
	// SoftEnd means the page navigated fine but yielded zero records and
	// this wasn't page 1 — the caller may stop paginating this URL.
	SoftEnd
	// AntiBot means a challenge/anti-bot wall was detected — terminal and
	// fatal for this URL within the session.
	AntiBot
)

// Result is FetchPage's return value.
type Result struct {
	Records []*jobrecord.JobRecord
	End     EndSignal
}

// navigablePage is the subset of browserpool.Page the Fetcher needs beyond
// the pool's own Healthy/Close contract, to drive navigation directly.
type navigablePage interface {
	browserpool.Page
	Underlying() *rod.Page
}

var notFoundPatterns = []string{"not found", "404", "página não encontrada", "pagina nao encontrada"}

var antiBotPatterns = []string{"attention required", "checking your browser", "access denied", "captcha", "cloudflare"}

// Fetcher drives page fetches through the Rate Limiter, Browser Pool, and
// Extractor.
type Fetcher struct {
	limiter            *ratelimit.Limiter
	pool               *browserpool.Pool
	extractor          *extractor.Extractor
	httpFallback       *httpFallback
	pageLoadTimeout    time.Duration
	elementWaitTimeout time.Duration
	leaseDeadline      time.Duration
	retryAttempts      int
	retryDelay         time.Duration
	logger             *slog.Logger
}

// New creates a Fetcher. It also builds a plain-HTTP fallback path used
// only when every Browser Pool attempt exhausts its retries against a
// transient transport failure — never against an AntiBot signal, which
// stays terminal per §4.4 regardless of transport. leaseDeadline bounds how
// long a single Pool.Lease call may block (§4.2/§5) — a pool wedged past
// this deadline fails the attempt rather than stalling the whole session.
func New(limiter *ratelimit.Limiter, pool *browserpool.Pool, ex *extractor.Extractor, pageLoadTimeout, elementWaitTimeout, leaseDeadline time.Duration, retryAttempts int, retryDelay time.Duration, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		limiter:            limiter,
		pool:               pool,
		extractor:          ex,
		httpFallback:       newHTTPFallback("", 5<<20, logger),
		pageLoadTimeout:    pageLoadTimeout,
		elementWaitTimeout: elementWaitTimeout,
		leaseDeadline:      leaseDeadline,
		retryAttempts:      retryAttempts,
		retryDelay:         retryDelay,
		logger:             logger.With("component", "fetcher"),
	}
}

// pagedURL constructs page 1 as base, page k>1 as base+"?page=k".
func pagedURL(base string, pageNo int) (string, error) {
	if pageNo <= 1 {
		return base, nil
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("page", strconv.Itoa(pageNo))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// FetchPage fetches and extracts one paginated page, retrying transient
// transport/extraction failures up to retryAttempts with retryDelay
// backoff, reporting every outcome to the rate limiter.
func (f *Fetcher) FetchPage(ctx context.Context, rawURL string, pageNo int, sourceQuery string) (*Result, error) {
	target, err := pagedURL(rawURL, pageNo)
	if err != nil {
		return nil, &errs.FetchError{URL: rawURL, PageNo: pageNo, Cause: err, ErrKind: errs.Parse}
	}

	var lastErr error
	for attempt := 0; attempt <= f.retryAttempts; attempt++ {
		if err := f.limiter.Acquire(ctx); err != nil {
			return nil, err
		}

		leaseCtx, cancelLease := ctx, func() {}
		if f.leaseDeadline > 0 {
			leaseCtx, cancelLease = context.WithTimeout(ctx, f.leaseDeadline)
		}
		page, err := f.pool.Lease(leaseCtx)
		cancelLease()
		if err != nil {
			return nil, err
		}

		result, fetchErr := f.fetchOnce(ctx, page, target, rawURL, pageNo, sourceQuery)

		outcome := browserpool.OK
		if fetchErr != nil || (result != nil && result.End == AntiBot) {
			outcome = browserpool.Poisoned
		}
		f.pool.Return(page, outcome)

		if fetchErr == nil {
			f.limiter.ReportSuccess()
			return result, nil
		}

		lastErr = fetchErr
		f.limiter.ReportError()

		var fe *errs.FetchError
		retryable := errors.As(fetchErr, &fe) && fe.Retryable
		if !retryable || attempt == f.retryAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return nil, errs.ErrCancelled
		case <-time.After(f.retryDelay):
		}
	}

	var fe *errs.FetchError
	if errors.As(lastErr, &fe) && fe.ErrKind == errs.NetworkTransient {
		if result, err := f.fetchViaHTTPFallback(ctx, target, rawURL, pageNo, sourceQuery); err == nil {
			f.logger.Info("recovered page via http fallback after exhausting browser pool retries", "url", target)
			return result, nil
		}
	}

	return nil, &errs.FetchError{URL: rawURL, PageNo: pageNo, Cause: lastErr, Retryable: false, ErrKind: errs.NetworkTransient}
}

// fetchViaHTTPFallback retries the page once over plain net/http, for
// portals whose listing HTML doesn't require JS rendering. It does not
// itself retry or report to the Rate Limiter — a single attempt, since by
// construction the Browser Pool path has already exhausted the budget for
// this page.
func (f *Fetcher) fetchViaHTTPFallback(ctx context.Context, target, sourceURL string, pageNo int, sourceQuery string) (*Result, error) {
	html, _, err := f.httpFallback.fetchHTML(ctx, target)
	if err != nil {
		return nil, err
	}
	records, extractErr := f.extractor.Extract([]byte(html), sourceURL, sourceQuery)
	if extractErr != nil {
		return &Result{End: NoEnd}, nil
	}
	end := NoEnd
	if len(records) == 0 && pageNo > 1 {
		end = SoftEnd
	}
	return &Result{Records: records, End: end}, nil
}

func (f *Fetcher) fetchOnce(ctx context.Context, page browserpool.Page, target, sourceURL string, pageNo int, sourceQuery string) (*Result, error) {
	np, ok := page.(navigablePage)
	if !ok {
		return nil, &errs.FetchError{URL: target, PageNo: pageNo, Cause: fmt.Errorf("page does not support navigation"), ErrKind: errs.Config}
	}
	rp := np.Underlying()

	navErr := rp.Context(ctx).Timeout(f.pageLoadTimeout).Navigate(target)
	if navErr != nil {
		return nil, &errs.FetchError{URL: target, PageNo: pageNo, Cause: navErr, Retryable: true, ErrKind: errs.NetworkTransient}
	}

	// Compound wait: network-idle up to pageLoadTimeout, falling back to
	// DOM-content-loaded up to elementWaitTimeout.
	if err := rp.Context(ctx).Timeout(f.pageLoadTimeout).WaitStable(300 * time.Millisecond); err != nil {
		f.logger.Debug("network-idle wait timed out, falling back to DOM-content-loaded wait", "url", target)
		if err := rp.Context(ctx).Timeout(f.elementWaitTimeout).WaitLoad(); err != nil {
			f.logger.Warn("DOM-content-loaded wait also timed out, proceeding with current content", "url", target, "error", err)
		}
	}

	title, _ := rp.Info()
	pageTitle := ""
	if title != nil {
		pageTitle = strings.ToLower(title.Title)
	}

	if matchesAny(pageTitle, antiBotPatterns) {
		return &Result{End: AntiBot}, &errs.FetchError{URL: target, PageNo: pageNo, Cause: fmt.Errorf("anti-bot challenge detected"), Retryable: false, ErrKind: errs.AntiBot}
	}

	if matchesAny(pageTitle, notFoundPatterns) {
		return &Result{End: HardEnd}, nil
	}

	html, err := rp.Context(ctx).HTML()
	if err != nil {
		return nil, &errs.FetchError{URL: target, PageNo: pageNo, Cause: err, Retryable: true, ErrKind: errs.NetworkTransient}
	}

	records, extractErr := f.extractor.Extract([]byte(html), sourceURL, sourceQuery)
	if extractErr != nil {
		// Selector-not-found on an otherwise-loaded page is not retried.
		return &Result{End: NoEnd}, nil
	}

	end := NoEnd
	if len(records) == 0 && pageNo > 1 {
		end = SoftEnd
	}
	return &Result{Records: records, End: end}, nil
}

func matchesAny(haystack string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(haystack, p) {
			return true
		}
	}
	return false
}
