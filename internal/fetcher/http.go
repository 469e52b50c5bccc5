package fetcher

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/cookiejar"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/andybalholm/brotli"
)

// httpFallback fetches a listing page over plain net/http, bypassing the
// Browser Pool entirely. Grounded on the teacher's HTTPFetcher (kept in
// this same file before adaptation) — same transport/decompression setup,
// narrowed from a general-purpose pluggable Fetcher into FetchPage's
// last-resort path for when every rod-driven attempt in the retry loop has
// exhausted itself against repeated transient (NetworkTransient) failures
// and the page is plausibly static HTML. It is never tried after an
// anti-bot detection.
type httpFallback struct {
	client    *http.Client
	userAgent string
	maxBody   int64
	logger    *slog.Logger
}

func newHTTPFallback(userAgent string, maxBodyBytes int64, logger *slog.Logger) *httpFallback {
	jar, _ := cookiejar.New(nil)
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        50,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig:     &tls.Config{},
		DisableCompression:  true, // decoded manually below, brotli included
	}
	if maxBodyBytes <= 0 {
		maxBodyBytes = 5 << 20
	}
	if userAgent == "" {
		userAgent = "Mozilla/5.0 (compatible; vagas-collector/1.0)"
	}
	return &httpFallback{
		client: &http.Client{
			Transport: transport,
			Jar:       jar,
			Timeout:   20 * time.Second,
		},
		userAgent: userAgent,
		maxBody:   maxBodyBytes,
		logger:    logger.With("component", "http_fallback"),
	}
}

// fetchHTML performs a single GET and returns the decoded response body,
// plus whether a failure looks retryable (timeouts, resets, 429, 5xx).
// FetchPage's single fallback attempt does not use that flag.
func (f *httpFallback) fetchHTML(ctx context.Context, target string) (string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", false, err
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "pt-BR,pt;q=0.9,en;q=0.8")
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", isRetryableNetErr(err), err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", true, fmt.Errorf("http 429: rate limited (retry after %s): %s", retryAfter, strings.TrimSpace(string(body)))
	}
	if resp.StatusCode >= 500 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", true, fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if resp.StatusCode >= 400 {
		return "", false, fmt.Errorf("http %d", resp.StatusCode)
	}

	reader, err := decompressReader(resp, io.LimitReader(resp.Body, f.maxBody))
	if err != nil {
		return "", false, fmt.Errorf("decompress response: %w", err)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return "", true, fmt.Errorf("read response body: %w", err)
	}

	f.logger.Debug("http fallback fetch complete", "url", target, "status", resp.StatusCode, "bytes", len(body))
	return string(body), false, nil
}

// decompressReader wraps reader with the decoder named by the response's
// Content-Encoding header. Handles gzip, deflate, and brotli (br).
func decompressReader(resp *http.Response, reader io.Reader) (io.Reader, error) {
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		return gzip.NewReader(reader)
	case "deflate":
		return flate.NewReader(reader), nil
	case "br":
		return brotli.NewReader(reader), nil
	default:
		return reader, nil
	}
}

// isRetryableNetErr reports whether a transport-level error warrants a
// retry: timeouts, resets, refused connections, and unexpected EOF are;
// context cancellation is not.
func isRetryableNetErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if errors.Is(opErr.Err, syscall.ECONNRESET) || errors.Is(opErr.Err, syscall.ECONNREFUSED) {
			return true
		}
	}
	return false
}

// parseRetryAfter parses a Retry-After header value (seconds or HTTP-date),
// capped at two minutes, defaulting to five seconds when absent/unparsable.
func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 5 * time.Second
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(header)); err == nil {
		if secs > 120 {
			secs = 120
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		d := time.Until(t)
		if d < 0 {
			return time.Second
		}
		if d > 2*time.Minute {
			return 2 * time.Minute
		}
		return d
	}
	return 5 * time.Second
}
