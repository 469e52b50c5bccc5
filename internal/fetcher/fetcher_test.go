package fetcher

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"
)

func testLoggerForFetcher() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPagedURLPageOneIsBase(t *testing.T) {
	got, err := pagedURL("https://x.example/remoto/", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "https://x.example/remoto/" {
		t.Fatalf("expected page 1 to be the base URL unchanged, got %q", got)
	}
}

func TestPagedURLAppendsPageParam(t *testing.T) {
	got, err := pagedURL("https://x.example/remoto/", 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "https://x.example/remoto/?page=3" {
		t.Fatalf("expected ?page=3 appended, got %q", got)
	}
}

func TestPagedURLPreservesExistingQuery(t *testing.T) {
	got, err := pagedURL("https://x.example/remoto/?area=tech", 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "https://x.example/remoto/?area=tech&page=2" {
		t.Fatalf("expected existing query preserved alongside page param, got %q", got)
	}
}

func TestMatchesAnyNotFoundPatterns(t *testing.T) {
	if !matchesAny("página não encontrada - vagas.com", notFoundPatterns) {
		t.Fatal("expected not-found pattern to match")
	}
	if matchesAny("senior go developer", notFoundPatterns) {
		t.Fatal("expected a normal listing title not to match not-found patterns")
	}
}

func TestMatchesAnyDetectsAntiBotChallenge(t *testing.T) {
	if !matchesAny("checking your browser before accessing vagas.com", antiBotPatterns) {
		t.Fatal("expected anti-bot challenge pattern to match")
	}
}

func TestIsRetryableNetErrContextCancelledIsNotRetryable(t *testing.T) {
	if isRetryableNetErr(context.Canceled) {
		t.Fatal("expected context.Canceled to never be retryable")
	}
	if isRetryableNetErr(context.DeadlineExceeded) {
		t.Fatal("expected context.DeadlineExceeded to never be retryable")
	}
}

func TestParseRetryAfterParsesSecondsAndCaps(t *testing.T) {
	if got := parseRetryAfter("5"); got != 5*time.Second {
		t.Fatalf("expected 5s, got %v", got)
	}
	if got := parseRetryAfter("600"); got != 120*time.Second {
		t.Fatalf("expected cap at 120s, got %v", got)
	}
	if got := parseRetryAfter(""); got != 5*time.Second {
		t.Fatalf("expected default 5s for missing header, got %v", got)
	}
}

func TestHTTPFallbackConstructsWithDefaults(t *testing.T) {
	f := newHTTPFallback("", 0, testLoggerForFetcher())
	if f.userAgent == "" {
		t.Fatal("expected a default user agent when none supplied")
	}
	if f.maxBody <= 0 {
		t.Fatal("expected a positive default max body size")
	}
}
