// Package ratelimit implements the collection engine's shared token-bucket
// rate limiter with adaptive backoff on error signals (C1).
package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/edukz/vagas-collector/internal/errs"
)

const ceiling = 10 * time.Second

// Limiter is shared across all fetchers in one session.
type Limiter struct {
	base   *rate.Limiter
	r      rate.Limit

	mu           sync.Mutex
	delay        time.Duration
	consecutiveK int

	logger *slog.Logger
}

// New creates a Limiter with steady rate r (tokens/s) and burst b.
func New(r float64, b int, logger *slog.Logger) *Limiter {
	return &Limiter{
		base:   rate.NewLimiter(rate.Limit(r), b),
		r:      rate.Limit(r),
		delay:  time.Duration(float64(time.Second) / r),
		logger: logger.With("component", "rate_limiter"),
	}
}

// Acquire blocks until a token is available, honoring the current adaptive
// delay on top of the underlying token bucket. Returns errs.ErrCancelled if
// ctx is cancelled first.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := l.base.Wait(ctx); err != nil {
		return errs.ErrCancelled
	}

	l.mu.Lock()
	delay := l.delay
	l.mu.Unlock()

	if delay <= 0 {
		return nil
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return errs.ErrCancelled
	case <-t.C:
		return nil
	}
}

// ReportSuccess relaxes the adaptive delay: delay <- max(1/R, delay*0.9).
func (l *Limiter) ReportSuccess() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.consecutiveK = 0
	floor := time.Duration(float64(time.Second) / float64(l.r))
	next := time.Duration(float64(l.delay) * 0.9)
	if next < floor {
		next = floor
	}
	l.delay = next
}

// ReportError grows the adaptive delay multiplicatively on consecutive
// errors: delay <- min(ceiling, delay*(1.5 + 0.1*k)).
func (l *Limiter) ReportError() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.consecutiveK++
	factor := 1.5 + 0.1*float64(l.consecutiveK)
	next := time.Duration(float64(l.delay) * factor)
	if next > ceiling {
		next = ceiling
	}
	if next <= 0 {
		next = time.Millisecond
	}
	l.delay = next
	l.logger.Debug("adaptive backoff", "consecutive_errors", l.consecutiveK, "delay", l.delay)
}

// CurrentDelay reports the current adaptive delay, for tests and
// diagnostics.
func (l *Limiter) CurrentDelay() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.delay
}
