// Package browserpool implements the bounded headless-browser page pool
// (C2): lease/return with health checks and poisoned-page recycling, lazy
// growth to max, and idle shrink back to min.
package browserpool

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/edukz/vagas-collector/internal/errs"
)

// Outcome is reported by the caller when returning a leased page.
type Outcome int

const (
	// OK means the page is healthy and may be reused.
	OK Outcome = iota
	// Poisoned means the page hit a navigation error, timeout, or detected
	// anti-bot wall and must be recycled rather than reused.
	Poisoned
)

// Page is the minimal surface the pool needs from a browser page. The
// production implementation wraps a *rod.Page (see rod_engine.go); tests use a
// fake.
type Page interface {
	// Healthy performs a cheap, non-blocking liveness check.
	Healthy() bool
	// Close releases the underlying browser resource.
	Close() error
}

// Engine creates and destroys pages. The production implementation owns a
// single *rod.Browser connection (see rod_engine.go).
type Engine interface {
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

type slot struct {
	page         Page
	fails        int
	lastReturned time.Time
}

// Pool owns [min..max] long-lived browser pages.
type Pool struct {
	engine Engine
	min    int
	max    int
	idleTTL time.Duration
	logger *slog.Logger

	mu      sync.Mutex
	idle    []*slot
	size    int // total pages currently live (idle + leased)
	closed  bool
	closeCh chan struct{}
	wg      sync.WaitGroup
}

// New creates a Pool bound to [min, max] pages from engine.
func New(engine Engine, min, max int, idleTTL time.Duration, logger *slog.Logger) *Pool {
	p := &Pool{
		engine:  engine,
		min:     min,
		max:     max,
		idleTTL: idleTTL,
		logger:  logger.With("component", "browser_pool"),
		closeCh: make(chan struct{}),
	}
	p.wg.Add(1)
	go p.shrinkLoop()
	return p
}

// Lease returns a healthy page, growing the pool lazily up to max. Fails
// with errs.ErrExhausted when the queue cannot drain within the deadline
// implied by ctx.
func (p *Pool) Lease(ctx context.Context) (Page, error) {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, errs.ErrPoolClosed
		}

		if n := len(p.idle); n > 0 {
			s := p.idle[n-1]
			p.idle = p.idle[:n-1]
			p.mu.Unlock()

			if s.page.Healthy() {
				return s.page, nil
			}
			// Failed the pre-lease check: count it and recycle at 2 fails.
			s.fails++
			if s.fails >= 2 {
				_ = s.page.Close()
				p.mu.Lock()
				p.size--
				p.mu.Unlock()
				continue
			}
			// Give it one more chance by putting it back and trying the
			// next idle page instead.
			p.mu.Lock()
			p.idle = append([]*slot{s}, p.idle...)
			p.mu.Unlock()
			continue
		}

		if p.size < p.max {
			p.size++
			p.mu.Unlock()
			page, err := p.engine.NewPage(ctx)
			if err != nil {
				p.mu.Lock()
				p.size--
				p.mu.Unlock()
				return nil, err
			}
			return page, nil
		}
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, errs.ErrExhausted
		case <-time.After(25 * time.Millisecond):
		}
	}
}

// Return places the page back in the idle set, or recycles it when
// outcome is Poisoned.
func (p *Pool) Return(page Page, outcome Outcome) {
	if outcome == Poisoned {
		_ = page.Close()
		p.mu.Lock()
		p.size--
		p.mu.Unlock()
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		_ = page.Close()
		p.size--
		return
	}
	p.idle = append(p.idle, &slot{page: page, lastReturned: time.Now()})
}

// shrinkLoop closes idle pages beyond min once they've sat unused for
// longer than idleTTL.
func (p *Pool) shrinkLoop() {
	defer p.wg.Done()
	if p.idleTTL <= 0 {
		<-p.closeCh
		return
	}
	ticker := time.NewTicker(p.idleTTL / 2)
	defer ticker.Stop()

	for {
		select {
		case <-p.closeCh:
			return
		case <-ticker.C:
			p.mu.Lock()
			cutoff := time.Now().Add(-p.idleTTL)
			kept := p.idle[:0]
			for _, s := range p.idle {
				if p.size > p.min && s.lastReturned.Before(cutoff) {
					_ = s.page.Close()
					p.size--
					continue
				}
				kept = append(kept, s)
			}
			p.idle = kept
			p.mu.Unlock()
		}
	}
}

// Close tears down every page and the underlying engine. Invariant:
// leases == returns at teardown — callers must have returned every leased
// page before calling Close.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	for _, s := range p.idle {
		_ = s.page.Close()
	}
	p.idle = nil
	p.mu.Unlock()

	close(p.closeCh)
	p.wg.Wait()
	return p.engine.Close()
}

// Size reports the current number of live pages (idle + leased), for tests
// and diagnostics.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.size
}
