package browserpool

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

func testLoggerForPool() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakePage struct {
	healthy int32
	closed  int32
}

func newFakePage() *fakePage {
	return &fakePage{healthy: 1}
}

func (p *fakePage) Healthy() bool { return atomic.LoadInt32(&p.healthy) == 1 }

func (p *fakePage) Close() error {
	atomic.StoreInt32(&p.closed, 1)
	return nil
}

type fakeEngine struct {
	created int32
	closed  int32
}

func (e *fakeEngine) NewPage(ctx context.Context) (Page, error) {
	atomic.AddInt32(&e.created, 1)
	return newFakePage(), nil
}

func (e *fakeEngine) Close() error {
	atomic.StoreInt32(&e.closed, 1)
	return nil
}

func TestPoolLeaseGrowsLazilyUpToMax(t *testing.T) {
	engine := &fakeEngine{}
	p := New(engine, 0, 2, 0, testLoggerForPool())
	defer p.Close()

	ctx := context.Background()
	p1, err := p.Lease(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p2, err := p.Lease(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Size() != 2 {
		t.Fatalf("expected pool to have grown to 2 live pages, got %d", p.Size())
	}
	p.Return(p1, OK)
	p.Return(p2, OK)
}

func TestPoolLeaseBlocksAtMaxUntilContextDone(t *testing.T) {
	engine := &fakeEngine{}
	p := New(engine, 0, 1, 0, testLoggerForPool())
	defer p.Close()

	ctx := context.Background()
	page, err := p.Lease(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	deadline, cancel := context.WithTimeout(context.Background(), 75*time.Millisecond)
	defer cancel()
	if _, err := p.Lease(deadline); err == nil {
		t.Fatal("expected Lease to fail once the pool is exhausted and the context expires")
	}
	p.Return(page, OK)
}

func TestPoolReturnPoisonedRecyclesAndShrinksSize(t *testing.T) {
	engine := &fakeEngine{}
	p := New(engine, 0, 2, 0, testLoggerForPool())
	defer p.Close()

	ctx := context.Background()
	page, err := p.Lease(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fp := page.(*fakePage)
	p.Return(page, Poisoned)

	if atomic.LoadInt32(&fp.closed) != 1 {
		t.Fatal("expected poisoned page to be closed")
	}
	if p.Size() != 0 {
		t.Fatalf("expected size to shrink back to 0 after poisoned return, got %d", p.Size())
	}
}

func TestPoolCloseClosesIdlePagesAndEngine(t *testing.T) {
	engine := &fakeEngine{}
	p := New(engine, 0, 1, 0, testLoggerForPool())

	ctx := context.Background()
	page, err := p.Lease(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p.Return(page, OK)

	if err := p.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if atomic.LoadInt32(&engine.closed) != 1 {
		t.Fatal("expected engine.Close to have been called")
	}
	if _, err := p.Lease(ctx); err == nil {
		t.Fatal("expected Lease on a closed pool to fail")
	}
}
