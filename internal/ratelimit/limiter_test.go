package ratelimit

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestAcquireRespectsCancellation(t *testing.T) {
	l := New(0.1, 1, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Drain the single burst token first so the next Wait call blocks.
	_ = l.Acquire(context.Background())

	if err := l.Acquire(ctx); err == nil {
		t.Fatal("expected cancellation error, got nil")
	}
}

func TestReportErrorGrowsDelayMultiplicatively(t *testing.T) {
	l := New(1.0, 5, testLogger())
	start := l.CurrentDelay()

	l.ReportError()
	afterOne := l.CurrentDelay()
	if afterOne <= start {
		t.Fatalf("expected delay to grow after one error: start=%v after=%v", start, afterOne)
	}

	for i := 0; i < 20; i++ {
		l.ReportError()
	}
	if l.CurrentDelay() > ceiling {
		t.Fatalf("delay exceeded ceiling: %v > %v", l.CurrentDelay(), ceiling)
	}
}

func TestReportSuccessRelaxesDelayTowardFloor(t *testing.T) {
	l := New(2.0, 5, testLogger())
	for i := 0; i < 5; i++ {
		l.ReportError()
	}
	grown := l.CurrentDelay()

	floor := time.Duration(float64(time.Second) / 2.0)
	for i := 0; i < 200; i++ {
		l.ReportSuccess()
	}
	relaxed := l.CurrentDelay()

	if relaxed >= grown {
		t.Fatalf("expected delay to relax: grown=%v relaxed=%v", grown, relaxed)
	}
	if relaxed < floor {
		t.Fatalf("delay fell below floor: %v < %v", relaxed, floor)
	}
}
