package recorder

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/edukz/vagas-collector/internal/jobrecord"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRecordAccumulatesSampleCount(t *testing.T) {
	r := New(testLogger())
	url := "https://x.example/remoto/"

	if r.SampleCount(url) != 0 {
		t.Fatalf("expected 0 samples before any Record, got %d", r.SampleCount(url))
	}

	r.Record(Observation{URL: url, Timestamp: time.Now(), NewJobs: 5, TotalJobs: 10, DurationMs: 1000, URLsProcessed: 1})
	r.Record(Observation{URL: url, Timestamp: time.Now(), NewJobs: 3, TotalJobs: 10, DurationMs: 1200, URLsProcessed: 1})

	if r.SampleCount(url) != 2 {
		t.Fatalf("expected 2 samples, got %d", r.SampleCount(url))
	}
}

func TestScoreRewardsNewJobsAndPenalizesErrors(t *testing.T) {
	r := New(testLogger())

	cleanURL := "https://x.example/clean/"
	errorURL := "https://x.example/errors/"

	r.Record(Observation{URL: cleanURL, Timestamp: time.Now(), NewJobs: 20, TotalJobs: 20, DurationMs: 500, URLsProcessed: 1})
	r.Record(Observation{URL: errorURL, Timestamp: time.Now(), NewJobs: 20, TotalJobs: 20, DurationMs: 500, Errors: 5, URLsProcessed: 5})

	if r.Score(cleanURL) <= r.Score(errorURL) {
		t.Fatalf("expected clean URL to outscore error-prone URL: clean=%v error=%v", r.Score(cleanURL), r.Score(errorURL))
	}
}

func TestApplyBucketsUpdatesHourAndWeekday(t *testing.T) {
	catalog := &jobrecord.CatalogURL{URL: "https://x.example/a"}
	ts := time.Date(2026, 7, 31, 14, 0, 0, 0, time.UTC) // Friday

	ApplyBuckets(catalog, Observation{Timestamp: ts, NewJobs: 4})

	if catalog.HourlyStats[14].Runs != 1 || catalog.HourlyStats[14].NewJobs != 4 {
		t.Fatalf("expected hour-14 bucket updated, got %+v", catalog.HourlyStats[14])
	}
	weekday := int(ts.Weekday())
	if catalog.DailyStats[weekday].Runs != 1 {
		t.Fatalf("expected weekday bucket updated, got %+v", catalog.DailyStats[weekday])
	}
	if !catalog.LastRunAt.Equal(ts) {
		t.Fatalf("expected LastRunAt set to %v, got %v", ts, catalog.LastRunAt)
	}
}

func TestReportSummarizesAllURLs(t *testing.T) {
	r := New(testLogger())
	r.Record(Observation{URL: "https://x.example/a", Timestamp: time.Now(), NewJobs: 5, TotalJobs: 10, DurationMs: 800, URLsProcessed: 1})
	r.Record(Observation{URL: "https://x.example/b", Timestamp: time.Now(), NewJobs: 1, TotalJobs: 10, DurationMs: 900, URLsProcessed: 1})

	report := r.Report()
	if len(report) != 2 {
		t.Fatalf("expected 2 report entries, got %d", len(report))
	}
	for _, entry := range report {
		if entry.Samples != 1 {
			t.Fatalf("expected 1 sample per URL, got %d for %s", entry.Samples, entry.URL)
		}
	}
}
