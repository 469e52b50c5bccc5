package extractor

import (
	"io"
	"log/slog"
	"testing"

	"github.com/edukz/vagas-collector/internal/jobrecord"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const listingHTML = `<html><body>
<ul>
<li class="job-listing"><a href="/vaga/go-dev">Go Developer</a></li>
<li class="job-listing"><a href="/vaga/py-dev">Python Developer</a></li>
<li class="job-listing"><a href="/vaga/js-dev">JS Developer</a></li>
</ul>
</body></html>`

func TestExtractCascadeWinsOnThreshold(t *testing.T) {
	e := New(testLogger())
	records, err := e.Extract([]byte(listingHTML), "https://x.example/home-office/", "https://x.example/home-office/")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	for _, r := range records {
		if r.Modality != jobrecord.Remote {
			t.Errorf("expected Remote modality from /home-office/ path, got %v", r.Modality)
		}
		if r.URL == "" {
			t.Error("expected resolved absolute URL")
		}
	}
}

func TestExtractBelowThresholdYieldsEmpty(t *testing.T) {
	e := New(testLogger())
	html := `<html><body><a href="/vaga/only-one">Solo</a></body></html>`
	records, err := e.Extract([]byte(html), "https://x.example/home-office/", "https://x.example/home-office/")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected empty result below cascade threshold, got %d", len(records))
	}
}

func TestMatchTechnologiesWholeWord(t *testing.T) {
	e := New(testLogger())
	techs := e.matchTechnologies("Senior Go Developer with React and k8s experience")
	if _, ok := techs["golang"]; !ok {
		t.Error("expected 'go' token to map to canonical 'golang'")
	}
	if _, ok := techs["react"]; !ok {
		t.Error("expected 'react' token")
	}
	if _, ok := techs["kubernetes"]; !ok {
		t.Error("expected 'k8s' token to map to canonical 'kubernetes'")
	}
}
