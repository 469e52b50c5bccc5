package collector

import (
	"testing"

	"github.com/edukz/vagas-collector/internal/jobrecord"
)

func TestSortByURLGroupsBySourceQueryStably(t *testing.T) {
	records := []*jobrecord.JobRecord{
		{Title: "b1", SourceQuery: "https://x/b"},
		{Title: "a1", SourceQuery: "https://x/a"},
		{Title: "b2", SourceQuery: "https://x/b"},
		{Title: "a2", SourceQuery: "https://x/a"},
	}

	sortByURL(records)

	want := []string{"a1", "a2", "b1", "b2"}
	for i, r := range records {
		if r.Title != want[i] {
			t.Fatalf("expected stable group-by-SourceQuery order %v, got position %d = %s", want, i, r.Title)
		}
	}
}

func TestSortByURLNoOpOnEmpty(t *testing.T) {
	var records []*jobrecord.JobRecord
	sortByURL(records)
	if len(records) != 0 {
		t.Fatal("expected empty slice to remain empty")
	}
}
