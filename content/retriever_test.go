package content

import (
	"context"
	"strings"
	"testing"
)

type staticSnapshot struct {
	snapshot Snapshot
}

func (s staticSnapshot) Get(context.Context) Snapshot {
	return s.snapshot
}

func snapshotOf(texts ...string) Snapshot {
	docs := make([]Document, len(texts))
	for i, text := range texts {
		docs[i] = Document{ID: string(rune('a' + i)), Text: text}
	}
	return Snapshot{Documents: docs}
}

func TestScore(t *testing.T) {
	text := "Inventory tracking for every warehouse. " + strings.Repeat("x", 120) + " inventory inventory"
	// "inventory" x3 * 9 + title bonus 10; "for" x1 * 3 + bonus 10; "is" ignored.
	got := Score(text, queryTerms("inventory for is"))
	if want := 3*9 + 10 + 1*3 + 10; got != want {
		t.Fatalf("expected score %d, got %d", want, got)
	}
}

func TestScoreIsMonotonicInOccurrences(t *testing.T) {
	terms := queryTerms("billing automation")
	base := strings.Repeat("filler ", 30) + "billing"
	prev := Score(base, terms)
	for i := 0; i < 5; i++ {
		base += " billing"
		next := Score(base, terms)
		if next < prev {
			t.Fatalf("score decreased from %d to %d after adding an occurrence", prev, next)
		}
		prev = next
	}
}

func TestRankOrdersByScoreStable(t *testing.T) {
	snapshot := snapshotOf(
		"mobile picking with barcode scanning",
		"nothing relevant here at all",
		"barcode barcode barcode",
		"mobile picking with barcode scanning",
	)

	ranked := Rank(snapshot, "barcode")
	if len(ranked) != 3 {
		t.Fatalf("expected 3 scored documents, got %d", len(ranked))
	}
	if ranked[0].ID != "c" {
		t.Fatalf("expected highest scoring document first, got %s", ranked[0].ID)
	}
	if ranked[1].ID != "a" || ranked[2].ID != "d" {
		t.Fatalf("expected ties in snapshot order, got %s then %s", ranked[1].ID, ranked[2].ID)
	}
	for _, doc := range ranked {
		if doc.Score <= 0 {
			t.Fatalf("rank returned zero-score document %s", doc.ID)
		}
	}
}

func TestSearchLimitsToK(t *testing.T) {
	snapshot := snapshotOf("dock dock", "dock", "dock dock dock", "dock yard")
	r := NewRetriever(staticSnapshot{snapshot})

	got, err := r.Search(context.Background(), "dock", 2)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 results, got %d", len(got))
	}
	if got[0] != "dock dock dock" {
		t.Fatalf("unexpected top result: %q", got[0])
	}
}

func TestSearchFallsBackToFirstDocuments(t *testing.T) {
	snapshot := snapshotOf("first page", "second page", "third page")
	r := NewRetriever(staticSnapshot{snapshot})

	got, err := r.Search(context.Background(), "zebra", 2)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(got) != 2 || got[0] != "first page" || got[1] != "second page" {
		t.Fatalf("expected first two cached documents, got %v", got)
	}
}

func TestSearchShortTermsOnlyFallsBack(t *testing.T) {
	r := NewRetriever(staticSnapshot{snapshotOf("an ox is here", "second")})
	got, _ := r.Search(context.Background(), "an ox", 5)
	if len(got) != 2 {
		t.Fatalf("expected fallback to every cached document, got %v", got)
	}
}

func TestSearchEmptyCacheReturnsPlaceholder(t *testing.T) {
	r := NewRetriever(staticSnapshot{})
	got, err := r.Search(context.Background(), "warehouse", 5)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(got) != 1 || got[0] != Placeholder {
		t.Fatalf("expected placeholder, got %v", got)
	}
}
