package content

import (
	"context"
	"sort"
	"strings"
	"unicode/utf8"
)

// Placeholder is the only context returned when no content has ever been fetched.
const Placeholder = "PALMS™ is a comprehensive warehouse management system designed to optimize your operations."

const (
	titleAreaRunes = 100
	titleBonus     = 10
	minTermRunes   = 3
)

type ScoredDocument struct {
	Document
	Score int
}

// Snapshotter is the part of Store the retriever depends on.
type Snapshotter interface {
	Get(ctx context.Context) Snapshot
}

// Retriever ranks the current content snapshot by keyword overlap with a query.
type Retriever struct {
	store Snapshotter
}

func NewRetriever(store Snapshotter) *Retriever {
	return &Retriever{store: store}
}

// Search returns the text of at most k documents, best first. When nothing scores it
// falls back to the first k cached documents, and to Placeholder when the cache is
// empty, so callers always have some grounding text.
func (r *Retriever) Search(ctx context.Context, query string, k int) ([]string, error) {
	if k <= 0 {
		return nil, nil
	}

	snapshot := r.store.Get(ctx)
	if snapshot.Empty() {
		return []string{Placeholder}, nil
	}

	ranked := Rank(snapshot, query)
	out := make([]string, 0, k)
	for _, doc := range ranked {
		if len(out) == k {
			break
		}
		out = append(out, doc.Text)
	}
	if len(out) > 0 {
		return out, nil
	}

	for _, doc := range snapshot.Documents {
		if len(out) == k {
			break
		}
		out = append(out, doc.Text)
	}
	return out, nil
}

// Rank scores every document in the snapshot and returns those with a positive score,
// highest first. Equal scores keep snapshot order.
func Rank(snapshot Snapshot, query string) []ScoredDocument {
	terms := queryTerms(query)
	if len(terms) == 0 {
		return nil
	}

	var scored []ScoredDocument
	for _, doc := range snapshot.Documents {
		if score := Score(doc.Text, terms); score > 0 {
			scored = append(scored, ScoredDocument{Document: doc, Score: score})
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	return scored
}

// Score weighs each term by its length times its occurrences in text, plus a bonus
// when the term also appears in the opening characters where titles live.
func Score(text string, terms []string) int {
	lower := strings.ToLower(text)
	titleArea := prefixRunes(lower, titleAreaRunes)

	score := 0
	for _, term := range terms {
		n := utf8.RuneCountInString(term)
		score += strings.Count(lower, term) * n
		if strings.Contains(titleArea, term) {
			score += titleBonus
		}
	}
	return score
}

// queryTerms lowercases and splits the query on whitespace, dropping terms shorter
// than three characters. Repeated terms are kept and count once per repetition.
func queryTerms(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	terms := fields[:0]
	for _, f := range fields {
		if utf8.RuneCountInString(f) >= minTermRunes {
			terms = append(terms, f)
		}
	}
	return terms
}

func prefixRunes(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
