// Package text implements TextSearch (§4.3): FTS5/BM25 ranking over
// episodes and nodes, with field boosts, fuzzy token expansion, and
// phrase/boolean/wildcard query syntax passed straight through to FTS5.
package text

import (
	"context"
	"sort"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/Nonymaus/cursor-kg/internal/domain"
	"github.com/Nonymaus/cursor-kg/internal/storage"
)

// fieldWeights mirrors the bm25(fts_index, ...) column order in
// storage/schema.go: name, node_type, summary, content, metadata.
var fieldWeights = [5]float64{2.0, 1.5, 1.2, 1.0, 0.8}

// fuzzyMinLen is the minimum token length eligible for Levenshtein-2 expansion.
const fuzzyMinLen = 4

// Result is one ranked text-search hit, resolved back to its source row.
type Result struct {
	Kind    string // "node" or "episode"
	RefID   string
	GroupID string
	Score   float64 // bm25 cost: lower is better
	Updated time.Time
}

// Store is the subset of *storage.Store TextSearch depends on.
type Store interface {
	FTSSearch(ctx context.Context, matchQuery string, weights [5]float64, limit int, groupFilter string) ([]storage.FTSHit, error)
	UpdatedAtOf(ctx context.Context, kind, refID string) (string, error)
}

// Searcher runs FTS queries against Store.
type Searcher struct {
	store Store
	// vocabulary is a snapshot of indexed tokens used for fuzzy expansion.
	// It is optional: nil disables fuzzy matching without erroring.
	vocabulary func() []string
}

// New builds a Searcher. vocabulary may be nil.
func New(store Store, vocabulary func() []string) *Searcher {
	return &Searcher{store: store, vocabulary: vocabulary}
}

// Search runs query against the FTS index, normalizing to NFKC/casefold,
// expanding tokens of at least fuzzyMinLen characters with vocabulary
// entries within edit distance 2, and passing phrase/boolean/wildcard
// syntax straight through to FTS5 (§4.3). Ties in bm25 score are broken by
// most recent updated_at.
func (s *Searcher) Search(ctx context.Context, query string, limit int, groupFilter string) ([]Result, error) {
	matchQuery := norm.NFKC.String(query)
	if !containsFTSSyntax(matchQuery) {
		matchQuery = s.expand(normalize(query))
	}

	hits, err := s.store.FTSSearch(ctx, matchQuery, fieldWeights, limit, groupFilter)
	if err != nil {
		return nil, domain.WrapOp("text.Search", err)
	}

	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		ts, err := s.store.UpdatedAtOf(ctx, h.Kind, h.RefID)
		var updated time.Time
		if err == nil {
			updated, _ = time.Parse(time.RFC3339Nano, ts)
		}
		results = append(results, Result{Kind: h.Kind, RefID: h.RefID, GroupID: h.GroupID, Score: h.Score, Updated: updated})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score < results[j].Score
		}
		return results[i].Updated.After(results[j].Updated)
	})
	return results, nil
}

// normalize applies NFKC and casefolds the query (§4.3).
func normalize(s string) string {
	return strings.ToLower(norm.NFKC.String(s))
}

// containsFTSSyntax reports whether q already uses FTS5 query syntax
// (phrases, boolean operators, wildcards), in which case it is passed
// through verbatim rather than tokenized and fuzzy-expanded.
func containsFTSSyntax(q string) bool {
	return strings.ContainsAny(q, `"*`) ||
		strings.Contains(q, " AND ") || strings.Contains(q, " OR ") || strings.Contains(q, " NOT ")
}

// expand tokenizes q and, for each token of at least fuzzyMinLen bytes, adds
// every other vocabulary entry within edit distance 2 as an OR-ed
// alternative, whether or not the token itself is in the vocabulary
// (§4.3 "fuzzy matching within edit distance 2 for tokens >= 4 chars").
func (s *Searcher) expand(q string) string {
	if containsFTSSyntax(q) || s.vocabulary == nil {
		return q
	}

	tokens := strings.FieldsFunc(q, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(tokens) == 0 {
		return q
	}

	vocab := s.vocabulary()
	clauses := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		alt := []string{tok}
		if len(tok) >= fuzzyMinLen {
			for _, v := range vocab {
				if v == tok {
					continue
				}
				if levenshtein(tok, v) <= 2 {
					alt = append(alt, v)
				}
			}
		}
		if len(alt) == 1 {
			clauses = append(clauses, alt[0])
		} else {
			clauses = append(clauses, "("+strings.Join(alt, " OR ")+")")
		}
	}
	return strings.Join(clauses, " AND ")
}

// levenshtein computes edit distance between a and b.
func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	la, lb := len(ra), len(rb)
	prev := make([]int, lb+1)
	curr := make([]int, lb+1)
	for j := 0; j <= lb; j++ {
		prev[j] = j
	}
	for i := 1; i <= la; i++ {
		curr[0] = i
		for j := 1; j <= lb; j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min3(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[lb]
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}
