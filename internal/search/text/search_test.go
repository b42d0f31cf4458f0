package text

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nonymaus/cursor-kg/internal/storage"
)

type fakeStore struct {
	hits      []storage.FTSHit
	updatedAt map[string]string
}

func (f *fakeStore) FTSSearch(ctx context.Context, matchQuery string, weights [5]float64, limit int, groupFilter string) ([]storage.FTSHit, error) {
	return f.hits, nil
}

func (f *fakeStore) UpdatedAtOf(ctx context.Context, kind, refID string) (string, error) {
	return f.updatedAt[kind+":"+refID], nil
}

func TestSearchOrdersByScoreThenRecency(t *testing.T) {
	fs := &fakeStore{
		hits: []storage.FTSHit{
			{Kind: "node", RefID: "a", GroupID: "g1", Score: 1.0},
			{Kind: "node", RefID: "b", GroupID: "g1", Score: 1.0},
			{Kind: "node", RefID: "c", GroupID: "g1", Score: 0.5},
		},
		updatedAt: map[string]string{
			"node:a": "2026-01-01T00:00:00Z",
			"node:b": "2026-06-01T00:00:00Z",
			"node:c": "2026-01-01T00:00:00Z",
		},
	}
	s := New(fs, nil)
	results, err := s.Search(context.Background(), "hello", 10, "")
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "c", results[0].RefID) // lowest (best) bm25 score first
	assert.Equal(t, "b", results[1].RefID) // tie broken by more recent update
	assert.Equal(t, "a", results[2].RefID)
}

func TestExpandPassesThroughFTSSyntax(t *testing.T) {
	s := New(&fakeStore{}, func() []string { return []string{"something"} })
	assert.Equal(t, `"exact phrase"`, s.expand(`"exact phrase"`))
	assert.Equal(t, "foo*", s.expand("foo*"))
}

func TestExpandAddsFuzzyAlternatives(t *testing.T) {
	s := New(&fakeStore{}, func() []string { return []string{"spinnaker", "unrelated"} })
	expanded := s.expand("spinaker")
	assert.Contains(t, expanded, "spinnaker")
	assert.Contains(t, expanded, "spinaker")
}

func TestLevenshtein(t *testing.T) {
	assert.Equal(t, 0, levenshtein("abc", "abc"))
	assert.Equal(t, 1, levenshtein("abc", "abd"))
	assert.Equal(t, 1, levenshtein("kitten", "sitten"))
}
