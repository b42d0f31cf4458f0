package vector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nonymaus/cursor-kg/internal/storage"
)

type fakeStore struct {
	rows []storage.EmbeddingRow
}

func (f *fakeStore) AllEmbeddings(ctx context.Context, groupFilter string) ([]storage.EmbeddingRow, error) {
	return f.rows, nil
}

func TestSearchReturnsTopKByCosine(t *testing.T) {
	fs := &fakeStore{rows: []storage.EmbeddingRow{
		{NodeID: "a", Vector: []float32{1, 0, 0}},
		{NodeID: "b", Vector: []float32{0.9, 0.1, 0}},
		{NodeID: "c", Vector: []float32{0, 1, 0}},
	}}
	s := New(fs, MetricCosine, 0.5)
	results, err := s.Search(context.Background(), []float32{1, 0, 0}, 2, "")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].NodeID)
	assert.Equal(t, "b", results[1].NodeID)
}

func TestSearchDropsBelowThreshold(t *testing.T) {
	fs := &fakeStore{rows: []storage.EmbeddingRow{
		{NodeID: "a", Vector: []float32{1, 0, 0}},
		{NodeID: "c", Vector: []float32{0, 1, 0}},
	}}
	s := New(fs, MetricCosine, 0.9)
	results, err := s.Search(context.Background(), []float32{1, 0, 0}, 10, "")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].NodeID)
}

func TestSearchRejectsZeroQuery(t *testing.T) {
	s := New(&fakeStore{}, MetricCosine, 0)
	_, err := s.Search(context.Background(), []float32{0, 0, 0}, 5, "")
	assert.Error(t, err)
}

func TestSearchEuclideanMetricReturnsCloseVectors(t *testing.T) {
	fs := &fakeStore{rows: []storage.EmbeddingRow{
		{NodeID: "a", Vector: []float32{1, 0, 0}},
		{NodeID: "b", Vector: []float32{0, 1, 0}},
	}}
	s := New(fs, MetricEuclidean, DefaultSimilarityThreshold)
	results, err := s.Search(context.Background(), []float32{1, 0, 0}, 5, "")
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "a", results[0].NodeID)
}

func TestSearchManhattanMetricReturnsCloseVectors(t *testing.T) {
	fs := &fakeStore{rows: []storage.EmbeddingRow{
		{NodeID: "a", Vector: []float32{1, 0, 0}},
		{NodeID: "b", Vector: []float32{0, 1, 0}},
	}}
	s := New(fs, MetricManhattan, DefaultSimilarityThreshold)
	results, err := s.Search(context.Background(), []float32{1, 0, 0}, 5, "")
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "a", results[0].NodeID)
}

func TestSearchSkipsDimensionMismatch(t *testing.T) {
	fs := &fakeStore{rows: []storage.EmbeddingRow{
		{NodeID: "a", Vector: []float32{1, 0}},
	}}
	s := New(fs, MetricCosine, 0.1)
	results, err := s.Search(context.Background(), []float32{1, 0, 0}, 5, "")
	require.NoError(t, err)
	assert.Empty(t, results)
}
