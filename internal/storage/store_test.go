package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nonymaus/cursor-kg/internal/domain"
	"github.com/Nonymaus/cursor-kg/internal/logger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	lg, _, err := logger.New(logger.Config{Level: "error", Format: "text", Output: "stderr"})
	require.NoError(t, err)

	// A file-backed DB, not ":memory:": modernc's driver opens a distinct
	// in-memory database per connection, which would split writes from
	// reads across the pool.
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(Config{
		Filename:           dbPath,
		ConnectionPoolSize: 4,
		EnableWAL:          true,
		EmbeddingDimension: 4,
	}, lg)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutGetEpisode(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.PutEpisode(ctx, domain.Episode{
		GroupID: "g1", Name: "note", Content: "hello world", Source: domain.SourceText,
	})
	require.NoError(t, err)

	ep, err := s.GetEpisode(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "note", ep.Name)
	assert.Equal(t, "g1", ep.GroupID)
}

func TestPutEpisodeRejectsOversizedContent(t *testing.T) {
	lg, _, err := logger.New(logger.Config{Level: "error", Format: "text", Output: "stderr"})
	require.NoError(t, err)
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(Config{
		Filename:           dbPath,
		ConnectionPoolSize: 4,
		EnableWAL:          true,
		EmbeddingDimension: 4,
		MaxContentLength:   8,
	}, lg)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	_, err = s.PutEpisode(context.Background(), domain.Episode{
		GroupID: "g1", Name: "note", Content: "this content is too long", Source: domain.SourceText,
	})
	assert.ErrorIs(t, err, domain.ErrSizeLimit)
}

func TestPutNodeUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r1, err := s.PutNode(ctx, domain.Node{GroupID: "g1", Name: "Alice", NodeType: "person", Summary: "first"})
	require.NoError(t, err)
	assert.True(t, r1.WasNew)

	r2, err := s.PutNode(ctx, domain.Node{GroupID: "g1", Name: "Alice", NodeType: "person", Summary: "updated"})
	require.NoError(t, err)
	assert.False(t, r2.WasNew)
	assert.Equal(t, r1.ID, r2.ID)

	n, err := s.GetNode(ctx, r2.ID)
	require.NoError(t, err)
	assert.Equal(t, "updated", n.Summary)
}

func TestPutNodeRejectsOversizedSummary(t *testing.T) {
	s := newTestStore(t)
	big := make([]byte, domain.MaxSummaryBytes+1)
	_, err := s.PutNode(context.Background(), domain.Node{GroupID: "g1", Name: "x", NodeType: "t", Summary: string(big)})
	assert.ErrorIs(t, err, domain.ErrSizeLimit)
}

func TestPutEdgeRequiresSameGroup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a, err := s.PutNode(ctx, domain.Node{GroupID: "g1", Name: "A", NodeType: "t"})
	require.NoError(t, err)
	b, err := s.PutNode(ctx, domain.Node{GroupID: "g2", Name: "B", NodeType: "t"})
	require.NoError(t, err)

	_, err = s.PutEdge(ctx, domain.Edge{SourceNodeID: a.ID, TargetNodeID: b.ID, RelationType: "knows"})
	assert.ErrorIs(t, err, domain.ErrInvalidParameters)
}

func TestClearGroupRequiresConfirm(t *testing.T) {
	s := newTestStore(t)
	_, err := s.ClearGroup(context.Background(), "g1", false)
	assert.ErrorIs(t, err, domain.ErrInvalidParameters)
}

func TestClearGroupDeletesEverything(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	n, err := s.PutNode(ctx, domain.Node{GroupID: "g1", Name: "A", NodeType: "t", Embedding: []float32{1, 0, 0, 0}})
	require.NoError(t, err)
	_, err = s.PutEpisode(ctx, domain.Episode{GroupID: "g1", Name: "e", Content: "c", Source: domain.SourceText})
	require.NoError(t, err)

	before := s.GroupEpoch("g1")
	deleted, err := s.ClearGroup(ctx, "g1", true)
	require.NoError(t, err)
	assert.Greater(t, deleted, int64(0))
	assert.Greater(t, s.GroupEpoch("g1"), before)

	_, err = s.GetNode(ctx, n.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGroupEpochBumpsOnWrite(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	e0 := s.GroupEpoch("g1")
	_, err := s.PutNode(ctx, domain.Node{GroupID: "g1", Name: "A", NodeType: "t"})
	require.NoError(t, err)
	assert.Greater(t, s.GroupEpoch("g1"), e0)
}

func TestFTSSearchFindsNodeByName(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.PutNode(ctx, domain.Node{GroupID: "g1", Name: "spinnaker", NodeType: "tool", Summary: "deployment tool"})
	require.NoError(t, err)

	hits, err := s.FTSSearch(ctx, "spinnaker", [5]float64{2.0, 1.5, 1.2, 1.0, 0.8}, 10, "")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "node", hits[0].Kind)
}

func TestAllEmbeddingsRoundTrips(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	vec := []float32{0.1, 0.2, 0.3, 0.4}
	n, err := s.PutNode(ctx, domain.Node{GroupID: "g1", Name: "A", NodeType: "t", Embedding: vec})
	require.NoError(t, err)

	rows, err := s.AllEmbeddings(ctx, "g1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, n.ID, rows[0].NodeID)
	assert.InDeltaSlice(t, vec, rows[0].Vector, 1e-6)
}
