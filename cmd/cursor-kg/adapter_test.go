package main

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nonymaus/cursor-kg/internal/domain"
	"github.com/Nonymaus/cursor-kg/internal/embedding"
	"github.com/Nonymaus/cursor-kg/internal/logger"
	"github.com/Nonymaus/cursor-kg/internal/stability"
	"github.com/Nonymaus/cursor-kg/internal/storage"
)

func newTestAdapter(t *testing.T) (*memoryAdapter, *storage.Store) {
	t.Helper()
	lg, _, err := logger.New(logger.Config{Level: "error", Format: "text", Output: "stderr"})
	require.NoError(t, err)

	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := storage.Open(storage.Config{
		Filename:           dbPath,
		ConnectionPoolSize: 4,
		EnableWAL:          true,
		EmbeddingDimension: 8,
	}, lg)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	emb := embedding.NewLocalEmbedder(8)
	breakers := stability.NewBreakers(stability.BreakerConfig{}, lg, "storage", "embedding", "fts", "vector")
	return newMemoryAdapter(store, emb, breakers), store
}

func TestMemoryAdapterPutNodeComputesEmbedding(t *testing.T) {
	mem, store := newTestAdapter(t)
	ctx := context.Background()

	res, err := mem.PutNode(ctx, domain.Node{GroupID: "g1", Name: "alice", Summary: "works at acme"})
	require.NoError(t, err)
	assert.True(t, res.WasNew)

	node, err := store.GetNode(ctx, res.ID)
	require.NoError(t, err)
	assert.False(t, domain.IsZeroVector(node.Embedding))
}

func TestMemoryAdapterPutGetEpisodeRoundTrips(t *testing.T) {
	mem, _ := newTestAdapter(t)
	ctx := context.Background()

	id, err := mem.PutEpisode(ctx, domain.Episode{
		GroupID: "g1", Name: "note", Content: "hello", Source: domain.SourceText, CreatedAt: time.Now(),
	})
	require.NoError(t, err)

	ep, err := mem.GetEpisode(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "note", ep.Name)
}

func TestMemoryAdapterGetEpisodeNotFound(t *testing.T) {
	mem, _ := newTestAdapter(t)

	_, err := mem.GetEpisode(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestMemoryAdapterClearGroupRequiresConfirm(t *testing.T) {
	mem, _ := newTestAdapter(t)

	_, err := mem.ClearGroup(context.Background(), "g1", false)
	require.Error(t, err)
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, isNotFound(domain.NewError("x", domain.ErrNotFound, "missing")))
	assert.False(t, isNotFound(domain.NewError("x", domain.ErrStorage, "boom")))
}
