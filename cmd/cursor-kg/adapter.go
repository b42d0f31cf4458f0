package main

import (
	"context"

	"github.com/Nonymaus/cursor-kg/internal/domain"
	"github.com/Nonymaus/cursor-kg/internal/search/text"
	"github.com/Nonymaus/cursor-kg/internal/search/vector"
	"github.com/Nonymaus/cursor-kg/internal/stability"
	"github.com/Nonymaus/cursor-kg/internal/storage"
)

// memoryAdapter implements mcp.Memory over *storage.Store, routing every
// call through the "storage" breaker and computing node embeddings through
// the "embedding" breaker before a node is persisted (§4.9).
type memoryAdapter struct {
	store    *storage.Store
	embedder domain.Embedder
	breakers *stability.Breakers
}

func newMemoryAdapter(store *storage.Store, embedder domain.Embedder, breakers *stability.Breakers) *memoryAdapter {
	return &memoryAdapter{store: store, embedder: embedder, breakers: breakers}
}

func (m *memoryAdapter) PutEpisode(ctx context.Context, ep domain.Episode) (string, error) {
	res, err := m.breakers.Execute(ctx, "storage", func(ctx context.Context) (any, error) {
		return m.store.PutEpisode(ctx, ep)
	})
	if err != nil {
		return "", err
	}
	return res.(string), nil
}

func (m *memoryAdapter) GetEpisode(ctx context.Context, id string) (domain.Episode, error) {
	res, err := m.breakers.Execute(ctx, "storage", func(ctx context.Context) (any, error) {
		return m.store.GetEpisode(ctx, id)
	})
	if err != nil {
		return domain.Episode{}, err
	}
	return res.(domain.Episode), nil
}

func (m *memoryAdapter) DeleteEpisode(ctx context.Context, id string) error {
	_, err := m.breakers.Execute(ctx, "storage", func(ctx context.Context) (any, error) {
		return nil, m.store.DeleteEpisode(ctx, id)
	})
	return err
}

func (m *memoryAdapter) IterEpisodes(ctx context.Context, groupID string, lastN int) ([]domain.Episode, error) {
	res, err := m.breakers.Execute(ctx, "storage", func(ctx context.Context) (any, error) {
		return m.store.IterEpisodes(ctx, groupID, lastN)
	})
	if err != nil {
		return nil, err
	}
	return res.([]domain.Episode), nil
}

// PutNode embeds n.Name + n.Summary before handing it to Store, since
// Store itself is embedding-agnostic (§4.1, §4.2).
func (m *memoryAdapter) PutNode(ctx context.Context, n domain.Node) (storage.PutNodeResult, error) {
	if domain.IsZeroVector(n.Embedding) {
		input := n.Name
		if n.Summary != "" {
			input = n.Name + " " + n.Summary
		}
		vec, err := m.breakers.Execute(ctx, "embedding", func(ctx context.Context) (any, error) {
			return m.embedder.Embed(ctx, input)
		})
		if err != nil {
			return storage.PutNodeResult{}, err
		}
		n.Embedding = vec.([]float32)
	}

	res, err := m.breakers.Execute(ctx, "storage", func(ctx context.Context) (any, error) {
		return m.store.PutNode(ctx, n)
	})
	if err != nil {
		return storage.PutNodeResult{}, err
	}
	return res.(storage.PutNodeResult), nil
}

func (m *memoryAdapter) PutEdge(ctx context.Context, e domain.Edge) (string, error) {
	res, err := m.breakers.Execute(ctx, "storage", func(ctx context.Context) (any, error) {
		return m.store.PutEdge(ctx, e)
	})
	if err != nil {
		return "", err
	}
	return res.(string), nil
}

func (m *memoryAdapter) GetEdge(ctx context.Context, id string) (domain.Edge, error) {
	res, err := m.breakers.Execute(ctx, "storage", func(ctx context.Context) (any, error) {
		return m.store.GetEdge(ctx, id)
	})
	if err != nil {
		return domain.Edge{}, err
	}
	return res.(domain.Edge), nil
}

func (m *memoryAdapter) DeleteEdge(ctx context.Context, id string) error {
	_, err := m.breakers.Execute(ctx, "storage", func(ctx context.Context) (any, error) {
		return nil, m.store.DeleteEdge(ctx, id)
	})
	return err
}

func (m *memoryAdapter) EdgesForGroup(ctx context.Context, groupID string, limit int) ([]domain.Edge, error) {
	res, err := m.breakers.Execute(ctx, "storage", func(ctx context.Context) (any, error) {
		return m.store.EdgesForGroup(ctx, groupID, limit)
	})
	if err != nil {
		return nil, err
	}
	return res.([]domain.Edge), nil
}

func (m *memoryAdapter) ClearGroup(ctx context.Context, groupID string, confirm bool) (int64, error) {
	res, err := m.breakers.Execute(ctx, "storage", func(ctx context.Context) (any, error) {
		return m.store.ClearGroup(ctx, groupID, confirm)
	})
	if err != nil {
		return 0, err
	}
	return res.(int64), nil
}

// breakerTextSearcher wraps text.Searcher so FTS lookups fail fast through
// the "fts" breaker instead of hammering a struggling index (§4.9).
type breakerTextSearcher struct {
	inner    *text.Searcher
	breakers *stability.Breakers
}

func (b breakerTextSearcher) Search(ctx context.Context, query string, limit int, groupFilter string) ([]text.Result, error) {
	res, err := b.breakers.Execute(ctx, "fts", func(ctx context.Context) (any, error) {
		return b.inner.Search(ctx, query, limit, groupFilter)
	})
	if err != nil {
		return nil, err
	}
	return res.([]text.Result), nil
}

// breakerVectorSearcher wraps vector.Searcher behind the "vector" breaker.
type breakerVectorSearcher struct {
	inner    *vector.Searcher
	breakers *stability.Breakers
}

func (b breakerVectorSearcher) Search(ctx context.Context, query []float32, k int, groupFilter string) ([]vector.Result, error) {
	res, err := b.breakers.Execute(ctx, "vector", func(ctx context.Context) (any, error) {
		return b.inner.Search(ctx, query, k, groupFilter)
	})
	if err != nil {
		return nil, err
	}
	return res.([]vector.Result), nil
}
