package embedding

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"github.com/Nonymaus/cursor-kg/internal/domain"
)

type lruEntry struct {
	key string
	vec []float32
}

// CachedEmbedder wraps a domain.Embedder with an LRU cache keyed on
// sha256(text + model_version), so a model upgrade never serves a stale
// vector under a reused key (§4.1 "cache key includes model version").
type CachedEmbedder struct {
	inner   domain.Embedder
	maxSize int

	mu    sync.Mutex
	cache map[string]*list.Element
	order *list.List

	hits, misses uint64
	observe      func(hit bool) // optional, wired to Metrics.RecordEmbedCache
}

// SetCacheObserver wires a callback invoked on every Embed lookup with
// whether it was an LRU hit, so callers (e.g. mcp.Metrics) can expose the
// ratio on /metrics without this package depending on them.
func (c *CachedEmbedder) SetCacheObserver(f func(hit bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observe = f
}

// NewCachedEmbedder wraps inner with an LRU cache of capacity maxSize.
// capacity <= 0 disables caching (inner is used directly).
func NewCachedEmbedder(inner domain.Embedder, capacity int) *CachedEmbedder {
	if capacity < 0 {
		capacity = 0
	}
	return &CachedEmbedder{
		inner:   inner,
		maxSize: capacity,
		cache:   make(map[string]*list.Element, capacity),
		order:   list.New(),
	}
}

func (c *CachedEmbedder) cacheKey(text string) string {
	h := sha256.Sum256([]byte(text + "\x00" + c.inner.ModelVersion()))
	return hex.EncodeToString(h[:])
}

// Embed implements domain.Embedder, caching single-text lookups.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if c.maxSize <= 0 {
		return c.inner.Embed(ctx, text)
	}

	key := c.cacheKey(text)

	c.mu.Lock()
	if elem, ok := c.cache[key]; ok {
		c.order.MoveToBack(elem)
		c.hits++
		vec := elem.Value.(*lruEntry).vec
		observe := c.observe
		c.mu.Unlock()
		if observe != nil {
			observe(true)
		}
		return vec, nil
	}
	c.misses++
	observe := c.observe
	c.mu.Unlock()
	if observe != nil {
		observe(false)
	}

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.put(key, vec)
	c.mu.Unlock()
	return vec, nil
}

// EmbedBatch implements domain.Embedder. Each element is routed through the
// single-text cache path so repeated texts within a batch still hit.
func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := c.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Dimensions implements domain.Embedder.
func (c *CachedEmbedder) Dimensions() int { return c.inner.Dimensions() }

// ModelVersion implements domain.Embedder.
func (c *CachedEmbedder) ModelVersion() string { return c.inner.ModelVersion() }

// Stats returns cache hit/miss counters, surfaced on the /metrics endpoint.
func (c *CachedEmbedder) Stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

func (c *CachedEmbedder) put(key string, vec []float32) {
	if elem, ok := c.cache[key]; ok {
		c.order.MoveToBack(elem)
		elem.Value.(*lruEntry).vec = vec
		return
	}
	if c.order.Len() >= c.maxSize {
		oldest := c.order.Front()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.cache, oldest.Value.(*lruEntry).key)
		}
	}
	elem := c.order.PushBack(&lruEntry{key: key, vec: vec})
	c.cache[key] = elem
}

var _ domain.Embedder = (*CachedEmbedder)(nil)
