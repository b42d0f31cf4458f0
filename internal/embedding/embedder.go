// Package embedding implements EmbeddingEngine (§4.1): a local, offline
// embedder with an LRU result cache and request batching/coalescing.
package embedding

import (
	"context"
	"math"
	"strings"
	"unicode"

	"github.com/Nonymaus/cursor-kg/internal/domain"
)

// modelVersion is reported by ModelVersion and mixed into cache keys so a
// future embedding scheme never collides with cached vectors from this one.
// It is not written to the storage layer's embeddings.version column.
const modelVersion = "local-hash-v1"

// LocalEmbedder is a deterministic, dependency-free embedder: it hashes
// token features into buckets of a fixed-width vector and L2-normalizes the
// result. It performs no I/O and never touches the network (§4.1 Non-goals).
type LocalEmbedder struct {
	dimensions int
}

// NewLocalEmbedder returns an embedder producing vectors of width dims.
func NewLocalEmbedder(dims int) *LocalEmbedder {
	if dims <= 0 {
		dims = 256
	}
	return &LocalEmbedder{dimensions: dims}
}

// Dimensions implements domain.Embedder.
func (e *LocalEmbedder) Dimensions() int { return e.dimensions }

// ModelVersion implements domain.Embedder.
func (e *LocalEmbedder) ModelVersion() string { return modelVersion }

// Embed implements domain.Embedder. Identical input always produces an
// identical output vector (§4.1 "embed is a pure function of text+model").
func (e *LocalEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return make([]float32, e.dimensions), nil
	}
	return e.vectorize(text), nil
}

// EmbedBatch implements domain.Embedder, embedding each text independently.
func (e *LocalEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// vectorize hashes each token (and character trigrams, for resilience to
// tokenization noise) into feature buckets, then L2-normalizes.
func (e *LocalEmbedder) vectorize(text string) []float32 {
	v := make([]float64, e.dimensions)

	for _, tok := range tokenize(text) {
		h := fnv1a64(tok)
		bucket := int(h % uint64(e.dimensions))
		sign := 1.0
		if (h>>63)&1 == 1 {
			sign = -1.0
		}
		v[bucket] += sign

		for _, tri := range trigrams(tok) {
			th := fnv1a64(tri)
			tb := int(th % uint64(e.dimensions))
			tsign := 1.0
			if (th>>63)&1 == 1 {
				tsign = -1.0
			}
			v[tb] += 0.5 * tsign
		}
	}

	var sumSq float64
	for _, f := range v {
		sumSq += f * f
	}
	norm := math.Sqrt(sumSq)
	out := make([]float32, e.dimensions)
	if norm == 0 {
		return out // all-zero: IsZeroVector treats this as "missing"
	}
	for i, f := range v {
		out[i] = float32(f / norm)
	}
	return out
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func trigrams(token string) []string {
	runes := []rune(token)
	if len(runes) < 3 {
		return nil
	}
	out := make([]string, 0, len(runes)-2)
	for i := 0; i+3 <= len(runes); i++ {
		out = append(out, string(runes[i:i+3]))
	}
	return out
}

func fnv1a64(s string) uint64 {
	const offset64 = 14695981039346656037
	const prime64 = 1099511628211
	h := uint64(offset64)
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= prime64
	}
	return h
}

var _ domain.Embedder = (*LocalEmbedder)(nil)
