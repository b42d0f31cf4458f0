// Package vector implements VectorSearch (§4.4): linear-scan k-nearest
// neighbors over stored node embeddings with pluggable distance metrics.
package vector

import (
	"container/heap"
	"context"
	"math"
	"sort"

	"github.com/Nonymaus/cursor-kg/internal/domain"
	"github.com/Nonymaus/cursor-kg/internal/storage"
)

// Metric is a vector distance/similarity function (§4.4).
type Metric string

const (
	MetricCosine    Metric = "cosine"
	MetricDot       Metric = "dot"
	MetricEuclidean Metric = "euclidean"
	MetricManhattan Metric = "manhattan"
)

// DefaultSimilarityThreshold is the minimum cosine similarity a result must
// clear to be returned (§4.4).
const DefaultSimilarityThreshold = 0.7

// Result is one ranked vector-search hit.
type Result struct {
	NodeID     string
	Similarity float64   // higher is better, regardless of the underlying metric
	Embedding  []float32 // the stored node vector, for downstream rerank (§4.5 step 4)
}

// Store is the subset of *storage.Store VectorSearch depends on.
type Store interface {
	AllEmbeddings(ctx context.Context, groupFilter string) ([]storage.EmbeddingRow, error)
}

// Searcher runs KNN queries over Store's embeddings.
type Searcher struct {
	store     Store
	metric    Metric
	threshold float64 // cosine-equivalent similarity floor, as configured
	maxDist   float64 // distanceThreshold(threshold), used for euclidean/manhattan
}

// New builds a Searcher. threshold <= 0 uses DefaultSimilarityThreshold.
// threshold is always expressed as a cosine-equivalent similarity in
// [-1, 1]; for euclidean/manhattan metrics it is converted to a maximum
// distance bound since those scores are not naturally in that range.
func New(store Store, metric Metric, threshold float64) *Searcher {
	if metric == "" {
		metric = MetricCosine
	}
	if threshold <= 0 {
		threshold = DefaultSimilarityThreshold
	}
	return &Searcher{store: store, metric: metric, threshold: threshold, maxDist: distanceThreshold(threshold)}
}

// distanceThreshold converts a cosine-equivalent similarity floor into a
// maximum-distance bound using ||a-b||^2 = 2 - 2*cos(a,b), which holds for
// L2-normalized vectors (domain.Embedder guarantees normalized output).
// Manhattan distance has no exact closed-form equivalent; since it is
// always >= euclidean distance for the same pair, reusing the euclidean
// bound is stricter for manhattan: a pair within the bound under euclidean
// distance can exceed it under manhattan distance.
func distanceThreshold(cosineEquivalent float64) float64 {
	sqDist := 2 - 2*cosineEquivalent
	if sqDist < 0 {
		sqDist = 0
	}
	return math.Sqrt(sqDist)
}

// Search returns up to k nodes most similar to query, scanning every stored
// embedding in groupFilter (empty means all groups). Results below the
// configured similarity threshold are dropped; ties are broken by node id
// for a deterministic order (§4.4).
func (s *Searcher) Search(ctx context.Context, query []float32, k int, groupFilter string) ([]Result, error) {
	if domain.IsZeroVector(query) {
		return nil, domain.NewError("vector.Search", domain.ErrInvalidParameters, "query embedding is missing")
	}
	if k <= 0 {
		k = 10
	}

	rows, err := s.store.AllEmbeddings(ctx, groupFilter)
	if err != nil {
		return nil, domain.WrapOp("vector.Search", err)
	}

	h := &topKHeap{}
	heap.Init(h)
	for _, row := range rows {
		if len(row.Vector) != len(query) || domain.IsZeroVector(row.Vector) {
			continue
		}
		sim := score(s.metric, query, row.Vector)
		switch s.metric {
		case MetricEuclidean, MetricManhattan:
			if -sim > s.maxDist { // sim is a negated distance; see score()
				continue
			}
		default:
			if sim < s.threshold {
				continue
			}
		}
		heap.Push(h, Result{NodeID: row.NodeID, Similarity: sim, Embedding: row.Vector})
		if h.Len() > k {
			heap.Pop(h)
		}
	}

	results := make([]Result, h.Len())
	for i := len(results) - 1; i >= 0; i-- {
		results[i] = heap.Pop(h).(Result)
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return results[i].NodeID < results[j].NodeID
	})
	return results, nil
}

func score(m Metric, a, b []float32) float64 {
	switch m {
	case MetricDot:
		return float64(dot(a, b))
	case MetricEuclidean:
		return -euclidean(a, b) // negate so "higher is better" holds uniformly
	case MetricManhattan:
		return -manhattan(a, b)
	default:
		return float64(domain.Similarity(a, b)) // cosine, given normalized inputs
	}
}

func dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

func euclidean(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i] - b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

func manhattan(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i] - b[i])
		if d < 0 {
			d = -d
		}
		sum += d
	}
	return sum
}

// topKHeap is a min-heap on Similarity, bounded to k by the caller, giving
// an O(n log k) top-k selection over the full embedding scan.
type topKHeap []Result

func (h topKHeap) Len() int            { return len(h) }
func (h topKHeap) Less(i, j int) bool  { return h[i].Similarity < h[j].Similarity }
func (h topKHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *topKHeap) Push(x any)         { *h = append(*h, x.(Result)) }
func (h *topKHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
