// Package hybrid implements HybridSearch (§4.5): parallel text+vector
// retrieval, rank fusion, optional rerank, and a short-TTL result cache.
package hybrid

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Nonymaus/cursor-kg/internal/domain"
	"github.com/Nonymaus/cursor-kg/internal/search/text"
	"github.com/Nonymaus/cursor-kg/internal/search/vector"
)

// Algorithm selects how text and vector rankings are combined (§4.5).
type Algorithm string

const (
	AlgoRRF    Algorithm = "rrf"
	AlgoLinear Algorithm = "linear"
	AlgoBorda  Algorithm = "borda"
	AlgoMax    Algorithm = "max"
	AlgoMin    Algorithm = "min"
)

const rrfK = 60

// Weights controls the linear fusion algorithm's blend (§4.5 defaults).
type Weights struct {
	Text   float64
	Vector float64
}

// DefaultWeights matches §6's text_search_weight / vector_search_weight.
var DefaultWeights = Weights{Text: 0.3, Vector: 0.7}

// Result is one fused, ranked hybrid hit.
type Result struct {
	Kind      string
	RefID     string
	GroupID   string
	Score     float64
	Embedding []float32 // set only for vector-sourced candidates; used by rerank
}

// Response is what Search returns: the ranked results plus a degrade marker
// set when vector search could not run (§4.5 "degraded: text_only").
type Response struct {
	Results  []Result
	Degraded string // "", or "text_only"
}

// TextSearcher is the subset of text.Searcher hybrid depends on.
type TextSearcher interface {
	Search(ctx context.Context, query string, limit int, groupFilter string) ([]text.Result, error)
}

// VectorSearcher is the subset of vector.Searcher hybrid depends on.
type VectorSearcher interface {
	Search(ctx context.Context, query []float32, k int, groupFilter string) ([]vector.Result, error)
}

// Embedder is the minimal embedding dependency hybrid needs for query vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// EpochSource reports the current write-invalidation epoch for a group
// (§4.5, §4.6), used as part of the cache key so a write never serves a
// stale cached result.
type EpochSource interface {
	GroupEpoch(group string) uint64
}

// Config controls fusion, reranking, caps, and caching (§6).
type Config struct {
	MaxResults      int
	Algorithm       Algorithm
	Weights         Weights
	EnableRerank    bool
	CacheTTL        time.Duration
}

// Searcher fans out to TextSearcher and VectorSearcher, fuses their
// rankings, optionally reranks, and caches results for CacheTTL.
type Searcher struct {
	textSearch   TextSearcher
	vectorSearch VectorSearcher
	embedder     Embedder
	epochs       EpochSource
	cfg          Config

	cache  sync.Map // cacheKey -> cacheEntry
	single singleflight.Group

	observe func(hit bool) // optional, wired to mcp.Metrics.RecordSearchCache
}

// SetCacheObserver wires a callback invoked on every Search call with
// whether the result cache was hit, so callers (e.g. mcp.Metrics) can
// expose the ratio on /metrics without this package depending on them.
func (s *Searcher) SetCacheObserver(f func(hit bool)) {
	s.observe = f
}

type cacheEntry struct {
	resp    Response
	storeAt time.Time
}

// New builds a hybrid Searcher.
func New(ts TextSearcher, vs VectorSearcher, emb Embedder, epochs EpochSource, cfg Config) *Searcher {
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 10
	}
	if cfg.Algorithm == "" {
		cfg.Algorithm = AlgoRRF
	}
	if cfg.Weights == (Weights{}) {
		cfg.Weights = DefaultWeights
	}
	if cfg.CacheTTL <= 0 || cfg.CacheTTL > 5*time.Minute {
		cfg.CacheTTL = 5 * time.Minute
	}
	return &Searcher{textSearch: ts, vectorSearch: vs, embedder: emb, epochs: epochs, cfg: cfg}
}

// Search fans text and vector search out in parallel, fuses their rankings
// with cfg.Algorithm, optionally reranks, and caches the outcome keyed by
// (normalized query, group filter, limit, algorithm, group epoch) for up to
// cfg.CacheTTL. Concurrent identical queries are deduplicated via
// singleflight so only one fan-out actually runs.
func (s *Searcher) Search(ctx context.Context, query string, limit int, groupFilter string) (Response, error) {
	if limit <= 0 || limit > s.cfg.MaxResults {
		limit = s.cfg.MaxResults
	}
	normalized := strings.ToLower(strings.TrimSpace(query))
	key := s.cacheKey(normalized, groupFilter, limit)

	if v, ok := s.cache.Load(key); ok {
		entry := v.(cacheEntry)
		if time.Since(entry.storeAt) < s.cfg.CacheTTL {
			if s.observe != nil {
				s.observe(true)
			}
			return entry.resp, nil
		}
		s.cache.Delete(key)
	}
	if s.observe != nil {
		s.observe(false)
	}

	v, err, _ := s.single.Do(key, func() (any, error) {
		resp, err := s.compute(ctx, normalized, limit, groupFilter)
		if err != nil {
			return Response{}, err
		}
		s.cache.Store(key, cacheEntry{resp: resp, storeAt: time.Now()})
		return resp, nil
	})
	if err != nil {
		return Response{}, err
	}
	return v.(Response), nil
}

func (s *Searcher) cacheKey(query, groupFilter string, limit int) string {
	var epoch uint64
	if s.epochs != nil {
		epoch = s.epochs.GroupEpoch(groupFilter)
	}
	return strings.Join([]string{
		query, groupFilter, string(s.cfg.Algorithm),
		strconv.Itoa(limit), strconv.FormatUint(epoch, 10),
	}, "\x1f")
}

func (s *Searcher) compute(ctx context.Context, query string, limit int, groupFilter string) (Response, error) {
	fetchLimit := limit * 2
	if fetchLimit <= 0 {
		fetchLimit = limit
	}

	var (
		wg         sync.WaitGroup
		textRes    []text.Result
		textErr    error
		vecRes     []vector.Result
		vecErr     error
		queryVec   []float32
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		textRes, textErr = s.textSearch.Search(ctx, query, fetchLimit, groupFilter)
	}()
	go func() {
		defer wg.Done()
		qvec, err := s.embedder.Embed(ctx, query)
		if err != nil {
			vecErr = err
			return
		}
		queryVec = qvec
		vecRes, vecErr = s.vectorSearch.Search(ctx, qvec, fetchLimit, groupFilter)
	}()
	wg.Wait()

	if textErr != nil && vecErr != nil {
		return Response{}, domain.WrapOp("hybrid.Search", textErr)
	}

	var fused []Result
	degraded := ""
	switch {
	case vecErr != nil:
		fused = fromTextOnly(textRes)
		degraded = "text_only"
	case textErr != nil:
		fused = fromVectorOnly(vecRes)
	default:
		fused = fuse(s.cfg.Algorithm, s.cfg.Weights, textRes, vecRes)
	}

	if s.cfg.EnableRerank {
		fused = rerank(fused, query, queryVec)
	}

	sort.SliceStable(fused, func(i, j int) bool { return fused[i].Score > fused[j].Score })
	if len(fused) > limit {
		fused = fused[:limit]
	}
	return Response{Results: fused, Degraded: degraded}, nil
}

func fromTextOnly(res []text.Result) []Result {
	out := make([]Result, len(res))
	for i, r := range res {
		out[i] = Result{Kind: r.Kind, RefID: r.RefID, GroupID: r.GroupID, Score: 1.0 / float64(i+1)}
	}
	return out
}

func fromVectorOnly(res []vector.Result) []Result {
	out := make([]Result, len(res))
	for i, r := range res {
		out[i] = Result{Kind: "node", RefID: r.NodeID, Score: r.Similarity, Embedding: r.Embedding}
	}
	return out
}

type fusionCandidate struct {
	kind, groupID string
	textRank      int // -1 if absent
	vecRank       int // -1 if absent
	textScore     float64
	vecScore      float64
	vecEmbedding  []float32
}

func fuse(algo Algorithm, w Weights, textRes []text.Result, vecRes []vector.Result) []Result {
	candidates := make(map[string]*fusionCandidate)
	order := make([]string, 0, len(textRes)+len(vecRes))

	get := func(refID string) *fusionCandidate {
		c, ok := candidates[refID]
		if !ok {
			c = &fusionCandidate{textRank: -1, vecRank: -1}
			candidates[refID] = c
			order = append(order, refID)
		}
		return c
	}

	for rank, r := range textRes {
		c := get(r.RefID)
		c.kind, c.groupID = r.Kind, r.GroupID
		c.textRank = rank
		c.textScore = -r.Score // bm25 is a cost; invert so higher is better
	}
	for rank, r := range vecRes {
		c := get(r.NodeID)
		if c.kind == "" {
			c.kind = "node"
		}
		c.vecRank = rank
		c.vecScore = r.Similarity
		c.vecEmbedding = r.Embedding
	}

	out := make([]Result, 0, len(order))
	for _, refID := range order {
		c := candidates[refID]
		var score float64
		switch algo {
		case AlgoLinear:
			score = w.Text*normalizedScore(c.textScore, c.textRank) + w.Vector*normalizedScore(c.vecScore, c.vecRank)
		case AlgoBorda:
			score = bordaScore(c.textRank, len(textRes)) + bordaScore(c.vecRank, len(vecRes))
		case AlgoMax:
			score = maxOf(rrfTerm(c.textRank), rrfTerm(c.vecRank))
		case AlgoMin:
			score = minOf(rrfTerm(c.textRank), rrfTerm(c.vecRank))
		default: // RRF
			score = rrfTerm(c.textRank) + rrfTerm(c.vecRank)
		}
		out = append(out, Result{Kind: c.kind, RefID: refID, GroupID: c.groupID, Score: score, Embedding: c.vecEmbedding})
	}
	return out
}

func rrfTerm(rank int) float64 {
	if rank < 0 {
		return 0
	}
	return 1.0 / float64(rrfK+rank+1)
}

func normalizedScore(raw float64, rank int) float64 {
	if rank < 0 {
		return 0
	}
	return raw
}

func bordaScore(rank, total int) float64 {
	if rank < 0 || total == 0 {
		return 0
	}
	return float64(total - rank)
}

func maxOf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minOf(a, b float64) float64 {
	if a == 0 {
		return b
	}
	if b == 0 {
		return a
	}
	if a < b {
		return a
	}
	return b
}

// rerank re-scores fused results by recomputing cosine(query_embedding,
// candidate_embedding) for every candidate that carries a stored vector,
// plus a small boost for exact token overlap against RefID (§4.5 step 4).
func rerank(results []Result, query string, queryVec []float32) []Result {
	terms := strings.Fields(query)
	for i := range results {
		if len(queryVec) > 0 && len(results[i].Embedding) == len(queryVec) {
			results[i].Score += 0.1 * float64(domain.Similarity(queryVec, results[i].Embedding))
		}
		if len(terms) == 0 {
			continue
		}
		overlap := 0
		lowerID := strings.ToLower(results[i].RefID)
		for _, t := range terms {
			if strings.Contains(lowerID, t) {
				overlap++
			}
		}
		results[i].Score += 0.01 * float64(overlap)
	}
	return results
}
