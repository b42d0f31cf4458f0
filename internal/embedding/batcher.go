package embedding

import (
	"context"
	"sync"
	"time"

	"github.com/Nonymaus/cursor-kg/internal/domain"
)

// Batcher coalesces concurrent single-text Embed calls into EmbedBatch calls
// of up to batchSize, waiting at most latency for more callers to join
// before flushing (§4.1 batch_size / batch_latency_ms). In cmd/cursor-kg it
// wraps CachedEmbedder, so every Embed call passes through the batcher and
// each batched text is then looked up in the cache.
type Batcher struct {
	inner     domain.Embedder
	batchSize int
	latency   time.Duration

	mu      sync.Mutex
	pending []pendingReq
	timer   *time.Timer
}

type pendingReq struct {
	text   string
	result chan<- batchResult
}

type batchResult struct {
	vec []float32
	err error
}

// NewBatcher wraps inner with request coalescing. batchSize <= 0 defaults to
// 16; latency <= 0 defaults to 10ms, both per §4.1's stated defaults.
func NewBatcher(inner domain.Embedder, batchSize int, latency time.Duration) *Batcher {
	if batchSize <= 0 {
		batchSize = 16
	}
	if latency <= 0 {
		latency = 10 * time.Millisecond
	}
	return &Batcher{inner: inner, batchSize: batchSize, latency: latency}
}

// Embed implements domain.Embedder, joining the current or next batch window.
func (b *Batcher) Embed(ctx context.Context, text string) ([]float32, error) {
	resCh := make(chan batchResult, 1)

	b.mu.Lock()
	b.pending = append(b.pending, pendingReq{text: text, result: resCh})
	shouldFlush := len(b.pending) >= b.batchSize
	if shouldFlush {
		if b.timer != nil {
			b.timer.Stop()
			b.timer = nil
		}
	} else if b.timer == nil {
		b.timer = time.AfterFunc(b.latency, b.flush)
	}
	batch := b.pending
	if shouldFlush {
		b.pending = nil
	}
	b.mu.Unlock()

	if shouldFlush {
		b.runBatch(ctx, batch)
	}

	select {
	case res := <-resCh:
		return res.vec, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (b *Batcher) flush() {
	b.mu.Lock()
	batch := b.pending
	b.pending = nil
	b.timer = nil
	b.mu.Unlock()
	if len(batch) > 0 {
		b.runBatch(context.Background(), batch)
	}
}

func (b *Batcher) runBatch(ctx context.Context, batch []pendingReq) {
	texts := make([]string, len(batch))
	for i, p := range batch {
		texts[i] = p.text
	}
	vecs, err := b.inner.EmbedBatch(ctx, texts)
	for i, p := range batch {
		if err != nil {
			p.result <- batchResult{err: err}
			continue
		}
		p.result <- batchResult{vec: vecs[i]}
	}
}

// EmbedBatch implements domain.Embedder by passing straight through — the
// caller already supplied a batch, so there is nothing to coalesce.
func (b *Batcher) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return b.inner.EmbedBatch(ctx, texts)
}

// Dimensions implements domain.Embedder.
func (b *Batcher) Dimensions() int { return b.inner.Dimensions() }

// ModelVersion implements domain.Embedder.
func (b *Batcher) ModelVersion() string { return b.inner.ModelVersion() }

var _ domain.Embedder = (*Batcher)(nil)
