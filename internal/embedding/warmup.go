package embedding

import (
	"context"
	"log/slog"

	"github.com/Nonymaus/cursor-kg/internal/domain"
)

// warmupCorpus is a small fixed set of representative strings embedded once
// at startup so the first real request does not pay first-use costs (§4.1
// warmup_enabled). Failure here is logged and otherwise ignored: warmup is
// an optimization, never a readiness gate.
var warmupCorpus = []string{
	"entity relationship knowledge graph",
	"function definition and call site",
	"configuration and deployment",
	"error handling and retries",
	"search query and ranking",
}

// Warmup embeds warmupCorpus through e, discarding the vectors. When e sits
// behind a CachedEmbedder, this pre-populates the cache.
func Warmup(ctx context.Context, e domain.Embedder, logger *slog.Logger) {
	if _, err := e.EmbedBatch(ctx, warmupCorpus); err != nil {
		logger.Warn("embedding warmup failed", "error", err)
	}
}
