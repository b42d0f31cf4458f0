package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Nonymaus/cursor-kg/internal/config"
	"github.com/Nonymaus/cursor-kg/internal/contextwindow"
	"github.com/Nonymaus/cursor-kg/internal/domain"
	"github.com/Nonymaus/cursor-kg/internal/embedding"
	"github.com/Nonymaus/cursor-kg/internal/extraction"
	"github.com/Nonymaus/cursor-kg/internal/graph"
	"github.com/Nonymaus/cursor-kg/internal/logger"
	mcpserver "github.com/Nonymaus/cursor-kg/internal/mcp"
	"github.com/Nonymaus/cursor-kg/internal/search/hybrid"
	"github.com/Nonymaus/cursor-kg/internal/search/text"
	"github.com/Nonymaus/cursor-kg/internal/search/vector"
	"github.com/Nonymaus/cursor-kg/internal/stability"
	"github.com/Nonymaus/cursor-kg/internal/storage"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flags := parseFlags()

	// 1. Config
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	cfg = cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if flags.validateConfig {
		fmt.Println("config ok")
		return nil
	}

	// 2. Logger
	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	// 3. Storage
	store, err := storage.Open(storage.Config{
		Filename:             cfg.Database.Filename,
		ConnectionPoolSize:   cfg.Database.ConnectionPoolSize,
		EnableWAL:            cfg.Database.EnableWAL,
		CacheSizeKB:          cfg.Database.CacheSizeKB,
		SlowQueryThresholdMS: cfg.Database.SlowQueryThresholdMS,
		EmbeddingDimension:   cfg.Embeddings.Dimensions,
		MaxContentLength:     cfg.Security.MaxContentLength,
	}, log)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer store.Close()

	if flags.dryRun {
		fmt.Println("storage opened ok, exiting (--dry-run)")
		return nil
	}

	// 4. Embedding stack: local hash embedder -> LRU cache -> request batcher.
	local := embedding.NewLocalEmbedder(cfg.Embeddings.Dimensions)
	cached := embedding.NewCachedEmbedder(local, cfg.Embeddings.CacheSize)
	batched := embedding.NewBatcher(cached, cfg.Embeddings.BatchSize, cfg.Embeddings.BatchLatency())

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.Embeddings.WarmupEnabled {
		embedding.Warmup(ctx, batched, log)
	}

	// 5. Stability layer: one breaker per named downstream.
	breakers := stability.NewBreakers(stability.BreakerConfig{
		FailureThreshold: cfg.Stability.CircuitBreaker.FailureThreshold,
		RecoveryTimeout:  cfg.Stability.CircuitBreaker.RecoveryTimeout(),
		SuccessThreshold: cfg.Stability.CircuitBreaker.SuccessThreshold,
		Timeout:          cfg.Stability.CircuitBreaker.Timeout(),
	}, log, "storage", "embedding", "fts", "vector")

	mem := newMemoryAdapter(store, batched, breakers)

	// 6. Search: text + vector + hybrid fusion, each behind its named breaker.
	textSearcher := breakerTextSearcher{inner: text.New(store, nil), breakers: breakers}
	vectorSearcher := breakerVectorSearcher{inner: vector.New(store, vector.MetricCosine, cfg.Search.SimilarityThreshold), breakers: breakers}
	hybridSearcher := hybrid.New(textSearcher, vectorSearcher, batched, store, hybrid.Config{
		MaxResults:   cfg.Search.MaxResults,
		Algorithm:    hybrid.Algorithm(cfg.Search.FusionAlgorithm),
		Weights:      hybrid.Weights{Text: cfg.Search.TextSearchWeight, Vector: cfg.Search.VectorSearchWeight},
		EnableRerank: cfg.Search.EnableReranking,
		CacheTTL:     cfg.Search.ResultCacheTTL(),
	})

	// 7. Graph queries, exposed through the optional query_graph tool.
	graphEngine := graph.New(store)

	// 8. Context window selection, shapes oversized search/episode responses.
	contextSelector, err := contextwindow.New(contextwindow.Config{
		MaxTokens:          cfg.Context.MaxTokens,
		OverlapTokens:      cfg.Context.OverlapTokens,
		PriorityBoost:      cfg.Context.PriorityBoost,
		RecencyWeight:      cfg.Context.RecencyWeight,
		RelevanceThreshold: cfg.Context.RelevanceThreshold,
	}, "cl100k_base")
	if err != nil {
		return fmt.Errorf("context window: %w", err)
	}

	// 9. Request plane.
	deps := mcpserver.Deps{
		Memory:  mem,
		Search:  hybridSearcher,
		Extract: extraction.Extract,
		Context: contextSelector,
		Graph:   graphEngine,
	}
	limiter := mcpserver.NewClientLimiter(cfg.Security.RateLimitRequestsPerMinute, cfg.Security.RateLimitBurst)
	srv := mcpserver.New(deps, mcpserver.Config{
		Transport: cfg.Transport,
		Port:      cfg.Port,
		Auth: mcpserver.AuthConfig{
			Enabled:                 cfg.Security.EnableAuthentication,
			APIKey:                  cfg.Security.APIKey,
			AdminOperationsRequired: cfg.Security.AdminOperationsRequireAuth,
		},
		Limits: mcpserver.Limits{
			MaxContentLength: cfg.Security.MaxContentLength,
			MaxQueryLength:   cfg.Security.MaxQueryLength,
		},
	}, limiter, log)
	cached.SetCacheObserver(srv.Metrics().RecordEmbedCache)
	hybridSearcher.SetCacheObserver(srv.Metrics().RecordSearchCache)
	srv.WithHealthPing(func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		_, err := store.GetEpisode(pingCtx, "__health_probe__")
		if err != nil && !isNotFound(err) {
			return err
		}
		return nil
	})
	srv.Metrics().SetBreakerStateFunc(func() map[string]string {
		states := make(map[string]string, 4)
		for _, name := range []string{"storage", "embedding", "fts", "vector"} {
			states[name] = breakers.State(name)
		}
		return states
	})

	log.Info("cursor-kg starting", "transport", cfg.Transport, "port", cfg.Port)
	return srv.Serve(ctx)
}

type cliFlags struct {
	configPath     string
	validateConfig bool
	dryRun         bool
}

func parseFlags() cliFlags {
	var f cliFlags
	flag.StringVar(&f.configPath, "config", "", "path to a YAML config file")
	flag.BoolVar(&f.validateConfig, "validate-config", false, "load and validate config, then exit")
	flag.BoolVar(&f.dryRun, "dry-run", false, "open storage and exit without starting the request plane")
	flag.Parse()
	return f
}

func isNotFound(err error) bool {
	return domain.ErrorCodeOf(err) == domain.CodeNotFound
}
