// Package config loads and validates the server's YAML configuration (§6).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Nonymaus/cursor-kg/internal/logger"
)

// Config is the top-level application configuration.
type Config struct {
	Transport  string           `yaml:"transport"` // stdio, sse — overridden by MCP_TRANSPORT
	Port       int              `yaml:"port"`       // overridden by MCP_PORT
	Logger     logger.Config    `yaml:"logger"`
	Security   SecurityConfig   `yaml:"security"`
	Database   DatabaseConfig   `yaml:"database"`
	Embeddings EmbeddingConfig  `yaml:"embeddings"`
	Search     SearchConfig     `yaml:"search"`
	Stability  StabilityConfig  `yaml:"stability"`
	Context    ContextConfig    `yaml:"context"`
}

// SecurityConfig groups auth/quota settings (§6).
type SecurityConfig struct {
	EnableAuthentication        bool   `yaml:"enable_authentication"`
	APIKey                      string `yaml:"api_key"`
	AdminOperationsRequireAuth  bool   `yaml:"admin_operations_require_auth"`
	RateLimitRequestsPerMinute  int    `yaml:"rate_limit_requests_per_minute"`
	RateLimitBurst              int    `yaml:"rate_limit_burst"`
	MaxContentLength             int    `yaml:"max_content_length"`
	MaxQueryLength                int    `yaml:"max_query_length"`
	MaxPathLength                  int    `yaml:"max_path_length"`
	MaxArraySize                    int    `yaml:"max_array_size"`
}

// DatabaseConfig groups storage-engine settings (§6, §4.2).
type DatabaseConfig struct {
	Filename              string `yaml:"filename"`
	ConnectionPoolSize    int    `yaml:"connection_pool_size"`
	EnableWAL             bool   `yaml:"enable_wal"`
	CacheSizeKB           int    `yaml:"cache_size_kb"`
	BackupEnabled         bool   `yaml:"backup_enabled"`
	BackupIntervalHours   int    `yaml:"backup_interval_hours"`
	SlowQueryThresholdMS  int    `yaml:"slow_query_threshold_ms"`
	EmbeddingDimensions   int    `yaml:"embedding_dimensions"`
}

// EmbeddingConfig groups EmbeddingEngine settings (§6, §4.1).
type EmbeddingConfig struct {
	ModelName      string `yaml:"model_name"`
	Dimensions     int    `yaml:"dimensions"`
	BatchSize      int    `yaml:"batch_size"`
	BatchLatencyMS int    `yaml:"batch_latency_ms"`
	CacheSize      int    `yaml:"cache_size"`
	WarmupEnabled  bool   `yaml:"warmup_enabled"`
}

// SearchConfig groups HybridSearch settings (§6, §4.5).
type SearchConfig struct {
	MaxResults           int     `yaml:"max_results"`
	SimilarityThreshold  float64 `yaml:"similarity_threshold"`
	EnableHybridSearch   bool    `yaml:"enable_hybrid_search"`
	TextSearchWeight     float64 `yaml:"text_search_weight"`
	VectorSearchWeight   float64 `yaml:"vector_search_weight"`
	EnableReranking      bool    `yaml:"enable_reranking"`
	FusionAlgorithm      string  `yaml:"fusion_algorithm"` // rrf, linear, borda, max, min
	ResultCacheTTLSec    int     `yaml:"result_cache_ttl_seconds"`
}

// StabilityConfig groups StabilityLayer settings (§6, §4.9).
type StabilityConfig struct {
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Retry          RetryConfig          `yaml:"retry"`
}

type CircuitBreakerConfig struct {
	FailureThreshold     int `yaml:"failure_threshold"`
	RecoveryTimeoutSec   int `yaml:"recovery_timeout_seconds"`
	SuccessThreshold     int `yaml:"success_threshold"`
	TimeoutSec           int `yaml:"timeout_seconds"`
}

type RetryConfig struct {
	MaxRetries         int  `yaml:"max_retries"`
	BaseDelayMS        int  `yaml:"base_delay_ms"`
	MaxDelayMS         int  `yaml:"max_delay_ms"`
	ExponentialBackoff bool `yaml:"exponential_backoff"`
}

// ContextConfig groups ContextWindow settings (§6, §4.10).
type ContextConfig struct {
	MaxTokens          int     `yaml:"max_tokens"`
	OverlapTokens      int     `yaml:"overlap_tokens"`
	PriorityBoost      float64 `yaml:"priority_boost"`
	RecencyWeight      float64 `yaml:"recency_weight"`
	RelevanceThreshold float64 `yaml:"relevance_threshold"`
}

// Default returns a Config populated with the defaults named throughout spec §4.
func Default() Config {
	return Config{
		Transport: "stdio",
		Port:      8787,
		Logger:    logger.Config{Level: "info", Format: "json", Output: "stderr"},
		Security: SecurityConfig{
			EnableAuthentication:       false,
			AdminOperationsRequireAuth: true,
			RateLimitRequestsPerMinute: 60,
			RateLimitBurst:             10,
			MaxContentLength:           1 << 20, // 1 MiB
			MaxQueryLength:             2048,
			MaxPathLength:              4096,
			MaxArraySize:               1000,
		},
		Database: DatabaseConfig{
			Filename:             "cursor-kg.db",
			ConnectionPoolSize:   8,
			EnableWAL:            true,
			CacheSizeKB:          8000,
			BackupEnabled:        false,
			BackupIntervalHours:  24,
			SlowQueryThresholdMS: 250,
			EmbeddingDimensions:  256,
		},
		Embeddings: EmbeddingConfig{
			ModelName:      "local-hash-v1",
			Dimensions:     256,
			BatchSize:      16,
			BatchLatencyMS: 10,
			CacheSize:      500,
			WarmupEnabled:  true,
		},
		Search: SearchConfig{
			MaxResults:          10,
			SimilarityThreshold: 0.7,
			EnableHybridSearch:  true,
			TextSearchWeight:    0.3,
			VectorSearchWeight:  0.7,
			EnableReranking:     true,
			FusionAlgorithm:     "rrf",
			ResultCacheTTLSec:   300,
		},
		Stability: StabilityConfig{
			CircuitBreaker: CircuitBreakerConfig{
				FailureThreshold:   5,
				RecoveryTimeoutSec: 30,
				SuccessThreshold:   2,
				TimeoutSec:         10,
			},
			Retry: RetryConfig{
				MaxRetries:         3,
				BaseDelayMS:        50,
				MaxDelayMS:         2000,
				ExponentialBackoff: true,
			},
		},
		Context: ContextConfig{
			MaxTokens:          128000,
			OverlapTokens:      200,
			PriorityBoost:      1.5,
			RecencyWeight:      0.3,
			RelevanceThreshold: 0.1,
		},
	}
}

// Load reads path, merging over Default(). A missing file is not an error —
// Default() is returned as-is, matching the teacher's forgiving config load.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %q: %w", path, err)
	}
	return cfg, nil
}

// RecoveryTimeout returns the circuit breaker recovery timeout as a duration.
func (c CircuitBreakerConfig) RecoveryTimeout() time.Duration {
	return time.Duration(c.RecoveryTimeoutSec) * time.Second
}

// Timeout returns the per-call circuit breaker timeout as a duration.
func (c CircuitBreakerConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// BaseDelay returns the retry base delay as a duration.
func (c RetryConfig) BaseDelay() time.Duration {
	return time.Duration(c.BaseDelayMS) * time.Millisecond
}

// MaxDelay returns the retry max delay as a duration.
func (c RetryConfig) MaxDelay() time.Duration {
	return time.Duration(c.MaxDelayMS) * time.Millisecond
}

// BatchLatency returns the embedding batch coalescing wait as a duration.
func (c EmbeddingConfig) BatchLatency() time.Duration {
	return time.Duration(c.BatchLatencyMS) * time.Millisecond
}

// ResultCacheTTL returns the hybrid search result cache TTL as a duration,
// capped at 5 minutes per §4.5.
func (c SearchConfig) ResultCacheTTL() time.Duration {
	ttl := time.Duration(c.ResultCacheTTLSec) * time.Second
	if ttl > 5*time.Minute || ttl <= 0 {
		return 5 * time.Minute
	}
	return ttl
}
