package config

import (
	"fmt"
	"os"
	"strconv"
)

// Validate checks invariants that Default() alone cannot guarantee once a
// YAML file has overridden fields (§6 "recognized keys").
func (c Config) Validate() error {
	if c.Database.ConnectionPoolSize <= 0 {
		return fmt.Errorf("database.connection_pool_size must be > 0")
	}
	if c.Embeddings.Dimensions <= 0 {
		return fmt.Errorf("embeddings.dimensions must be > 0")
	}
	if c.Database.EmbeddingDimensions != 0 && c.Database.EmbeddingDimensions != c.Embeddings.Dimensions {
		return fmt.Errorf("database.embedding_dimensions (%d) must match embeddings.dimensions (%d)",
			c.Database.EmbeddingDimensions, c.Embeddings.Dimensions)
	}
	if c.Search.TextSearchWeight < 0 || c.Search.VectorSearchWeight < 0 {
		return fmt.Errorf("search weights must be non-negative")
	}
	if c.Security.RateLimitRequestsPerMinute < 0 || c.Security.RateLimitBurst < 0 {
		return fmt.Errorf("security rate limit settings must be non-negative")
	}
	if c.Security.EnableAuthentication && c.Security.APIKey == "" {
		return fmt.Errorf("security.api_key is required when enable_authentication is true")
	}
	switch c.Transport {
	case "stdio", "sse", "":
	default:
		return fmt.Errorf("transport must be %q or %q, got %q", "stdio", "sse", c.Transport)
	}
	return nil
}

// ApplyEnvOverrides applies the recognized environment overrides (§6):
// MCP_TRANSPORT, MCP_PORT, and log level.
func (c Config) ApplyEnvOverrides() Config {
	if v := os.Getenv("MCP_TRANSPORT"); v != "" {
		c.Transport = v
	}
	if v := os.Getenv("MCP_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Port = p
		}
	}
	if v := os.Getenv("MCP_LOG_LEVEL"); v != "" {
		c.Logger.Level = v
	}
	return c
}
