package mcp

import (
	"sync"

	"golang.org/x/time/rate"
)

// ClientLimiter hands out a token-bucket limiter per client id, matching
// §6's rate_limit_requests_per_minute / rate_limit_burst (§4.8).
type ClientLimiter struct {
	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	perMinute    int
	burst        int
}

// NewClientLimiter builds a ClientLimiter. requestsPerMinute <= 0 disables
// limiting (Allow always returns true).
func NewClientLimiter(requestsPerMinute, burst int) *ClientLimiter {
	if burst <= 0 {
		burst = requestsPerMinute
	}
	return &ClientLimiter{limiters: make(map[string]*rate.Limiter), perMinute: requestsPerMinute, burst: burst}
}

// Allow reports whether clientID may proceed right now, consuming a token
// from its bucket if so.
func (c *ClientLimiter) Allow(clientID string) bool {
	if c.perMinute <= 0 {
		return true
	}

	c.mu.Lock()
	l, ok := c.limiters[clientID]
	if !ok {
		l = rate.NewLimiter(rate.Limit(float64(c.perMinute)/60.0), c.burst)
		c.limiters[clientID] = l
	}
	c.mu.Unlock()

	return l.Allow()
}
