package stability

import (
	"context"
	"math/rand"
	"time"

	"github.com/Nonymaus/cursor-kg/internal/domain"
)

// RetryConfig controls exponential-backoff retry for idempotent reads only
// (§4.9 — writes are never automatically retried).
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// Retry runs fn, retrying up to cfg.MaxRetries times on a
// domain.IsRetryable error with exponential backoff (base * 2^attempt,
// capped at MaxDelay, minus up to 10% jitter to avoid thundering herds).
func Retry(ctx context.Context, cfg RetryConfig, fn func(context.Context) (any, error)) (any, error) {
	base := cfg.BaseDelay
	if base <= 0 {
		base = 50 * time.Millisecond
	}
	maxDelay := cfg.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}

	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !domain.IsRetryable(err) || attempt == cfg.MaxRetries {
			return nil, err
		}

		delay := backoff(base, maxDelay, attempt)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

func backoff(base, max time.Duration, attempt int) time.Duration {
	d := base << attempt
	if d <= 0 || d > max {
		d = max
	}
	jitter := time.Duration(rand.Int63n(int64(d)/5 + 1)) // up to 20%, halved below
	return d - jitter/2
}
