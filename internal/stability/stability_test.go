package stability

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nonymaus/cursor-kg/internal/domain"
)

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b := NewBreakers(BreakerConfig{FailureThreshold: 2, RecoveryTimeout: time.Minute}, slog.Default(), "storage")
	fail := func(ctx context.Context) (any, error) { return nil, domain.ErrStorage }

	_, _ = b.Execute(context.Background(), "storage", fail)
	_, _ = b.Execute(context.Background(), "storage", fail)

	_, err := b.Execute(context.Background(), "storage", fail)
	assert.ErrorIs(t, err, domain.ErrCircuitOpen)
	assert.Equal(t, "open", b.State("storage"))
}

func TestBreakerUnknownNamePassesThrough(t *testing.T) {
	b := NewBreakers(BreakerConfig{}, slog.Default())
	called := false
	_, err := b.Execute(context.Background(), "unregistered", func(ctx context.Context) (any, error) {
		called = true
		return "ok", nil
	})
	require.NoError(t, err)
	assert.True(t, called)
}

func TestRetryRetriesRetryableErrors(t *testing.T) {
	var attempts int32
	_, err := Retry(context.Background(), RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond},
		func(ctx context.Context) (any, error) {
			n := atomic.AddInt32(&attempts, 1)
			if n < 3 {
				return nil, domain.ErrStorage
			}
			return "ok", nil
		})
	require.NoError(t, err)
	assert.Equal(t, int32(3), attempts)
}

func TestRetryDoesNotRetryNonRetryableErrors(t *testing.T) {
	var attempts int32
	_, err := Retry(context.Background(), RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond},
		func(ctx context.Context) (any, error) {
			atomic.AddInt32(&attempts, 1)
			return nil, domain.ErrInvalidParameters
		})
	assert.ErrorIs(t, err, domain.ErrInvalidParameters)
	assert.Equal(t, int32(1), attempts)
}

func TestReadDedupSharesResult(t *testing.T) {
	var calls int32
	var dedup ReadDedup

	results := make(chan any, 4)
	for i := 0; i < 4; i++ {
		go func() {
			v, err := dedup.Do("key", func() (any, error) {
				atomic.AddInt32(&calls, 1)
				time.Sleep(10 * time.Millisecond)
				return "value", nil
			})
			require.NoError(t, err)
			results <- v
		}()
	}
	for i := 0; i < 4; i++ {
		assert.Equal(t, "value", <-results)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestRetryPropagatesContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Retry(ctx, RetryConfig{MaxRetries: 5, BaseDelay: time.Second},
		func(ctx context.Context) (any, error) { return nil, domain.ErrStorage })
	assert.Error(t, err)
}
