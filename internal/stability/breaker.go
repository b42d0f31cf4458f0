// Package stability implements StabilityLayer (§4.9): a named circuit
// breaker per downstream dependency, exponential-backoff retry for
// idempotent reads, and in-flight read deduplication.
package stability

import (
	"context"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/Nonymaus/cursor-kg/internal/domain"
)

// BreakerConfig configures one named circuit breaker (§6 stability.circuit_breaker).
type BreakerConfig struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
	SuccessThreshold int
	Timeout          time.Duration
}

// Breakers holds one gobreaker.CircuitBreaker per named downstream
// dependency: storage, embedding, fts, vector (§4.9).
type Breakers struct {
	byName map[string]*gobreaker.CircuitBreaker[any]
	logger *slog.Logger
}

// NewBreakers builds a Breakers set, one per name in names, sharing cfg and logging
// for state transitions.
func NewBreakers(cfg BreakerConfig, logger *slog.Logger, names ...string) *Breakers {
	b := &Breakers{byName: make(map[string]*gobreaker.CircuitBreaker[any], len(names)), logger: logger}
	for _, name := range names {
		b.byName[name] = newBreaker(name, cfg, logger)
	}
	return b
}

func newBreaker(name string, cfg BreakerConfig, logger *slog.Logger) *gobreaker.CircuitBreaker[any] {
	failureThreshold := uint32(cfg.FailureThreshold)
	if failureThreshold == 0 {
		failureThreshold = 5
	}
	successThreshold := uint32(cfg.SuccessThreshold)
	if successThreshold == 0 {
		successThreshold = 2
	}
	timeout := cfg.RecoveryTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: successThreshold,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failureThreshold
		},
		OnStateChange: func(breakerName string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "breaker", breakerName, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool { return err == nil },
	})
}

// Execute runs fn through the named breaker, failing fast with
// domain.ErrCircuitOpen when the breaker is open.
func (b *Breakers) Execute(ctx context.Context, name string, fn func(context.Context) (any, error)) (any, error) {
	cb, ok := b.byName[name]
	if !ok {
		return fn(ctx)
	}
	result, err := cb.Execute(func() (any, error) { return fn(ctx) })
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, domain.NewSubsystemError(name, "stability.Execute", domain.ErrCircuitOpen, err.Error())
		}
		return nil, err
	}
	return result, nil
}

// State reports the named breaker's current state ("closed", "half-open",
// "open"); returns "" if name is not registered.
func (b *Breakers) State(name string) string {
	cb, ok := b.byName[name]
	if !ok {
		return ""
	}
	return cb.State().String()
}
