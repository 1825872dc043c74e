package store

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// Breaker wraps a Store with a circuit breaker so a failing backend fails
// fast instead of stalling every session's DATA phase.
type Breaker struct {
	inner Store
	cb    *gobreaker.CircuitBreaker
}

// NewBreaker wraps inner. The circuit opens after cfg.BreakerFailures
// consecutive failures and half-opens after cfg.BreakerTimeout.
func NewBreaker(inner Store, cfg Config, logger *slog.Logger) *Breaker {
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	timeout := cfg.BreakerTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "store-" + inner.Type(),
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("store circuit breaker state changed",
				"name", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})

	return &Breaker{inner: inner, cb: cb}
}

// Store runs the inner Store through the breaker.
func (b *Breaker) Store(ctx context.Context, env Envelope) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.inner.Store(ctx, env)
	})
	return err
}

// Load runs the inner Load through the breaker. A missing record is not a
// backend failure and does not count against the circuit.
func (b *Breaker) Load(ctx context.Context, recipient string) (Envelope, error) {
	var notFound bool
	res, err := b.cb.Execute(func() (interface{}, error) {
		env, err := b.inner.Load(ctx, recipient)
		if errors.Is(err, ErrNotFound) {
			notFound = true
			return Envelope{}, nil
		}
		return env, err
	})
	if err != nil {
		return Envelope{}, err
	}
	if notFound {
		return Envelope{}, ErrNotFound
	}
	return res.(Envelope), nil
}

// State reports the breaker state.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

// Type returns the wrapped store type
func (b *Breaker) Type() string {
	return b.inner.Type()
}

// Close closes the wrapped store
func (b *Breaker) Close() error {
	return b.inner.Close()
}
