package breakers

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// ErrOpen is returned while the breaker rejects calls.
var ErrOpen = gobreaker.ErrOpenState

// Breaker wraps outbound calls to one upstream.
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

// New trips after 3 consecutive failures, or once at least 20 requests in the
// 60s window have a failure ratio above 5%. An open breaker retries after 60s.
func New(logger *zap.Logger, name string) *Breaker {
	if logger == nil {
		logger = zap.NewNop()
	}

	st := gobreaker.Settings{Name: name}
	st.Interval = 60 * time.Second
	st.Timeout = 60 * time.Second
	st.ReadyToTrip = func(counts gobreaker.Counts) bool {
		if counts.ConsecutiveFailures >= 3 {
			return true
		}
		if counts.Requests < 20 {
			return false
		}
		return float64(counts.TotalFailures)/float64(counts.Requests) > 0.05
	}
	st.IsSuccessful = func(err error) bool {
		// Caller cancellation says nothing about upstream health.
		return err == nil || errors.Is(err, context.Canceled)
	}
	st.OnStateChange = func(name string, from, to gobreaker.State) {
		logger.Warn("circuit breaker state changed",
			zap.String("breaker", name),
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}
	return &Breaker{cb: gobreaker.NewCircuitBreaker(st)}
}

// Do runs fn through the breaker.
func (b *Breaker) Do(fn func() error) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, fn()
	})
	return err
}

// State returns "closed", "half-open" or "open".
func (b *Breaker) State() string {
	return b.cb.State().String()
}
