package voice

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/ayatane/voicebridge/internal/observability"
)

// RateLimiter paces platform API calls with a token bucket. Burst is a single
// token so calls are spaced evenly rather than front-loaded.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter creates a limiter allowing perSecond calls per second.
func NewRateLimiter(perSecond int) *RateLimiter {
	return &RateLimiter{limiter: rate.NewLimiter(rate.Limit(perSecond), 1)}
}

// WaitIfNeeded blocks until the next call is permitted or ctx is cancelled.
func (r *RateLimiter) WaitIfNeeded(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

// Allow reports whether a call is permitted right now without blocking.
func (r *RateLimiter) Allow() bool {
	return r.limiter.Allow()
}

// BreakerState describes the circuit breaker lifecycle.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrBreakerOpen is returned when the circuit is open and calls are refused.
var ErrBreakerOpen = fmt.Errorf("circuit breaker is open")

// CircuitBreaker protects the platform API from repeated failing calls.
// After maxFailures consecutive failures the circuit opens; once resetTimeout
// elapses a single probe call is let through (half-open) and its outcome
// closes or re-opens the circuit.
type CircuitBreaker struct {
	maxFailures  int
	resetTimeout time.Duration

	mu          sync.Mutex
	state       BreakerState
	failures    int
	lastFailure time.Time
	logger      zerolog.Logger
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(maxFailures int, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		state:        BreakerClosed,
		logger:       observability.ComponentLogger("circuit_breaker"),
	}
}

// Allow reports whether a call may proceed, transitioning open to half-open
// once the reset timeout has elapsed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if time.Since(cb.lastFailure) >= cb.resetTimeout {
			cb.state = BreakerHalfOpen
			cb.logger.Info().Msg("Circuit breaker half-open, allowing probe call")
			return true
		}
		return false
	case BreakerHalfOpen:
		return true
	default:
		return false
	}
}

// Execute runs fn under breaker protection.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.Allow() {
		return ErrBreakerOpen
	}
	err := fn()
	if err != nil {
		cb.RecordFailure()
		return err
	}
	cb.RecordSuccess()
	return nil
}

// RecordSuccess closes the circuit and resets the failure count.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != BreakerClosed {
		cb.logger.Info().Str("state", cb.state.String()).Msg("Circuit breaker closing after success")
	}
	cb.state = BreakerClosed
	cb.failures = 0
}

// RecordFailure counts a failure, opening the circuit at the threshold. A
// failure during half-open re-opens immediately.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailure = time.Now()

	if cb.state == BreakerHalfOpen || cb.failures >= cb.maxFailures {
		if cb.state != BreakerOpen {
			cb.logger.Warn().
				Int("failures", cb.failures).
				Dur("reset_timeout", cb.resetTimeout).
				Msg("Circuit breaker opened")
			observability.RecordError("breaker_open", "connection")
		}
		cb.state = BreakerOpen
	}
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
