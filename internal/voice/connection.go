package voice

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ayatane/voicebridge/internal/observability"
)

// ErrReconnectExhausted is returned when every reconnect attempt in a
// sequence has failed.
var ErrReconnectExhausted = errors.New("reconnect attempts exhausted")

// ReconnectPolicy bounds a reconnect sequence.
type ReconnectPolicy struct {
	MaxAttempts int
	Backoff     time.Duration // initial delay, doubled per attempt
	MaxBackoff  time.Duration
}

// ConnectionManager owns the voice channel session and its lifecycle. It
// serializes connects, coalesces concurrent reconnect requests into one
// sequence, and paces dial attempts through the rate limiter and circuit
// breaker.
type ConnectionManager struct {
	dialer  Dialer
	channel string
	limiter *RateLimiter
	breaker *CircuitBreaker
	policy  ReconnectPolicy
	logger  zerolog.Logger

	// OnDisconnect, if set, is invoked whenever an established session is
	// torn down outside of a clean shutdown. Set before first use.
	OnDisconnect func(reason string)

	mu        sync.Mutex
	state     State
	transport Transport
	inflight  *reconnectFlight
}

// reconnectFlight is a single reconnect sequence shared by every caller that
// requested a reconnect while it was running.
type reconnectFlight struct {
	done chan struct{}
	err  error
}

// NewConnectionManager creates a manager in the disconnected state.
func NewConnectionManager(dialer Dialer, channel string, limiter *RateLimiter, breaker *CircuitBreaker, policy ReconnectPolicy) *ConnectionManager {
	return &ConnectionManager{
		dialer:  dialer,
		channel: channel,
		limiter: limiter,
		breaker: breaker,
		policy:  policy,
		state:   StateDisconnected,
		logger:  observability.ComponentLogger("connection"),
	}
}

// State returns the current connection state.
func (m *ConnectionManager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Transport returns the established session, or nil when not connected.
func (m *ConnectionManager) Transport() Transport {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transport
}

func (m *ConnectionManager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
	observability.SetConnectionState(int(s))
}

// Connect establishes the initial session. It is not a reconnect: a single
// failure is returned to the caller without retrying.
func (m *ConnectionManager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateConnected {
		m.mu.Unlock()
		return nil
	}
	m.state = StateConnecting
	m.mu.Unlock()
	observability.SetConnectionState(int(StateConnecting))

	tr, err := m.dial(ctx)
	if err != nil {
		m.setState(StateDisconnected)
		return err
	}

	m.mu.Lock()
	m.transport = tr
	m.state = StateConnected
	m.mu.Unlock()
	observability.SetConnectionState(int(StateConnected))

	m.logger.Info().Str("channel", m.channel).Msg("Voice channel connected")
	return nil
}

// dial performs one rate-limited, breaker-guarded connection attempt.
func (m *ConnectionManager) dial(ctx context.Context) (Transport, error) {
	if err := m.limiter.WaitIfNeeded(ctx); err != nil {
		return nil, err
	}
	if m.breaker != nil && !m.breaker.Allow() {
		return nil, ErrBreakerOpen
	}

	tr, err := m.dialer.Connect(ctx, m.channel)
	if m.breaker != nil {
		if err != nil {
			m.breaker.RecordFailure()
		} else {
			m.breaker.RecordSuccess()
		}
	}
	if err != nil {
		return nil, fmt.Errorf("connect voice channel %s: %w", m.channel, err)
	}
	return tr, nil
}

// Disconnect tears down the session cleanly.
func (m *ConnectionManager) Disconnect() error {
	m.mu.Lock()
	tr := m.transport
	m.transport = nil
	m.state = StateDisconnected
	m.mu.Unlock()
	observability.SetConnectionState(int(StateDisconnected))

	if tr == nil {
		return nil
	}
	if err := tr.Disconnect(); err != nil {
		return fmt.Errorf("disconnect voice channel: %w", err)
	}
	m.logger.Info().Str("channel", m.channel).Msg("Voice channel disconnected")
	return nil
}

// NoteDropped records that the established session was lost. It moves the
// manager to disconnected and fires OnDisconnect; it does not itself
// reconnect.
func (m *ConnectionManager) NoteDropped(reason string) {
	m.mu.Lock()
	m.transport = nil
	if m.state == StateConnected {
		m.state = StateDisconnected
	}
	cb := m.OnDisconnect
	m.mu.Unlock()
	observability.SetConnectionState(int(StateDisconnected))

	m.logger.Warn().Str("reason", reason).Msg("Voice connection dropped")
	if cb != nil {
		cb(reason)
	}
}

// Reconnect runs a bounded reconnect sequence. Concurrent callers share one
// sequence: whoever arrives while a sequence is in flight waits for its
// result instead of starting another.
func (m *ConnectionManager) Reconnect(ctx context.Context) error {
	m.mu.Lock()
	if fl := m.inflight; fl != nil {
		m.mu.Unlock()
		select {
		case <-fl.done:
			return fl.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	fl := &reconnectFlight{done: make(chan struct{})}
	m.inflight = fl
	m.state = StateReconnecting
	m.mu.Unlock()
	observability.SetConnectionState(int(StateReconnecting))

	fl.err = m.runReconnect(ctx)
	close(fl.done)

	m.mu.Lock()
	m.inflight = nil
	m.mu.Unlock()
	return fl.err
}

func (m *ConnectionManager) runReconnect(ctx context.Context) error {
	// Drop the stale session first; a half-dead transport must not be reused.
	m.mu.Lock()
	if tr := m.transport; tr != nil {
		m.transport = nil
		go tr.Disconnect()
	}
	m.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt < m.policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := m.backoffFor(attempt)
			m.logger.Info().
				Int("attempt", attempt+1).
				Int("max_attempts", m.policy.MaxAttempts).
				Dur("backoff", delay).
				Msg("Waiting before reconnect attempt")
			select {
			case <-ctx.Done():
				m.setState(StateDisconnected)
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		tr, err := m.dial(ctx)
		if err != nil {
			lastErr = err
			m.logger.Warn().Err(err).Int("attempt", attempt+1).Msg("Reconnect attempt failed")
			if ctx.Err() != nil {
				m.setState(StateDisconnected)
				return ctx.Err()
			}
			continue
		}

		m.mu.Lock()
		m.transport = tr
		m.state = StateConnected
		m.mu.Unlock()
		observability.SetConnectionState(int(StateConnected))
		observability.RecordReconnect(true)

		m.logger.Info().Int("attempt", attempt+1).Msg("Voice channel reconnected")
		return nil
	}

	m.setState(StateDisconnected)
	observability.RecordReconnect(false)
	return fmt.Errorf("%w after %d attempts: %v", ErrReconnectExhausted, m.policy.MaxAttempts, lastErr)
}

// backoffFor returns the delay before the given attempt: initial backoff
// doubled per attempt, capped, with up to 25% jitter.
func (m *ConnectionManager) backoffFor(attempt int) time.Duration {
	delay := m.policy.Backoff << uint(attempt-1)
	if delay > m.policy.MaxBackoff || delay <= 0 {
		delay = m.policy.MaxBackoff
	}
	jitter := time.Duration(rand.Int63n(int64(delay)/4 + 1))
	return delay + jitter
}

// WaitConnected blocks until the connection is established, the timeout
// elapses, or ctx is cancelled. Returns true when connected.
func (m *ConnectionManager) WaitConnected(ctx context.Context, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if m.State() == StateConnected {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return false
		case <-ticker.C:
		}
	}
}
