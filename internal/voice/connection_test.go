package voice

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeTransport struct {
	mu         sync.Mutex
	speaking   []bool
	played     []string
	playErr    error
	playDelay  time.Duration
	disconnect int32
	playing    atomic.Bool
}

func (f *fakeTransport) SetSpeaking(speaking bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.speaking = append(f.speaking, speaking)
	return nil
}

func (f *fakeTransport) Play(ctx context.Context, path string) error {
	f.mu.Lock()
	delay := f.playDelay
	f.mu.Unlock()
	f.playing.Store(true)
	defer f.playing.Store(false)
	if delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(f.playDelay):
		}
	}
	f.mu.Lock()
	f.played = append(f.played, path)
	err := f.playErr
	f.mu.Unlock()
	return err
}

func (f *fakeTransport) setPlayErr(err error) {
	f.mu.Lock()
	f.playErr = err
	f.mu.Unlock()
}

func (f *fakeTransport) IsPlaying() bool { return f.playing.Load() }

func (f *fakeTransport) Disconnect() error {
	atomic.AddInt32(&f.disconnect, 1)
	return nil
}

func (f *fakeTransport) playedPaths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.played...)
}

type fakeDialer struct {
	mu       sync.Mutex
	attempts int
	failures int // fail this many dials before succeeding
	block    chan struct{}
	lastTr   *fakeTransport
}

func (f *fakeDialer) Connect(ctx context.Context, channel string) (Transport, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.attempts <= f.failures {
		return nil, errors.New("voice server unavailable")
	}
	f.lastTr = &fakeTransport{}
	return f.lastTr, nil
}

func (f *fakeDialer) attemptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

func testPolicy() ReconnectPolicy {
	return ReconnectPolicy{MaxAttempts: 3, Backoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}
}

func newTestManager(dialer Dialer) *ConnectionManager {
	return NewConnectionManager(dialer, "general", NewRateLimiter(1000), nil, testPolicy())
}

func TestConnect(t *testing.T) {
	dialer := &fakeDialer{}
	m := newTestManager(dialer)

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if m.State() != StateConnected {
		t.Errorf("Expected connected state, got %s", m.State())
	}
	if m.Transport() == nil {
		t.Error("Expected transport after connect")
	}
}

func TestConnect_Failure(t *testing.T) {
	dialer := &fakeDialer{failures: 10}
	m := newTestManager(dialer)

	if err := m.Connect(context.Background()); err == nil {
		t.Fatal("Expected connect error")
	}
	if m.State() != StateDisconnected {
		t.Errorf("Expected disconnected state after failure, got %s", m.State())
	}
	if dialer.attemptCount() != 1 {
		t.Errorf("Connect must not retry, got %d attempts", dialer.attemptCount())
	}
}

func TestConnect_BreakerOpen(t *testing.T) {
	breaker := NewCircuitBreaker(1, time.Hour)
	breaker.RecordFailure()

	m := NewConnectionManager(&fakeDialer{}, "general", NewRateLimiter(1000), breaker, testPolicy())
	if err := m.Connect(context.Background()); !errors.Is(err, ErrBreakerOpen) {
		t.Errorf("Expected ErrBreakerOpen, got %v", err)
	}
}

func TestDisconnect(t *testing.T) {
	dialer := &fakeDialer{}
	m := newTestManager(dialer)
	m.Connect(context.Background())

	if err := m.Disconnect(); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	if m.State() != StateDisconnected {
		t.Errorf("Expected disconnected state, got %s", m.State())
	}
	if atomic.LoadInt32(&dialer.lastTr.disconnect) != 1 {
		t.Error("Expected transport Disconnect to be called")
	}
}

func TestReconnect_RetriesWithBackoff(t *testing.T) {
	dialer := &fakeDialer{failures: 2}
	m := newTestManager(dialer)

	if err := m.Reconnect(context.Background()); err != nil {
		t.Fatalf("Reconnect failed: %v", err)
	}
	if got := dialer.attemptCount(); got != 3 {
		t.Errorf("Expected 3 attempts, got %d", got)
	}
	if m.State() != StateConnected {
		t.Errorf("Expected connected state, got %s", m.State())
	}
}

func TestReconnect_Exhausted(t *testing.T) {
	dialer := &fakeDialer{failures: 100}
	m := newTestManager(dialer)

	err := m.Reconnect(context.Background())
	if !errors.Is(err, ErrReconnectExhausted) {
		t.Fatalf("Expected ErrReconnectExhausted, got %v", err)
	}
	if got := dialer.attemptCount(); got != 3 {
		t.Errorf("Expected attempts capped at 3, got %d", got)
	}
	if m.State() != StateDisconnected {
		t.Errorf("Expected disconnected state, got %s", m.State())
	}
}

func TestReconnect_ConcurrentCallersCoalesce(t *testing.T) {
	dialer := &fakeDialer{block: make(chan struct{})}
	m := newTestManager(dialer)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = m.Reconnect(context.Background())
		}(i)
	}

	// Let both goroutines reach the in-flight sequence, then release the dial.
	time.Sleep(50 * time.Millisecond)
	close(dialer.block)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("Caller %d got error: %v", i, err)
		}
	}
	if got := dialer.attemptCount(); got != 1 {
		t.Errorf("Expected concurrent reconnects to share 1 dial, got %d", got)
	}
}

func TestReconnect_ContextCancelled(t *testing.T) {
	dialer := &fakeDialer{failures: 100}
	m := NewConnectionManager(dialer, "general", NewRateLimiter(1000), nil,
		ReconnectPolicy{MaxAttempts: 50, Backoff: 50 * time.Millisecond, MaxBackoff: time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	if err := m.Reconnect(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected DeadlineExceeded, got %v", err)
	}
}

func TestNoteDropped(t *testing.T) {
	dialer := &fakeDialer{}
	m := newTestManager(dialer)
	m.Connect(context.Background())

	var gotReason string
	m.OnDisconnect = func(reason string) { gotReason = reason }

	m.NoteDropped("gateway closed")

	if m.State() != StateDisconnected {
		t.Errorf("Expected disconnected state, got %s", m.State())
	}
	if m.Transport() != nil {
		t.Error("Expected transport to be cleared")
	}
	if gotReason != "gateway closed" {
		t.Errorf("Expected disconnect callback with reason, got %q", gotReason)
	}
}

func TestWaitConnected(t *testing.T) {
	m := newTestManager(&fakeDialer{})

	if m.WaitConnected(context.Background(), 50*time.Millisecond) {
		t.Error("Expected timeout while disconnected")
	}

	m.Connect(context.Background())
	if !m.WaitConnected(context.Background(), 50*time.Millisecond) {
		t.Error("Expected immediate success while connected")
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state    State
		expected string
	}{
		{StateDisconnected, "disconnected"},
		{StateConnecting, "connecting"},
		{StateConnected, "connected"},
		{StateReconnecting, "reconnecting"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.expected {
			t.Errorf("Expected %s, got %s", tt.expected, got)
		}
	}
}
