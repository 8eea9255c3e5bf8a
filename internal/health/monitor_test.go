package health

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ayatane/voicebridge/internal/observability"
	"github.com/ayatane/voicebridge/internal/voice"
)

type fakeConnection struct {
	mu         sync.Mutex
	state      voice.State
	reconnects int
	err        error
}

func (f *fakeConnection) State() voice.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeConnection) Reconnect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconnects++
	if f.err == nil {
		f.state = voice.StateConnected
	}
	return f.err
}

func (f *fakeConnection) reconnectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reconnects
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func TestMonitor_CycleHealthy(t *testing.T) {
	conn := &fakeConnection{state: voice.StateConnected}
	m := NewMonitor(MonitorOptions{
		Probe:      func(ctx context.Context) error { return nil },
		Connection: conn,
		Stats:      observability.NewStatsTracker(),
		Interval:   10 * time.Millisecond,
		Conditions: DefaultConditions(15),
	})
	m.Start(context.Background())
	defer m.Stop()

	waitFor(t, "health cycle", func() bool { return !m.Status().LastCheck.IsZero() })

	status := m.Status()
	if !status.Healthy {
		t.Errorf("Expected healthy status, got issues %v", status.Issues)
	}
}

func TestMonitor_ProbeFailureReportsIssue(t *testing.T) {
	conn := &fakeConnection{state: voice.StateConnected}
	m := NewMonitor(MonitorOptions{
		Probe:      func(ctx context.Context) error { return errors.New("connection refused") },
		Connection: conn,
		Interval:   10 * time.Millisecond,
		Conditions: DefaultConditions(100),
	})
	m.Start(context.Background())
	defer m.Stop()

	waitFor(t, "unhealthy status", func() bool {
		s := m.Status()
		return !s.LastCheck.IsZero() && !s.Healthy
	})

	status := m.Status()
	if len(status.Issues) == 0 {
		t.Fatal("Expected at least one issue")
	}
}

func TestMonitor_ConsecutiveProbeFailuresForceOneReconnect(t *testing.T) {
	conn := &fakeConnection{state: voice.StateConnected}
	m := NewMonitor(MonitorOptions{
		Connection: conn,
		Conditions: map[string]Condition{"api_unavailable_duration": {Max: 3}},
	})

	m.RecordAPIFailure()
	m.RecordAPIFailure()
	if conn.reconnectCount() != 0 {
		t.Fatal("Expected no reconnect below threshold")
	}

	m.RecordAPIFailure()
	waitFor(t, "forced reconnect", func() bool { return conn.reconnectCount() == 1 })

	// Further failures past the threshold do not re-trigger the breach.
	m.RecordAPIFailure()
	time.Sleep(50 * time.Millisecond)
	if got := conn.reconnectCount(); got != 1 {
		t.Errorf("Expected exactly 1 forced reconnect, got %d", got)
	}
}

func TestMonitor_APISuccessResetsFailureCount(t *testing.T) {
	conn := &fakeConnection{}
	m := NewMonitor(MonitorOptions{
		Connection: conn,
		Conditions: map[string]Condition{"api_unavailable_duration": {Max: 3}},
	})

	m.RecordAPIFailure()
	m.RecordAPIFailure()
	m.RecordAPISuccess()
	m.RecordAPIFailure()
	m.RecordAPIFailure()

	time.Sleep(50 * time.Millisecond)
	if conn.reconnectCount() != 0 {
		t.Errorf("Expected no reconnect after reset, got %d", conn.reconnectCount())
	}
}

func TestMonitor_DisconnectionThreshold(t *testing.T) {
	conn := &fakeConnection{}
	m := NewMonitor(MonitorOptions{
		Connection: conn,
		Conditions: map[string]Condition{"consecutive_disconnects": {Max: 3, Window: 10 * time.Minute}},
	})

	m.RecordDisconnection("gateway closed")
	m.RecordDisconnection("gateway closed")
	m.RecordDisconnection("gateway closed")

	waitFor(t, "forced reconnect", func() bool { return conn.reconnectCount() == 1 })
}

func TestMonitor_DisconnectionWindowExpires(t *testing.T) {
	conn := &fakeConnection{}
	m := NewMonitor(MonitorOptions{
		Connection: conn,
		Conditions: map[string]Condition{"consecutive_disconnects": {Max: 2, Window: 20 * time.Millisecond}},
	})

	m.RecordDisconnection("first")
	time.Sleep(40 * time.Millisecond)
	m.RecordDisconnection("second, outside the window")

	time.Sleep(50 * time.Millisecond)
	if conn.reconnectCount() != 0 {
		t.Errorf("Expected no reconnect across expired window, got %d", conn.reconnectCount())
	}
}

func TestMonitor_ExhaustedReconnectIsFatal(t *testing.T) {
	conn := &fakeConnection{err: voice.ErrReconnectExhausted}
	m := NewMonitor(MonitorOptions{
		Connection: conn,
		Conditions: map[string]Condition{"api_unavailable_duration": {Max: 1}},
	})

	m.RecordAPIFailure()

	select {
	case reason := <-m.Fatal():
		if reason == "" {
			t.Error("Expected a fatal reason")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Expected fatal signal after exhausted reconnect")
	}
}

func TestMonitor_StopIdempotent(t *testing.T) {
	m := NewMonitor(MonitorOptions{
		Interval:   10 * time.Millisecond,
		Conditions: DefaultConditions(15),
	})
	m.Start(context.Background())

	m.Stop()
	m.Stop() // must not panic or block
}

func TestMonitor_StopWithoutStart(t *testing.T) {
	m := NewMonitor(MonitorOptions{Conditions: DefaultConditions(15)})
	m.Stop()
}

func TestConditionStatus(t *testing.T) {
	m := NewMonitor(MonitorOptions{
		Conditions: map[string]Condition{"consecutive_disconnects": {Max: 5, Window: 10 * time.Minute}},
	})
	m.RecordDisconnection("test")

	status := m.Status()
	c, ok := status.Conditions["consecutive_disconnects"]
	if !ok {
		t.Fatal("Expected condition in status")
	}
	if c.Count != 1 || c.Max != 5 || c.WindowSeconds != 600 {
		t.Errorf("Unexpected condition status %+v", c)
	}
}
