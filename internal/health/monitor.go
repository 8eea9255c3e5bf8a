// Package health runs the periodic watchdog over the speech pipeline: it
// probes the TTS backend, watches the voice connection, tracks failure
// windows and escalates from forced reconnect up to fatal shutdown.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ayatane/voicebridge/internal/observability"
	"github.com/ayatane/voicebridge/internal/voice"
)

// Condition is one termination rule: Max events within Window. A zero Window
// means the count is consecutive and resets on success instead of by time.
type Condition struct {
	Max    int
	Window time.Duration
}

// ConditionStatus is a point-in-time view of one condition's counter.
type ConditionStatus struct {
	Count         int   `json:"count"`
	Max           int   `json:"max"`
	WindowSeconds int   `json:"window_seconds"`
	LastReset     int64 `json:"last_reset_unix"`
}

// Status is the monitor's externally visible state.
type Status struct {
	Healthy    bool                       `json:"healthy"`
	Issues     []string                   `json:"issues"`
	Conditions map[string]ConditionStatus `json:"termination_conditions"`
	LastCheck  time.Time                  `json:"last_check"`
}

// Connection is the slice of the connection manager the monitor drives.
type Connection interface {
	State() voice.State
	Reconnect(ctx context.Context) error
}

// DefaultConditions returns the standard termination rules.
// maxAPIFailures bounds consecutive TTS failures.
func DefaultConditions(maxAPIFailures int) map[string]Condition {
	return map[string]Condition{
		"consecutive_disconnects":  {Max: 5, Window: 10 * time.Minute},
		"voice_disconnections_30m": {Max: 10, Window: 30 * time.Minute},
		"voice_disconnections_1h":  {Max: 20, Window: time.Hour},
		"api_unavailable_duration": {Max: maxAPIFailures},
	}
}

type conditionState struct {
	Condition
	count     int
	lastReset time.Time
}

// record counts one event, resetting first if the window has elapsed.
// Returns true when the count reaches the threshold exactly, so each breach
// escalates once.
func (c *conditionState) record(now time.Time) bool {
	if c.Window > 0 && now.Sub(c.lastReset) > c.Window {
		c.count = 0
		c.lastReset = now
	}
	c.count++
	return c.count == c.Max
}

// MonitorOptions configures a Monitor.
type MonitorOptions struct {
	Probe      func(ctx context.Context) error // active TTS engine liveness
	Connection Connection
	Stats      *observability.StatsTracker
	Interval   time.Duration
	Conditions map[string]Condition
}

// Monitor is the pipeline watchdog. Start it once; Stop is idempotent.
type Monitor struct {
	probe    func(ctx context.Context) error
	conn     Connection
	stats    *observability.StatsTracker
	interval time.Duration
	logger   zerolog.Logger

	mu         sync.Mutex
	conditions map[string]*conditionState
	healthy    bool
	issues     []string
	lastCheck  time.Time

	fatal    chan string
	stopOnce sync.Once
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewMonitor creates a monitor; it does nothing until Start.
func NewMonitor(opts MonitorOptions) *Monitor {
	now := time.Now()
	conditions := make(map[string]*conditionState, len(opts.Conditions))
	for name, c := range opts.Conditions {
		conditions[name] = &conditionState{Condition: c, lastReset: now}
	}
	return &Monitor{
		probe:      opts.Probe,
		conn:       opts.Connection,
		stats:      opts.Stats,
		interval:   opts.Interval,
		conditions: conditions,
		healthy:    true,
		fatal:      make(chan string, 1),
		done:       make(chan struct{}),
		logger:     observability.ComponentLogger("health"),
	}
}

// Fatal delivers the reason for an unrecoverable failure. The process root
// treats a receive as a shutdown signal.
func (m *Monitor) Fatal() <-chan string {
	return m.fatal
}

// Start launches the periodic check loop.
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	go m.loop(ctx)
	m.logger.Info().Dur("interval", m.interval).Msg("Health monitor started")
}

// Stop halts the loop. Safe to call more than once, or before Start.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		if m.cancel != nil {
			m.cancel()
			<-m.done
		}
		m.logger.Info().Msg("Health monitor stopped")
	})
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.runCycle(ctx)
		}
	}
}

// runCycle performs one health check pass.
func (m *Monitor) runCycle(ctx context.Context) {
	var issues []string

	if m.probe != nil {
		pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := m.probe(pctx)
		cancel()
		if err != nil {
			issues = append(issues, "tts engine unreachable: "+err.Error())
			m.RecordAPIFailure()
		} else {
			m.RecordAPISuccess()
		}
	}

	if m.conn != nil && m.conn.State() != voice.StateConnected {
		issues = append(issues, "voice connection not established: "+m.conn.State().String())
	}

	if m.stats != nil {
		if last := m.stats.LastPlayback(); !last.IsZero() && time.Since(last) > time.Hour {
			issues = append(issues, "no successful playback in over an hour")
		}
	}

	m.mu.Lock()
	m.healthy = len(issues) == 0
	m.issues = issues
	m.lastCheck = time.Now()
	healthy := m.healthy
	m.mu.Unlock()

	observability.RecordHealthCheck(healthy)
	if !healthy {
		m.logger.Warn().Strs("issues", issues).Msg("Health check failed")
	} else {
		m.logger.Debug().Msg("Health check passed")
	}
}

// RecordDisconnection counts one unexpected voice disconnect against every
// time-windowed condition, escalating when a threshold is crossed.
func (m *Monitor) RecordDisconnection(reason string) {
	now := time.Now()
	m.mu.Lock()
	var breached string
	for name, c := range m.conditions {
		if c.Window == 0 {
			continue
		}
		if c.record(now) {
			breached = name
		}
	}
	m.mu.Unlock()

	m.logger.Warn().Str("reason", reason).Msg("Voice disconnection recorded")
	if breached != "" {
		m.escalate("disconnection threshold reached: " + breached)
	}
}

// RecordAPIFailure counts one consecutive TTS failure, escalating at the
// threshold.
func (m *Monitor) RecordAPIFailure() {
	now := time.Now()
	m.mu.Lock()
	var breached string
	for name, c := range m.conditions {
		if c.Window != 0 {
			continue
		}
		if c.record(now) {
			breached = name
		}
	}
	m.mu.Unlock()

	if breached != "" {
		m.escalate("api failure threshold reached: " + breached)
	}
}

// RecordAPISuccess resets the consecutive failure counters.
func (m *Monitor) RecordAPISuccess() {
	m.mu.Lock()
	for _, c := range m.conditions {
		if c.Window == 0 {
			c.count = 0
		}
	}
	m.mu.Unlock()
}

// escalate forces one reconnect sequence without blocking the caller; if the
// sequence is exhausted the failure is fatal and the process root is
// signalled.
func (m *Monitor) escalate(reason string) {
	m.logger.Error().Str("reason", reason).Msg("Health threshold breached, forcing reconnect")
	observability.RecordError("threshold_breached", "health")

	if m.conn == nil {
		m.signalFatal(reason)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if err := m.conn.Reconnect(ctx); err != nil {
			m.logger.Error().Err(err).Msg("Forced reconnect failed, shutting down")
			m.signalFatal(reason + ": " + err.Error())
		}
	}()
}

func (m *Monitor) signalFatal(reason string) {
	select {
	case m.fatal <- reason:
	default:
	}
}

// Status returns a snapshot of the monitor state.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	conditions := make(map[string]ConditionStatus, len(m.conditions))
	for name, c := range m.conditions {
		conditions[name] = ConditionStatus{
			Count:         c.count,
			Max:           c.Max,
			WindowSeconds: int(c.Window / time.Second),
			LastReset:     c.lastReset.Unix(),
		}
	}
	return Status{
		Healthy:    m.healthy,
		Issues:     append([]string(nil), m.issues...),
		Conditions: conditions,
		LastCheck:  m.lastCheck,
	}
}
