package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Pipeline metrics
	messagesEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicebridge_messages_enqueued_total",
		Help: "Total number of text items accepted into the synthesis queue",
	}, []string{"priority"})

	messagesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicebridge_messages_dropped_total",
		Help: "Total number of items dropped by overflow or disconnect",
	}, []string{"reason"})

	queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "voicebridge_queue_depth",
		Help: "Current number of items in each pipeline queue",
	}, []string{"queue"}) // queue: "synthesis" or "audio"

	// Synthesis metrics
	synthesisRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicebridge_synthesis_requests_total",
		Help: "Total number of TTS synthesis requests",
	}, []string{"engine", "status"})

	synthesisLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voicebridge_synthesis_latency_seconds",
		Help:    "TTS synthesis latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
	})

	// Playback metrics
	playbackTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicebridge_playback_total",
		Help: "Total number of audio clips played",
	}, []string{"status"})

	playbackDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voicebridge_playback_duration_seconds",
		Help:    "Duration of audio clip playback in seconds",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	})

	// Connection metrics
	connectionState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voicebridge_connection_state",
		Help: "Voice connection state (0=disconnected, 1=connecting, 2=connected, 3=reconnecting)",
	})

	reconnectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicebridge_reconnects_total",
		Help: "Total number of reconnect sequences",
	}, []string{"status"})

	// Health metrics
	healthChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicebridge_health_checks_total",
		Help: "Total number of health-monitor probe cycles",
	}, []string{"status"})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicebridge_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})
)

// RecordEnqueue records a text item accepted into the synthesis queue.
func RecordEnqueue(priority string) {
	messagesEnqueued.WithLabelValues(priority).Inc()
}

// RecordDrop records an item dropped by the pipeline.
func RecordDrop(reason string) {
	messagesDropped.WithLabelValues(reason).Inc()
}

// SetQueueDepth updates the depth gauge for one queue.
func SetQueueDepth(queue string, depth int) {
	queueDepth.WithLabelValues(queue).Set(float64(depth))
}

// RecordSynthesis records the outcome and latency of one TTS call.
func RecordSynthesis(engine string, success bool, seconds float64) {
	status := "success"
	if !success {
		status = "error"
	}
	synthesisRequests.WithLabelValues(engine, status).Inc()
	if success {
		synthesisLatency.Observe(seconds)
	}
}

// RecordPlayback records the outcome and duration of one playback.
func RecordPlayback(success bool, seconds float64) {
	status := "success"
	if !success {
		status = "error"
	}
	playbackTotal.WithLabelValues(status).Inc()
	if success {
		playbackDuration.Observe(seconds)
	}
}

// SetConnectionState updates the connection state gauge.
func SetConnectionState(state int) {
	connectionState.Set(float64(state))
}

// RecordReconnect records the outcome of a reconnect sequence.
func RecordReconnect(success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	reconnectsTotal.WithLabelValues(status).Inc()
}

// RecordHealthCheck records the outcome of a health-monitor cycle.
func RecordHealthCheck(healthy bool) {
	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}
	healthChecksTotal.WithLabelValues(status).Inc()
}

// RecordError records an error by type and component.
func RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}
