// Package metrics exposes Prometheus instrumentation for the gateway.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "gateway"

// Session outcomes.
const (
	OutcomeComplete     = "complete"
	OutcomeErrored      = "errored"
	OutcomeDisconnected = "disconnected"
	OutcomeMalformed    = "malformed"
)

// Retrieval failure reasons.
const (
	ReasonError        = "error"
	ReasonTimeout      = "timeout"
	ReasonPanic        = "panic"
	ReasonUnconfigured = "unconfigured"
	ReasonSaturated    = "saturated"
)

// Metrics holds the gateway collectors. A nil *Metrics records nothing.
type Metrics struct {
	sessions          *prometheus.CounterVec
	activeSessions    prometheus.Gauge
	events            *prometheus.CounterVec
	tokens            *prometheus.CounterVec
	retrievalDuration prometheus.Histogram
	retrievalFailures *prometheus.CounterVec
	logWriteFailures  prometheus.Counter
}

// New registers the gateway collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		// sessions counts finished sessions.
		// Labels: outcome (complete, errored, disconnected, malformed)
		sessions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "finished_total",
			Help:      "Total finished streaming sessions by outcome",
		}, []string{"outcome"}),

		activeSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "active",
			Help:      "Currently open streaming sessions",
		}),

		// events counts server events written to clients.
		// Labels: type (docs, reasoning_chunk, chunk, complete, error)
		events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "events_total",
			Help:      "Total events sent to clients by type",
		}, []string{"type"}),

		// tokens counts recorded tokens.
		// Labels: kind (prompt, completion), source (provider, estimate)
		tokens: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "usage",
			Name:      "tokens_total",
			Help:      "Total recorded tokens by kind and accounting source",
		}, []string{"kind", "source"}),

		retrievalDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "duration_seconds",
			Help:      "Knowledge store retrieval latency in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}),

		// retrievalFailures counts retrievals that produced no documents.
		// Labels: reason (error, timeout, panic, unconfigured, saturated)
		retrievalFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "failures_total",
			Help:      "Total failed retrievals by reason",
		}, []string{"reason"}),

		logWriteFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "usage",
			Name:      "log_write_failures_total",
			Help:      "Total activity log rows that could not be persisted",
		}),
	}
}

// SessionOpened increments the active session gauge.
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
}

// SessionClosed decrements the active gauge and counts the outcome.
func (m *Metrics) SessionClosed(outcome string) {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
	m.sessions.WithLabelValues(outcome).Inc()
}

// EventSent counts one event written to a client.
func (m *Metrics) EventSent(eventType string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(eventType).Inc()
}

// ObserveRetrieval records a completed retrieval call.
func (m *Metrics) ObserveRetrieval(d time.Duration) {
	if m == nil {
		return
	}
	m.retrievalDuration.Observe(d.Seconds())
}

// RetrievalFailed counts a retrieval that yielded no documents.
func (m *Metrics) RetrievalFailed(reason string) {
	if m == nil {
		return
	}
	m.retrievalFailures.WithLabelValues(reason).Inc()
}

// AddTokens counts the tokens of a recorded session.
func (m *Metrics) AddTokens(source string, prompt, completion int) {
	if m == nil {
		return
	}
	m.tokens.WithLabelValues("prompt", source).Add(float64(prompt))
	m.tokens.WithLabelValues("completion", source).Add(float64(completion))
}

// LogWriteFailed counts a lost activity log row.
func (m *Metrics) LogWriteFailed() {
	if m == nil {
		return
	}
	m.logWriteFailures.Inc()
}
