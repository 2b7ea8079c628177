// Package metrics exposes Prometheus collectors for the orchestrator.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the conductor collectors.
type Metrics struct {
	sessionsTotal       *prometheus.CounterVec
	sessionDuration     *prometheus.HistogramVec
	tasksTotal          *prometheus.CounterVec
	cacheLookups        *prometheus.CounterVec
	breakerTransitions  *prometheus.CounterVec
	correlationTimeouts prometheus.Counter
	pendingCorrelations prometheus.Gauge
	eventsDropped       prometheus.Counter
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered, which is what tests want.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sessionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_sessions_total",
				Help: "Total number of orchestration sessions by terminal state",
			},
			[]string{"state"},
		),
		sessionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "conductor_session_duration_milliseconds",
				Help:    "Session duration in milliseconds",
				Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000, 10000, 30000},
			},
			[]string{"state"},
		),
		tasksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_tasks_total",
				Help: "Total number of task results by source",
			},
			[]string{"capability", "source"},
		),
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_cache_lookups_total",
				Help: "Response cache lookups by tier and result",
			},
			[]string{"tier", "result"},
		),
		breakerTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_breaker_transitions_total",
				Help: "Circuit breaker state transitions",
			},
			[]string{"backend", "to"},
		),
		correlationTimeouts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "conductor_correlation_timeouts_total",
				Help: "Correlation contexts completed by the timeout sweep",
			},
		),
		pendingCorrelations: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "conductor_correlations_pending",
				Help: "Correlation contexts currently awaiting a response",
			},
		),
		eventsDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "conductor_events_dropped_total",
				Help: "Orchestrator events dropped because the consumer was slow",
			},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.sessionsTotal,
			m.sessionDuration,
			m.tasksTotal,
			m.cacheLookups,
			m.breakerTransitions,
			m.correlationTimeouts,
			m.pendingCorrelations,
			m.eventsDropped,
		)
	}
	return m
}

// ObserveSession records a finished session.
func (m *Metrics) ObserveSession(state string, d time.Duration) {
	if m == nil {
		return
	}
	m.sessionsTotal.WithLabelValues(state).Inc()
	m.sessionDuration.WithLabelValues(state).Observe(float64(d.Milliseconds()))
}

// ObserveTask records a task result.
func (m *Metrics) ObserveTask(capability, source string) {
	if m == nil {
		return
	}
	m.tasksTotal.WithLabelValues(capability, source).Inc()
}

// CacheLookup records a cache lookup. result is "hit", "miss" or "error".
func (m *Metrics) CacheLookup(tier, result string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(tier, result).Inc()
}

// BreakerTransition records a breaker state change.
func (m *Metrics) BreakerTransition(backend, to string) {
	if m == nil {
		return
	}
	m.breakerTransitions.WithLabelValues(backend, to).Inc()
}

// CorrelationTimeout records a swept correlation.
func (m *Metrics) CorrelationTimeout() {
	if m == nil {
		return
	}
	m.correlationTimeouts.Inc()
}

// SetPendingCorrelations sets the pending correlation gauge.
func (m *Metrics) SetPendingCorrelations(n int) {
	if m == nil {
		return
	}
	m.pendingCorrelations.Set(float64(n))
}

// EventDropped records a dropped orchestrator event.
func (m *Metrics) EventDropped() {
	if m == nil {
		return
	}
	m.eventsDropped.Inc()
}
