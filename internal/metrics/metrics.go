// Package metrics exposes the Prometheus collectors of the savings gateway.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "savings_layer"

// Outcome labels shared by the recorders.
const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
	OutcomePartial  = "partial"
	OutcomeError    = "error"
	OutcomeDropped  = "dropped"
)

// Metrics holds the collectors registered on a private registry so tests can
// construct independent instances.
type Metrics struct {
	registry *prometheus.Registry

	httpInFlight prometheus.Gauge
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	relaySubmissions  *prometheus.CounterVec
	relayDuration     *prometheus.HistogramVec
	aggregationErrors *prometheus.CounterVec
	droppedEvents     *prometheus.CounterVec
	yieldWritebacks   *prometheus.CounterVec
	autoStarts        *prometheus.CounterVec
	mintCooldowns     prometheus.Counter
}

// New creates a Metrics instance with its own registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		}, []string{"service", "method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		}, []string{"service", "method", "path"}),
		relaySubmissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "submissions_total",
			Help:      "Ledger submissions by action and outcome.",
		}, []string{"action", "outcome"}),
		relayDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "submission_duration_seconds",
			Help:      "Duration of ledger submissions.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"action"}),
		aggregationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregator",
			Name:      "query_failures_total",
			Help:      "Event queries that failed and degraded to an empty set.",
		}, []string{"event"}),
		droppedEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregator",
			Name:      "dropped_events_total",
			Help:      "Malformed ledger events dropped at the gateway boundary.",
		}, []string{"event"}),
		yieldWritebacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "yield",
			Name:      "checkpoint_writes_total",
			Help:      "Yield checkpoint write-backs by outcome.",
		}, []string{"outcome"}),
		autoStarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "auto_starts_total",
			Help:      "Scheduled room auto-starts by outcome.",
		}, []string{"outcome"}),
		mintCooldowns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "mint_cooldown_hits_total",
			Help:      "Mint requests refused by the per-recipient cooldown.",
		}),
	}

	m.registry.MustRegister(
		m.httpInFlight,
		m.httpRequests,
		m.httpDuration,
		m.relaySubmissions,
		m.relayDuration,
		m.aggregationErrors,
		m.droppedEvents,
		m.yieldWritebacks,
		m.autoStarts,
		m.mintCooldowns,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler exposing the registered metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// =============================================================================
// HTTP
// =============================================================================

func (m *Metrics) IncrementInFlight() { m.httpInFlight.Inc() }
func (m *Metrics) DecrementInFlight() { m.httpInFlight.Dec() }

// RecordHTTPRequest records one handled request.
func (m *Metrics) RecordHTTPRequest(service, method, path, status string, duration time.Duration) {
	m.httpRequests.WithLabelValues(service, method, path, status).Inc()
	m.httpDuration.WithLabelValues(service, method, path).Observe(duration.Seconds())
}

// =============================================================================
// Domain
// =============================================================================

// RecordRelaySubmission records a ledger submission for action.
func (m *Metrics) RecordRelaySubmission(action, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	if duration <= 0 {
		duration = time.Millisecond
	}
	m.relaySubmissions.WithLabelValues(action, outcome).Inc()
	m.relayDuration.WithLabelValues(action).Observe(duration.Seconds())
}

// RecordAggregationFailure counts an event query that degraded to empty.
func (m *Metrics) RecordAggregationFailure(eventKind string) {
	if m == nil {
		return
	}
	m.aggregationErrors.WithLabelValues(eventKind).Inc()
}

// RecordDroppedEvent counts a malformed event.
func (m *Metrics) RecordDroppedEvent(eventKind string) {
	if m == nil {
		return
	}
	m.droppedEvents.WithLabelValues(eventKind).Inc()
}

// RecordYieldWriteback counts a checkpoint write-back.
func (m *Metrics) RecordYieldWriteback(outcome string) {
	if m == nil {
		return
	}
	m.yieldWritebacks.WithLabelValues(outcome).Inc()
}

// RecordAutoStart counts a scheduled start.
func (m *Metrics) RecordAutoStart(outcome string) {
	if m == nil {
		return
	}
	m.autoStarts.WithLabelValues(outcome).Inc()
}

// RecordMintCooldown counts a cooldown refusal.
func (m *Metrics) RecordMintCooldown() {
	if m == nil {
		return
	}
	m.mintCooldowns.Inc()
}
