package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/promptgate/promptgate/pkg/audit"
)

// Metrics holds all Prometheus metrics for the gate.
type Metrics struct {
	decisionsTotal      *prometheus.CounterVec
	riskScores          prometheus.Histogram
	rateLimitDenials    prometheus.Counter
	policyDenials       prometheus.Counter
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics instance with all gate metrics registered
// on a private registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		decisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gate_decisions_total",
				Help: "Total number of pipeline decisions by outcome",
			},
			[]string{"outcome"},
		),

		riskScores: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "gate_risk_score",
				Help:    "Distribution of computed risk scores",
				Buckets: []float64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
			},
		),

		rateLimitDenials: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gate_rate_limit_denials_total",
				Help: "Total number of requests denied by the rate limiter",
			},
		),

		policyDenials: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gate_policy_denials_total",
				Help: "Total number of requests denied by policy evaluation",
			},
		),

		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gate_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gate_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		registry: registry,
	}

	registry.MustRegister(
		m.decisionsTotal,
		m.riskScores,
		m.rateLimitDenials,
		m.policyDenials,
		m.httpRequestsTotal,
		m.httpRequestDuration,
	)

	return m
}

// ObserveAuditSink registers gauges that read the sink's counters on scrape.
func (m *Metrics) ObserveAuditSink(sink *audit.Sink) {
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "gate_audit_queue_depth",
			Help: "Current number of audit records awaiting persistence",
		}, func() float64 { return float64(sink.Depth()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "gate_audit_records_dropped_total",
			Help: "Audit records dropped because the queue was full",
		}, func() float64 { return float64(sink.Dropped()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "gate_audit_write_failures_total",
			Help: "Audit records lost to persistence failures",
		}, func() float64 { return float64(sink.Failed()) }),
	)
}

// RecordDecision records a pipeline decision outcome and its risk score.
func (m *Metrics) RecordDecision(outcome string, score int) {
	m.decisionsTotal.WithLabelValues(outcome).Inc()
	m.riskScores.Observe(float64(score))
}

// RecordRateLimitDenial counts a rate limiter rejection.
func (m *Metrics) RecordRateLimitDenial() {
	m.rateLimitDenials.Inc()
	m.decisionsTotal.WithLabelValues("rate_limited").Inc()
}

// RecordPolicyDenial counts a policy rejection.
func (m *Metrics) RecordPolicyDenial() {
	m.policyDenials.Inc()
	m.decisionsTotal.WithLabelValues("policy_denied").Inc()
}

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.httpRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// Handler returns the HTTP handler exposing the private registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
