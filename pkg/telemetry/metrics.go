package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the reconciliation engine.
type Metrics struct {
	config MetricsConfig

	// Pass metrics
	passesRun    *prometheus.CounterVec
	passDuration *prometheus.HistogramVec

	// Transition metrics
	transitions *prometheus.CounterVec

	// Provider metrics
	providerCalls    *prometheus.CounterVec
	providerDuration *prometheus.HistogramVec
	providerErrors   *prometheus.CounterVec

	// Drift metrics
	driftDetections    *prometheus.CounterVec
	inventoryAnomalies prometheus.Counter

	// Error metrics
	errorsByClass *prometheus.CounterVec

	// System metrics
	requestsByStatus *prometheus.GaugeVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
// When metrics are disabled a no-op instance is returned.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		passesRun: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "passes_total",
				Help:      "Total number of reconciliation passes run",
			},
			[]string{"pass", "status"},
		),
		passDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "pass_duration_seconds",
				Help:      "Duration of reconciliation passes in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"pass"},
		),

		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "status_transitions_total",
				Help:      "Total number of request status transitions",
			},
			[]string{"from", "to"},
		),

		providerCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_calls_total",
				Help:      "Total number of provider mutation calls",
			},
			[]string{"operation", "status"},
		),
		providerDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "provider_call_duration_seconds",
				Help:      "Duration of provider mutation calls in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		providerErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_errors_total",
				Help:      "Total number of provider call errors",
			},
			[]string{"operation"},
		),

		driftDetections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "drift_detections_total",
				Help:      "Total number of drift transitions recorded by the detector",
			},
			[]string{"kind"},
		),
		inventoryAnomalies: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "inventory_anomalies_total",
				Help:      "Total number of inventory lookups returning more than one row",
			},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of errors by classification",
			},
			[]string{"class"},
		),

		requestsByStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "requests",
				Help:      "Current number of requests per status",
			},
			[]string{"status"},
		),
	}

	registry.MustRegister(
		m.passesRun,
		m.passDuration,
		m.transitions,
		m.providerCalls,
		m.providerDuration,
		m.providerErrors,
		m.driftDetections,
		m.inventoryAnomalies,
		m.errorsByClass,
		m.requestsByStatus,
	)

	return m, nil
}

// RecordPass records one completed pass with its outcome and duration.
func (m *Metrics) RecordPass(pass, status string, duration time.Duration) {
	if m.passesRun == nil {
		return
	}
	m.passesRun.WithLabelValues(pass, status).Inc()
	m.passDuration.WithLabelValues(pass).Observe(duration.Seconds())
}

// RecordTransition records one request status transition.
func (m *Metrics) RecordTransition(from, to string) {
	if m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

// RecordProviderCall records a provider mutation call with its duration.
func (m *Metrics) RecordProviderCall(operation, status string, duration time.Duration) {
	if m.providerCalls == nil {
		return
	}
	m.providerCalls.WithLabelValues(operation, status).Inc()
	m.providerDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordProviderError records a provider call error.
func (m *Metrics) RecordProviderError(operation string) {
	if m.providerErrors == nil {
		return
	}
	m.providerErrors.WithLabelValues(operation).Inc()
}

// RecordDriftDetection records one drift transition (modified, deleted,
// resolved).
func (m *Metrics) RecordDriftDetection(kind string) {
	if m.driftDetections == nil {
		return
	}
	m.driftDetections.WithLabelValues(kind).Inc()
}

// RecordInventoryAnomaly records an inventory lookup that returned more
// than one row for a single rule key.
func (m *Metrics) RecordInventoryAnomaly() {
	if m.inventoryAnomalies == nil {
		return
	}
	m.inventoryAnomalies.Inc()
}

// RecordError records an error by classification.
func (m *Metrics) RecordError(errorClass string) {
	if m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
}

// SetRequestCount sets the current number of requests in a status.
func (m *Metrics) SetRequestCount(status string, count float64) {
	if m.requestsByStatus == nil {
		return
	}
	m.requestsByStatus.WithLabelValues(status).Set(count)
}

// Handler returns the HTTP handler serving the metrics registry.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
