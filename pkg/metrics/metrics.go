package metrics

import (
	"context"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector provides Prometheus metrics collection for extraction operations
type MetricsCollector struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	errorsTotal       *prometheus.CounterVec
	casesTotal        *prometheus.CounterVec
	caseDuration      prometheus.Histogram
	registry          *prometheus.Registry
}

// NewCollector creates a new Prometheus metrics collector
func NewCollector() *MetricsCollector {
	registry := prometheus.NewRegistry()

	operationsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entityx_operations_total",
			Help: "Total number of entityx operations by type and status",
		},
		[]string{"operation", "status"},
	)

	// LLM calls dominate; the upper buckets cover the 300s generate timeout.
	operationDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "entityx_operation_duration_seconds",
			Help:    "Duration of entityx operations by type and stage",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0, 300.0},
		},
		[]string{"operation", "stage"},
	)

	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entityx_errors_total",
			Help: "Total number of errors by operation and error type",
		},
		[]string{"operation", "error_type"},
	)

	casesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entityx_harness_cases_total",
			Help: "Total number of harness cases by outcome",
		},
		[]string{"passed"},
	)

	caseDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "entityx_harness_case_duration_seconds",
			Help:    "Wall time of harness cases",
			Buckets: []float64{0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0, 300.0},
		},
	)

	registry.MustRegister(operationsTotal, operationDuration, errorsTotal, casesTotal, caseDuration)

	return &MetricsCollector{
		operationsTotal:   operationsTotal,
		operationDuration: operationDuration,
		errorsTotal:       errorsTotal,
		casesTotal:        casesTotal,
		caseDuration:      caseDuration,
		registry:          registry,
	}
}

// RecordOperation records the completion of an operation
func (m *MetricsCollector) RecordOperation(ctx context.Context, operation string, status string, durationMs int64) {
	m.operationsTotal.WithLabelValues(operation, status).Inc()
	m.operationDuration.WithLabelValues(operation, "total").Observe(float64(durationMs) / 1000.0)
}

// RecordStage records the duration of a specific stage within an operation
func (m *MetricsCollector) RecordStage(ctx context.Context, operation string, stage string, durationMs int64) {
	m.operationDuration.WithLabelValues(operation, stage).Observe(float64(durationMs) / 1000.0)
}

// RecordError records an error occurrence
func (m *MetricsCollector) RecordError(ctx context.Context, operation string, errorType string) {
	m.errorsTotal.WithLabelValues(operation, errorType).Inc()
}

// RecordCase records one finished harness case
func (m *MetricsCollector) RecordCase(ctx context.Context, passed bool, durationMs int64) {
	m.casesTotal.WithLabelValues(strconv.FormatBool(passed)).Inc()
	m.caseDuration.Observe(float64(durationMs) / 1000.0)
}

// Registry returns the Prometheus registry for HTTP exposure
func (m *MetricsCollector) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *MetricsCollector) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
