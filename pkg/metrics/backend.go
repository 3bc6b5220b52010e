package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// BackendMetrics contains Prometheus metrics for the backend service: the
// telemetry consumer, the HTTP API and dashboard, and health reporting.
type BackendMetrics struct {
	ConsumerMessagesTotal *prometheus.CounterVec
	ConsumerErrors        *prometheus.CounterVec
	ProcessingDuration    *prometheus.HistogramVec
	ActiveConsumers       prometheus.Gauge
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestsInFlight  *prometheus.GaugeVec
	TemplateRenderTime    *prometheus.HistogramVec
	TemplateRenderErrors  *prometheus.CounterVec
	HealthScore           *prometheus.GaugeVec
	HealthComputations    *prometheus.CounterVec
	GRPCRequestsTotal     *prometheus.CounterVec
	GRPCRequestDuration   *prometheus.HistogramVec
	GRPCRequestsInFlight  *prometheus.GaugeVec
}

// NewBackendMetrics creates and registers backend service metrics.
func NewBackendMetrics(namespace string) *BackendMetrics {
	counter := func(subsystem, name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: name, Help: help,
		}, labels)
	}
	gauge := func(subsystem, name, help string, labels ...string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem, Name: name, Help: help,
		}, labels)
	}
	latency := func(subsystem, help string, labels ...string) *prometheus.HistogramVec {
		name := "request_duration_seconds"
		switch subsystem {
		case "consumer":
			name = "processing_duration_seconds"
		case "template":
			name = "render_duration_seconds"
		}
		return prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: subsystem, Name: name, Help: help,
			Buckets: prometheus.DefBuckets,
		}, labels)
	}

	m := &BackendMetrics{
		// status: stored, dropped, error
		ConsumerMessagesTotal: counter("consumer", "messages_total", "Telemetry messages consumed by outcome", "queue", "status"),
		ConsumerErrors:        counter("consumer", "errors_total", "Telemetry messages that failed to decode or store", "queue", "error_type"),
		ProcessingDuration:    latency("consumer", "Time to decode and store one telemetry message", "queue"),
		ActiveConsumers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "consumer", Name: "active_consumers",
			Help: "Telemetry consumers currently reading a queue",
		}),

		HTTPRequestsTotal:    counter("http", "requests_total", "API and dashboard requests", "method", "route", "status_code"),
		HTTPRequestDuration:  latency("http", "API and dashboard request latency", "method", "route"),
		HTTPRequestsInFlight: gauge("http", "requests_in_flight", "API and dashboard requests being served", "route"),

		TemplateRenderTime:   latency("template", "Dashboard render time", "template"),
		TemplateRenderErrors: counter("template", "render_errors_total", "Dashboard render failures", "template"),

		// component: overall, electrical, mechanical, control
		HealthScore:        gauge("health", "score", "Latest health score per asset and component (0-100)", "asset_id", "component"),
		HealthComputations: counter("health", "computations_total", "Health computations by outcome", "asset_id", "status"),

		GRPCRequestsTotal:    counter("grpc", "requests_total", "gRPC health requests by status code", "method", "code"),
		GRPCRequestDuration:  latency("grpc", "gRPC health request latency", "method"),
		GRPCRequestsInFlight: gauge("grpc", "requests_in_flight", "gRPC health requests being served", "method"),
	}

	MustRegister(
		m.ConsumerMessagesTotal,
		m.ConsumerErrors,
		m.ProcessingDuration,
		m.ActiveConsumers,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.TemplateRenderTime,
		m.TemplateRenderErrors,
		m.HealthScore,
		m.HealthComputations,
		m.GRPCRequestsTotal,
		m.GRPCRequestDuration,
		m.GRPCRequestsInFlight,
	)

	return m
}
