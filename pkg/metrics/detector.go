package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// DetectorMetrics contains Prometheus metrics for the anomaly detection engine.
type DetectorMetrics struct {
	Trainings         *prometheus.CounterVec
	TrainingDuration  *prometheus.HistogramVec
	Detections        *prometheus.CounterVec
	DetectionDuration *prometheus.HistogramVec
	Anomalies         *prometheus.CounterVec
	ModelsLoaded      prometheus.Gauge
}

// NewDetectorMetrics creates and registers detection engine metrics.
func NewDetectorMetrics(namespace string) *DetectorMetrics {
	m := &DetectorMetrics{
		Trainings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "detector",
				Name:      "trainings_total",
				Help:      "Total number of training attempts",
			},
			[]string{"family", "outcome"}, // outcome: trained, skipped, insufficient_data, error
		),
		TrainingDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "detector",
				Name:      "training_duration_seconds",
				Help:      "Duration of model training",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"family"},
		),
		Detections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "detector",
				Name:      "detections_total",
				Help:      "Total number of detection runs by result status",
			},
			[]string{"family", "status"},
		),
		DetectionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "detector",
				Name:      "detection_duration_seconds",
				Help:      "Duration of detection runs",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"family"},
		),
		Anomalies: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "detector",
				Name:      "anomalies_total",
				Help:      "Total number of anomalies reported",
			},
			[]string{"family", "type", "method"},
		),
		ModelsLoaded: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "detector",
				Name:      "models_loaded",
				Help:      "Number of trained models held in memory",
			},
		),
	}

	MustRegister(
		m.Trainings,
		m.TrainingDuration,
		m.Detections,
		m.DetectionDuration,
		m.Anomalies,
		m.ModelsLoaded,
	)

	return m
}
