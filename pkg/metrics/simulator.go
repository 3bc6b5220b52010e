package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// SimulatorMetrics contains Prometheus metrics for the telemetry simulators.
type SimulatorMetrics struct {
	Ticks            *prometheus.CounterVec
	TickFailures     *prometheus.CounterVec
	TickDuration     *prometheus.HistogramVec
	ActiveSimulators prometheus.Gauge
	FaultsInjected   *prometheus.CounterVec
	Transitions      *prometheus.CounterVec
	AlertsRaised     *prometheus.CounterVec
	Wear             *prometheus.GaugeVec
}

// NewSimulatorMetrics creates and registers simulator metrics.
func NewSimulatorMetrics(namespace string) *SimulatorMetrics {
	m := &SimulatorMetrics{
		Ticks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "simulator",
				Name:      "ticks_total",
				Help:      "Total number of simulation ticks",
			},
			[]string{"asset_id"},
		),
		TickFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "simulator",
				Name:      "tick_failures_total",
				Help:      "Total number of ticks whose readings could not be delivered",
			},
			[]string{"asset_id", "reason"},
		),
		TickDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "simulator",
				Name:      "tick_duration_seconds",
				Help:      "Duration of one simulation tick including delivery",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"asset_id"},
		),
		ActiveSimulators: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "simulator",
				Name:      "active",
				Help:      "Number of currently running simulators",
			},
		),
		FaultsInjected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "simulator",
				Name:      "faults_injected_total",
				Help:      "Total number of injected faults",
			},
			[]string{"asset_id", "kind"},
		),
		Transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "simulator",
				Name:      "transitions_total",
				Help:      "Total number of completed position transitions",
			},
			[]string{"asset_id", "direction"},
		),
		AlertsRaised: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "simulator",
				Name:      "alerts_total",
				Help:      "Total number of alerts raised by injected faults",
			},
			[]string{"asset_id", "type", "severity"},
		),
		Wear: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "simulator",
				Name:      "accumulated_wear",
				Help:      "Current accumulated wear of each simulated asset (0-1)",
			},
			[]string{"asset_id"},
		),
	}

	MustRegister(
		m.Ticks,
		m.TickFailures,
		m.TickDuration,
		m.ActiveSimulators,
		m.FaultsInjected,
		m.Transitions,
		m.AlertsRaised,
		m.Wear,
	)

	return m
}
