// Package simulator runs one telemetry worker per asset on top of the switch
// machine process model and writes what it produces to a Sink.
package simulator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"procodus.dev/switchwatch/internal/config"
	"procodus.dev/switchwatch/internal/health"
	"procodus.dev/switchwatch/internal/store"
	"procodus.dev/switchwatch/pkg/generator"
	"procodus.dev/switchwatch/pkg/logger"
	"procodus.dev/switchwatch/pkg/metrics"
)

// ErrUnknownAsset is returned for asset ids missing from the fleet.
var ErrUnknownAsset = errors.New("unknown asset")

// Config holds the configuration for a Simulator.
type Config struct {
	Logger  *slog.Logger
	Fleet   *config.Fleet
	AssetID string
	Sink    Sink
	Metrics *metrics.SimulatorMetrics // Optional metrics
	// Rand drives the process model. Defaults to a time-seeded source.
	Rand *rand.Rand
	Now  func() time.Time
}

// Status is a snapshot of a simulator and its machine.
type Status struct {
	LastMaintenance time.Time                     `json:"last_maintenance"`
	AssetID         string                        `json:"asset_id"`
	RunID           string                        `json:"run_id,omitempty"`
	Position        string                        `json:"position"`
	Target          string                        `json:"target,omitempty"`
	Controllers     []generator.ControllerReading `json:"controllers"`
	Phases          generator.PhaseReading        `json:"phase_currents"`
	Wear            float64                       `json:"wear"`
	Running         bool                          `json:"running"`
	Transitioning   bool                          `json:"transition_in_progress"`
}

// MaintenanceResult is the outcome of a simulated maintenance action.
type MaintenanceResult struct {
	Report generator.MaintenanceReport `json:"report"`
	Record store.MaintenanceRecord     `json:"record"`
}

// Simulator is the background worker of one asset.
type Simulator struct {
	logger  *slog.Logger
	fleet   *config.Fleet
	asset   config.AssetConfig
	sink    Sink
	metrics *metrics.SimulatorMetrics
	now     func() time.Time

	// mu guards machine.
	mu      sync.Mutex
	machine *generator.Machine

	// lifecycle guards the fields below.
	lifecycle sync.Mutex
	running   bool
	runID     uuid.UUID
	cancel    context.CancelFunc
	done      chan struct{}
}

// New creates a stopped simulator for one asset of the fleet.
func New(cfg Config) (*Simulator, error) {
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.Fleet == nil {
		return nil, errors.New("fleet cannot be nil")
	}
	if cfg.Sink == nil {
		return nil, errors.New("sink cannot be nil")
	}
	asset, ok := cfg.Fleet.Asset(cfg.AssetID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAsset, cfg.AssetID)
	}
	if asset.TickInterval <= 0 {
		return nil, errors.New("tick interval must be positive")
	}

	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	rng := cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano())) // #nosec G404 - simulation data
	}

	return &Simulator{
		logger:  logger.ForAsset(cfg.Logger, asset.ID, slog.String("component", "simulator")),
		fleet:   cfg.Fleet,
		asset:   asset,
		sink:    cfg.Sink,
		metrics: cfg.Metrics,
		now:     now,
		machine: generator.NewMachine(asset, cfg.Fleet.Simulation, rng, now()),
	}, nil
}

// AssetID returns the id of the simulated asset.
func (s *Simulator) AssetID() string {
	return s.asset.ID
}

// Start launches the worker. It returns immediately and is a no-op when the
// worker is already running. The worker stops when ctx is done, when Stop is
// called, or when a tick panics.
func (s *Simulator) Start(ctx context.Context) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.running {
		s.logger.Warn("simulator already running")
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.running = true
	s.runID = uuid.New()
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.run(runCtx, s.done)
	s.logger.Info("simulator started", "run_id", s.runID, "tick_interval", s.asset.TickInterval)
}

// Stop signals the worker and waits for it to exit, bounded by the configured
// stop timeout. It is a no-op when the worker is not running.
func (s *Simulator) Stop() error {
	s.lifecycle.Lock()
	if !s.running {
		s.lifecycle.Unlock()
		s.logger.Warn("simulator not running")
		return nil
	}
	cancel, done := s.cancel, s.done
	s.lifecycle.Unlock()

	cancel()

	timeout := s.fleet.Simulation.StopTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	select {
	case <-done:
		s.logger.Info("simulator stopped")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("simulator %s did not stop within %s", s.asset.ID, timeout)
	}
}

// Running reports whether the worker is active.
func (s *Simulator) Running() bool {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	return s.running
}

func (s *Simulator) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer func() {
		s.lifecycle.Lock()
		s.running = false
		s.lifecycle.Unlock()
	}()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("simulator loop crashed", "panic", r)
			if s.metrics != nil {
				s.metrics.TickFailures.WithLabelValues(s.asset.ID, "panic").Inc()
			}
		}
	}()

	if s.metrics != nil {
		s.metrics.ActiveSimulators.Inc()
		defer s.metrics.ActiveSimulators.Dec()
	}

	ticker := time.NewTicker(s.asset.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Tick(ctx); err != nil {
				// Sink failures drop this tick's rows; the process model keeps going.
				s.logger.Warn("failed to write tick", "error", err)
				if s.metrics != nil {
					s.metrics.TickFailures.WithLabelValues(s.asset.ID, "sink").Inc()
				}
			}
		}
	}
}

// Tick advances the machine one step and writes the phase sample, one sample
// per controller, a completed transition and any fault alerts to the sink.
// Every row is attempted; the returned error joins the failures.
func (s *Simulator) Tick(ctx context.Context) (generator.Tick, error) {
	start := time.Now()

	var tick generator.Tick
	s.withMachine(func(m *generator.Machine) { tick = m.Step(s.now()) })

	var errs []error
	errs = append(errs, s.sink.AppendPhaseCurrent(ctx, &store.PhaseCurrentSample{
		Timestamp: tick.Time,
		AssetID:   s.asset.ID,
		PhaseA:    tick.Phases.A,
		PhaseB:    tick.Phases.B,
		PhaseC:    tick.Phases.C,
	}))
	for _, c := range tick.Controllers {
		errs = append(errs, s.sink.AppendControllerSample(ctx, &store.ControllerSample{
			Timestamp:    tick.Time,
			AssetID:      s.asset.ID,
			ControllerID: c.ID,
			Voltage:      c.Voltage,
			Current:      c.Current,
		}))
	}
	if t := tick.Transition; t != nil {
		errs = append(errs, s.sink.AppendTransition(ctx, &store.TransitionEvent{
			Timestamp:       tick.Time,
			AssetID:         s.asset.ID,
			StartPosition:   t.StartPosition,
			EndPosition:     t.EndPosition,
			DurationSeconds: t.Duration,
			CurrentSpike:    t.CurrentSpike,
		}))
		s.logger.Debug("transition completed", "direction", t.Direction, "duration", t.Duration)
	}
	if tick.Fault != nil {
		s.logger.Debug("fault injected", "kind", tick.Fault.Kind, "target", tick.Fault.Target)
	}
	_, alertErr := s.writeAlerts(ctx, tick.Time, tick.Alerts)
	errs = append(errs, alertErr)

	if s.metrics != nil {
		s.metrics.Ticks.WithLabelValues(s.asset.ID).Inc()
		s.metrics.TickDuration.WithLabelValues(s.asset.ID).Observe(time.Since(start).Seconds())
		s.metrics.Wear.WithLabelValues(s.asset.ID).Set(tick.Wear)
		if tick.Transition != nil {
			s.metrics.Transitions.WithLabelValues(s.asset.ID, string(tick.Transition.Direction)).Inc()
		}
		if tick.Fault != nil {
			s.metrics.FaultsInjected.WithLabelValues(s.asset.ID, string(tick.Fault.Kind)).Inc()
		}
	}

	return tick, errors.Join(errs...)
}

// InjectFault applies a fault to the live signals and records the alerts it
// raised.
func (s *Simulator) InjectFault(ctx context.Context, f generator.Fault) ([]store.Alert, error) {
	var raised []generator.Alert
	s.withMachine(func(m *generator.Machine) { raised = m.InjectFault(f) })

	if s.metrics != nil {
		s.metrics.FaultsInjected.WithLabelValues(s.asset.ID, string(f.Kind)).Inc()
	}
	return s.writeAlerts(ctx, s.now(), raised)
}

func (s *Simulator) writeAlerts(ctx context.Context, at time.Time, raised []generator.Alert) ([]store.Alert, error) {
	alerts := make([]store.Alert, 0, len(raised))
	var errs []error
	for _, a := range raised {
		row := store.Alert{
			Timestamp:   at,
			AssetID:     s.asset.ID,
			AlertType:   a.Type,
			Severity:    a.Severity,
			Description: a.Description,
			Value:       a.Value,
			Threshold:   a.Threshold,
		}
		if err := s.sink.AppendAlert(ctx, &row); err != nil {
			errs = append(errs, err)
			continue
		}
		alerts = append(alerts, row)
		if s.metrics != nil {
			s.metrics.AlertsRaised.WithLabelValues(s.asset.ID, a.Type, a.Severity).Inc()
		}
	}
	return alerts, errors.Join(errs...)
}

// SimulateMaintenance performs a maintenance action on the machine and
// records it. The wear reduction applies even when the record cannot be
// written.
func (s *Simulator) SimulateMaintenance(ctx context.Context) (MaintenanceResult, error) {
	now := s.now()

	var report generator.MaintenanceReport
	s.withMachine(func(m *generator.Machine) { report = m.Maintain(now) })

	usage := health.ConditionLevel(100 * (1 - report.WearAfter))
	next, err := health.NextMaintenanceDate(s.fleet, s.asset.ID, config.RoutineInspection, usage, s.asset.Environment, now)
	if err != nil {
		return MaintenanceResult{Report: report}, err
	}

	record := store.MaintenanceRecord{
		Timestamp:       now,
		NextMaintenance: next,
		AssetID:         s.asset.ID,
		Type:            report.Type,
		WearBefore:      report.WearBefore,
		WearAfter:       report.WearAfter,
	}
	if v := report.Visit; v != nil {
		record.Technician = v.Technician
		record.WorkOrder = v.WorkOrder
		record.Findings = v.Findings
		record.Actions = v.Actions
	}

	s.logger.Info("maintenance simulated",
		"wear_before", report.WearBefore,
		"wear_after", report.WearAfter,
		"improvement", report.Improvement,
		"next_maintenance", next,
	)

	if err := s.sink.AppendMaintenanceRecord(ctx, &record); err != nil {
		return MaintenanceResult{Report: report, Record: record}, fmt.Errorf("failed to record maintenance: %w", err)
	}
	return MaintenanceResult{Report: report, Record: record}, nil
}

// Status returns the current state of the simulator.
func (s *Simulator) Status() Status {
	var state generator.State
	s.withMachine(func(m *generator.Machine) { state = m.State() })

	s.lifecycle.Lock()
	running, runID := s.running, s.runID
	s.lifecycle.Unlock()

	st := Status{
		LastMaintenance: state.LastMaintenance,
		AssetID:         s.asset.ID,
		Position:        state.Position,
		Target:          state.Target,
		Controllers:     state.Controllers,
		Phases:          state.Phases,
		Wear:            state.Wear,
		Running:         running,
		Transitioning:   state.Transitioning,
	}
	if runID != uuid.Nil {
		st.RunID = runID.String()
	}
	return st
}

// SetWear overrides the accumulated wear of the machine.
func (s *Simulator) SetWear(w float64) {
	s.withMachine(func(m *generator.Machine) { m.SetWear(w) })
}

func (s *Simulator) withMachine(fn func(m *generator.Machine)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.machine)
}
