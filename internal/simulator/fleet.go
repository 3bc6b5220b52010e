package simulator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"procodus.dev/switchwatch/internal/config"
	"procodus.dev/switchwatch/pkg/metrics"
)

// FleetConfig holds the configuration for a Fleet.
type FleetConfig struct {
	Logger  *slog.Logger
	Fleet   *config.Fleet
	Sink    Sink
	Metrics *metrics.SimulatorMetrics // Optional metrics
	// Seed makes every simulator deterministic when non-zero. Each asset
	// gets its own source derived from it.
	Seed int64
	Now  func() time.Time
}

// Fleet owns one simulator per configured asset.
type Fleet struct {
	logger     *slog.Logger
	order      []string
	simulators map[string]*Simulator
}

// NewFleet creates a stopped simulator for every asset of the fleet.
func NewFleet(cfg FleetConfig) (*Fleet, error) {
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.Fleet == nil {
		return nil, errors.New("fleet cannot be nil")
	}

	f := &Fleet{
		logger:     cfg.Logger,
		simulators: make(map[string]*Simulator, len(cfg.Fleet.Assets)),
	}
	for i, id := range cfg.Fleet.AssetIDs() {
		var rng *rand.Rand
		if cfg.Seed != 0 {
			rng = rand.New(rand.NewSource(cfg.Seed + int64(i))) // #nosec G404 - simulation data
		}
		sim, err := New(Config{
			Logger:  cfg.Logger,
			Fleet:   cfg.Fleet,
			AssetID: id,
			Sink:    cfg.Sink,
			Metrics: cfg.Metrics,
			Rand:    rng,
			Now:     cfg.Now,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create simulator for %s: %w", id, err)
		}
		f.order = append(f.order, id)
		f.simulators[id] = sim
		cfg.Logger.Info("simulator loaded", "asset_id", id)
	}
	return f, nil
}

// AssetIDs returns the simulated asset ids in configuration order.
func (f *Fleet) AssetIDs() []string {
	return append([]string(nil), f.order...)
}

// Simulator returns the simulator of an asset.
func (f *Fleet) Simulator(id string) (*Simulator, error) {
	sim, ok := f.simulators[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAsset, id)
	}
	return sim, nil
}

// StartAll starts every simulator.
func (f *Fleet) StartAll(ctx context.Context) {
	for _, id := range f.order {
		f.simulators[id].Start(ctx)
	}
	f.logger.Info("simulators started", "count", len(f.order))
}

// StopAll stops every simulator and joins the errors of those that did not
// stop in time.
func (f *Fleet) StopAll() error {
	var errs []error
	for _, id := range f.order {
		if !f.simulators[id].Running() {
			continue
		}
		errs = append(errs, f.simulators[id].Stop())
	}
	f.logger.Info("simulators stopped")
	return errors.Join(errs...)
}

// Start starts the simulator of one asset.
func (f *Fleet) Start(ctx context.Context, id string) error {
	sim, err := f.Simulator(id)
	if err != nil {
		return err
	}
	sim.Start(ctx)
	return nil
}

// Stop stops the simulator of one asset.
func (f *Fleet) Stop(id string) error {
	sim, err := f.Simulator(id)
	if err != nil {
		return err
	}
	return sim.Stop()
}

// Status returns the status of one asset's simulator.
func (f *Fleet) Status(id string) (Status, error) {
	sim, err := f.Simulator(id)
	if err != nil {
		return Status{}, err
	}
	return sim.Status(), nil
}

// Statuses returns the status of every simulator in configuration order.
func (f *Fleet) Statuses() []Status {
	out := make([]Status, 0, len(f.order))
	for _, id := range f.order {
		out = append(out, f.simulators[id].Status())
	}
	return out
}

// SimulateMaintenance performs a maintenance action on one asset.
func (f *Fleet) SimulateMaintenance(ctx context.Context, id string) (MaintenanceResult, error) {
	sim, err := f.Simulator(id)
	if err != nil {
		return MaintenanceResult{}, err
	}
	return sim.SimulateMaintenance(ctx)
}
