package config

import (
	"fmt"
)

// Validate rejects malformed configuration before any component uses it.
func (f *Fleet) Validate() error {
	if len(f.Assets) == 0 {
		return fmt.Errorf("%w: at least one asset is required", ErrInvalidConfig)
	}

	seen := make(map[string]bool, len(f.Assets))
	for _, a := range f.Assets {
		if seen[a.ID] {
			return fmt.Errorf("%w: duplicate asset id %q", ErrInvalidConfig, a.ID)
		}
		seen[a.ID] = true

		if err := a.Validate(); err != nil {
			return err
		}
	}

	if err := f.Simulation.validate(); err != nil {
		return err
	}
	if err := f.Detection.validate(); err != nil {
		return err
	}
	return f.Maintenance.validate()
}

// Validate checks a single asset.
func (a AssetConfig) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("%w: asset id cannot be empty", ErrInvalidConfig)
	}
	if a.TickInterval <= 0 {
		return fmt.Errorf("%w: asset %s: tick interval must be positive", ErrInvalidConfig, a.ID)
	}

	for _, name := range PhaseNames {
		r, _ := a.Phases.Get(name)
		if err := r.validate(); err != nil {
			return fmt.Errorf("%w: asset %s: %s: %w", ErrInvalidConfig, a.ID, name, err)
		}
	}

	if len(a.Controllers) == 0 {
		return fmt.Errorf("%w: asset %s: at least one controller is required", ErrInvalidConfig, a.ID)
	}
	ids := make(map[string]bool, len(a.Controllers))
	for _, c := range a.Controllers {
		if c.ID == "" {
			return fmt.Errorf("%w: asset %s: controller id cannot be empty", ErrInvalidConfig, a.ID)
		}
		if ids[c.ID] {
			return fmt.Errorf("%w: asset %s: duplicate controller %q", ErrInvalidConfig, a.ID, c.ID)
		}
		ids[c.ID] = true

		if c.NominalVoltage <= 0 {
			return fmt.Errorf("%w: asset %s: controller %s: nominal voltage must be positive", ErrInvalidConfig, a.ID, c.ID)
		}
		if c.CriticalVoltage > c.WarningVoltage || c.WarningVoltage > c.NominalVoltage {
			return fmt.Errorf("%w: asset %s: controller %s: expected critical <= warning <= nominal", ErrInvalidConfig, a.ID, c.ID)
		}
		if err := c.Current.validate(); err != nil {
			return fmt.Errorf("%w: asset %s: controller %s current: %w", ErrInvalidConfig, a.ID, c.ID, err)
		}
	}

	if len(a.Positions) != 2 || a.Positions[0] == a.Positions[1] {
		return fmt.Errorf("%w: asset %s: exactly two distinct positions are required", ErrInvalidConfig, a.ID)
	}

	for _, d := range Directions {
		t, ok := a.Transitions[d]
		if !ok {
			return fmt.Errorf("%w: asset %s: missing transition %s", ErrInvalidConfig, a.ID, d)
		}
		if t.Nominal <= 0 {
			return fmt.Errorf("%w: asset %s: transition %s: nominal must be positive", ErrInvalidConfig, a.ID, d)
		}
	}

	for _, kind := range []string{MinorMaintenance, MajorMaintenance} {
		if a.MaintenanceIntervals[kind] <= 0 {
			return fmt.Errorf("%w: asset %s: %s interval must be positive", ErrInvalidConfig, a.ID, kind)
		}
	}

	return nil
}

func (r Range) validate() error {
	if r.Max <= r.Min {
		return fmt.Errorf("max %.3f must exceed min %.3f", r.Max, r.Min)
	}
	if r.Warning > r.Critical {
		return fmt.Errorf("warning %.3f must not exceed critical %.3f", r.Warning, r.Critical)
	}
	return nil
}

func (s SimulationConfig) validate() error {
	for name, p := range map[string]float64{
		"transition_probability": s.TransitionProbability,
		"fault_probability":      s.FaultProbability,
		"initial_wear":           s.InitialWear,
	} {
		if p < 0 || p > 1 {
			return fmt.Errorf("%w: simulation %s must be within [0,1]", ErrInvalidConfig, name)
		}
	}
	if s.DegradationRate < 0 {
		return fmt.Errorf("%w: simulation degradation_rate cannot be negative", ErrInvalidConfig)
	}
	return nil
}

func (d DetectionConfig) validate() error {
	if d.Sensitivity <= 0 || d.Sensitivity >= 0.5 {
		return fmt.Errorf("%w: detection sensitivity must be within (0,0.5)", ErrInvalidConfig)
	}
	if d.TrainingWindowDays <= 0 {
		return fmt.Errorf("%w: detection training_window_days must be positive", ErrInvalidConfig)
	}
	if d.MinSamples <= 0 || d.MinControllerSamples <= 0 || d.MinTransitionSamples <= 0 || d.MinDirectionSamples <= 0 {
		return fmt.Errorf("%w: detection minimum sample counts must be positive", ErrInvalidConfig)
	}
	if d.ModelUpdateInterval <= 0 || d.RetrainCheckInterval <= 0 {
		return fmt.Errorf("%w: detection update and retrain check intervals must be positive", ErrInvalidConfig)
	}
	if d.Trees <= 0 || d.SubsampleSize < 2 {
		return fmt.Errorf("%w: detection forest parameters are invalid", ErrInvalidConfig)
	}
	if d.ClusterEps <= 0 || d.ClusterMinPoints <= 0 {
		return fmt.Errorf("%w: detection clustering parameters are invalid", ErrInvalidConfig)
	}
	return nil
}

func (m MaintenanceConfig) validate() error {
	if m.RoutineInspectionDays <= 0 {
		return fmt.Errorf("%w: maintenance routine_inspection_days must be positive", ErrInvalidConfig)
	}
	for _, level := range []string{"high", "medium", "low"} {
		if _, ok := m.UsageFactors[level]; !ok {
			return fmt.Errorf("%w: maintenance usage factor %q is missing", ErrInvalidConfig, level)
		}
	}
	for _, env := range []string{"harsh", "normal", "controlled"} {
		if _, ok := m.EnvironmentFactors[env]; !ok {
			return fmt.Errorf("%w: maintenance environment factor %q is missing", ErrInvalidConfig, env)
		}
	}
	return nil
}
