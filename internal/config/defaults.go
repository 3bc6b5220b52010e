package config

import (
	"fmt"
	"time"
)

// Default returns the fleet used when no file is given: the two switch zones
// of the original installation with their factory thresholds.
func Default() *Fleet {
	return &Fleet{
		Assets: []AssetConfig{
			DefaultAsset("VIM_11_21", "Zona de Maniobra 11/21 - VIM L4A"),
			DefaultAsset("SP_13_23", "Zona de Maniobra 13/23 - SP L1"),
		},
		Simulation: SimulationConfig{
			TransitionProbability: 0.03,
			NormalNoise:           0.05,
			TransitionNoise:       0.15,
			DegradationRate:       0.001,
			FaultProbability:      0.01,
			FaultWearMultiplier:   5,
			MaxMaintenanceAgeDays: 45,
			ImbalanceAlertPercent: 25,
			StopTimeout:           2 * time.Second,
		},
		Detection: DetectionConfig{
			Sensitivity:            0.05,
			TrainingWindowDays:     30,
			MinSamples:             1000,
			MinControllerSamples:   500,
			MinTransitionSamples:   30,
			MinDirectionSamples:    15,
			ModelUpdateInterval:    24 * time.Hour,
			RetrainCheckInterval:   time.Hour,
			RecentWindow:           100,
			RecentTransitionWindow: 50,
			MinRecentSamples:       10,
			MinRecentTransitions:   5,
			Trees:                  100,
			SubsampleSize:          256,
			RandomSeed:             42,
			ClusterEps:             0.5,
			ClusterMinPoints:       3,
		},
		Rules: RuleConfig{
			PhaseCurrent: PhaseCurrentRules{
				VarianceWarning:       0.5,
				VarianceCritical:      0.8,
				VarianceWindow:        10,
				MinVarianceSamples:    50,
				ImbalanceWarning:      10,
				ImbalanceCritical:     15,
				ImbalanceSamples:      20,
				MinSignificantCurrent: 0.5,
			},
			Controller: ControllerRules{
				DropoutWarning:  2,
				DropoutCritical: 4,
				DropSamples:     20,
				StabilityWindow: 50,
				CVThreshold:     0.05,
			},
			Transition: TransitionRules{
				IncreaseWarning:  20,
				IncreaseCritical: 40,
				TrendWindow:      10,
				TrendPValue:      0.1,
				TrendProjection:  10,
				TrendThreshold:   5,
			},
		},
		Maintenance: MaintenanceConfig{
			RoutineInspectionDays: 30,
			UsageFactors: map[string]float64{
				"high":   0.7,
				"medium": 1.0,
				"low":    1.3,
			},
			EnvironmentFactors: map[string]float64{
				"harsh":      0.7,
				"normal":     1.0,
				"controlled": 1.2,
			},
			DueWarningDays:  7,
			DueCriticalDays: 2,
		},
		HealthAlerts: HealthAlertConfig{
			Enabled:           true,
			OverallWarning:    50,
			OverallCritical:   30,
			SubsystemWarning:  40,
			SubsystemCritical: 25,
		},
	}
}

// DefaultAsset returns an asset with four controllers and the factory thresholds.
func DefaultAsset(id, name string) AssetConfig {
	asset := AssetConfig{ID: id, Name: name}
	applyAssetDefaults(&asset)
	return asset
}

func applyAssetDefaults(a *AssetConfig) {
	if a.TickInterval == 0 {
		a.TickInterval = time.Second
	}

	phase := func(r *Range, name string) {
		if *r == (Range{}) {
			*r = Range{Name: name, Min: 0, Max: 5, Warning: 4.5, Critical: 4.8}
		}
	}
	phase(&a.Phases.A, "Fase A")
	phase(&a.Phases.B, "Fase B")
	phase(&a.Phases.C, "Fase C")

	if len(a.Controllers) == 0 {
		for i := 1; i <= 4; i++ {
			a.Controllers = append(a.Controllers, ControllerConfig{
				ID:              fmt.Sprintf("ctrl_%d", i),
				Name:            fmt.Sprintf("Controlador %d", i),
				NominalVoltage:  24,
				WarningVoltage:  22,
				CriticalVoltage: 20,
				Current: Range{
					Name:     fmt.Sprintf("Corriente Control %d", i),
					Max:      1,
					Warning:  0.8,
					Critical: 0.9,
				},
			})
		}
	}

	if len(a.Positions) == 0 {
		a.Positions = []string{"Normal", "Reversa"}
	}

	if a.Transitions == nil {
		a.Transitions = map[Direction]TransitionConfig{}
	}
	for _, d := range Directions {
		if _, ok := a.Transitions[d]; !ok {
			a.Transitions[d] = TransitionConfig{Nominal: 6, Warning: 8, Critical: 10}
		}
	}

	if a.MaintenanceIntervals == nil {
		a.MaintenanceIntervals = map[string]int{
			MinorMaintenance: 180,
			MajorMaintenance: 365,
		}
	}

	if a.Environment == "" {
		a.Environment = "normal"
	}
}
