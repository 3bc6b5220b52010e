// Package config holds the typed fleet configuration: monitored assets with their
// signal thresholds, plus simulation, detection, rule and maintenance settings.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Phase names in canonical order.
const (
	PhaseA = "phase_a"
	PhaseB = "phase_b"
	PhaseC = "phase_c"
)

// PhaseNames lists the three motor supply phases in canonical order.
var PhaseNames = []string{PhaseA, PhaseB, PhaseC}

// Direction identifies a position transition, e.g. normal_to_reverse.
type Direction string

// Supported transition directions.
const (
	NormalToReverse Direction = "normal_to_reverse"
	ReverseToNormal Direction = "reverse_to_normal"
)

// Directions lists both transition directions.
var Directions = []Direction{NormalToReverse, ReverseToNormal}

// Maintenance types understood by the scheduler.
const (
	RoutineInspection = "routine_inspection"
	MinorMaintenance  = "minor_maintenance"
	MajorMaintenance  = "major_maintenance"
)

// Range holds min/max bounds and warning/critical levels for a scalar signal.
type Range struct {
	Name     string  `yaml:"name"`
	Min      float64 `yaml:"min"`
	Max      float64 `yaml:"max"`
	Warning  float64 `yaml:"warning"`
	Critical float64 `yaml:"critical"`
}

// PhaseSet holds the thresholds of the three supply phases.
type PhaseSet struct {
	A Range `yaml:"phase_a"`
	B Range `yaml:"phase_b"`
	C Range `yaml:"phase_c"`
}

// Get returns the range for a phase name.
func (p PhaseSet) Get(name string) (Range, bool) {
	switch name {
	case PhaseA:
		return p.A, true
	case PhaseB:
		return p.B, true
	case PhaseC:
		return p.C, true
	default:
		return Range{}, false
	}
}

// ControllerConfig describes one controller sub-unit: its supply voltage levels
// and the range of its control current.
type ControllerConfig struct {
	ID              string  `yaml:"id"`
	Name            string  `yaml:"name"`
	NominalVoltage  float64 `yaml:"nominal"`
	WarningVoltage  float64 `yaml:"warning"`
	CriticalVoltage float64 `yaml:"critical"`
	Current         Range   `yaml:"current"`
}

// TransitionConfig holds target durations (seconds) for one direction.
type TransitionConfig struct {
	Nominal  float64 `yaml:"nominal"`
	Warning  float64 `yaml:"warning"`
	Critical float64 `yaml:"critical"`
}

// AssetConfig is the immutable configuration of a monitored switch machine.
type AssetConfig struct {
	ID                   string                          `yaml:"id"`
	Name                 string                          `yaml:"name"`
	TickInterval         time.Duration                   `yaml:"tick_interval"`
	Phases               PhaseSet                        `yaml:"phases"`
	Controllers          []ControllerConfig              `yaml:"controllers"`
	Positions            []string                        `yaml:"positions"`
	Transitions          map[Direction]TransitionConfig  `yaml:"transitions"`
	MaintenanceIntervals map[string]int                  `yaml:"maintenance_intervals"`
	Environment          string                          `yaml:"environment"`
}

// Controller returns the controller with the given id.
func (a AssetConfig) Controller(id string) (ControllerConfig, bool) {
	for _, c := range a.Controllers {
		if c.ID == id {
			return c, true
		}
	}
	return ControllerConfig{}, false
}

// DirectionFor returns the transition direction that starts at the given position.
func (a AssetConfig) DirectionFor(start string) Direction {
	if start == a.Positions[0] {
		return NormalToReverse
	}
	return ReverseToNormal
}

// Endpoints returns the start and end positions of a direction.
func (a AssetConfig) Endpoints(d Direction) (start, end string) {
	if d == NormalToReverse {
		return a.Positions[0], a.Positions[1]
	}
	return a.Positions[1], a.Positions[0]
}

// SimulationConfig holds the process simulator constants.
type SimulationConfig struct {
	TransitionProbability float64 `yaml:"transition_probability"`
	NormalNoise           float64 `yaml:"normal_noise"`
	TransitionNoise       float64 `yaml:"transition_noise"`
	DegradationRate       float64 `yaml:"degradation_rate"`
	FaultProbability      float64 `yaml:"fault_probability"`
	FaultWearMultiplier   float64 `yaml:"fault_wear_multiplier"`
	InitialWear           float64 `yaml:"initial_wear"`
	MaxMaintenanceAgeDays int     `yaml:"max_maintenance_age_days"`
	ImbalanceAlertPercent float64 `yaml:"imbalance_alert_percent"`
	StopTimeout           time.Duration `yaml:"stop_timeout"`
}

// DetectionConfig holds model training and inference settings.
type DetectionConfig struct {
	Sensitivity               float64       `yaml:"sensitivity"`
	TrainingWindowDays        int           `yaml:"training_window_days"`
	MinSamples                int           `yaml:"min_samples"`
	MinControllerSamples      int           `yaml:"min_controller_samples"`
	MinTransitionSamples      int           `yaml:"min_transition_samples"`
	MinDirectionSamples       int           `yaml:"min_direction_samples"`
	ModelUpdateInterval       time.Duration `yaml:"model_update_interval"`
	RetrainCheckInterval      time.Duration `yaml:"retrain_check_interval"`
	RecentWindow              int           `yaml:"recent_window"`
	RecentTransitionWindow    int           `yaml:"recent_transition_window"`
	MinRecentSamples          int           `yaml:"min_recent_samples"`
	MinRecentTransitions      int           `yaml:"min_recent_transitions"`
	Trees                     int           `yaml:"trees"`
	SubsampleSize             int           `yaml:"subsample_size"`
	RandomSeed                int64         `yaml:"random_seed"`
	ClusterEps                float64       `yaml:"cluster_eps"`
	ClusterMinPoints          int           `yaml:"cluster_min_points"`
}

// TrainingWindow returns the historical window used for training.
func (d DetectionConfig) TrainingWindow() time.Duration {
	return time.Duration(d.TrainingWindowDays) * 24 * time.Hour
}

// PhaseCurrentRules are the deterministic checks applied to phase currents.
type PhaseCurrentRules struct {
	VarianceWarning       float64 `yaml:"variance_warning"`
	VarianceCritical      float64 `yaml:"variance_critical"`
	VarianceWindow        int     `yaml:"variance_window"`
	MinVarianceSamples    int     `yaml:"min_variance_samples"`
	ImbalanceWarning      float64 `yaml:"imbalance_warning"`
	ImbalanceCritical     float64 `yaml:"imbalance_critical"`
	ImbalanceSamples      int     `yaml:"imbalance_samples"`
	MinSignificantCurrent float64 `yaml:"min_significant_current"`
}

// ControllerRules are the deterministic checks applied to controller voltage.
type ControllerRules struct {
	DropoutWarning  float64 `yaml:"dropout_warning"`
	DropoutCritical float64 `yaml:"dropout_critical"`
	DropSamples     int     `yaml:"drop_samples"`
	StabilityWindow int     `yaml:"stability_window"`
	CVThreshold     float64 `yaml:"cv_threshold"`
}

// TransitionRules are the deterministic checks applied to transition durations.
type TransitionRules struct {
	IncreaseWarning  float64 `yaml:"increase_warning"`
	IncreaseCritical float64 `yaml:"increase_critical"`
	TrendWindow      int     `yaml:"trend_window"`
	TrendPValue      float64 `yaml:"trend_p_value"`
	TrendProjection  int     `yaml:"trend_projection"`
	TrendThreshold   float64 `yaml:"trend_threshold"`
}

// RuleConfig groups the rule thresholds per signal family.
type RuleConfig struct {
	PhaseCurrent PhaseCurrentRules `yaml:"phase_current"`
	Controller   ControllerRules   `yaml:"controller"`
	Transition   TransitionRules   `yaml:"transition"`
}

// MaintenanceConfig holds scheduling intervals and condition factor tables.
type MaintenanceConfig struct {
	RoutineInspectionDays int                `yaml:"routine_inspection_days"`
	UsageFactors          map[string]float64 `yaml:"usage_factors"`
	EnvironmentFactors    map[string]float64 `yaml:"environment_factors"`
	DueWarningDays        int                `yaml:"due_warning_days"`
	DueCriticalDays       int                `yaml:"due_critical_days"`
}

// HealthAlertConfig controls the alerts raised after a health computation.
type HealthAlertConfig struct {
	Enabled           bool    `yaml:"enabled"`
	OverallWarning    float64 `yaml:"overall_warning"`
	OverallCritical   float64 `yaml:"overall_critical"`
	SubsystemWarning  float64 `yaml:"subsystem_warning"`
	SubsystemCritical float64 `yaml:"subsystem_critical"`
}

// Fleet is the complete domain configuration.
type Fleet struct {
	Assets       []AssetConfig     `yaml:"assets"`
	Simulation   SimulationConfig  `yaml:"simulation"`
	Detection    DetectionConfig   `yaml:"detection"`
	Rules        RuleConfig        `yaml:"rules"`
	Maintenance  MaintenanceConfig `yaml:"maintenance"`
	HealthAlerts HealthAlertConfig `yaml:"health_alerts"`
}

// Asset returns the configuration of the asset with the given id.
func (f *Fleet) Asset(id string) (AssetConfig, bool) {
	for _, a := range f.Assets {
		if a.ID == id {
			return a, true
		}
	}
	return AssetConfig{}, false
}

// AssetIDs returns the configured asset ids in declaration order.
func (f *Fleet) AssetIDs() []string {
	ids := make([]string, 0, len(f.Assets))
	for _, a := range f.Assets {
		ids = append(ids, a.ID)
	}
	return ids
}

// Load reads a YAML fleet file on top of the defaults and validates the result.
// An empty path returns the defaults.
func Load(path string) (*Fleet, error) {
	fleet := Default()
	if path == "" {
		return fleet, nil
	}

	data, err := os.ReadFile(path) // #nosec G304 - path comes from operator configuration
	if err != nil {
		return nil, fmt.Errorf("failed to read fleet file: %w", err)
	}

	return Parse(data)
}

// Parse decodes YAML fleet configuration on top of the defaults and validates it.
func Parse(data []byte) (*Fleet, error) {
	fleet := Default()
	if err := yaml.Unmarshal(data, fleet); err != nil {
		return nil, fmt.Errorf("failed to parse fleet config: %w", err)
	}

	for i := range fleet.Assets {
		applyAssetDefaults(&fleet.Assets[i])
	}

	if err := fleet.Validate(); err != nil {
		return nil, err
	}
	return fleet, nil
}
