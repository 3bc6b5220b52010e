// Package health turns per-family anomaly lists into composite health scores,
// a maintenance schedule and recommendations, and raises health alerts.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"gorm.io/datatypes"

	"procodus.dev/switchwatch/internal/config"
	"procodus.dev/switchwatch/internal/detector"
	"procodus.dev/switchwatch/internal/store"
	"procodus.dev/switchwatch/pkg/metrics"
)

// Subsystem weights.
const (
	PhaseWeight      = 0.6
	ControllerWeight = 0.4
	ElectricalWeight = 0.7
	MechanicalWeight = 0.3
)

// Penalty per anomaly, in health points.
const (
	phasePenalty      = 10
	controllerPenalty = 15
	transitionPenalty = 20
)

// Health alert types.
const (
	AlertLowOverall     = "low_overall_health"
	AlertLowElectrical  = "low_electrical_health"
	AlertLowMechanical  = "low_mechanical_health"
	AlertMaintenanceDue = "maintenance_due"
)

// Detector runs the three family detectors. *detector.Engine implements it.
type Detector interface {
	DetectPhaseCurrentAnomalies(ctx context.Context, assetID string) detector.Result
	DetectControllerAnomalies(ctx context.Context, assetID, controllerID string) detector.Result
	DetectTransitionAnomalies(ctx context.Context, assetID string, direction config.Direction) detector.Result
}

// Config holds configuration for the Aggregator.
type Config struct {
	Logger   *slog.Logger
	Fleet    *config.Fleet
	Detector Detector
	Store    store.Store
	Metrics  *metrics.BackendMetrics // Optional metrics
	Now      func() time.Time
}

// Options tunes one health computation. Zero values use the defaults.
type Options struct {
	// MaintenanceType selects the interval for the next maintenance date.
	// Defaults to routine inspection.
	MaintenanceType string
	// Environment overrides the asset's configured environment condition.
	Environment string
}

// Scores are the subsystem health scores, each in [0, 100].
type Scores struct {
	Overall      float64 `json:"overall"`
	Electrical   float64 `json:"electrical"`
	Mechanical   float64 `json:"mechanical"`
	PhaseCurrent float64 `json:"phase_current"`
	Controller   float64 `json:"controller"`
}

// AnomalyCounts are the number of anomalies found per family.
type AnomalyCounts struct {
	Total        int `json:"total"`
	PhaseCurrent int `json:"phase_current"`
	Controller   int `json:"controller"`
	Transition   int `json:"transition"`
}

// Report is the result of a health computation. On error only Status,
// Message and HealthScore are meaningful and HealthScore is 0.
type Report struct {
	Timestamp           time.Time       `json:"timestamp"`
	NextMaintenanceDate time.Time       `json:"next_maintenance_date"`
	Err                 error           `json:"-"`
	AssetID             string          `json:"machine_id"`
	Status              detector.Status `json:"status"`
	Message             string          `json:"message,omitempty"`
	ConditionLevel      string          `json:"condition_level,omitempty"`
	Recommendations     []string        `json:"recommendations"`
	Alerts              []store.Alert   `json:"alerts,omitempty"`
	Anomalies           AnomalyCounts   `json:"anomaly_counts"`
	Scores              Scores          `json:"health_scores"`
	HealthScore         float64         `json:"health_score"`
}

// Aggregator computes asset health on demand.
type Aggregator struct {
	logger   *slog.Logger
	fleet    *config.Fleet
	detector Detector
	store    store.Store
	metrics  *metrics.BackendMetrics
	now      func() time.Time
}

// NewAggregator creates an Aggregator.
func NewAggregator(cfg Config) (*Aggregator, error) {
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.Fleet == nil {
		return nil, errors.New("fleet cannot be nil")
	}
	if cfg.Detector == nil {
		return nil, errors.New("detector cannot be nil")
	}
	if cfg.Store == nil {
		return nil, errors.New("store cannot be nil")
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Aggregator{
		logger:   cfg.Logger,
		fleet:    cfg.Fleet,
		detector: cfg.Detector,
		store:    cfg.Store,
		metrics:  cfg.Metrics,
		now:      now,
	}, nil
}

// ComputeScores derives the subsystem scores from anomaly counts.
func ComputeScores(c AnomalyCounts) Scores {
	phase := 100 - math.Min(100, float64(c.PhaseCurrent*phasePenalty))
	controller := 100 - math.Min(100, float64(c.Controller*controllerPenalty))
	mechanical := 100 - math.Min(100, float64(c.Transition*transitionPenalty))
	electrical := PhaseWeight*phase + ControllerWeight*controller
	return Scores{
		Overall:      ElectricalWeight*electrical + MechanicalWeight*mechanical,
		Electrical:   electrical,
		Mechanical:   mechanical,
		PhaseCurrent: phase,
		Controller:   controller,
	}
}

// GetHealthStatus runs all detectors for the asset, scores the results,
// persists a snapshot and raises health alerts. It never panics; failures are
// reported as a Report with StatusError and a zero health score.
func (a *Aggregator) GetHealthStatus(ctx context.Context, assetID string, opts Options) (report Report) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("panic during health computation", "asset_id", assetID, "panic", r)
			report = a.errorReport(assetID, fmt.Errorf("health computation panicked: %v", r))
		}
	}()

	asset, ok := a.fleet.Asset(assetID)
	if !ok {
		return a.errorReport(assetID, fmt.Errorf("%w: %s", detector.ErrUnknownAsset, assetID))
	}

	phase := a.detector.DetectPhaseCurrentAnomalies(ctx, assetID)
	controller := a.detector.DetectControllerAnomalies(ctx, assetID, "")
	transition := a.detector.DetectTransitionAnomalies(ctx, assetID, "")
	for _, r := range []detector.Result{phase, controller, transition} {
		if r.Status == detector.StatusError {
			err := errors.New("subsystem analysis failed")
			if r.Err != nil {
				err = fmt.Errorf("%w: %w", err, r.Err)
			}
			return a.errorReport(assetID, err)
		}
	}

	counts := AnomalyCounts{
		PhaseCurrent: phase.Count(),
		Controller:   controller.Count(),
		Transition:   transition.Count(),
	}
	counts.Total = counts.PhaseCurrent + counts.Controller + counts.Transition
	scores := ComputeScores(counts)

	maintenanceType := opts.MaintenanceType
	if maintenanceType == "" {
		maintenanceType = config.RoutineInspection
	}
	environment := opts.Environment
	if environment == "" {
		environment = asset.Environment
	}

	now := a.now()
	level := ConditionLevel(scores.Overall)
	next, err := NextMaintenanceDate(a.fleet, assetID, maintenanceType, level, environment, now)
	if err != nil {
		return a.errorReport(assetID, err)
	}

	report = Report{
		Timestamp:           now,
		NextMaintenanceDate: next,
		AssetID:             assetID,
		Status:              detector.StatusOK,
		ConditionLevel:      level,
		Recommendations:     recommendationsFor(phase, controller, transition),
		Anomalies:           counts,
		Scores:              scores,
		HealthScore:         scores.Overall,
	}

	if err := a.persist(ctx, report); err != nil {
		return a.errorReport(assetID, err)
	}

	report.Alerts = a.raiseAlerts(ctx, report)

	if a.metrics != nil {
		a.metrics.HealthScore.WithLabelValues(assetID, "overall").Set(scores.Overall)
		a.metrics.HealthScore.WithLabelValues(assetID, "electrical").Set(scores.Electrical)
		a.metrics.HealthScore.WithLabelValues(assetID, "mechanical").Set(scores.Mechanical)
		a.metrics.HealthComputations.WithLabelValues(assetID, string(detector.StatusOK)).Inc()
	}

	a.logger.Debug("health computed",
		"asset_id", assetID,
		"overall", scores.Overall,
		"anomalies", counts.Total,
		"condition_level", level,
	)
	return report
}

func (a *Aggregator) errorReport(assetID string, err error) Report {
	a.logger.Error("failed to compute health status", "asset_id", assetID, "error", err)
	if a.metrics != nil {
		a.metrics.HealthComputations.WithLabelValues(assetID, string(detector.StatusError)).Inc()
	}
	return Report{
		Timestamp:       a.now(),
		Err:             err,
		AssetID:         assetID,
		Status:          detector.StatusError,
		Message:         err.Error(),
		Recommendations: []string{},
	}
}

func (a *Aggregator) persist(ctx context.Context, r Report) error {
	prediction, err := json.Marshal(r.Anomalies)
	if err != nil {
		return fmt.Errorf("failed to encode anomaly counts: %w", err)
	}
	recs, err := json.Marshal(r.Recommendations)
	if err != nil {
		return fmt.Errorf("failed to encode recommendations: %w", err)
	}

	snapshot := &store.HealthSnapshot{
		Timestamp:       r.Timestamp,
		AssetID:         r.AssetID,
		Prediction:      datatypes.JSON(prediction),
		Recommendations: datatypes.JSON(recs),
		Overall:         r.Scores.Overall,
		Electrical:      r.Scores.Electrical,
		Mechanical:      r.Scores.Mechanical,
		Control:         r.Scores.Controller,
	}
	if err := a.store.AppendHealthSnapshot(ctx, snapshot); err != nil {
		return fmt.Errorf("failed to save health snapshot: %w", err)
	}
	return nil
}

// recommendationsFor concatenates the canned lists of every condition observed.
// Lists are not deduplicated.
func recommendationsFor(phase, controller, transition detector.Result) []string {
	recs := []string{}
	if hasType(phase, detector.TypeImbalance) {
		recs = append(recs, RecommendationsFor(ConditionPhaseCurrentImbalance)...)
	}
	if hasType(phase, detector.TypeHighVariance) {
		recs = append(recs, RecommendationsFor(ConditionPhaseCurrentHigh)...)
	}
	if hasType(controller, detector.TypeVoltageDrop) {
		recs = append(recs, RecommendationsFor(ConditionControllerVoltageLow)...)
	}
	if hasType(transition, detector.TypeLongTransition, detector.TypeIncreasingTrend) {
		recs = append(recs, RecommendationsFor(ConditionTransitionTimeHigh)...)
	}
	return recs
}

func hasType(r detector.Result, types ...string) bool {
	for _, an := range r.Anomalies {
		for _, t := range types {
			if an.Type == t {
				return true
			}
		}
	}
	return false
}
