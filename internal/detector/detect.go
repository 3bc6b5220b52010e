package detector

import (
	"context"
	"fmt"
	"math"
	"time"

	"procodus.dev/switchwatch/internal/config"
	"procodus.dev/switchwatch/internal/modelstore"
	"procodus.dev/switchwatch/internal/store"
	"procodus.dev/switchwatch/pkg/anomaly"
)

// DetectPhaseCurrentAnomalies evaluates the most recent phase-current samples
// of an asset. A missing model is trained on demand; when that is not possible
// the result is StatusNoModel with no anomalies.
func (e *Engine) DetectPhaseCurrentAnomalies(ctx context.Context, assetID string) Result {
	return e.observe(modelstore.FamilyPhaseCurrent, func() (Result, error) {
		if _, err := e.asset(assetID); err != nil {
			return Result{}, err
		}
		key := modelstore.Key{AssetID: assetID, Family: modelstore.FamilyPhaseCurrent}
		entry, ok, err := e.ensure(ctx, key, e.TrainPhaseCurrentModel)
		if err != nil || !ok {
			return statusResult(StatusNoModel), err
		}

		rows, err := e.store.RecentPhaseCurrents(ctx, assetID, e.fleet.Detection.RecentWindow)
		if err != nil {
			return Result{}, err
		}
		if len(rows) < e.fleet.Detection.MinRecentSamples {
			return statusResult(StatusInsufficientData), nil
		}

		data := make([][]float64, len(rows))
		for i, r := range rows {
			data[i] = r.Features()
		}
		anomalies, err := forestAnomalies(entry, data, func(i int, score float64) Anomaly {
			return Anomaly{
				Timestamp: rows[i].Timestamp,
				Type:      TypeIsolationForest,
				Method:    MethodModel,
				Score:     score,
				Values:    phaseValues(rows[i]),
			}
		})
		if err != nil {
			return Result{}, err
		}

		anomalies = append(anomalies, e.imbalanceAnomalies(rows)...)
		anomalies = append(anomalies, e.varianceAnomalies(rows)...)
		return Result{Status: StatusOK, Anomalies: anomalies, TotalSamples: len(rows)}, nil
	})
}

// imbalanceAnomalies checks the newest samples for phase spread relative to
// the largest phase, ignoring samples without significant current.
func (e *Engine) imbalanceAnomalies(rows []store.PhaseCurrentSample) []Anomaly {
	rules := e.fleet.Rules.PhaseCurrent
	var out []Anomaly
	for i := 0; i < len(rows) && i < rules.ImbalanceSamples; i++ {
		r := rows[i]
		if math.Max(r.PhaseA, math.Max(r.PhaseB, r.PhaseC)) <= rules.MinSignificantCurrent {
			continue
		}
		pct := anomaly.ImbalancePercent(r.PhaseA, r.PhaseB, r.PhaseC)
		if pct <= rules.ImbalanceWarning {
			continue
		}
		values := phaseValues(r)
		values["imbalance_percent"] = pct
		out = append(out, Anomaly{
			Timestamp: r.Timestamp,
			Type:      TypeImbalance,
			Method:    MethodRule,
			Severity:  severity(pct > rules.ImbalanceCritical),
			Score:     pct / 100,
			Values:    values,
		})
	}
	return out
}

// varianceAnomalies flags every rolling window of a single phase whose sample
// variance exceeds the warning threshold. The window ending at row i is
// reported with row i's timestamp.
func (e *Engine) varianceAnomalies(rows []store.PhaseCurrentSample) []Anomaly {
	rules := e.fleet.Rules.PhaseCurrent
	if len(rows) < rules.MinVarianceSamples {
		return nil
	}
	series := map[string][]float64{
		config.PhaseA: make([]float64, len(rows)),
		config.PhaseB: make([]float64, len(rows)),
		config.PhaseC: make([]float64, len(rows)),
	}
	for i, r := range rows {
		series[config.PhaseA][i] = r.PhaseA
		series[config.PhaseB][i] = r.PhaseB
		series[config.PhaseC][i] = r.PhaseC
	}

	var out []Anomaly
	for _, phase := range config.PhaseNames {
		for i, v := range anomaly.RollingVariance(series[phase], rules.VarianceWindow) {
			if math.IsNaN(v) || v <= rules.VarianceWarning {
				continue
			}
			out = append(out, Anomaly{
				Timestamp: rows[i].Timestamp,
				Type:      TypeHighVariance,
				Method:    MethodRule,
				Severity:  severity(v > rules.VarianceCritical),
				Phase:     phase,
				Score:     v / rules.VarianceCritical,
				Values:    map[string]float64{"variance": v},
			})
		}
	}
	return out
}

// DetectControllerAnomalies evaluates one controller, or every configured
// controller of the asset when controllerID is empty. In the aggregate form
// only controllers with StatusOK contribute anomalies.
func (e *Engine) DetectControllerAnomalies(ctx context.Context, assetID, controllerID string) Result {
	asset, err := e.asset(assetID)
	if err != nil {
		return errorResult(err)
	}
	if controllerID != "" {
		return e.detectController(ctx, asset, controllerID)
	}

	out := Result{Status: StatusOK, Anomalies: []Anomaly{}}
	for _, c := range asset.Controllers {
		r := e.detectController(ctx, asset, c.ID)
		if r.Status == StatusOK {
			out.Anomalies = append(out.Anomalies, r.Anomalies...)
			out.TotalSamples += r.TotalSamples
		}
	}
	return out
}

func (e *Engine) detectController(ctx context.Context, asset config.AssetConfig, controllerID string) Result {
	return e.observe(modelstore.FamilyController, func() (Result, error) {
		ctrl, ok := asset.Controller(controllerID)
		if !ok {
			return Result{}, fmt.Errorf("%w: controller %s of %s", ErrUnknownAsset, controllerID, asset.ID)
		}
		key := modelstore.Key{AssetID: asset.ID, Family: modelstore.FamilyController, SubID: controllerID}
		entry, ok, err := e.ensure(ctx, key, e.TrainControllerModel)
		if err != nil || !ok {
			return statusResult(StatusNoModel), err
		}

		rows, err := e.store.RecentControllerSamples(ctx, asset.ID, controllerID, e.fleet.Detection.RecentWindow)
		if err != nil {
			return Result{}, err
		}
		if len(rows) < e.fleet.Detection.MinRecentSamples {
			return statusResult(StatusInsufficientData), nil
		}

		data := make([][]float64, len(rows))
		for i, r := range rows {
			data[i] = r.Features()
		}
		anomalies, err := forestAnomalies(entry, data, func(i int, score float64) Anomaly {
			return Anomaly{
				Timestamp:    rows[i].Timestamp,
				Type:         TypeIsolationForest,
				Method:       MethodModel,
				ControllerID: controllerID,
				Score:        score,
				Values:       map[string]float64{"voltage": rows[i].Voltage, "current": rows[i].Current},
			}
		})
		if err != nil {
			return Result{}, err
		}

		anomalies = append(anomalies, e.voltageDropAnomalies(ctrl, rows)...)
		if a, ok := e.instabilityAnomaly(ctrl, rows); ok {
			anomalies = append(anomalies, a)
		}
		return Result{Status: StatusOK, Anomalies: anomalies, TotalSamples: len(rows)}, nil
	})
}

// voltageDropAnomalies compares the newest samples against the controller's
// nominal voltage.
func (e *Engine) voltageDropAnomalies(ctrl config.ControllerConfig, rows []store.ControllerSample) []Anomaly {
	rules := e.fleet.Rules.Controller
	var out []Anomaly
	for i := 0; i < len(rows) && i < rules.DropSamples; i++ {
		drop := ctrl.NominalVoltage - rows[i].Voltage
		if drop <= rules.DropoutWarning {
			continue
		}
		out = append(out, Anomaly{
			Timestamp:    rows[i].Timestamp,
			Type:         TypeVoltageDrop,
			Method:       MethodRule,
			Severity:     severity(drop > rules.DropoutCritical),
			ControllerID: ctrl.ID,
			Score:        drop / ctrl.NominalVoltage,
			Values:       map[string]float64{"voltage": rows[i].Voltage, "voltage_drop": drop},
		})
	}
	return out
}

// instabilityAnomaly flags a coefficient of variation of the recent voltages
// above the threshold once the stability window is filled.
func (e *Engine) instabilityAnomaly(ctrl config.ControllerConfig, rows []store.ControllerSample) (Anomaly, bool) {
	rules := e.fleet.Rules.Controller
	if len(rows) < rules.StabilityWindow {
		return Anomaly{}, false
	}
	voltages := make([]float64, len(rows))
	for i, r := range rows {
		voltages[i] = r.Voltage
	}
	cv := anomaly.CoefficientOfVariation(voltages)
	if math.IsNaN(cv) || cv <= rules.CVThreshold {
		return Anomaly{}, false
	}
	return Anomaly{
		Timestamp:    rows[0].Timestamp,
		Type:         TypeVoltageInstability,
		Method:       MethodRule,
		ControllerID: ctrl.ID,
		Score:        cv * 10,
		Values: map[string]float64{
			"coefficient_of_variation": cv,
			"voltage_mean":             anomaly.Mean(voltages),
		},
	}, true
}

// DetectTransitionAnomalies evaluates one direction, or both when direction
// is empty. In the aggregate form only directions with StatusOK contribute.
func (e *Engine) DetectTransitionAnomalies(ctx context.Context, assetID string, direction config.Direction) Result {
	asset, err := e.asset(assetID)
	if err != nil {
		return errorResult(err)
	}
	if direction != "" {
		return e.detectTransition(ctx, asset, direction)
	}

	out := Result{Status: StatusOK, Anomalies: []Anomaly{}}
	for _, dir := range config.Directions {
		r := e.detectTransition(ctx, asset, dir)
		if r.Status == StatusOK {
			out.Anomalies = append(out.Anomalies, r.Anomalies...)
			out.TotalSamples += r.TotalSamples
		}
	}
	return out
}

func (e *Engine) detectTransition(ctx context.Context, asset config.AssetConfig, dir config.Direction) Result {
	return e.observe(modelstore.FamilyTransition, func() (Result, error) {
		target, ok := asset.Transitions[dir]
		if !ok {
			return Result{}, fmt.Errorf("unknown transition direction %q", dir)
		}
		key := modelstore.Key{AssetID: asset.ID, Family: modelstore.FamilyTransition, SubID: string(dir)}
		entry, ok, err := e.ensure(ctx, key, e.TrainTransitionModel)
		if err != nil || !ok {
			return statusResult(StatusNoModel), err
		}

		start, end := asset.Endpoints(dir)
		rows, err := e.store.RecentTransitions(ctx, asset.ID, start, end, e.fleet.Detection.RecentTransitionWindow)
		if err != nil {
			return Result{}, err
		}
		if len(rows) < e.fleet.Detection.MinRecentTransitions {
			return statusResult(StatusInsufficientData), nil
		}

		data := make([][]float64, len(rows))
		for i, r := range rows {
			data[i] = r.Features()
		}
		if entry.Cluster == nil || entry.Scaler == nil {
			return Result{}, fmt.Errorf("model %s has no cluster params", entry.Key)
		}
		scaled, err := entry.Scaler.Transform(data)
		if err != nil {
			return Result{}, err
		}
		labels, err := anomaly.DBSCAN(scaled, *entry.Cluster)
		if err != nil {
			return Result{}, err
		}

		var anomalies []Anomaly
		for i, label := range labels {
			if label != anomaly.Noise {
				continue
			}
			anomalies = append(anomalies, Anomaly{
				Timestamp: rows[i].Timestamp,
				Type:      TypeClusterOutlier,
				Method:    MethodModel,
				Direction: dir,
				Values:    transitionValues(rows[i]),
			})
		}

		anomalies = append(anomalies, e.longTransitionAnomalies(dir, target.Nominal, rows, anomalies)...)
		if a, ok := e.trendAnomaly(dir, rows); ok {
			anomalies = append(anomalies, a)
		}
		return Result{Status: StatusOK, Anomalies: anomalies, TotalSamples: len(rows)}, nil
	})
}

// longTransitionAnomalies flags durations strictly above nominal plus the
// warning percentage. Transitions already reported are not repeated.
func (e *Engine) longTransitionAnomalies(dir config.Direction, nominal float64, rows []store.TransitionEvent, existing []Anomaly) []Anomaly {
	rules := e.fleet.Rules.Transition
	warning := nominal + nominal*rules.IncreaseWarning/100
	critical := nominal + nominal*rules.IncreaseCritical/100

	seen := make(map[time.Time]bool, len(existing))
	for _, a := range existing {
		seen[a.Timestamp] = true
	}

	var out []Anomaly
	for _, r := range rows {
		if r.DurationSeconds <= warning || seen[r.Timestamp] {
			continue
		}
		seen[r.Timestamp] = true
		increase := 100 * (r.DurationSeconds - nominal) / nominal
		values := transitionValues(r)
		values["nominal_time"] = nominal
		values["increase_percent"] = increase
		out = append(out, Anomaly{
			Timestamp: r.Timestamp,
			Type:      TypeLongTransition,
			Method:    MethodRule,
			Severity:  severity(r.DurationSeconds > critical),
			Direction: dir,
			Score:     increase / 100,
			Values:    values,
		})
	}
	return out
}

// trendAnomaly fits a line to the newest TrendWindow durations in
// chronological order and flags a significant upward slope whose projection
// exceeds the threshold.
func (e *Engine) trendAnomaly(dir config.Direction, rows []store.TransitionEvent) (Anomaly, bool) {
	rules := e.fleet.Rules.Transition
	if len(rows) < rules.TrendWindow {
		return Anomaly{}, false
	}
	y := make([]float64, rules.TrendWindow)
	for i := 0; i < rules.TrendWindow; i++ {
		y[rules.TrendWindow-1-i] = rows[i].DurationSeconds
	}
	trend, err := anomaly.LinearTrend(y)
	if err != nil || trend.Slope <= 0 || trend.PValue >= rules.TrendPValue {
		return Anomaly{}, false
	}
	mean := anomaly.Mean(y)
	if mean <= 0 {
		return Anomaly{}, false
	}
	projected := 100 * trend.Slope * float64(rules.TrendProjection) / mean
	if projected <= rules.TrendThreshold {
		return Anomaly{}, false
	}
	return Anomaly{
		Timestamp: rows[0].Timestamp,
		Type:      TypeIncreasingTrend,
		Method:    MethodRule,
		Direction: dir,
		Score:     projected / 100,
		Values: map[string]float64{
			"slope":                      trend.Slope,
			"p_value":                    trend.PValue,
			"projected_increase_percent": projected,
		},
	}, true
}

// Detect dispatches to the family detector. subID selects a controller or a
// transition direction.
func (e *Engine) Detect(ctx context.Context, assetID string, family modelstore.Family, subID string) Result {
	switch family {
	case modelstore.FamilyPhaseCurrent:
		return e.DetectPhaseCurrentAnomalies(ctx, assetID)
	case modelstore.FamilyController:
		return e.DetectControllerAnomalies(ctx, assetID, subID)
	case modelstore.FamilyTransition:
		return e.DetectTransitionAnomalies(ctx, assetID, config.Direction(subID))
	default:
		return errorResult(fmt.Errorf("unknown signal family %q", family))
	}
}

// ensure returns the model for key, training its family on demand when it is
// missing.
func (e *Engine) ensure(ctx context.Context, key modelstore.Key, train func(context.Context, string, bool) (bool, error)) (modelstore.Entry, bool, error) {
	if entry, ok := e.entry(key); ok {
		return entry, true, nil
	}
	if _, err := train(ctx, key.AssetID, false); err != nil {
		return modelstore.Entry{}, false, err
	}
	entry, ok := e.entry(key)
	return entry, ok, nil
}

// observe runs a detection, converting errors and panics into an error result.
func (e *Engine) observe(family modelstore.Family, run func() (Result, error)) (result Result) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("detection panicked", "family", family, "panic", r)
			result = errorResult(fmt.Errorf("detection panicked: %v", r))
		}
		if result.Anomalies == nil {
			result.Anomalies = []Anomaly{}
		}
		if e.metrics != nil {
			e.metrics.Detections.WithLabelValues(string(family), string(result.Status)).Inc()
			e.metrics.DetectionDuration.WithLabelValues(string(family)).Observe(time.Since(start).Seconds())
			for _, a := range result.Anomalies {
				e.metrics.Anomalies.WithLabelValues(string(family), a.Type, string(a.Method)).Inc()
			}
		}
	}()

	result, err := run()
	if err != nil {
		e.logger.Error("detection failed", "family", family, "error", err)
		return errorResult(err)
	}
	return result
}

func forestAnomalies(entry modelstore.Entry, data [][]float64, build func(i int, score float64) Anomaly) ([]Anomaly, error) {
	if entry.Forest == nil || entry.Scaler == nil {
		return nil, fmt.Errorf("model %s has no forest", entry.Key)
	}
	scaled, err := entry.Scaler.Transform(data)
	if err != nil {
		return nil, err
	}
	preds, err := entry.Forest.Predict(scaled)
	if err != nil {
		return nil, err
	}
	var out []Anomaly
	for i, p := range preds {
		if p != anomaly.Outlier {
			continue
		}
		score, err := entry.Forest.Decision(scaled[i])
		if err != nil {
			return nil, err
		}
		out = append(out, build(i, score))
	}
	return out, nil
}

func severity(critical bool) string {
	if critical {
		return store.SeverityCritical
	}
	return store.SeverityWarning
}

func phaseValues(r store.PhaseCurrentSample) map[string]float64 {
	return map[string]float64{
		config.PhaseA: r.PhaseA,
		config.PhaseB: r.PhaseB,
		config.PhaseC: r.PhaseC,
	}
}

func transitionValues(r store.TransitionEvent) map[string]float64 {
	return map[string]float64{
		"transition_time": r.DurationSeconds,
		"current_spike":   r.CurrentSpike,
	}
}
