package detector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"procodus.dev/switchwatch/internal/config"
	"procodus.dev/switchwatch/internal/modelstore"
	"procodus.dev/switchwatch/internal/store"
	"procodus.dev/switchwatch/pkg/anomaly"
)

// Training outcomes used as metric labels.
const (
	outcomeTrained      = "trained"
	outcomeSkipped      = "skipped"
	outcomeInsufficient = "insufficient_data"
	outcomeError        = "error"
)

// TrainPhaseCurrentModel fits the phase-current model of an asset on the
// training window. It returns false without error when training is not due or
// the window holds too few samples.
func (e *Engine) TrainPhaseCurrentModel(ctx context.Context, assetID string, force bool) (bool, error) {
	if _, err := e.asset(assetID); err != nil {
		return false, err
	}
	return e.train(ctx, familyKey(assetID, modelstore.FamilyPhaseCurrent), force, func(now time.Time) (bool, error) {
		rows, err := e.store.PhaseCurrentsSince(ctx, assetID, now.Add(-e.fleet.Detection.TrainingWindow()))
		if err != nil {
			return false, err
		}
		if len(rows) < e.fleet.Detection.MinSamples {
			e.logger.Warn("insufficient data to train phase current model",
				"asset_id", assetID, "samples", len(rows), "required", e.fleet.Detection.MinSamples)
			return false, nil
		}
		data := make([][]float64, len(rows))
		for i, r := range rows {
			data[i] = r.Features()
		}
		key := modelstore.Key{AssetID: assetID, Family: modelstore.FamilyPhaseCurrent}
		if err := e.fitForest(ctx, key, data, now); err != nil {
			return false, err
		}
		return true, nil
	})
}

// TrainControllerModel fits one model per controller that has enough samples
// in the training window. It returns true when at least one model was fitted.
func (e *Engine) TrainControllerModel(ctx context.Context, assetID string, force bool) (bool, error) {
	if _, err := e.asset(assetID); err != nil {
		return false, err
	}
	return e.train(ctx, familyKey(assetID, modelstore.FamilyController), force, func(now time.Time) (bool, error) {
		rows, err := e.store.ControllerSamplesSince(ctx, assetID, "", now.Add(-e.fleet.Detection.TrainingWindow()))
		if err != nil {
			return false, err
		}
		if len(rows) < e.fleet.Detection.MinSamples {
			e.logger.Warn("insufficient data to train controller models",
				"asset_id", assetID, "samples", len(rows), "required", e.fleet.Detection.MinSamples)
			return false, nil
		}

		byController := make(map[string][][]float64)
		var order []string
		for _, r := range rows {
			if _, seen := byController[r.ControllerID]; !seen {
				order = append(order, r.ControllerID)
			}
			byController[r.ControllerID] = append(byController[r.ControllerID], r.Features())
		}

		trained := 0
		for _, id := range order {
			data := byController[id]
			if len(data) < e.fleet.Detection.MinControllerSamples {
				e.logger.Debug("skipping controller with too few samples",
					"asset_id", assetID, "controller_id", id, "samples", len(data))
				continue
			}
			key := modelstore.Key{AssetID: assetID, Family: modelstore.FamilyController, SubID: id}
			if err := e.fitForest(ctx, key, data, now); err != nil {
				return trained > 0, err
			}
			trained++
		}
		return trained > 0, nil
	})
}

// TrainTransitionModel fits the scaler of each transition direction that has
// enough samples; detection clusters recent transitions in that scaled space.
// It returns true when at least one direction was fitted.
func (e *Engine) TrainTransitionModel(ctx context.Context, assetID string, force bool) (bool, error) {
	asset, err := e.asset(assetID)
	if err != nil {
		return false, err
	}
	return e.train(ctx, familyKey(assetID, modelstore.FamilyTransition), force, func(now time.Time) (bool, error) {
		rows, err := e.store.TransitionsSince(ctx, assetID, now.Add(-e.fleet.Detection.TrainingWindow()))
		if err != nil {
			return false, err
		}
		if len(rows) < e.fleet.Detection.MinTransitionSamples {
			e.logger.Warn("insufficient data to train transition models",
				"asset_id", assetID, "transitions", len(rows), "required", e.fleet.Detection.MinTransitionSamples)
			return false, nil
		}

		trained := 0
		for _, dir := range config.Directions {
			data := directionFeatures(asset, dir, rows)
			if len(data) < e.fleet.Detection.MinDirectionSamples {
				continue
			}
			scaler, err := anomaly.FitScaler(data)
			if err != nil {
				return trained > 0, err
			}
			params := e.clusterParams()
			scaled, err := scaler.Transform(data)
			if err != nil {
				return trained > 0, err
			}
			labels, err := anomaly.DBSCAN(scaled, params)
			if err != nil {
				return trained > 0, err
			}

			entry := modelstore.Entry{
				Key:       modelstore.Key{AssetID: assetID, Family: modelstore.FamilyTransition, SubID: string(dir)},
				Version:   uuid.New(),
				TrainedAt: now,
				Samples:   len(data),
				Scaler:    scaler,
				Cluster:   &params,
			}
			if err := e.persist(ctx, entry); err != nil {
				return trained > 0, err
			}
			e.logger.Info("transition model trained",
				"asset_id", assetID, "direction", dir, "samples", len(data), "noise", countNoise(labels))
			trained++
		}
		return trained > 0, nil
	})
}

// TrainAll trains every family of an asset and reports which families were
// trained. Errors of one family do not stop the others.
func (e *Engine) TrainAll(ctx context.Context, assetID string, force bool) (map[modelstore.Family]bool, error) {
	if _, err := e.asset(assetID); err != nil {
		return nil, err
	}
	trainers := []struct {
		family modelstore.Family
		fn     func(context.Context, string, bool) (bool, error)
	}{
		{modelstore.FamilyPhaseCurrent, e.TrainPhaseCurrentModel},
		{modelstore.FamilyController, e.TrainControllerModel},
		{modelstore.FamilyTransition, e.TrainTransitionModel},
	}

	out := make(map[modelstore.Family]bool, len(trainers))
	var errs []error
	for _, t := range trainers {
		ok, err := t.fn(ctx, assetID, force)
		if err != nil {
			errs = append(errs, err)
		}
		out[t.family] = ok
	}
	return out, errors.Join(errs...)
}

// train applies the retrain policy and serializes concurrent training of the
// same family. fit returns whether any model was replaced.
func (e *Engine) train(ctx context.Context, family modelstore.Key, force bool, fit func(now time.Time) (bool, error)) (bool, error) {
	v, err, _ := e.training.Do(family.String(), func() (any, error) {
		now := e.now()
		last, trained := e.LastTrained(family.AssetID, family.Family)
		if !e.policy.ShouldRetrain(last, trained, force, now) {
			e.logger.Debug("model trained recently, skipping",
				"asset_id", family.AssetID, "family", family.Family, "age", now.Sub(last))
			e.observeTraining(family.Family, outcomeSkipped, time.Time{})
			return false, nil
		}

		start := time.Now()
		ok, err := fit(now)
		switch {
		case err != nil:
			e.logger.Error("model training failed", "asset_id", family.AssetID, "family", family.Family, "error", err)
			e.observeTraining(family.Family, outcomeError, start)
			return ok, fmt.Errorf("failed to train %s: %w", family, err)
		case !ok:
			e.observeTraining(family.Family, outcomeInsufficient, start)
			return false, nil
		}
		e.markTrained(family, now)
		e.observeTraining(family.Family, outcomeTrained, start)
		return true, nil
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

func (e *Engine) fitForest(ctx context.Context, key modelstore.Key, data [][]float64, now time.Time) error {
	scaler, err := anomaly.FitScaler(data)
	if err != nil {
		return err
	}
	scaled, err := scaler.Transform(data)
	if err != nil {
		return err
	}
	det := e.fleet.Detection
	forest, err := anomaly.FitForest(scaled, anomaly.ForestOptions{
		Trees:         det.Trees,
		SampleSize:    det.SubsampleSize,
		Contamination: det.Sensitivity,
		Seed:          det.RandomSeed,
	})
	if err != nil {
		return err
	}
	entry := modelstore.Entry{
		Key:       key,
		Version:   uuid.New(),
		TrainedAt: now,
		Samples:   len(data),
		Scaler:    scaler,
		Forest:    forest,
	}
	if err := e.persist(ctx, entry); err != nil {
		return err
	}
	e.logger.Info("model trained", "key", key.String(), "samples", len(data), "version", entry.Version)
	return nil
}

// persist saves the entry and installs it only when the save succeeded.
func (e *Engine) persist(ctx context.Context, entry modelstore.Entry) error {
	if err := e.models.Save(ctx, entry); err != nil {
		return err
	}
	e.install(entry)
	return nil
}

func (e *Engine) clusterParams() anomaly.ClusterParams {
	return anomaly.ClusterParams{
		Eps:       e.fleet.Detection.ClusterEps,
		MinPoints: e.fleet.Detection.ClusterMinPoints,
	}
}

func (e *Engine) observeTraining(family modelstore.Family, outcome string, start time.Time) {
	if e.metrics == nil {
		return
	}
	e.metrics.Trainings.WithLabelValues(string(family), outcome).Inc()
	if !start.IsZero() {
		e.metrics.TrainingDuration.WithLabelValues(string(family)).Observe(time.Since(start).Seconds())
	}
}

func directionFeatures(asset config.AssetConfig, dir config.Direction, rows []store.TransitionEvent) [][]float64 {
	start, end := asset.Endpoints(dir)
	var data [][]float64
	for _, r := range rows {
		if r.StartPosition == start && r.EndPosition == end {
			data = append(data, r.Features())
		}
	}
	return data
}

func countNoise(labels []int) int {
	n := 0
	for _, l := range labels {
		if l == anomaly.Noise {
			n++
		}
	}
	return n
}
