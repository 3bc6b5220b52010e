package detector

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Scheduler periodically applies the retrain policy to every asset.
type Scheduler struct {
	engine   *Engine
	logger   *slog.Logger
	interval time.Duration
}

// NewScheduler creates a scheduler checking every interval.
func NewScheduler(engine *Engine, interval time.Duration, logger *slog.Logger) (*Scheduler, error) {
	if engine == nil {
		return nil, errors.New("engine cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if interval <= 0 {
		return nil, errors.New("interval must be positive")
	}
	return &Scheduler{
		engine:   engine,
		logger:   logger.With("component", "retrain-scheduler"),
		interval: interval,
	}, nil
}

// Run checks immediately and then on every tick until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("retrain scheduler started", "interval", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.RunOnce(ctx)
		select {
		case <-ctx.Done():
			s.logger.Info("retrain scheduler stopped")
			return
		case <-ticker.C:
		}
	}
}

// RunOnce trains every due family of every asset.
func (s *Scheduler) RunOnce(ctx context.Context) {
	for _, id := range s.engine.Fleet().AssetIDs() {
		if ctx.Err() != nil {
			return
		}
		trained, err := s.engine.TrainAll(ctx, id, false)
		if err != nil {
			s.logger.Error("scheduled training failed", "asset_id", id, "error", err)
		}
		for family, ok := range trained {
			if ok {
				s.logger.Info("scheduled training completed", "asset_id", id, "family", family)
			}
		}
	}
}
