package health_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"procodus.dev/switchwatch/internal/config"
	"procodus.dev/switchwatch/internal/detector"
	"procodus.dev/switchwatch/internal/store"
)

const asset = "VIM_11_21"

var today = time.Date(2025, 3, 1, 15, 30, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

// stubDetector returns fixed results per family.
type stubDetector struct {
	phase, controller, transition detector.Result
	panics                        bool
}

func (s *stubDetector) DetectPhaseCurrentAnomalies(context.Context, string) detector.Result {
	if s.panics {
		panic("boom")
	}
	return s.phase
}

func (s *stubDetector) DetectControllerAnomalies(context.Context, string, string) detector.Result {
	return s.controller
}

func (s *stubDetector) DetectTransitionAnomalies(context.Context, string, config.Direction) detector.Result {
	return s.transition
}

func noModel() detector.Result {
	return detector.Result{Status: detector.StatusNoModel, Anomalies: []detector.Anomaly{}}
}

func withAnomalies(typ string, n int) detector.Result {
	r := detector.Result{Status: detector.StatusOK}
	for i := 0; i < n; i++ {
		r.Anomalies = append(r.Anomalies, detector.Anomaly{
			Timestamp: today.Add(-time.Duration(i) * time.Second),
			Type:      typ,
			Method:    detector.MethodRule,
		})
	}
	return r
}

// failingStore rejects health snapshots.
type failingStore struct {
	store.Store
}

func (failingStore) AppendHealthSnapshot(context.Context, *store.HealthSnapshot) error {
	return errors.New("disk full")
}
