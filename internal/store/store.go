// Package store persists telemetry, alerts, health snapshots and maintenance
// records. Telemetry is append-only; the only point update is acknowledging an
// alert.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a keyed row does not exist.
var ErrNotFound = errors.New("not found")

// AlertFilter narrows an alert query. Zero values match everything.
type AlertFilter struct {
	Since        time.Time
	Until        time.Time
	Acknowledged *bool
	AssetID      string
	Severity     string
	Limit        int
}

// Store is the read/write contract of the telemetry store.
//
// Recent* queries return rows most recent first. *Since queries return rows
// at or after since in chronological order.
type Store interface {
	AppendPhaseCurrent(ctx context.Context, s *PhaseCurrentSample) error
	AppendControllerSample(ctx context.Context, s *ControllerSample) error
	AppendTransition(ctx context.Context, e *TransitionEvent) error
	AppendAlert(ctx context.Context, a *Alert) error
	AppendHealthSnapshot(ctx context.Context, h *HealthSnapshot) error
	AppendMaintenanceRecord(ctx context.Context, r *MaintenanceRecord) error

	RecentPhaseCurrents(ctx context.Context, assetID string, limit int) ([]PhaseCurrentSample, error)
	// RecentControllerSamples filters by controller unless controllerID is empty.
	RecentControllerSamples(ctx context.Context, assetID, controllerID string, limit int) ([]ControllerSample, error)
	// RecentTransitions filters by start and end position unless they are empty.
	RecentTransitions(ctx context.Context, assetID, startPosition, endPosition string, limit int) ([]TransitionEvent, error)

	PhaseCurrentsSince(ctx context.Context, assetID string, since time.Time) ([]PhaseCurrentSample, error)
	ControllerSamplesSince(ctx context.Context, assetID, controllerID string, since time.Time) ([]ControllerSample, error)
	TransitionsSince(ctx context.Context, assetID string, since time.Time) ([]TransitionEvent, error)

	Alerts(ctx context.Context, filter AlertFilter) ([]Alert, error)
	AcknowledgeAlert(ctx context.Context, id uint) error
	HealthHistory(ctx context.Context, assetID string, since time.Time) ([]HealthSnapshot, error)
	MaintenanceHistory(ctx context.Context, assetID string, limit int) ([]MaintenanceRecord, error)

	Close() error
}

func stamp(t *time.Time) {
	if t.IsZero() {
		*t = time.Now().UTC()
	}
}
