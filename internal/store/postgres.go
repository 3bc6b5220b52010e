package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"procodus.dev/switchwatch/pkg/metrics"
)

// PostgresStore implements Store on top of gorm.
type PostgresStore struct {
	db      *gorm.DB
	logger  *slog.Logger
	metrics *metrics.StoreMetrics // Optional metrics
}

// NewPostgresStore wraps an open gorm connection.
func NewPostgresStore(db *gorm.DB, logger *slog.Logger, m *metrics.StoreMetrics) (*PostgresStore, error) {
	if db == nil {
		return nil, errors.New("database cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	return &PostgresStore{db: db, logger: logger, metrics: m}, nil
}

// DB exposes the underlying connection for components sharing it.
func (s *PostgresStore) DB() *gorm.DB {
	return s.db
}

func (s *PostgresStore) observe(op string, start time.Time, err error) error {
	if s.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		s.metrics.Operations.WithLabelValues("postgres", op, status).Inc()
		s.metrics.OperationDuration.WithLabelValues("postgres", op).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *PostgresStore) create(ctx context.Context, op string, row any) error {
	start := time.Now()
	err := s.db.WithContext(ctx).Create(row).Error
	return s.observe(op, start, err)
}

// AppendPhaseCurrent stores a phase current sample.
func (s *PostgresStore) AppendPhaseCurrent(ctx context.Context, p *PhaseCurrentSample) error {
	stamp(&p.Timestamp)
	return s.create(ctx, "append_phase_current", p)
}

// AppendControllerSample stores a controller sample.
func (s *PostgresStore) AppendControllerSample(ctx context.Context, c *ControllerSample) error {
	stamp(&c.Timestamp)
	return s.create(ctx, "append_controller_sample", c)
}

// AppendTransition stores a completed transition.
func (s *PostgresStore) AppendTransition(ctx context.Context, e *TransitionEvent) error {
	stamp(&e.Timestamp)
	return s.create(ctx, "append_transition", e)
}

// AppendAlert stores a new, unacknowledged alert.
func (s *PostgresStore) AppendAlert(ctx context.Context, a *Alert) error {
	stamp(&a.Timestamp)
	a.Acknowledged = false
	a.AcknowledgedAt = nil
	return s.create(ctx, "append_alert", a)
}

// AppendHealthSnapshot stores a health computation result.
func (s *PostgresStore) AppendHealthSnapshot(ctx context.Context, h *HealthSnapshot) error {
	stamp(&h.Timestamp)
	return s.create(ctx, "append_health_snapshot", h)
}

// AppendMaintenanceRecord stores a maintenance record.
func (s *PostgresStore) AppendMaintenanceRecord(ctx context.Context, r *MaintenanceRecord) error {
	stamp(&r.Timestamp)
	return s.create(ctx, "append_maintenance_record", r)
}

// RecentPhaseCurrents returns the latest samples, most recent first.
func (s *PostgresStore) RecentPhaseCurrents(ctx context.Context, assetID string, limit int) ([]PhaseCurrentSample, error) {
	start := time.Now()
	var rows []PhaseCurrentSample
	err := s.db.WithContext(ctx).
		Where("asset_id = ?", assetID).
		Order("timestamp DESC, id DESC").
		Limit(noLimit(limit)).
		Find(&rows).Error
	return rows, s.observe("recent_phase_currents", start, err)
}

// RecentControllerSamples returns the latest controller samples, most recent first.
func (s *PostgresStore) RecentControllerSamples(ctx context.Context, assetID, controllerID string, limit int) ([]ControllerSample, error) {
	start := time.Now()
	var rows []ControllerSample
	q := s.db.WithContext(ctx).Where("asset_id = ?", assetID)
	if controllerID != "" {
		q = q.Where("controller_id = ?", controllerID)
	}
	err := q.Order("timestamp DESC, id DESC").Limit(noLimit(limit)).Find(&rows).Error
	return rows, s.observe("recent_controller_samples", start, err)
}

// RecentTransitions returns the latest transitions, most recent first.
func (s *PostgresStore) RecentTransitions(ctx context.Context, assetID, startPosition, endPosition string, limit int) ([]TransitionEvent, error) {
	start := time.Now()
	var rows []TransitionEvent
	q := s.db.WithContext(ctx).Where("asset_id = ?", assetID)
	if startPosition != "" {
		q = q.Where("start_position = ?", startPosition)
	}
	if endPosition != "" {
		q = q.Where("end_position = ?", endPosition)
	}
	err := q.Order("timestamp DESC, id DESC").Limit(noLimit(limit)).Find(&rows).Error
	return rows, s.observe("recent_transitions", start, err)
}

// PhaseCurrentsSince returns samples at or after since, oldest first.
func (s *PostgresStore) PhaseCurrentsSince(ctx context.Context, assetID string, since time.Time) ([]PhaseCurrentSample, error) {
	start := time.Now()
	var rows []PhaseCurrentSample
	err := s.db.WithContext(ctx).
		Where("asset_id = ? AND timestamp >= ?", assetID, since).
		Order("timestamp ASC, id ASC").
		Find(&rows).Error
	return rows, s.observe("phase_currents_since", start, err)
}

// ControllerSamplesSince returns controller samples at or after since, oldest first.
func (s *PostgresStore) ControllerSamplesSince(ctx context.Context, assetID, controllerID string, since time.Time) ([]ControllerSample, error) {
	start := time.Now()
	var rows []ControllerSample
	q := s.db.WithContext(ctx).Where("asset_id = ? AND timestamp >= ?", assetID, since)
	if controllerID != "" {
		q = q.Where("controller_id = ?", controllerID)
	}
	err := q.Order("timestamp ASC, id ASC").Find(&rows).Error
	return rows, s.observe("controller_samples_since", start, err)
}

// TransitionsSince returns transitions at or after since, oldest first.
func (s *PostgresStore) TransitionsSince(ctx context.Context, assetID string, since time.Time) ([]TransitionEvent, error) {
	start := time.Now()
	var rows []TransitionEvent
	err := s.db.WithContext(ctx).
		Where("asset_id = ? AND timestamp >= ?", assetID, since).
		Order("timestamp ASC, id ASC").
		Find(&rows).Error
	return rows, s.observe("transitions_since", start, err)
}

// Alerts returns alerts matching the filter, most recent first.
func (s *PostgresStore) Alerts(ctx context.Context, f AlertFilter) ([]Alert, error) {
	start := time.Now()
	q := s.db.WithContext(ctx).Model(&Alert{})
	if f.AssetID != "" {
		q = q.Where("asset_id = ?", f.AssetID)
	}
	if f.Severity != "" {
		q = q.Where("severity = ?", f.Severity)
	}
	if f.Acknowledged != nil {
		q = q.Where("acknowledged = ?", *f.Acknowledged)
	}
	if !f.Since.IsZero() {
		q = q.Where("timestamp >= ?", f.Since)
	}
	if !f.Until.IsZero() {
		q = q.Where("timestamp <= ?", f.Until)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	var rows []Alert
	err := q.Order("timestamp DESC, id DESC").Find(&rows).Error
	return rows, s.observe("alerts", start, err)
}

// AcknowledgeAlert marks an alert as acknowledged.
func (s *PostgresStore) AcknowledgeAlert(ctx context.Context, id uint) error {
	start := time.Now()
	now := time.Now().UTC()
	res := s.db.WithContext(ctx).
		Model(&Alert{}).
		Where("id = ?", id).
		Updates(map[string]any{"acknowledged": true, "acknowledged_at": now})
	err := res.Error
	if err == nil && res.RowsAffected == 0 {
		err = ErrNotFound
	}
	return s.observe("acknowledge_alert", start, err)
}

// HealthHistory returns snapshots at or after since, oldest first.
func (s *PostgresStore) HealthHistory(ctx context.Context, assetID string, since time.Time) ([]HealthSnapshot, error) {
	start := time.Now()
	var rows []HealthSnapshot
	err := s.db.WithContext(ctx).
		Where("asset_id = ? AND timestamp >= ?", assetID, since).
		Order("timestamp ASC, id ASC").
		Find(&rows).Error
	return rows, s.observe("health_history", start, err)
}

// MaintenanceHistory returns maintenance records, most recent first.
func (s *PostgresStore) MaintenanceHistory(ctx context.Context, assetID string, limit int) ([]MaintenanceRecord, error) {
	start := time.Now()
	q := s.db.WithContext(ctx).Where("asset_id = ?", assetID).Order("timestamp DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []MaintenanceRecord
	err := q.Find(&rows).Error
	return rows, s.observe("maintenance_history", start, err)
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return CloseDB(s.db, s.logger)
}

// noLimit maps non-positive limits to gorm's "no limit".
func noLimit(n int) int {
	if n <= 0 {
		return -1
	}
	return n
}

var _ Store = (*PostgresStore)(nil)
