package modelstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ModelRecord is the database row for one trained model.
type ModelRecord struct {
	TrainedAt time.Time      `gorm:"not null" json:"trained_at"`
	UpdatedAt time.Time      `gorm:"not null" json:"updated_at"`
	AssetID   string         `gorm:"not null;uniqueIndex:idx_model_key,priority:1" json:"asset_id"`
	Family    string         `gorm:"not null;uniqueIndex:idx_model_key,priority:2" json:"family"`
	SubID     string         `gorm:"not null;default:'';uniqueIndex:idx_model_key,priority:3" json:"sub_id"`
	Payload   datatypes.JSON `gorm:"type:jsonb;not null" json:"payload"`
	Samples   int            `gorm:"not null" json:"samples"`
	Version   uuid.UUID      `gorm:"type:uuid;primaryKey" json:"version"`
}

// TableName specifies the table name for ModelRecord.
func (ModelRecord) TableName() string {
	return "anomaly_models"
}

// GormStore keeps models in PostgreSQL, one row per key.
type GormStore struct {
	db     *gorm.DB
	logger *slog.Logger
}

// NewGormStore migrates the model table and returns the store.
func NewGormStore(ctx context.Context, db *gorm.DB, logger *slog.Logger) (*GormStore, error) {
	if db == nil {
		return nil, errors.New("database cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if err := db.WithContext(ctx).AutoMigrate(&ModelRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate model table: %w", err)
	}
	return &GormStore{db: db, logger: logger}, nil
}

// Save upserts e by key.
func (s *GormStore) Save(ctx context.Context, e Entry) error {
	data, err := encode(e)
	if err != nil {
		return err
	}
	rec := ModelRecord{
		TrainedAt: e.TrainedAt,
		UpdatedAt: time.Now().UTC(),
		AssetID:   e.Key.AssetID,
		Family:    string(e.Key.Family),
		SubID:     e.Key.SubID,
		Payload:   datatypes.JSON(data),
		Samples:   e.Samples,
		Version:   e.Version,
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "asset_id"}, {Name: "family"}, {Name: "sub_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"version", "trained_at", "updated_at", "payload", "samples",
		}),
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("failed to save model %s: %w", e.Key, err)
	}
	return nil
}

// LoadAll returns every stored model. Rows that cannot be decoded are logged
// and skipped.
func (s *GormStore) LoadAll(ctx context.Context) ([]Entry, error) {
	var rows []ModelRecord
	if err := s.db.WithContext(ctx).Order("asset_id, family, sub_id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load models: %w", err)
	}
	out := make([]Entry, 0, len(rows))
	for _, r := range rows {
		e, err := decode(r.Payload)
		if err != nil {
			s.logger.Warn("skipping unreadable model", "asset_id", r.AssetID, "family", r.Family, "sub_id", r.SubID, "error", err)
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Close leaves the shared connection open; its owner closes it.
func (s *GormStore) Close() error {
	return nil
}

var _ ModelStore = (*GormStore)(nil)
