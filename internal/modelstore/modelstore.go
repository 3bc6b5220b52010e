// Package modelstore persists trained anomaly models keyed by asset, signal
// family and sub-id (controller or transition direction).
package modelstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"procodus.dev/switchwatch/pkg/anomaly"
)

// Family is a signal family with its own model lifecycle.
type Family string

// Signal families.
const (
	FamilyPhaseCurrent Family = "phase_current"
	FamilyController   Family = "controller"
	FamilyTransition   Family = "transition"
)

// ErrInvalidEntry is returned when an entry cannot be stored.
var ErrInvalidEntry = errors.New("invalid model entry")

// Key identifies one model. SubID is the controller id or the transition
// direction, and is empty for phase-current models.
type Key struct {
	AssetID string `json:"asset_id"`
	Family  Family `json:"family"`
	SubID   string `json:"sub_id,omitempty"`
}

// String renders the key as a slash-separated path.
func (k Key) String() string {
	if k.SubID == "" {
		return k.AssetID + "/" + string(k.Family)
	}
	return k.AssetID + "/" + string(k.Family) + "/" + k.SubID
}

// Entry is a trained model together with its feature scaler. Phase-current and
// controller entries carry a Forest; transition entries carry Cluster params.
type Entry struct {
	Key       Key                    `json:"key"`
	Version   uuid.UUID              `json:"version"`
	TrainedAt time.Time              `json:"trained_at"`
	Samples   int                    `json:"samples"`
	Scaler    *anomaly.Scaler        `json:"scaler"`
	Forest    *anomaly.Forest        `json:"forest,omitempty"`
	Cluster   *anomaly.ClusterParams `json:"cluster,omitempty"`
}

// Validate checks that the entry is complete.
func (e Entry) Validate() error {
	switch {
	case e.Key.AssetID == "":
		return fmt.Errorf("%w: asset id cannot be empty", ErrInvalidEntry)
	case e.Key.Family == "":
		return fmt.Errorf("%w: family cannot be empty", ErrInvalidEntry)
	case e.Scaler == nil:
		return fmt.Errorf("%w: scaler cannot be nil", ErrInvalidEntry)
	case e.Forest == nil && e.Cluster == nil:
		return fmt.Errorf("%w: %s has neither forest nor cluster params", ErrInvalidEntry, e.Key)
	}
	return nil
}

func encode(e Entry) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal model %s: %w", e.Key, err)
	}
	return data, nil
}

func decode(data []byte) (Entry, error) {
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return Entry{}, fmt.Errorf("failed to unmarshal model: %w", err)
	}
	return e, e.Validate()
}

// ModelStore saves and restores trained models. Save replaces any entry with
// the same key wholesale.
type ModelStore interface {
	Save(ctx context.Context, e Entry) error
	LoadAll(ctx context.Context) ([]Entry, error)
	Close() error
}
