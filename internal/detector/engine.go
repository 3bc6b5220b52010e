// Package detector trains per-asset anomaly models and evaluates recent
// telemetry against them and against deterministic rules.
package detector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"procodus.dev/switchwatch/internal/config"
	"procodus.dev/switchwatch/internal/modelstore"
	"procodus.dev/switchwatch/internal/store"
	"procodus.dev/switchwatch/pkg/metrics"
)

// ErrUnknownAsset is returned for asset ids missing from the fleet config.
var ErrUnknownAsset = errors.New("unknown asset")

// Config holds the engine dependencies.
type Config struct {
	Logger  *slog.Logger
	Fleet   *config.Fleet
	Store   store.Store
	Models  modelstore.ModelStore
	Metrics *metrics.DetectorMetrics // Optional metrics
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Engine owns the trained models of every asset. It is safe for concurrent
// use; training is serialized per (asset, family).
type Engine struct {
	logger  *slog.Logger
	fleet   *config.Fleet
	store   store.Store
	models  modelstore.ModelStore
	metrics *metrics.DetectorMetrics
	now     func() time.Time
	policy  RetrainPolicy

	mu          sync.RWMutex
	entries     map[modelstore.Key]modelstore.Entry
	lastTrained map[modelstore.Key]time.Time

	training singleflight.Group
}

// New creates an engine with no models loaded.
func New(cfg Config) (*Engine, error) {
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.Fleet == nil {
		return nil, errors.New("fleet config cannot be nil")
	}
	if cfg.Store == nil {
		return nil, errors.New("store cannot be nil")
	}
	if cfg.Models == nil {
		return nil, errors.New("model store cannot be nil")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		logger:      cfg.Logger.With("component", "detector"),
		fleet:       cfg.Fleet,
		store:       cfg.Store,
		models:      cfg.Models,
		metrics:     cfg.Metrics,
		now:         now,
		policy:      RetrainPolicy{Interval: cfg.Fleet.Detection.ModelUpdateInterval},
		entries:     make(map[modelstore.Key]modelstore.Entry),
		lastTrained: make(map[modelstore.Key]time.Time),
	}, nil
}

// Restore loads every persisted model and the family training timestamps.
// Models of assets missing from the fleet config are ignored.
func (e *Engine) Restore(ctx context.Context) error {
	entries, err := e.models.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to restore models: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	restored := 0
	for _, entry := range entries {
		if _, ok := e.fleet.Asset(entry.Key.AssetID); !ok {
			e.logger.Warn("ignoring model for unknown asset", "key", entry.Key.String())
			continue
		}
		e.entries[entry.Key] = entry
		family := familyKey(entry.Key.AssetID, entry.Key.Family)
		if entry.TrainedAt.After(e.lastTrained[family]) {
			e.lastTrained[family] = entry.TrainedAt
		}
		restored++
	}
	e.updateModelGauge()
	e.logger.Info("models restored", "count", restored)
	return nil
}

// HasModel reports whether a model is loaded for key.
func (e *Engine) HasModel(key modelstore.Key) bool {
	_, ok := e.entry(key)
	return ok
}

// LastTrained returns when the family was last trained.
func (e *Engine) LastTrained(assetID string, family modelstore.Family) (time.Time, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	t, ok := e.lastTrained[familyKey(assetID, family)]
	return t, ok
}

// Fleet returns the fleet configuration the engine was built with.
func (e *Engine) Fleet() *config.Fleet {
	return e.fleet
}

func (e *Engine) asset(id string) (config.AssetConfig, error) {
	a, ok := e.fleet.Asset(id)
	if !ok {
		return config.AssetConfig{}, fmt.Errorf("%w: %s", ErrUnknownAsset, id)
	}
	return a, nil
}

func (e *Engine) entry(key modelstore.Key) (modelstore.Entry, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	entry, ok := e.entries[key]
	return entry, ok
}

func (e *Engine) install(entry modelstore.Entry) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.entries[entry.Key] = entry
	e.updateModelGauge()
}

func (e *Engine) markTrained(family modelstore.Key, at time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastTrained[family] = at
}

// updateModelGauge must be called with mu held.
func (e *Engine) updateModelGauge() {
	if e.metrics != nil {
		e.metrics.ModelsLoaded.Set(float64(len(e.entries)))
	}
}

func familyKey(assetID string, family modelstore.Family) modelstore.Key {
	return modelstore.Key{AssetID: assetID, Family: family}
}
