package modelstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"procodus.dev/switchwatch/pkg/metrics"
)

// Backend names accepted by Open.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendS3       = "s3"
)

// Config selects and configures a model store backend.
type Config struct {
	Logger  *slog.Logger
	Metrics *metrics.StoreMetrics // Optional metrics
	// DB is the shared connection used by the postgres backend.
	DB      *gorm.DB
	Backend string
	Redis   RedisConfig
	S3      S3Config
}

// Open builds the configured backend. An empty backend selects postgres when
// DB is set and memory otherwise.
func Open(ctx context.Context, cfg Config) (ModelStore, error) {
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	backend := cfg.Backend
	if backend == "" {
		backend = BackendMemory
		if cfg.DB != nil {
			backend = BackendPostgres
		}
	}

	var (
		ms  ModelStore
		err error
	)
	switch backend {
	case BackendMemory:
		ms = NewMemoryStore()
	case BackendPostgres:
		if cfg.DB == nil {
			cfg.Logger.Warn("postgres model store requested without a database, using memory")
			backend = BackendMemory
			ms = NewMemoryStore()
			break
		}
		ms, err = NewGormStore(ctx, cfg.DB, cfg.Logger)
	case BackendRedis:
		ms, err = NewRedisStore(ctx, cfg.Redis, cfg.Logger)
	case BackendS3:
		ms, err = NewS3Store(cfg.S3, cfg.Logger)
	default:
		return nil, fmt.Errorf("unknown model store backend %q", backend)
	}
	if err != nil {
		return nil, err
	}

	cfg.Logger.Info("model store ready", "backend", backend)
	if cfg.Metrics == nil {
		return ms, nil
	}
	return &instrumented{ModelStore: ms, backend: backend, metrics: cfg.Metrics}, nil
}

type instrumented struct {
	ModelStore
	metrics *metrics.StoreMetrics
	backend string
}

func (i *instrumented) observe(op string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	i.metrics.Operations.WithLabelValues(i.backend, op, status).Inc()
	i.metrics.OperationDuration.WithLabelValues(i.backend, op).Observe(time.Since(start).Seconds())
}

func (i *instrumented) Save(ctx context.Context, e Entry) error {
	start := time.Now()
	err := i.ModelStore.Save(ctx, e)
	i.observe("save_model", start, err)
	return err
}

func (i *instrumented) LoadAll(ctx context.Context) ([]Entry, error) {
	start := time.Now()
	entries, err := i.ModelStore.LoadAll(ctx)
	i.observe("load_models", start, err)
	return entries, err
}
