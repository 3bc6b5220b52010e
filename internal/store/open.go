package store

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"procodus.dev/switchwatch/pkg/metrics"
)

// DefaultConnectTimeout bounds the initial database connection.
const DefaultConnectTimeout = 5 * time.Second

// OpenConfig configures Open.
type OpenConfig struct {
	Logger  *slog.Logger
	Metrics *metrics.StoreMetrics // Optional metrics
	// DB selects PostgreSQL; nil selects the in-memory store.
	DB             *DBConfig
	ConnectTimeout time.Duration
}

// Open connects to PostgreSQL within the connect timeout. When the database
// cannot be reached it logs the failure and returns an in-memory store instead,
// so callers keep running.
func Open(ctx context.Context, cfg OpenConfig) (Store, error) {
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.DB == nil {
		cfg.Logger.Info("using in-memory store")
		return NewMemoryStore(), nil
	}

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	if cfg.DB.Logger == nil {
		cfg.DB.Logger = cfg.Logger
	}

	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	db, err := NewDB(connectCtx, cfg.DB)
	if err != nil {
		cfg.Logger.Error("database unavailable, falling back to in-memory store",
			"error", err,
			"host", cfg.DB.Host,
			"timeout", timeout,
		)
		if cfg.Metrics != nil {
			cfg.Metrics.Fallbacks.Inc()
		}
		return NewMemoryStore(), nil
	}

	return NewPostgresStore(db, cfg.Logger, cfg.Metrics)
}
