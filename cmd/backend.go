package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"procodus.dev/switchwatch/internal/backend"
	"procodus.dev/switchwatch/internal/modelstore"
	"procodus.dev/switchwatch/internal/store"
	"procodus.dev/switchwatch/pkg/metrics"
)

var backendCmd = &cobra.Command{
	Use:   "backend",
	Short: "Run the monitoring backend",
	Long: `Run the monitoring backend that:
- Consumes simulator telemetry from RabbitMQ, or simulates the fleet in-process
- Persists telemetry to PostgreSQL (in memory when no database is configured)
- Trains anomaly models and computes asset health
- Serves the HTTP API, dashboard and Prometheus metrics
- Publishes per-asset health over the gRPC health protocol`,
	RunE: runBackend,
}

func init() {
	rootCmd.AddCommand(backendCmd)

	f := backendCmd.Flags()
	f.String("db-host", "", "PostgreSQL host (empty runs the store in memory)")
	f.Int("db-port", 5432, "PostgreSQL port")
	f.String("db-user", "postgres", "PostgreSQL user")
	f.String("db-password", "", "PostgreSQL password")
	f.String("db-name", "switchwatch", "PostgreSQL database name")
	f.String("db-sslmode", "disable", "PostgreSQL SSL mode")
	f.Duration("db-connect-timeout", 5*time.Second, "PostgreSQL connect timeout before falling back to memory")
	f.String("influx-host", "", "InfluxDB v3 host for the telemetry mirror (empty disables it)")
	f.String("influx-token", "", "InfluxDB v3 token")
	f.String("influx-database", "switchwatch", "InfluxDB v3 database")
	f.String("model-store", "", "model store backend: memory, postgres, redis or s3 (default postgres with a database, memory otherwise)")
	f.String("redis-addr", "localhost:6379", "Redis address for the redis model store")
	f.String("redis-password", "", "Redis password")
	f.Int("redis-db", 0, "Redis database")
	f.String("s3-bucket", "", "S3 bucket for the s3 model store")
	f.String("s3-region", "eu-west-1", "S3 region")
	f.String("s3-endpoint", "", "S3 endpoint override")
	f.Bool("s3-path-style", false, "use path-style S3 addressing")
	f.String("rabbitmq-url", "", "RabbitMQ URL (empty disables the telemetry consumer)")
	f.String("queue-name", "switchwatch-telemetry", "RabbitMQ queue carrying simulator telemetry")
	f.Bool("simulate", false, "run the fleet simulator in-process")
	f.Int64("seed", 0, "simulator seed (0 is random)")
	f.Int("http-port", 8000, "HTTP API and dashboard port")
	f.Int("grpc-port", 9090, "gRPC health port")
	f.Duration("health-refresh", time.Minute, "gRPC health recomputation period")

	for key, flag := range map[string]string{
		"backend.db.host":               "db-host",
		"backend.db.port":               "db-port",
		"backend.db.user":               "db-user",
		"backend.db.password":           "db-password",
		"backend.db.name":               "db-name",
		"backend.db.sslmode":            "db-sslmode",
		"backend.db.connect_timeout":    "db-connect-timeout",
		"backend.influx.host":           "influx-host",
		"backend.influx.token":          "influx-token",
		"backend.influx.database":       "influx-database",
		"backend.models.backend":        "model-store",
		"backend.models.redis.addr":     "redis-addr",
		"backend.models.redis.password": "redis-password",
		"backend.models.redis.db":       "redis-db",
		"backend.models.s3.bucket":      "s3-bucket",
		"backend.models.s3.region":      "s3-region",
		"backend.models.s3.endpoint":    "s3-endpoint",
		"backend.models.s3.path_style":  "s3-path-style",
		"backend.rabbitmq.url":          "rabbitmq-url",
		"backend.rabbitmq.queue_name":   "queue-name",
		"backend.simulate":              "simulate",
		"backend.seed":                  "seed",
		"backend.http.port":             "http-port",
		"backend.grpc.port":             "grpc-port",
		"backend.grpc.health_refresh":   "health-refresh",
	} {
		_ = viper.BindPFlag(key, f.Lookup(flag))
	}
}

func runBackend(_ *cobra.Command, _ []string) error {
	logger, closer, err := GetLogger()
	if err != nil {
		return err
	}
	defer closer.Close()
	logger.Info("starting backend service")

	fleet, err := LoadFleet()
	if err != nil {
		logger.Error("failed to load fleet", "error", err)
		return err
	}

	cfg := &backend.ServerConfig{
		Logger:         logger,
		Fleet:          fleet,
		ConnectTimeout: viper.GetDuration("backend.db.connect_timeout"),
		ModelStore: modelstore.Config{
			Backend: viper.GetString("backend.models.backend"),
			Redis: modelstore.RedisConfig{
				Addr:     viper.GetString("backend.models.redis.addr"),
				Password: viper.GetString("backend.models.redis.password"),
				DB:       viper.GetInt("backend.models.redis.db"),
				Prefix:   namespace,
			},
			S3: modelstore.S3Config{
				Bucket:         viper.GetString("backend.models.s3.bucket"),
				Prefix:         namespace,
				Region:         viper.GetString("backend.models.s3.region"),
				Endpoint:       viper.GetString("backend.models.s3.endpoint"),
				ForcePathStyle: viper.GetBool("backend.models.s3.path_style"),
			},
		},
		RabbitMQURL:   viper.GetString("backend.rabbitmq.url"),
		QueueName:     viper.GetString("backend.rabbitmq.queue_name"),
		Simulate:      viper.GetBool("backend.simulate"),
		SimulatorSeed: viper.GetInt64("backend.seed"),
		HTTPPort:      viper.GetInt("backend.http.port"),
		GRPCPort:      viper.GetInt("backend.grpc.port"),
		HealthRefresh: viper.GetDuration("backend.grpc.health_refresh"),
	}

	if host := viper.GetString("backend.db.host"); host != "" {
		cfg.DB = &store.DBConfig{
			Logger:   logger,
			Host:     host,
			Port:     viper.GetInt("backend.db.port"),
			User:     viper.GetString("backend.db.user"),
			Password: viper.GetString("backend.db.password"),
			DBName:   viper.GetString("backend.db.name"),
			SSLMode:  viper.GetString("backend.db.sslmode"),
		}
	}
	if host := viper.GetString("backend.influx.host"); host != "" {
		cfg.Influx = &store.InfluxConfig{
			Host:     host,
			Token:    viper.GetString("backend.influx.token"),
			Database: viper.GetString("backend.influx.database"),
		}
	}
	if viper.GetBool("metrics.enabled") {
		cfg.Metrics = backend.Metrics{
			Backend:   metrics.NewBackendMetrics(namespace),
			Detector:  metrics.NewDetectorMetrics(namespace),
			Store:     metrics.NewStoreMetrics(namespace),
			Simulator: metrics.NewSimulatorMetrics(namespace),
			MQ:        metrics.NewMQMetrics(namespace),
		}
	}

	server, err := backend.NewServer(cfg)
	if err != nil {
		logger.Error("failed to create backend server", "error", err)
		return err
	}

	logger.Info("backend server configuration",
		"assets", len(fleet.Assets),
		"database", cfg.DB != nil,
		"influx", cfg.Influx != nil,
		"model_store", cfg.ModelStore.Backend,
		"rabbitmq_url", cfg.RabbitMQURL,
		"queue", cfg.QueueName,
		"simulate", cfg.Simulate,
		"http_port", cfg.HTTPPort,
		"grpc_port", cfg.GRPCPort,
	)

	if err := server.Run(context.Background()); err != nil {
		logger.Error("backend server error", "error", err)
		return err
	}

	logger.Info("backend server stopped")
	return nil
}
