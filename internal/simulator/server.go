package simulator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"procodus.dev/switchwatch/internal/config"
	"procodus.dev/switchwatch/pkg/metrics"
	"procodus.dev/switchwatch/pkg/mq"
)

// ServerConfig holds the configuration for a standalone simulator process
// publishing telemetry to RabbitMQ.
type ServerConfig struct {
	Logger *slog.Logger
	Fleet  *config.Fleet

	// Client overrides the RabbitMQ client built from RabbitMQURL and
	// QueueName.
	Client      mq.ClientInterface
	RabbitMQURL string
	QueueName   string

	Seed int64

	Metrics   *metrics.SimulatorMetrics // Optional metrics
	MQMetrics *metrics.MQMetrics        // Optional metrics
}

// Server runs the fleet simulators against a message queue.
type Server struct {
	logger *slog.Logger
	fleet  *Fleet
	client mq.ClientInterface
}

// NewServer creates the MQ client and a stopped simulator for every asset.
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.Fleet == nil {
		return nil, errors.New("fleet cannot be nil")
	}

	client := cfg.Client
	if client == nil {
		if cfg.RabbitMQURL == "" {
			return nil, errors.New("rabbitmq url cannot be empty")
		}
		if cfg.QueueName == "" {
			return nil, errors.New("queue name cannot be empty")
		}
		c := mq.NewWithOptions(cfg.QueueName, cfg.RabbitMQURL,
			cfg.Logger.With(slog.String("component", "mq-client")), mq.DefaultOptions())
		if cfg.MQMetrics != nil {
			c.SetMetrics(cfg.MQMetrics)
		}
		client = c
	}

	sink, err := NewMQSink(client, cfg.Logger)
	if err != nil {
		return nil, err
	}
	fleet, err := NewFleet(FleetConfig{
		Logger:  cfg.Logger,
		Fleet:   cfg.Fleet,
		Sink:    sink,
		Metrics: cfg.Metrics,
		Seed:    cfg.Seed,
	})
	if err != nil {
		_ = client.Close()
		return nil, err
	}

	return &Server{logger: cfg.Logger, fleet: fleet, client: client}, nil
}

// Fleet exposes the simulators run by the server.
func (s *Server) Fleet() *Fleet {
	return s.fleet
}

// Run starts every simulator and blocks until ctx ends or a shutdown signal
// arrives.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	s.fleet.StartAll(ctx)
	s.logger.Info("simulator server started", "assets", len(s.fleet.AssetIDs()))

	select {
	case sig := <-sigChan:
		s.logger.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context canceled, shutting down")
	}

	return s.Shutdown()
}

// Shutdown stops every simulator, then closes the MQ client.
func (s *Server) Shutdown() error {
	start := time.Now()
	stopErr := s.fleet.StopAll()
	if stopErr != nil {
		s.logger.Error("failed to stop simulators", "error", stopErr)
	}

	var closeErr error
	if err := s.client.Close(); err != nil {
		closeErr = fmt.Errorf("failed to close mq client: %w", err)
	}

	s.logger.Info("simulator server stopped", "took", time.Since(start))
	return errors.Join(stopErr, closeErr)
}
