// Package backend runs the monitoring service: telemetry ingestion, anomaly
// detection, health scoring, the HTTP API and dashboard, and gRPC health.
package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"procodus.dev/switchwatch/internal/config"
	"procodus.dev/switchwatch/internal/detector"
	"procodus.dev/switchwatch/internal/health"
	"procodus.dev/switchwatch/internal/modelstore"
	"procodus.dev/switchwatch/internal/simulator"
	"procodus.dev/switchwatch/internal/store"
	"procodus.dev/switchwatch/pkg/metrics"
	"procodus.dev/switchwatch/pkg/mq"
)

// Server represents the backend service.
type Server struct {
	logger *slog.Logger
	config *ServerConfig

	store      store.Store
	models     modelstore.ModelStore
	fleet      *simulator.Fleet
	consumer   *Consumer
	httpServer *http.Server
	grpcServer *grpc.Server
	background sync.WaitGroup

	mu       sync.Mutex
	httpAddr net.Addr
	grpcAddr net.Addr
}

// Metrics groups the optional metric sets used by the backend.
type Metrics struct {
	Backend   *metrics.BackendMetrics
	Detector  *metrics.DetectorMetrics
	Store     *metrics.StoreMetrics
	Simulator *metrics.SimulatorMetrics
	MQ        *metrics.MQMetrics
}

// ServerConfig holds the configuration for the Server.
type ServerConfig struct {
	Logger *slog.Logger
	Fleet  *config.Fleet

	// DB selects the PostgreSQL telemetry store; nil runs in memory.
	DB             *store.DBConfig
	ConnectTimeout time.Duration

	// Influx, when set, mirrors telemetry to InfluxDB.
	Influx *store.InfluxConfig

	// ModelStore selects the model persistence backend. Logger and DB are
	// filled in by the server.
	ModelStore modelstore.Config

	// RabbitMQ configuration; an empty URL disables the telemetry consumer.
	RabbitMQURL string
	QueueName   string

	// Simulate runs the fleet simulator in-process, writing to the store.
	Simulate      bool
	SimulatorSeed int64

	// HTTPPort and GRPCPort of 0 bind an ephemeral port.
	HTTPPort int
	GRPCPort int

	// HealthRefresh is the gRPC health recomputation period.
	HealthRefresh time.Duration

	Metrics Metrics
}

// NewServer creates a new Server instance.
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

	if cfg.RabbitMQURL != "" && cfg.QueueName == "" {
		return nil, errors.New("queue name cannot be empty")
	}

	if cfg.HTTPPort < 0 {
		return nil, errors.New("HTTP port cannot be negative")
	}

	if cfg.GRPCPort < 0 {
		return nil, errors.New("gRPC port cannot be negative")
	}

	return &Server{
		logger: cfg.Logger,
		config: cfg,
	}, nil
}

// Run starts the backend server and blocks until shutdown.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting backend server")

	// Create context with cancellation
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Set up signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigChan)

	serveErr, err := s.start(ctx)
	if err != nil {
		cancel()
		return errors.Join(err, s.Shutdown())
	}

	s.logger.Info("backend server started successfully",
		"http_address", s.HTTPAddr(),
		"grpc_address", s.GRPCAddr(),
	)

	// Wait for shutdown signal or listener error
	select {
	case sig := <-sigChan:
		s.logger.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context canceled")
	case err := <-serveErr:
		s.logger.Error("server error", "error", err)
		cancel()
		return errors.Join(err, s.Shutdown())
	}

	cancel()
	return s.Shutdown()
}

// start builds every component and starts the listeners and background
// loops. Listener failures are reported on the returned channel.
func (s *Server) start(ctx context.Context) (<-chan error, error) {
	cfg := s.config
	m := cfg.Metrics

	primary, err := store.Open(ctx, store.OpenConfig{
		Logger:         s.logger,
		Metrics:        m.Store,
		DB:             cfg.DB,
		ConnectTimeout: cfg.ConnectTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open telemetry store: %w", err)
	}
	s.store = primary

	if cfg.Influx != nil {
		client, err := store.NewInfluxClient(*cfg.Influx)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize influx mirror: %w", err)
		}
		mirror, err := store.NewInfluxMirror(primary, client, s.logger, client.Close)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize influx mirror: %w", err)
		}
		s.store = mirror
		s.logger.Info("mirroring telemetry to influx", "host", cfg.Influx.Host)
	}

	msCfg := cfg.ModelStore
	msCfg.Logger = s.logger
	msCfg.Metrics = m.Store
	if pg, ok := primary.(*store.PostgresStore); ok {
		msCfg.DB = pg.DB()
	}
	s.models, err = modelstore.Open(ctx, msCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open model store: %w", err)
	}

	engine, err := detector.New(detector.Config{
		Logger:  s.logger,
		Fleet:   cfg.Fleet,
		Store:   s.store,
		Models:  s.models,
		Metrics: m.Detector,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize detector: %w", err)
	}
	if err := engine.Restore(ctx); err != nil {
		s.logger.Error("failed to restore models, training from scratch", "error", err)
	}

	aggregator, err := health.NewAggregator(health.Config{
		Logger:   s.logger,
		Fleet:    cfg.Fleet,
		Detector: engine,
		Store:    s.store,
		Metrics:  m.Backend,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize health aggregator: %w", err)
	}

	apiCfg := &APIConfig{
		Logger:   s.logger,
		Fleet:    cfg.Fleet,
		Store:    s.store,
		Engine:   engine,
		Reporter: aggregator,
		Metrics:  m.Backend,
	}

	if cfg.Simulate {
		s.fleet, err = simulator.NewFleet(simulator.FleetConfig{
			Logger:  s.logger,
			Fleet:   cfg.Fleet,
			Sink:    s.store,
			Metrics: m.Simulator,
			Seed:    cfg.SimulatorSeed,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize simulator fleet: %w", err)
		}
		s.fleet.StartAll(ctx)
		apiCfg.Simulators = s.fleet
	}

	if cfg.RabbitMQURL != "" {
		client := mq.NewWithOptions(cfg.QueueName, cfg.RabbitMQURL, s.logger, mq.DefaultOptions())
		if m.MQ != nil {
			client.SetMetrics(m.MQ)
		}
		s.consumer, err = NewConsumer(&ConsumerConfig{
			Logger:    s.logger,
			Store:     s.store,
			Client:    client,
			Metrics:   m.Backend,
			QueueName: cfg.QueueName,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize consumer: %w", err)
		}
		s.background.Add(1)
		go func() {
			defer s.background.Done()
			if err := s.consumer.Start(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("failed to start consumer", "error", err)
			}
		}()
	}

	scheduler, err := detector.NewScheduler(engine, cfg.Fleet.Detection.RetrainCheckInterval, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize retrain scheduler: %w", err)
	}
	s.goBackground(func() { scheduler.Run(ctx) })

	healthSvc, err := NewHealthService(&HealthServiceConfig{
		Logger:          s.logger,
		Fleet:           cfg.Fleet,
		Reporter:        aggregator,
		Metrics:         m.Backend,
		RefreshInterval: cfg.HealthRefresh,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize health service: %w", err)
	}
	s.goBackground(func() { healthSvc.Run(ctx) })

	api, err := NewAPI(apiCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize API: %w", err)
	}

	// gRPC
	s.grpcServer = grpc.NewServer(grpc.UnaryInterceptor(healthSvc.UnaryInterceptor))
	healthpb.RegisterHealthServer(s.grpcServer, healthSvc.Server())
	reflection.Register(s.grpcServer)

	grpcLis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPCPort))
	if err != nil {
		return nil, fmt.Errorf("failed to listen on gRPC port %d: %w", cfg.GRPCPort, err)
	}

	// HTTP
	s.httpServer = &http.Server{
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	httpLis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.HTTPPort))
	if err != nil {
		_ = grpcLis.Close()
		return nil, fmt.Errorf("failed to listen on HTTP port %d: %w", cfg.HTTPPort, err)
	}

	s.mu.Lock()
	s.grpcAddr = grpcLis.Addr()
	s.httpAddr = httpLis.Addr()
	s.mu.Unlock()

	serveErr := make(chan error, 2)
	go func() {
		if err := s.grpcServer.Serve(grpcLis); err != nil {
			serveErr <- fmt.Errorf("gRPC server error: %w", err)
		}
	}()
	go func() {
		if err := s.httpServer.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	return serveErr, nil
}

func (s *Server) goBackground(fn func()) {
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		fn()
	}()
}

// HTTPAddr returns the bound HTTP address, or "" before the server starts.
func (s *Server) HTTPAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpAddr == nil {
		return ""
	}
	return s.httpAddr.String()
}

// GRPCAddr returns the bound gRPC address, or "" before the server starts.
func (s *Server) GRPCAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.grpcAddr == nil {
		return ""
	}
	return s.grpcAddr.String()
}

// Shutdown gracefully shuts down the server. Background loops must already
// be canceled through the Run context.
func (s *Server) Shutdown() error {
	s.logger.Info("shutting down backend server")

	var errs []error

	if s.httpServer != nil {
		s.logger.Info("stopping HTTP server")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("HTTP server shutdown error: %w", err))
		}
	}

	if s.grpcServer != nil {
		s.logger.Info("stopping gRPC server")
		s.grpcServer.GracefulStop()
	}

	if s.fleet != nil {
		s.logger.Info("stopping simulators")
		if err := s.fleet.StopAll(); err != nil {
			errs = append(errs, fmt.Errorf("simulator shutdown error: %w", err))
		}
	}

	if s.consumer != nil {
		if err := s.consumer.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("consumer shutdown error: %w", err))
		}
	}

	s.background.Wait()

	if s.models != nil {
		if err := s.models.Close(); err != nil {
			errs = append(errs, fmt.Errorf("model store close error: %w", err))
		}
	}

	if s.store != nil {
		s.logger.Info("closing telemetry store")
		if err := s.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store close error: %w", err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		s.logger.Error("backend server shutdown completed with errors", "error", err)
		return err
	}

	s.logger.Info("backend server shutdown completed successfully")
	return nil
}
