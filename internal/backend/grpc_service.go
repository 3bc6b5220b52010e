package backend

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"procodus.dev/switchwatch/internal/config"
	"procodus.dev/switchwatch/internal/detector"
	"procodus.dev/switchwatch/internal/health"
	"procodus.dev/switchwatch/pkg/metrics"
)

// ServingThreshold is the overall health at or above which an asset reports
// SERVING.
const ServingThreshold = 70.0

const defaultHealthRefresh = time.Minute

// AssetServiceName is the grpc.health.v1 service name of an asset.
func AssetServiceName(assetID string) string {
	return "switchwatch.asset." + assetID
}

// HealthReporter computes asset health. *health.Aggregator implements it.
type HealthReporter interface {
	GetHealthStatus(ctx context.Context, assetID string, opts health.Options) health.Report
}

// ServingStatus maps a health report to a gRPC serving status.
func ServingStatus(r health.Report) healthpb.HealthCheckResponse_ServingStatus {
	switch {
	case r.Status == detector.StatusError:
		return healthpb.HealthCheckResponse_UNKNOWN
	case r.HealthScore >= ServingThreshold:
		return healthpb.HealthCheckResponse_SERVING
	default:
		return healthpb.HealthCheckResponse_NOT_SERVING
	}
}

// HealthServiceConfig holds the configuration for the HealthService.
type HealthServiceConfig struct {
	Logger   *slog.Logger
	Fleet    *config.Fleet
	Reporter HealthReporter
	Metrics  *metrics.BackendMetrics // Optional metrics
	// RefreshInterval is the period between health recomputations.
	RefreshInterval time.Duration
}

// HealthService publishes per-asset health on the standard gRPC health
// protocol. The empty service name reports the backend itself.
type HealthService struct {
	logger   *slog.Logger
	fleet    *config.Fleet
	reporter HealthReporter
	metrics  *metrics.BackendMetrics
	interval time.Duration
	server   *grpchealth.Server
}

// NewHealthService creates a HealthService with every asset UNKNOWN.
func NewHealthService(cfg *HealthServiceConfig) (*HealthService, error) {
	if cfg == nil {
		return nil, errors.New("health service config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.Fleet == nil {
		return nil, errors.New("fleet cannot be nil")
	}

	if cfg.Reporter == nil {
		return nil, errors.New("health reporter cannot be nil")
	}

	interval := cfg.RefreshInterval
	if interval <= 0 {
		interval = defaultHealthRefresh
	}

	s := &HealthService{
		logger:   cfg.Logger.With("component", "grpc_health"),
		fleet:    cfg.Fleet,
		reporter: cfg.Reporter,
		metrics:  cfg.Metrics,
		interval: interval,
		server:   grpchealth.NewServer(),
	}
	for _, id := range cfg.Fleet.AssetIDs() {
		s.server.SetServingStatus(AssetServiceName(id), healthpb.HealthCheckResponse_UNKNOWN)
	}
	return s, nil
}

// Server returns the grpc.health.v1 implementation to register.
func (s *HealthService) Server() healthpb.HealthServer {
	return s.server
}

// Refresh recomputes the health of every asset and updates its status.
func (s *HealthService) Refresh(ctx context.Context) {
	for _, id := range s.fleet.AssetIDs() {
		if ctx.Err() != nil {
			return
		}
		report := s.reporter.GetHealthStatus(ctx, id, health.Options{})
		st := ServingStatus(report)
		s.server.SetServingStatus(AssetServiceName(id), st)
		s.logger.Debug("asset health published",
			"asset_id", id,
			"health_score", report.HealthScore,
			"serving_status", st.String(),
		)
	}
}

// Run refreshes immediately and then on every interval until ctx is done,
// when all services are marked NOT_SERVING.
func (s *HealthService) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			s.server.Shutdown()
			return
		case <-ticker.C:
			s.Refresh(ctx)
		}
	}
}

// UnaryInterceptor records request metrics for unary gRPC calls.
func (s *HealthService) UnaryInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	if s.metrics == nil {
		return handler(ctx, req)
	}

	s.metrics.GRPCRequestsInFlight.WithLabelValues(info.FullMethod).Inc()
	defer s.metrics.GRPCRequestsInFlight.WithLabelValues(info.FullMethod).Dec()

	timer := prometheus.NewTimer(s.metrics.GRPCRequestDuration.WithLabelValues(info.FullMethod))
	defer timer.ObserveDuration()

	resp, err := handler(ctx, req)
	s.metrics.GRPCRequestsTotal.WithLabelValues(info.FullMethod, status.Code(err).String()).Inc()
	return resp, err
}
