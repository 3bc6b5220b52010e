package backend_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"procodus.dev/switchwatch/internal/backend"
	"procodus.dev/switchwatch/internal/config"
	"procodus.dev/switchwatch/internal/health"
)

var _ = Describe("gRPC health service", func() {
	var (
		reporter *stubReporter
		svc      *backend.HealthService
		ctx      context.Context
	)

	check := func(service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
		resp, err := svc.Server().Check(ctx, &healthpb.HealthCheckRequest{Service: service})
		if err != nil {
			return healthpb.HealthCheckResponse_UNKNOWN, err
		}
		return resp.GetStatus(), nil
	}

	BeforeEach(func() {
		ctx = context.Background()
		reporter = &stubReporter{reports: map[string]health.Report{}}
		var err error
		svc, err = backend.NewHealthService(&backend.HealthServiceConfig{
			Logger:          testLogger(),
			Fleet:           config.Default(),
			Reporter:        reporter,
			RefreshInterval: 10 * time.Millisecond,
		})
		Expect(err).NotTo(HaveOccurred())
	})

	DescribeTable("ServingStatus",
		func(r health.Report, expected healthpb.HealthCheckResponse_ServingStatus) {
			Expect(backend.ServingStatus(r)).To(Equal(expected))
		},
		Entry("healthy", scored(vim, 100), healthpb.HealthCheckResponse_SERVING),
		Entry("exactly at the threshold", scored(vim, 70), healthpb.HealthCheckResponse_SERVING),
		Entry("just below the threshold", scored(vim, 69.9), healthpb.HealthCheckResponse_NOT_SERVING),
		Entry("failed computation", failed(vim), healthpb.HealthCheckResponse_UNKNOWN),
	)

	It("names services after assets", func() {
		Expect(backend.AssetServiceName(vim)).To(Equal("switchwatch.asset.VIM_11_21"))
	})

	It("validates its configuration", func() {
		_, err := backend.NewHealthService(nil)
		Expect(err).To(HaveOccurred())
		_, err = backend.NewHealthService(&backend.HealthServiceConfig{Logger: testLogger(), Fleet: config.Default()})
		Expect(err).To(MatchError(ContainSubstring("health reporter cannot be nil")))
	})

	It("reports every asset as UNKNOWN before the first refresh", func() {
		st, err := check(backend.AssetServiceName(sp))
		Expect(err).NotTo(HaveOccurred())
		Expect(st).To(Equal(healthpb.HealthCheckResponse_UNKNOWN))

		st, err = check("")
		Expect(err).NotTo(HaveOccurred())
		Expect(st).To(Equal(healthpb.HealthCheckResponse_SERVING))
	})

	It("publishes the computed health of each asset", func() {
		reporter.reports[vim] = scored(vim, 91)
		reporter.reports[sp] = scored(sp, 42)

		svc.Refresh(ctx)

		Expect(check(backend.AssetServiceName(vim))).To(Equal(healthpb.HealthCheckResponse_SERVING))
		Expect(check(backend.AssetServiceName(sp))).To(Equal(healthpb.HealthCheckResponse_NOT_SERVING))
	})

	It("returns NotFound for services it does not know", func() {
		_, err := check("switchwatch.asset.NOPE")
		Expect(status.Code(err)).To(Equal(codes.NotFound))
	})

	It("refreshes periodically and stops serving on shutdown", func() {
		runCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			svc.Run(runCtx)
		}()

		Eventually(func() (healthpb.HealthCheckResponse_ServingStatus, error) {
			return check(backend.AssetServiceName(vim))
		}).Should(Equal(healthpb.HealthCheckResponse_SERVING))

		reporter.mu.Lock()
		reporter.reports[vim] = failed(vim)
		reporter.mu.Unlock()
		Eventually(func() (healthpb.HealthCheckResponse_ServingStatus, error) {
			return check(backend.AssetServiceName(vim))
		}).Should(Equal(healthpb.HealthCheckResponse_UNKNOWN))

		cancel()
		Eventually(done).Should(BeClosed())
		Expect(check("")).To(Equal(healthpb.HealthCheckResponse_NOT_SERVING))
	})

	It("passes unary calls through the interceptor", func() {
		info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}
		resp, err := svc.UnaryInterceptor(ctx, "req", info, func(_ context.Context, req any) (any, error) {
			return req.(string) + "-handled", nil
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(resp).To(Equal("req-handled"))

		_, err = svc.UnaryInterceptor(ctx, "req", info, func(context.Context, any) (any, error) {
			return nil, errors.New("boom")
		})
		Expect(err).To(MatchError("boom"))
	})
})
