package store_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"

	"github.com/InfluxCommunity/influxdb3-go/v2/influxdb3"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/switchwatch/internal/store"
)

type fakePointWriter struct {
	mu     sync.Mutex
	points []*influxdb3.Point
	err    error
}

func (f *fakePointWriter) WritePoints(_ context.Context, points []*influxdb3.Point, _ ...influxdb3.WriteOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.points = append(f.points, points...)
	return nil
}

func (f *fakePointWriter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.points)
}

var _ = Describe("InfluxMirror", func() {
	var (
		ctx     context.Context
		logger  *slog.Logger
		primary *store.MemoryStore
		writer  *fakePointWriter
	)

	BeforeEach(func() {
		ctx = context.Background()
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelError,
		}))
		primary = store.NewMemoryStore()
		writer = &fakePointWriter{}
	})

	Describe("NewInfluxMirror", func() {
		It("should reject missing dependencies", func() {
			_, err := store.NewInfluxMirror(nil, writer, logger, nil)
			Expect(err).To(HaveOccurred())
			_, err = store.NewInfluxMirror(primary, nil, logger, nil)
			Expect(err).To(HaveOccurred())
			_, err = store.NewInfluxMirror(primary, writer, nil, nil)
			Expect(err).To(HaveOccurred())
		})
	})

	It("should write to the primary store and mirror every telemetry row", func() {
		m, err := store.NewInfluxMirror(primary, writer, logger, nil)
		Expect(err).NotTo(HaveOccurred())

		Expect(m.AppendPhaseCurrent(ctx, &store.PhaseCurrentSample{AssetID: "VIM_11_21", PhaseA: 0.2})).To(Succeed())
		Expect(m.AppendControllerSample(ctx, &store.ControllerSample{AssetID: "VIM_11_21", ControllerID: "ctrl_1"})).To(Succeed())
		Expect(m.AppendTransition(ctx, &store.TransitionEvent{AssetID: "VIM_11_21"})).To(Succeed())
		Expect(m.AppendAlert(ctx, &store.Alert{AssetID: "VIM_11_21", AlertType: "current_spike"})).To(Succeed())
		Expect(m.AppendHealthSnapshot(ctx, &store.HealthSnapshot{AssetID: "VIM_11_21"})).To(Succeed())
		Expect(m.AppendMaintenanceRecord(ctx, &store.MaintenanceRecord{AssetID: "VIM_11_21"})).To(Succeed())

		Expect(writer.count()).To(Equal(5))

		rows, err := m.RecentPhaseCurrents(ctx, "VIM_11_21", 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(rows).To(HaveLen(1))
	})

	It("should not fail the primary write when influx is down", func() {
		writer.err = errors.New("connection refused")
		m, err := store.NewInfluxMirror(primary, writer, logger, nil)
		Expect(err).NotTo(HaveOccurred())

		Expect(m.AppendAlert(ctx, &store.Alert{AssetID: "VIM_11_21"})).To(Succeed())
		alerts, err := primary.Alerts(ctx, store.AlertFilter{AssetID: "VIM_11_21"})
		Expect(err).NotTo(HaveOccurred())
		Expect(alerts).To(HaveLen(1))
	})

	It("should call the close hook", func() {
		closed := false
		m, err := store.NewInfluxMirror(primary, writer, logger, func() error {
			closed = true
			return nil
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(m.Close()).To(Succeed())
		Expect(closed).To(BeTrue())
	})

	Describe("NewInfluxClient", func() {
		It("should require a host and database", func() {
			_, err := store.NewInfluxClient(store.InfluxConfig{Database: "switchwatch"})
			Expect(err).To(HaveOccurred())
			_, err = store.NewInfluxClient(store.InfluxConfig{Host: "http://localhost:8181"})
			Expect(err).To(HaveOccurred())
		})
	})
})
