package store_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/switchwatch/internal/store"
)

var _ = Describe("MemoryStore", func() {
	var (
		ctx  context.Context
		s    *store.MemoryStore
		base time.Time
	)

	BeforeEach(func() {
		ctx = context.Background()
		s = store.NewMemoryStore()
		base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	})

	Describe("phase currents", func() {
		BeforeEach(func() {
			for i := 0; i < 5; i++ {
				Expect(s.AppendPhaseCurrent(ctx, &store.PhaseCurrentSample{
					Timestamp: base.Add(time.Duration(i) * time.Second),
					AssetID:   "VIM_11_21",
					PhaseA:    float64(i),
				})).To(Succeed())
			}
			Expect(s.AppendPhaseCurrent(ctx, &store.PhaseCurrentSample{
				Timestamp: base, AssetID: "SP_13_23", PhaseA: 99,
			})).To(Succeed())
		})

		It("should return the most recent samples first", func() {
			rows, err := s.RecentPhaseCurrents(ctx, "VIM_11_21", 3)
			Expect(err).NotTo(HaveOccurred())
			Expect(rows).To(HaveLen(3))
			Expect(rows[0].PhaseA).To(Equal(4.0))
			Expect(rows[2].PhaseA).To(Equal(2.0))
		})

		It("should return all samples when limit is zero", func() {
			rows, err := s.RecentPhaseCurrents(ctx, "VIM_11_21", 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(rows).To(HaveLen(5))
		})

		It("should return samples since a time in chronological order", func() {
			rows, err := s.PhaseCurrentsSince(ctx, "VIM_11_21", base.Add(2*time.Second))
			Expect(err).NotTo(HaveOccurred())
			Expect(rows).To(HaveLen(3))
			Expect(rows[0].PhaseA).To(Equal(2.0))
			Expect(rows[2].PhaseA).To(Equal(4.0))
		})

		It("should assign ids", func() {
			rows, _ := s.RecentPhaseCurrents(ctx, "SP_13_23", 1)
			Expect(rows[0].ID).NotTo(BeZero())
		})

		It("should stamp a zero timestamp", func() {
			sample := &store.PhaseCurrentSample{AssetID: "X"}
			Expect(s.AppendPhaseCurrent(ctx, sample)).To(Succeed())
			Expect(sample.Timestamp).NotTo(BeZero())
		})
	})

	Describe("controller samples", func() {
		BeforeEach(func() {
			for i, id := range []string{"ctrl_1", "ctrl_2", "ctrl_1"} {
				Expect(s.AppendControllerSample(ctx, &store.ControllerSample{
					Timestamp:    base.Add(time.Duration(i) * time.Second),
					AssetID:      "VIM_11_21",
					ControllerID: id,
					Voltage:      24 - float64(i),
				})).To(Succeed())
			}
		})

		It("should filter by controller", func() {
			rows, err := s.RecentControllerSamples(ctx, "VIM_11_21", "ctrl_1", 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(rows).To(HaveLen(2))
			Expect(rows[0].Voltage).To(Equal(22.0))
		})

		It("should return every controller when the id is empty", func() {
			rows, err := s.ControllerSamplesSince(ctx, "VIM_11_21", "", base)
			Expect(err).NotTo(HaveOccurred())
			Expect(rows).To(HaveLen(3))
			Expect(rows[0].ControllerID).To(Equal("ctrl_1"))
		})
	})

	Describe("transitions", func() {
		BeforeEach(func() {
			Expect(s.AppendTransition(ctx, &store.TransitionEvent{
				Timestamp: base, AssetID: "VIM_11_21",
				StartPosition: "Normal", EndPosition: "Reversa", DurationSeconds: 6,
			})).To(Succeed())
			Expect(s.AppendTransition(ctx, &store.TransitionEvent{
				Timestamp: base.Add(time.Minute), AssetID: "VIM_11_21",
				StartPosition: "Reversa", EndPosition: "Normal", DurationSeconds: 7,
			})).To(Succeed())
		})

		It("should filter by direction", func() {
			rows, err := s.RecentTransitions(ctx, "VIM_11_21", "Normal", "Reversa", 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(rows).To(HaveLen(1))
			Expect(rows[0].DurationSeconds).To(Equal(6.0))
		})

		It("should return both directions without a filter", func() {
			rows, err := s.TransitionsSince(ctx, "VIM_11_21", time.Time{})
			Expect(err).NotTo(HaveOccurred())
			Expect(rows).To(HaveLen(2))
		})
	})

	Describe("alerts", func() {
		var first *store.Alert

		BeforeEach(func() {
			first = &store.Alert{
				Timestamp: base, AssetID: "VIM_11_21",
				AlertType: "current_spike", Severity: store.SeverityCritical,
				Value: 7.5, Threshold: 4.5,
			}
			Expect(s.AppendAlert(ctx, first)).To(Succeed())
			Expect(s.AppendAlert(ctx, &store.Alert{
				Timestamp: base.Add(time.Minute), AssetID: "VIM_11_21",
				AlertType: "phase_imbalance", Severity: store.SeverityWarning,
			})).To(Succeed())
		})

		It("should store alerts unacknowledged", func() {
			acknowledged := true
			rows, err := s.Alerts(ctx, store.AlertFilter{Acknowledged: &acknowledged})
			Expect(err).NotTo(HaveOccurred())
			Expect(rows).To(BeEmpty())
		})

		It("should filter by severity", func() {
			rows, err := s.Alerts(ctx, store.AlertFilter{Severity: store.SeverityCritical})
			Expect(err).NotTo(HaveOccurred())
			Expect(rows).To(HaveLen(1))
			Expect(rows[0].AlertType).To(Equal("current_spike"))
		})

		It("should filter by time range", func() {
			rows, err := s.Alerts(ctx, store.AlertFilter{Since: base.Add(time.Second)})
			Expect(err).NotTo(HaveOccurred())
			Expect(rows).To(HaveLen(1))

			rows, err = s.Alerts(ctx, store.AlertFilter{Until: base})
			Expect(err).NotTo(HaveOccurred())
			Expect(rows).To(HaveLen(1))
		})

		It("should acknowledge an alert", func() {
			Expect(s.AcknowledgeAlert(ctx, first.ID)).To(Succeed())

			acknowledged := true
			rows, err := s.Alerts(ctx, store.AlertFilter{Acknowledged: &acknowledged})
			Expect(err).NotTo(HaveOccurred())
			Expect(rows).To(HaveLen(1))
			Expect(rows[0].ID).To(Equal(first.ID))
			Expect(rows[0].AcknowledgedAt).NotTo(BeNil())
		})

		It("should return ErrNotFound for an unknown alert", func() {
			Expect(s.AcknowledgeAlert(ctx, 9999)).To(MatchError(store.ErrNotFound))
		})
	})

	Describe("health and maintenance history", func() {
		It("should return snapshots since a time", func() {
			for i := 0; i < 3; i++ {
				Expect(s.AppendHealthSnapshot(ctx, &store.HealthSnapshot{
					Timestamp: base.Add(time.Duration(i) * time.Hour),
					AssetID:   "VIM_11_21",
					Overall:   90 - float64(i),
				})).To(Succeed())
			}
			rows, err := s.HealthHistory(ctx, "VIM_11_21", base.Add(time.Hour))
			Expect(err).NotTo(HaveOccurred())
			Expect(rows).To(HaveLen(2))
			Expect(rows[0].Overall).To(Equal(89.0))
		})

		It("should return maintenance records newest first", func() {
			Expect(s.AppendMaintenanceRecord(ctx, &store.MaintenanceRecord{
				Timestamp: base, AssetID: "VIM_11_21", WearBefore: 0.5,
			})).To(Succeed())
			Expect(s.AppendMaintenanceRecord(ctx, &store.MaintenanceRecord{
				Timestamp: base.Add(time.Hour), AssetID: "VIM_11_21", WearBefore: 0.2,
			})).To(Succeed())

			rows, err := s.MaintenanceHistory(ctx, "VIM_11_21", 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(rows).To(HaveLen(1))
			Expect(rows[0].WearBefore).To(Equal(0.2))
		})
	})

	Describe("capacity", func() {
		It("should drop the oldest telemetry rows", func() {
			small := store.NewMemoryStoreWithCapacity(3)
			for i := 0; i < 5; i++ {
				Expect(small.AppendPhaseCurrent(ctx, &store.PhaseCurrentSample{
					Timestamp: base.Add(time.Duration(i) * time.Second),
					AssetID:   "VIM_11_21",
					PhaseA:    float64(i),
				})).To(Succeed())
			}
			rows, err := small.PhaseCurrentsSince(ctx, "VIM_11_21", time.Time{})
			Expect(err).NotTo(HaveOccurred())
			Expect(rows).To(HaveLen(3))
			Expect(rows[0].PhaseA).To(Equal(2.0))
		})
	})
})
