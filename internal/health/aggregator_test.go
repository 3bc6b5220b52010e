package health_test

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/switchwatch/internal/config"
	"procodus.dev/switchwatch/internal/detector"
	"procodus.dev/switchwatch/internal/health"
	"procodus.dev/switchwatch/internal/modelstore"
	"procodus.dev/switchwatch/internal/store"
)

var _ = Describe("ComputeScores", func() {
	It("starts from full health", func() {
		Expect(health.ComputeScores(health.AnomalyCounts{})).To(Equal(health.Scores{
			Overall: 100, Electrical: 100, Mechanical: 100, PhaseCurrent: 100, Controller: 100,
		}))
	})

	It("applies per-family penalties", func() {
		s := health.ComputeScores(health.AnomalyCounts{PhaseCurrent: 1, Controller: 1, Transition: 1})
		Expect(s.PhaseCurrent).To(Equal(90.0))
		Expect(s.Controller).To(Equal(85.0))
		Expect(s.Mechanical).To(Equal(80.0))
		Expect(s.Electrical).To(BeNumerically("~", 88, 1e-9))
		Expect(s.Overall).To(BeNumerically("~", 85.6, 1e-9))
	})

	It("floors every subsystem at zero", func() {
		s := health.ComputeScores(health.AnomalyCounts{PhaseCurrent: 50, Controller: 50, Transition: 50})
		Expect(s.Overall).To(BeZero())
		Expect(s.Electrical).To(BeZero())
		Expect(s.Mechanical).To(BeZero())
	})

	It("keeps overall a convex combination within [0, 100]", func() {
		for p := 0; p <= 12; p++ {
			for c := 0; c <= 8; c++ {
				for t := 0; t <= 6; t++ {
					s := health.ComputeScores(health.AnomalyCounts{PhaseCurrent: p, Controller: c, Transition: t})
					Expect(s.Overall).To(BeNumerically(">=", 0))
					Expect(s.Overall).To(BeNumerically("<=", 100))
					Expect(math.Abs(s.Overall - (0.7*s.Electrical + 0.3*s.Mechanical))).To(BeNumerically("<", 1e-9))
					Expect(math.Abs(s.Electrical - (0.6*s.PhaseCurrent + 0.4*s.Controller))).To(BeNumerically("<", 1e-9))
				}
			}
		}
	})
})

var _ = Describe("Aggregator", func() {
	var (
		ctx   context.Context
		fleet *config.Fleet
		mem   *store.MemoryStore
		stub  *stubDetector
		agg   *health.Aggregator
	)

	newAggregator := func(s store.Store) *health.Aggregator {
		a, err := health.NewAggregator(health.Config{
			Logger:   testLogger(),
			Fleet:    fleet,
			Detector: stub,
			Store:    s,
			Now:      func() time.Time { return today },
		})
		Expect(err).NotTo(HaveOccurred())
		return a
	}

	BeforeEach(func() {
		ctx = context.Background()
		fleet = config.Default()
		mem = store.NewMemoryStore()
		stub = &stubDetector{phase: noModel(), controller: noModel(), transition: noModel()}
		agg = newAggregator(mem)
	})

	Describe("NewAggregator", func() {
		It("validates its dependencies", func() {
			_, err := health.NewAggregator(health.Config{Fleet: fleet, Detector: stub, Store: mem})
			Expect(err).To(MatchError("logger cannot be nil"))
			_, err = health.NewAggregator(health.Config{Logger: testLogger(), Detector: stub, Store: mem})
			Expect(err).To(MatchError("fleet cannot be nil"))
			_, err = health.NewAggregator(health.Config{Logger: testLogger(), Fleet: fleet, Store: mem})
			Expect(err).To(MatchError("detector cannot be nil"))
			_, err = health.NewAggregator(health.Config{Logger: testLogger(), Fleet: fleet, Detector: stub})
			Expect(err).To(MatchError("store cannot be nil"))
		})
	})

	Context("without trained models", func() {
		It("reports full health and persists a snapshot", func() {
			r := agg.GetHealthStatus(ctx, asset, health.Options{})
			Expect(r.Status).To(Equal(detector.StatusOK))
			Expect(r.HealthScore).To(Equal(100.0))
			Expect(r.Anomalies).To(Equal(health.AnomalyCounts{}))
			Expect(r.ConditionLevel).To(Equal(health.UsageLow))
			Expect(r.NextMaintenanceDate).To(Equal(time.Date(2025, 4, 9, 0, 0, 0, 0, time.UTC)))
			Expect(r.Recommendations).To(BeEmpty())
			Expect(r.Alerts).To(BeEmpty())

			history, err := mem.HealthHistory(ctx, asset, time.Time{})
			Expect(err).NotTo(HaveOccurred())
			Expect(history).To(HaveLen(1))
			Expect(history[0].Overall).To(Equal(100.0))
			Expect(history[0].Control).To(Equal(100.0))

			var counts health.AnomalyCounts
			Expect(json.Unmarshal(history[0].Prediction, &counts)).To(Succeed())
			Expect(counts).To(Equal(health.AnomalyCounts{}))
			var recs []string
			Expect(json.Unmarshal(history[0].Recommendations, &recs)).To(Succeed())
			Expect(recs).To(BeEmpty())
		})

		It("tolerates insufficient data", func() {
			stub.transition = detector.Result{Status: detector.StatusInsufficientData}
			Expect(agg.GetHealthStatus(ctx, asset, health.Options{}).Status).To(Equal(detector.StatusOK))
		})

		It("works against the real detection engine", func() {
			engine, err := detector.New(detector.Config{
				Logger: testLogger(),
				Fleet:  fleet,
				Store:  mem,
				Models: modelstore.NewMemoryStore(),
			})
			Expect(err).NotTo(HaveOccurred())
			a, err := health.NewAggregator(health.Config{
				Logger:   testLogger(),
				Fleet:    fleet,
				Detector: engine,
				Store:    mem,
			})
			Expect(err).NotTo(HaveOccurred())

			r := a.GetHealthStatus(ctx, asset, health.Options{})
			Expect(r.Status).To(Equal(detector.StatusOK))
			Expect(r.HealthScore).To(Equal(100.0))
		})
	})

	Context("with anomalies", func() {
		BeforeEach(func() {
			stub.phase = withAnomalies(detector.TypeImbalance, 10)
			stub.controller = withAnomalies(detector.TypeVoltageDrop, 7)
			stub.transition = withAnomalies(detector.TypeLongTransition, 5)
		})

		It("scores, schedules and recommends", func() {
			r := agg.GetHealthStatus(ctx, asset, health.Options{Environment: "harsh"})
			Expect(r.Status).To(Equal(detector.StatusOK))
			Expect(r.Anomalies).To(Equal(health.AnomalyCounts{Total: 22, PhaseCurrent: 10, Controller: 7, Transition: 5}))
			Expect(r.HealthScore).To(BeZero())
			Expect(r.ConditionLevel).To(Equal(health.UsageHigh))
			Expect(r.NextMaintenanceDate).To(Equal(time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC)))

			want := append(health.RecommendationsFor(health.ConditionPhaseCurrentImbalance),
				health.RecommendationsFor(health.ConditionControllerVoltageLow)...)
			want = append(want, health.RecommendationsFor(health.ConditionTransitionTimeHigh)...)
			Expect(r.Recommendations).To(Equal(want))
		})

		It("raises critical health alerts", func() {
			r := agg.GetHealthStatus(ctx, asset, health.Options{})
			types := map[string]string{}
			for _, a := range r.Alerts {
				types[a.AlertType] = a.Severity
			}
			Expect(types).To(Equal(map[string]string{
				health.AlertLowOverall:    store.SeverityCritical,
				health.AlertLowElectrical: store.SeverityCritical,
				health.AlertLowMechanical: store.SeverityCritical,
			}))

			stored, err := mem.Alerts(ctx, store.AlertFilter{AssetID: asset})
			Expect(err).NotTo(HaveOccurred())
			Expect(stored).To(HaveLen(3))
			for _, a := range stored {
				Expect(a.Acknowledged).To(BeFalse())
				if a.AlertType == health.AlertLowOverall {
					Expect(a.Threshold).To(Equal(50.0))
				} else {
					Expect(a.Threshold).To(Equal(40.0))
				}
			}
		})

		It("raises nothing when health alerts are disabled", func() {
			fleet.HealthAlerts.Enabled = false
			r := agg.GetHealthStatus(ctx, asset, health.Options{})
			Expect(r.Alerts).To(BeEmpty())
		})
	})

	It("raises warning alerts between the warning and critical levels", func() {
		// phase 0, controller 100, mechanical 40: electrical 40, overall 40
		stub.phase = withAnomalies(detector.TypeHighVariance, 10)
		stub.transition = withAnomalies(detector.TypeIncreasingTrend, 3)

		r := agg.GetHealthStatus(ctx, asset, health.Options{})
		Expect(r.Scores.Electrical).To(BeNumerically("~", 40, 1e-9))
		Expect(r.Scores.Mechanical).To(BeNumerically("~", 40, 1e-9))
		Expect(r.Scores.Overall).To(BeNumerically("~", 40, 1e-9))

		types := map[string]string{}
		for _, a := range r.Alerts {
			types[a.AlertType] = a.Severity
		}
		Expect(types).To(HaveKeyWithValue(health.AlertLowOverall, store.SeverityWarning))
		Expect(types).To(HaveLen(1))
	})

	It("adds each condition's recommendations once", func() {
		stub.phase = withAnomalies(detector.TypeImbalance, 3)
		stub.phase.Anomalies = append(stub.phase.Anomalies, withAnomalies(detector.TypeHighVariance, 2).Anomalies...)
		stub.phase.Anomalies = append(stub.phase.Anomalies, withAnomalies(detector.TypeIsolationForest, 1).Anomalies...)

		r := agg.GetHealthStatus(ctx, asset, health.Options{})
		Expect(r.Recommendations).To(HaveLen(6))
		Expect(r.Anomalies.PhaseCurrent).To(Equal(6))
	})

	DescribeTable("maintenance due alerts",
		func(routineDays int, severity string) {
			fleet.Maintenance.RoutineInspectionDays = routineDays
			r := agg.GetHealthStatus(ctx, asset, health.Options{})
			Expect(r.Alerts).To(HaveLen(1))
			Expect(r.Alerts[0].AlertType).To(Equal(health.AlertMaintenanceDue))
			Expect(r.Alerts[0].Severity).To(Equal(severity))
			Expect(r.Alerts[0].Threshold).To(Equal(7.0))
		},
		// low usage scales by 1.3: 5 days -> 6, 2 days -> 2
		Entry("warning", 5, store.SeverityWarning),
		Entry("critical", 2, store.SeverityCritical),
	)

	Context("on failure", func() {
		It("reports an unknown asset", func() {
			r := agg.GetHealthStatus(ctx, "nope", health.Options{})
			Expect(r.Status).To(Equal(detector.StatusError))
			Expect(r.HealthScore).To(BeZero())
			Expect(errors.Is(r.Err, detector.ErrUnknownAsset)).To(BeTrue())
		})

		It("aborts when a detector fails", func() {
			cause := errors.New("query failed")
			stub.controller = detector.Result{Status: detector.StatusError, Err: cause}

			r := agg.GetHealthStatus(ctx, asset, health.Options{})
			Expect(r.Status).To(Equal(detector.StatusError))
			Expect(r.HealthScore).To(BeZero())
			Expect(r.Message).NotTo(BeEmpty())
			Expect(errors.Is(r.Err, cause)).To(BeTrue())

			history, err := mem.HealthHistory(ctx, asset, time.Time{})
			Expect(err).NotTo(HaveOccurred())
			Expect(history).To(BeEmpty())
		})

		It("recovers from a panicking detector", func() {
			stub.panics = true
			r := agg.GetHealthStatus(ctx, asset, health.Options{})
			Expect(r.Status).To(Equal(detector.StatusError))
			Expect(r.Message).To(ContainSubstring("boom"))
		})

		It("reports an unknown maintenance type", func() {
			r := agg.GetHealthStatus(ctx, asset, health.Options{MaintenanceType: "overhaul"})
			Expect(r.Status).To(Equal(detector.StatusError))
		})

		It("reports a snapshot that cannot be stored", func() {
			a := newAggregator(failingStore{Store: mem})
			r := a.GetHealthStatus(ctx, asset, health.Options{})
			Expect(r.Status).To(Equal(detector.StatusError))
			Expect(r.Message).To(ContainSubstring("disk full"))
		})
	})
})
