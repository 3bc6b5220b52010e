package health_test

import (
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/switchwatch/internal/config"
	"procodus.dev/switchwatch/internal/detector"
	"procodus.dev/switchwatch/internal/health"
)

var _ = Describe("Maintenance scheduling", func() {
	var fleet *config.Fleet

	BeforeEach(func() {
		fleet = config.Default()
	})

	DescribeTable("ConditionLevel",
		func(overall float64, want string) {
			Expect(health.ConditionLevel(overall)).To(Equal(want))
		},
		Entry("zero", 0.0, health.UsageHigh),
		Entry("just below 70", 69.99, health.UsageHigh),
		Entry("70", 70.0, health.UsageMedium),
		Entry("just below 85", 84.99, health.UsageMedium),
		Entry("85", 85.0, health.UsageLow),
		Entry("100", 100.0, health.UsageLow),
	)

	DescribeTable("NextMaintenanceDate",
		func(maintenanceType, usage, env string, days int) {
			next, err := health.NextMaintenanceDate(fleet, asset, maintenanceType, usage, env, today)
			Expect(err).NotTo(HaveOccurred())
			Expect(next).To(Equal(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, days)))
		},
		Entry("routine, low usage, normal", config.RoutineInspection, health.UsageLow, "normal", 39),
		Entry("routine, medium usage, normal", config.RoutineInspection, health.UsageMedium, "normal", 30),
		Entry("routine, high usage, harsh truncates", config.RoutineInspection, health.UsageHigh, "harsh", 14),
		Entry("minor, medium usage, controlled", config.MinorMaintenance, health.UsageMedium, "controlled", 216),
		Entry("major, high usage, normal", config.MajorMaintenance, health.UsageHigh, "normal", 255),
	)

	It("uses the global routine interval rather than the asset's", func() {
		fleet.Maintenance.RoutineInspectionDays = 10
		next, err := health.NextMaintenanceDate(fleet, asset, config.RoutineInspection, health.UsageMedium, "normal", today)
		Expect(err).NotTo(HaveOccurred())
		Expect(next).To(Equal(time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC)))
	})

	It("rejects unknown inputs", func() {
		_, err := health.NextMaintenanceDate(fleet, "nope", config.RoutineInspection, health.UsageLow, "normal", today)
		Expect(errors.Is(err, detector.ErrUnknownAsset)).To(BeTrue())

		_, err = health.NextMaintenanceDate(fleet, asset, "overhaul", health.UsageLow, "normal", today)
		Expect(err).To(MatchError(ContainSubstring("maintenance type")))

		_, err = health.NextMaintenanceDate(fleet, asset, config.RoutineInspection, "extreme", "normal", today)
		Expect(err).To(MatchError(ContainSubstring("usage level")))

		_, err = health.NextMaintenanceDate(fleet, asset, config.RoutineInspection, health.UsageLow, "arctic", today)
		Expect(err).To(MatchError(ContainSubstring("environment")))
	})
})

var _ = Describe("RecommendationsFor", func() {
	It("returns three entries per known condition", func() {
		for _, c := range []health.Condition{
			health.ConditionPhaseCurrentHigh,
			health.ConditionPhaseCurrentImbalance,
			health.ConditionControllerVoltageLow,
			health.ConditionTransitionTimeHigh,
			health.ConditionGeneralWear,
		} {
			Expect(health.RecommendationsFor(c)).To(HaveLen(3), string(c))
		}
	})

	It("falls back to general wear", func() {
		Expect(health.RecommendationsFor("rust")).To(Equal(health.RecommendationsFor(health.ConditionGeneralWear)))
	})

	It("returns a copy", func() {
		recs := health.RecommendationsFor(health.ConditionGeneralWear)
		recs[0] = "changed"
		Expect(health.RecommendationsFor(health.ConditionGeneralWear)[0]).NotTo(Equal("changed"))
	})
})
