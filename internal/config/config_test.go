package config_test

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/switchwatch/internal/config"
)

var _ = Describe("Fleet configuration", func() {
	Describe("Default", func() {
		It("should describe the two factory assets", func() {
			fleet := config.Default()
			Expect(fleet.AssetIDs()).To(Equal([]string{"VIM_11_21", "SP_13_23"}))
			Expect(fleet.Validate()).To(Succeed())
		})

		It("should carry the factory thresholds", func() {
			asset, ok := config.Default().Asset("VIM_11_21")
			Expect(ok).To(BeTrue())

			phase, ok := asset.Phases.Get(config.PhaseA)
			Expect(ok).To(BeTrue())
			Expect(phase.Max).To(Equal(5.0))
			Expect(phase.Warning).To(Equal(4.5))
			Expect(phase.Critical).To(Equal(4.8))

			Expect(asset.Controllers).To(HaveLen(4))
			ctrl, ok := asset.Controller("ctrl_3")
			Expect(ok).To(BeTrue())
			Expect(ctrl.NominalVoltage).To(Equal(24.0))
			Expect(ctrl.Current.Critical).To(Equal(0.9))

			Expect(asset.Transitions[config.NormalToReverse].Nominal).To(Equal(6.0))
			Expect(asset.MaintenanceIntervals[config.MajorMaintenance]).To(Equal(365))
			Expect(asset.TickInterval).To(Equal(time.Second))
		})
	})

	Describe("AssetConfig helpers", func() {
		It("should map positions to directions", func() {
			asset := config.DefaultAsset("A1", "test")
			Expect(asset.DirectionFor("Normal")).To(Equal(config.NormalToReverse))
			Expect(asset.DirectionFor("Reversa")).To(Equal(config.ReverseToNormal))

			start, end := asset.Endpoints(config.ReverseToNormal)
			Expect(start).To(Equal("Reversa"))
			Expect(end).To(Equal("Normal"))
		})

		It("should report unknown phases and controllers", func() {
			asset := config.DefaultAsset("A1", "test")
			_, ok := asset.Phases.Get("phase_d")
			Expect(ok).To(BeFalse())
			_, ok = asset.Controller("ctrl_9")
			Expect(ok).To(BeFalse())
		})
	})

	Describe("Parse", func() {
		It("should overlay values and fill asset defaults", func() {
			fleet, err := config.Parse([]byte(`
assets:
  - id: ZM_01
    name: Test zone
    tick_interval: 500ms
    environment: harsh
detection:
  sensitivity: 0.1
`))
			Expect(err).NotTo(HaveOccurred())
			Expect(fleet.AssetIDs()).To(Equal([]string{"ZM_01"}))

			asset, _ := fleet.Asset("ZM_01")
			Expect(asset.TickInterval).To(Equal(500 * time.Millisecond))
			Expect(asset.Environment).To(Equal("harsh"))
			Expect(asset.Controllers).To(HaveLen(4))
			Expect(fleet.Detection.Sensitivity).To(Equal(0.1))
			Expect(fleet.Detection.MinSamples).To(Equal(1000))
		})

		DescribeTable("should reject malformed configuration",
			func(doc string) {
				_, err := config.Parse([]byte(doc))
				Expect(err).To(MatchError(config.ErrInvalidConfig))
			},
			Entry("no assets", "assets: []"),
			Entry("duplicate asset ids", "assets: [{id: A}, {id: A}]"),
			Entry("inverted phase range", "assets: [{id: A, phases: {phase_a: {min: 5, max: 1, warning: 1, critical: 2}}}]"),
			Entry("warning above critical", "assets: [{id: A, phases: {phase_b: {min: 0, max: 5, warning: 4.9, critical: 4.8}}}]"),
			Entry("single position", "assets: [{id: A, positions: [Normal]}]"),
			Entry("controller voltages out of order", "assets: [{id: A, controllers: [{id: c1, nominal: 24, warning: 25, critical: 20, current: {max: 1, warning: 0.8, critical: 0.9}}]}]"),
			Entry("sensitivity out of range", "detection: {sensitivity: 0.7}"),
			Entry("fault probability above one", "simulation: {fault_probability: 1.5}"),
		)

		It("should report YAML syntax errors", func() {
			_, err := config.Parse([]byte("assets: ["))
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Load", func() {
		It("should return defaults for an empty path", func() {
			fleet, err := config.Load("")
			Expect(err).NotTo(HaveOccurred())
			Expect(fleet.Assets).To(HaveLen(2))
		})

		It("should read a file", func() {
			path := filepath.Join(GinkgoT().TempDir(), "fleet.yaml")
			Expect(os.WriteFile(path, []byte("assets: [{id: X1}]\n"), 0o600)).To(Succeed())

			fleet, err := config.Load(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(fleet.AssetIDs()).To(Equal([]string{"X1"}))
		})

		It("should fail for a missing file", func() {
			_, err := config.Load("/nonexistent/fleet.yaml")
			Expect(err).To(HaveOccurred())
		})
	})

	It("should express the training window in days", func() {
		Expect(config.Default().Detection.TrainingWindow()).To(Equal(30 * 24 * time.Hour))
	})
})
