package generator_test

import (
	"math/rand"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/switchwatch/internal/config"
	"procodus.dev/switchwatch/pkg/generator"
)

var _ = Describe("Machine", func() {
	var (
		asset config.AssetConfig
		sim   config.SimulationConfig
		t0    time.Time
	)

	BeforeEach(func() {
		asset = config.DefaultAsset("VIM_11_21", "test")
		sim = config.Default().Simulation
		t0 = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	})

	newMachine := func() *generator.Machine {
		return generator.NewMachine(asset, sim, rand.New(rand.NewSource(1)), t0)
	}

	Describe("NewMachine", func() {
		It("should rest in the first position with nominal voltage", func() {
			state := newMachine().State()
			Expect(state.Position).To(Equal("Normal"))
			Expect(state.Transitioning).To(BeFalse())
			Expect(state.Wear).To(BeZero())
			Expect(state.Controllers).To(HaveLen(4))
			for _, c := range state.Controllers {
				Expect(c.Voltage).To(Equal(24.0))
			}
		})

		It("should date the last maintenance within the configured age", func() {
			state := newMachine().State()
			Expect(state.LastMaintenance).To(BeTemporally("<=", t0))
			Expect(state.LastMaintenance).To(BeTemporally(">=", t0.AddDate(0, 0, -45)))
		})
	})

	Context("without faults or wear", func() {
		BeforeEach(func() {
			sim.FaultProbability = 0
			sim.DegradationRate = 0
			sim.InitialWear = 0
		})

		It("should stay within bounds and raise no alerts for 1000 ticks", func() {
			m := newMachine()
			transitions := 0
			for i := 0; i < 1000; i++ {
				tick := m.Step(t0.Add(time.Duration(i) * time.Second))
				Expect(tick.Alerts).To(BeEmpty())
				Expect(tick.Fault).To(BeNil())
				for _, name := range config.PhaseNames {
					r, _ := asset.Phases.Get(name)
					Expect(tick.Phases.Get(name)).To(BeNumerically(">=", r.Min))
					Expect(tick.Phases.Get(name)).To(BeNumerically("<=", r.Max))
				}
				if tick.Transition != nil {
					transitions++
				}
			}
			Expect(transitions).To(BeNumerically(">", 0))
			Expect(m.State().Wear).To(BeZero())
		})

		It("should complete a forced transition after the nominal time", func() {
			sim.TransitionProbability = 0
			m := newMachine()
			m.StartTransition(t0)

			mid := m.Step(t0.Add(3 * time.Second))
			Expect(mid.Transitioning).To(BeTrue())
			Expect(mid.Transition).To(BeNil())
			Expect(mid.Phases.Max()).To(BeNumerically(">", 0))

			done := m.Step(t0.Add(6 * time.Second))
			Expect(done.Transitioning).To(BeFalse())
			Expect(done.Position).To(Equal("Reversa"))
			Expect(done.Transition).NotTo(BeNil())
			Expect(done.Transition.Direction).To(Equal(config.NormalToReverse))
			Expect(done.Transition.StartPosition).To(Equal("Normal"))
			Expect(done.Transition.EndPosition).To(Equal("Reversa"))
			Expect(done.Transition.Duration).To(BeNumerically("~", 6, 1e-9))
			Expect(done.Transition.CurrentSpike).To(Equal(mid.Phases.Max()))
		})

		It("should slow transitions down with wear", func() {
			sim.TransitionProbability = 0
			m := newMachine()
			m.SetWear(0.5)
			m.StartTransition(t0)

			Expect(m.Step(t0.Add(8 * time.Second)).Transition).To(BeNil())
			Expect(m.Step(t0.Add(9 * time.Second)).Transition).NotTo(BeNil())
		})
	})

	It("should accrue wear after each tick and clamp it at one", func() {
		sim.FaultProbability = 0
		sim.DegradationRate = 0.4
		m := newMachine()

		first := m.Step(t0)
		Expect(first.Wear).To(BeZero())
		Expect(m.State().Wear).To(BeNumerically("~", 0.4, 1e-12))

		m.Step(t0.Add(time.Second))
		m.Step(t0.Add(2 * time.Second))
		Expect(m.State().Wear).To(Equal(1.0))
	})

	Describe("InjectFault", func() {
		var m *generator.Machine

		BeforeEach(func() {
			m = newMachine()
		})

		It("should record a critical spike against the warning threshold", func() {
			alerts := m.InjectFault(generator.Fault{Kind: generator.CurrentSpike, Target: config.PhaseA, Factor: 1.5})
			Expect(m.State().Phases.A).To(Equal(7.5))
			Expect(alerts).To(HaveLen(1))
			Expect(alerts[0].Type).To(Equal("current_spike"))
			Expect(alerts[0].Severity).To(Equal(generator.SeverityCritical))
			Expect(alerts[0].Value).To(Equal(7.5))
			Expect(alerts[0].Threshold).To(Equal(4.5))
		})

		It("should raise a warning spike between warning and critical", func() {
			alerts := m.InjectFault(generator.Fault{Kind: generator.CurrentSpike, Target: config.PhaseB, Factor: 0.94})
			Expect(alerts).To(HaveLen(1))
			Expect(alerts[0].Severity).To(Equal(generator.SeverityWarning))
		})

		It("should classify voltage drops", func() {
			alerts := m.InjectFault(generator.Fault{Kind: generator.VoltageDrop, Target: "ctrl_2", Factor: 0.6})
			Expect(alerts).To(HaveLen(1))
			Expect(alerts[0].Severity).To(Equal(generator.SeverityCritical))
			Expect(alerts[0].Value).To(BeNumerically("~", 14.4, 1e-9))
			Expect(alerts[0].Threshold).To(Equal(22.0))

			m2 := newMachine()
			Expect(m2.InjectFault(generator.Fault{Kind: generator.VoltageDrop, Target: "ctrl_1", Factor: 0.95})).To(BeEmpty())
			Expect(m2.InjectFault(generator.Fault{Kind: generator.VoltageDrop, Target: "ctrl_9", Factor: 0.1})).To(BeEmpty())
		})

		It("should raise an imbalance warning relative to phase A", func() {
			m.InjectFault(generator.Fault{Kind: generator.CurrentSpike, Target: config.PhaseA, Factor: 0.5})
			alerts := m.InjectFault(generator.Fault{Kind: generator.PhaseImbalance, Factor: 0.7, FactorC: 1.4})

			phases := m.State().Phases
			Expect(phases.B).To(BeNumerically("~", 1.75, 1e-9))
			Expect(phases.C).To(BeNumerically("~", 3.5, 1e-9))
			Expect(alerts).To(HaveLen(1))
			Expect(alerts[0].Severity).To(Equal(generator.SeverityWarning))
			Expect(alerts[0].Value).To(BeNumerically("~", 70, 1e-9))
			Expect(alerts[0].Threshold).To(Equal(25.0))
		})

		It("should skip the imbalance alert when phase A is idle", func() {
			Expect(m.InjectFault(generator.Fault{Kind: generator.PhaseImbalance, Factor: 0.7, FactorC: 1.4})).To(BeEmpty())
		})
	})

	Describe("Maintain", func() {
		It("should reduce wear and reset the maintenance date", func() {
			m := newMachine()
			m.SetWear(0.5)
			later := t0.Add(48 * time.Hour)

			report := m.Maintain(later)
			Expect(report.WearBefore).To(Equal(0.5))
			Expect(report.Improvement).To(BeNumerically("~", 0.8, 1e-12))
			Expect(report.WearAfter).To(BeNumerically("~", 0.1, 1e-12))
			Expect(report.WearAfter).To(BeNumerically("<", report.WearBefore))
			Expect(report.Type).To(Equal(generator.MaintenanceType))
			Expect(report.Visit).NotTo(BeNil())
			Expect(m.State().LastMaintenance).To(Equal(later))
		})

		It("should keep zero wear at zero", func() {
			m := newMachine()
			report := m.Maintain(t0)
			Expect(report.WearAfter).To(BeZero())
			Expect(m.State().LastMaintenance).To(Equal(t0))
		})
	})
})
