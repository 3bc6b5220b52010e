// Package generator models a railway switch machine and produces plausible
// telemetry for it: three-phase motor currents, controller voltage and current,
// and completed position transitions, with gradual wear and random faults.
package generator

import (
	"math"
	"math/rand"
	"time"

	"procodus.dev/switchwatch/internal/config"
)

// PhaseReading holds the three concurrent phase currents in amperes.
type PhaseReading struct {
	A float64
	B float64
	C float64
}

// Get returns the current of a phase by name.
func (p PhaseReading) Get(name string) float64 {
	switch name {
	case config.PhaseA:
		return p.A
	case config.PhaseB:
		return p.B
	default:
		return p.C
	}
}

func (p *PhaseReading) set(name string, v float64) {
	switch name {
	case config.PhaseA:
		p.A = v
	case config.PhaseB:
		p.B = v
	default:
		p.C = v
	}
}

// Max returns the largest phase current.
func (p PhaseReading) Max() float64 {
	return math.Max(p.A, math.Max(p.B, p.C))
}

// Min returns the smallest phase current.
func (p PhaseReading) Min() float64 {
	return math.Min(p.A, math.Min(p.B, p.C))
}

// ControllerReading is the live voltage and current of one controller.
type ControllerReading struct {
	ID      string
	Voltage float64
	Current float64
}

// TransitionRecord describes a completed position change.
type TransitionRecord struct {
	Direction     config.Direction
	StartPosition string
	EndPosition   string
	Duration      float64
	CurrentSpike  float64
}

// Tick is everything one simulation step produced.
type Tick struct {
	Time          time.Time
	Position      string
	Transitioning bool
	Wear          float64
	Phases        PhaseReading
	Controllers   []ControllerReading
	Transition    *TransitionRecord
	Fault         *Fault
	Alerts        []Alert
}

// State is a snapshot of the machine's runtime state.
type State struct {
	Position        string
	Transitioning   bool
	Target          string
	TransitionStart time.Time
	Wear            float64
	LastMaintenance time.Time
	Phases          PhaseReading
	Controllers     []ControllerReading
}

// Machine is the stateful process model of one asset. It is not safe for
// concurrent use; callers serialize access.
type Machine struct {
	asset config.AssetConfig
	sim   config.SimulationConfig
	rng   *rand.Rand

	position        string
	transitioning   bool
	target          string
	transitionStart time.Time

	phases      PhaseReading
	controllers []ControllerReading

	wear            float64
	lastMaintenance time.Time
}

// NewMachine creates a machine resting in its first position with nominal
// controller voltage. The last maintenance date is a random number of days
// before now, bounded by the simulation config.
func NewMachine(asset config.AssetConfig, sim config.SimulationConfig, rng *rand.Rand, now time.Time) *Machine {
	m := &Machine{
		asset:    asset,
		sim:      sim,
		rng:      rng,
		position: asset.Positions[0],
		wear:     clamp01(sim.InitialWear),
	}

	for _, c := range asset.Controllers {
		m.controllers = append(m.controllers, ControllerReading{ID: c.ID, Voltage: c.NominalVoltage})
	}

	days := 0
	if sim.MaxMaintenanceAgeDays > 0 {
		days = rng.Intn(sim.MaxMaintenanceAgeDays + 1)
	}
	m.lastMaintenance = now.AddDate(0, 0, -days)

	return m
}

// AssetID returns the id of the simulated asset.
func (m *Machine) AssetID() string {
	return m.asset.ID
}

// Step advances the model to now: it may start a transition, updates the
// signals, may inject a random fault, and then accrues wear. The returned Tick
// holds the readings as they were before wear accrued.
func (m *Machine) Step(now time.Time) Tick {
	if !m.transitioning && m.rng.Float64() < m.sim.TransitionProbability {
		m.startTransition(now)
	}

	completed := m.update(now)

	var fault *Fault
	var alerts []Alert
	if m.rng.Float64() < m.faultChance() {
		f := m.randomFault()
		fault = &f
		alerts = m.InjectFault(f)
	}

	tick := Tick{
		Time:          now,
		Position:      m.position,
		Transitioning: m.transitioning,
		Wear:          m.wear,
		Phases:        m.phases,
		Controllers:   m.Controllers(),
		Transition:    completed,
		Fault:         fault,
		Alerts:        alerts,
	}

	m.wear = clamp01(m.wear + m.sim.DegradationRate)
	return tick
}

// State returns a copy of the runtime state.
func (m *Machine) State() State {
	return State{
		Position:        m.position,
		Transitioning:   m.transitioning,
		Target:          m.target,
		TransitionStart: m.transitionStart,
		Wear:            m.wear,
		LastMaintenance: m.lastMaintenance,
		Phases:          m.phases,
		Controllers:     m.Controllers(),
	}
}

// Controllers returns a copy of the live controller readings.
func (m *Machine) Controllers() []ControllerReading {
	out := make([]ControllerReading, len(m.controllers))
	copy(out, m.controllers)
	return out
}

// SetWear overrides the accumulated wear, clamped to [0,1].
func (m *Machine) SetWear(w float64) {
	m.wear = clamp01(w)
}

// StartTransition begins a move to the opposite position at now.
// It is a no-op while a transition is already in progress.
func (m *Machine) StartTransition(now time.Time) {
	if !m.transitioning {
		m.startTransition(now)
	}
}

func (m *Machine) startTransition(now time.Time) {
	m.transitioning = true
	m.transitionStart = now
	if m.position == m.asset.Positions[0] {
		m.target = m.asset.Positions[1]
	} else {
		m.target = m.asset.Positions[0]
	}
}

func (m *Machine) wearFactor() float64 {
	return 1 + m.wear
}

func (m *Machine) faultChance() float64 {
	return m.sim.FaultProbability * (1 + m.sim.FaultWearMultiplier*m.wear)
}

// update moves the signals one step and returns the transition that completed
// on this step, if any.
func (m *Machine) update(now time.Time) *TransitionRecord {
	if !m.transitioning {
		m.idle()
		return nil
	}

	wf := m.wearFactor()
	direction := m.asset.DirectionFor(m.position)
	nominal := m.asset.Transitions[direction].Nominal
	elapsed := now.Sub(m.transitionStart).Seconds()
	progress := elapsed / (nominal * wf)

	if progress >= 1 {
		start, end := m.asset.Endpoints(direction)
		record := &TransitionRecord{
			Direction:     direction,
			StartPosition: start,
			EndPosition:   end,
			Duration:      elapsed,
			CurrentSpike:  m.phases.Max(),
		}
		m.position = m.target
		m.transitioning = false
		m.target = ""
		m.transitionStart = time.Time{}
		m.idle()
		return record
	}

	progress = math.Max(progress, 0)
	tf := 4 * progress * (1 - progress)
	for _, name := range config.PhaseNames {
		r, _ := m.asset.Phases.Get(name)
		m.phases.set(name, r.Max*tf*(0.7+0.3*m.rng.Float64())*wf)
	}
	for i, c := range m.asset.Controllers {
		m.controllers[i].Voltage = c.NominalVoltage * (1 - 0.1*tf*m.rng.Float64()*wf)
		m.controllers[i].Current = c.Current.Max * tf * (0.7 + 0.3*m.rng.Float64()) * wf
	}
	return nil
}

func (m *Machine) idle() {
	wf := m.wearFactor()
	for _, name := range config.PhaseNames {
		r, _ := m.asset.Phases.Get(name)
		m.phases.set(name, r.Min+0.1*r.Min*m.rng.Float64()*wf)
	}
	for i, c := range m.asset.Controllers {
		m.controllers[i].Voltage = c.NominalVoltage * (1 - 0.02*m.rng.Float64()*wf)
		m.controllers[i].Current = 0.1 * c.Current.Max * (0.7 + 0.3*m.rng.Float64()) * wf
	}
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
