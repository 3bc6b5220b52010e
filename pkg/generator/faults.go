package generator

import (
	"fmt"

	"procodus.dev/switchwatch/internal/config"
)

// FaultKind names a simulated fault.
type FaultKind string

// Simulated fault kinds, also used as alert types.
const (
	VoltageDrop    FaultKind = "voltage_drop"
	CurrentSpike   FaultKind = "current_spike"
	PhaseImbalance FaultKind = "phase_imbalance"
)

// FaultKinds lists the fault kinds chosen from uniformly.
var FaultKinds = []FaultKind{VoltageDrop, CurrentSpike, PhaseImbalance}

// Alert severities.
const (
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Fault describes one injected fault.
//
// For VoltageDrop, Target is a controller id and Factor multiplies its voltage.
// For CurrentSpike, Target is a phase name and Factor multiplies that phase's
// configured maximum. For PhaseImbalance, Factor and FactorC scale phase A
// into phases B and C.
type Fault struct {
	Kind    FaultKind
	Target  string
	Factor  float64
	FactorC float64
}

// Alert is raised when an injected fault breaches a configured threshold.
// Threshold always holds the warning level, also for critical alerts.
type Alert struct {
	Type        string
	Severity    string
	Value       float64
	Threshold   float64
	Description string
}

// InjectFault applies f to the live signals and returns the alerts it raised.
// Unknown targets are ignored.
func (m *Machine) InjectFault(f Fault) []Alert {
	switch f.Kind {
	case VoltageDrop:
		return m.dropVoltage(f)
	case CurrentSpike:
		return m.spikeCurrent(f)
	case PhaseImbalance:
		return m.imbalancePhases(f)
	default:
		return nil
	}
}

func (m *Machine) randomFault() Fault {
	kind := FaultKinds[m.rng.Intn(len(FaultKinds))]
	switch kind {
	case VoltageDrop:
		c := m.asset.Controllers[m.rng.Intn(len(m.asset.Controllers))]
		return Fault{Kind: kind, Target: c.ID, Factor: 0.6 + 0.3*m.rng.Float64()}
	case CurrentSpike:
		return Fault{
			Kind:   kind,
			Target: config.PhaseNames[m.rng.Intn(len(config.PhaseNames))],
			Factor: 1.1 + 0.4*m.rng.Float64(),
		}
	default:
		return Fault{
			Kind:    kind,
			Factor:  0.6 + 0.2*m.rng.Float64(),
			FactorC: 1.3 + 0.2*m.rng.Float64(),
		}
	}
}

func (m *Machine) dropVoltage(f Fault) []Alert {
	for i, c := range m.asset.Controllers {
		if c.ID != f.Target {
			continue
		}
		m.controllers[i].Voltage *= f.Factor
		v := m.controllers[i].Voltage
		if v >= c.WarningVoltage {
			return nil
		}
		severity := SeverityWarning
		if v < c.CriticalVoltage {
			severity = SeverityCritical
		}
		return []Alert{{
			Type:        string(VoltageDrop),
			Severity:    severity,
			Value:       v,
			Threshold:   c.WarningVoltage,
			Description: fmt.Sprintf("voltage drop detected on controller %s", c.ID),
		}}
	}
	return nil
}

func (m *Machine) spikeCurrent(f Fault) []Alert {
	r, ok := m.asset.Phases.Get(f.Target)
	if !ok {
		return nil
	}
	v := r.Max * f.Factor
	m.phases.set(f.Target, v)
	if v <= r.Warning {
		return nil
	}
	severity := SeverityWarning
	if v > r.Critical {
		severity = SeverityCritical
	}
	return []Alert{{
		Type:        string(CurrentSpike),
		Severity:    severity,
		Value:       v,
		Threshold:   r.Warning,
		Description: fmt.Sprintf("current spike detected on %s", f.Target),
	}}
}

func (m *Machine) imbalancePhases(f Fault) []Alert {
	base := m.phases.A
	m.phases.B = base * f.Factor
	m.phases.C = base * f.FactorC
	if base <= 0 {
		return nil
	}

	pct := 100 * (m.phases.Max() - m.phases.Min()) / base
	if pct <= m.sim.ImbalanceAlertPercent {
		return nil
	}
	return []Alert{{
		Type:        string(PhaseImbalance),
		Severity:    SeverityWarning,
		Value:       pct,
		Threshold:   m.sim.ImbalanceAlertPercent,
		Description: fmt.Sprintf("phase imbalance detected: %.1f%%", pct),
	}}
}
