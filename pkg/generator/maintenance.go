package generator

import (
	"time"

	"github.com/brianvoe/gofakeit/v7"
)

// MaintenanceType recorded for simulated maintenance.
const MaintenanceType = "preventive"

// MaintenanceReport describes the effect of a simulated maintenance action.
type MaintenanceReport struct {
	Time        time.Time
	Type        string
	WearBefore  float64
	WearAfter   float64
	Improvement float64
	Visit       *ServiceVisit
}

// ServiceVisit is the paperwork of a simulated maintenance crew visit.
type ServiceVisit struct {
	Technician string `fake:"{name}"`
	Company    string `fake:"{company}"`
	WorkOrder  string `fake:"{regex:WO-[0-9]{6}}"`
	Findings   string `fake:"{sentence:8}"`
	Actions    string `fake:"{sentence:10}"`
}

// NewServiceVisit fills a visit with fake crew data.
func NewServiceVisit() *ServiceVisit {
	var visit ServiceVisit
	if err := gofakeit.Struct(&visit); err != nil {
		return nil
	}
	return &visit
}

// Maintain simulates a maintenance action at now. The improvement fraction is
// 0.7 + 0.2*wear; wear is multiplied by one minus that fraction and the last
// maintenance date resets to now.
func (m *Machine) Maintain(now time.Time) MaintenanceReport {
	improvement := 0.7 + 0.2*m.wear
	before := m.wear

	m.wear = clamp01(m.wear * (1 - improvement))
	m.lastMaintenance = now

	return MaintenanceReport{
		Time:        now,
		Type:        MaintenanceType,
		WearBefore:  before,
		WearAfter:   m.wear,
		Improvement: improvement,
		Visit:       NewServiceVisit(),
	}
}
