package store

import (
	"time"

	"gorm.io/datatypes"
)

// Alert severities.
const (
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// PhaseCurrentSample is one reading of the three motor supply phases.
type PhaseCurrentSample struct {
	Timestamp time.Time `gorm:"index:idx_phase_asset_ts;not null" json:"timestamp"`
	AssetID   string    `gorm:"index:idx_phase_asset_ts;not null" json:"asset_id"`
	PhaseA    float64   `gorm:"not null" json:"phase_a"`
	PhaseB    float64   `gorm:"not null" json:"phase_b"`
	PhaseC    float64   `gorm:"not null" json:"phase_c"`
	ID        uint      `gorm:"primaryKey" json:"id"`
}

// TableName specifies the table name for PhaseCurrentSample.
func (PhaseCurrentSample) TableName() string {
	return "phase_currents"
}

// Features returns the (phase_a, phase_b, phase_c) feature vector.
func (s PhaseCurrentSample) Features() []float64 {
	return []float64{s.PhaseA, s.PhaseB, s.PhaseC}
}

// ControllerSample is one controller's voltage and current at a tick.
type ControllerSample struct {
	Timestamp    time.Time `gorm:"index:idx_ctrl_asset_ts;not null" json:"timestamp"`
	AssetID      string    `gorm:"index:idx_ctrl_asset_ts;not null" json:"asset_id"`
	ControllerID string    `gorm:"index;not null" json:"controller_id"`
	Voltage      float64   `gorm:"not null" json:"voltage"`
	Current      float64   `gorm:"not null" json:"current"`
	ID           uint      `gorm:"primaryKey" json:"id"`
}

// TableName specifies the table name for ControllerSample.
func (ControllerSample) TableName() string {
	return "controller_samples"
}

// Features returns the (voltage, current) feature vector.
func (s ControllerSample) Features() []float64 {
	return []float64{s.Voltage, s.Current}
}

// TransitionEvent is a completed position change.
type TransitionEvent struct {
	Timestamp       time.Time `gorm:"index:idx_transition_asset_ts;not null" json:"timestamp"`
	AssetID         string    `gorm:"index:idx_transition_asset_ts;not null" json:"asset_id"`
	StartPosition   string    `gorm:"not null" json:"start_position"`
	EndPosition     string    `gorm:"not null" json:"end_position"`
	DurationSeconds float64   `gorm:"not null" json:"duration_seconds"`
	CurrentSpike    float64   `gorm:"not null" json:"current_spike"`
	ID              uint      `gorm:"primaryKey" json:"id"`
}

// TableName specifies the table name for TransitionEvent.
func (TransitionEvent) TableName() string {
	return "position_transitions"
}

// Features returns the (duration, current_spike) feature vector.
func (e TransitionEvent) Features() []float64 {
	return []float64{e.DurationSeconds, e.CurrentSpike}
}

// Alert is a threshold breach. Only Acknowledged changes after creation.
type Alert struct {
	Timestamp      time.Time  `gorm:"index:idx_alert_asset_ts;not null" json:"timestamp"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	AssetID        string     `gorm:"index:idx_alert_asset_ts;not null" json:"asset_id"`
	AlertType      string     `gorm:"not null" json:"alert_type"`
	Severity       string     `gorm:"index;not null" json:"severity"`
	Description    string     `json:"description"`
	Value          float64    `json:"value"`
	Threshold      float64    `json:"threshold"`
	Acknowledged   bool       `gorm:"index;not null;default:false" json:"acknowledged"`
	ID             uint       `gorm:"primaryKey" json:"id"`
}

// TableName specifies the table name for Alert.
func (Alert) TableName() string {
	return "alerts"
}

// HealthSnapshot is the persisted result of one health computation.
type HealthSnapshot struct {
	Timestamp       time.Time      `gorm:"index:idx_health_asset_ts;not null" json:"timestamp"`
	AssetID         string         `gorm:"index:idx_health_asset_ts;not null" json:"asset_id"`
	Prediction      datatypes.JSON `json:"prediction"`
	Recommendations datatypes.JSON `json:"recommendations"`
	Overall         float64        `gorm:"not null" json:"overall"`
	Electrical      float64        `gorm:"not null" json:"electrical"`
	Mechanical      float64        `gorm:"not null" json:"mechanical"`
	Control         float64        `gorm:"not null" json:"control"`
	ID              uint           `gorm:"primaryKey" json:"id"`
}

// TableName specifies the table name for HealthSnapshot.
func (HealthSnapshot) TableName() string {
	return "health_status"
}

// MaintenanceRecord documents a maintenance action on an asset.
type MaintenanceRecord struct {
	Timestamp       time.Time `gorm:"index:idx_maintenance_asset_ts;not null" json:"timestamp"`
	NextMaintenance time.Time `json:"next_maintenance"`
	AssetID         string    `gorm:"index:idx_maintenance_asset_ts;not null" json:"asset_id"`
	Type            string    `gorm:"not null" json:"type"`
	Technician      string    `json:"technician"`
	WorkOrder       string    `json:"work_order"`
	Findings        string    `json:"findings"`
	Actions         string    `json:"actions"`
	WearBefore      float64   `json:"wear_before"`
	WearAfter       float64   `json:"wear_after"`
	ID              uint      `gorm:"primaryKey" json:"id"`
}

// TableName specifies the table name for MaintenanceRecord.
func (MaintenanceRecord) TableName() string {
	return "maintenance_records"
}
