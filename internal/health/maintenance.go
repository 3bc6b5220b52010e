package health

import (
	"fmt"
	"time"

	"procodus.dev/switchwatch/internal/config"
	"procodus.dev/switchwatch/internal/detector"
)

// Usage condition levels derived from the overall health score. A lower score
// maps to a higher usage level and a shorter maintenance interval.
const (
	UsageHigh   = "high"
	UsageMedium = "medium"
	UsageLow    = "low"
)

// ConditionLevel buckets an overall health score.
func ConditionLevel(overall float64) string {
	switch {
	case overall < 70:
		return UsageHigh
	case overall < 85:
		return UsageMedium
	default:
		return UsageLow
	}
}

// NextMaintenanceDate returns today's date plus the base interval of the
// maintenance type scaled by the usage and environment factors, truncated to
// whole days.
func NextMaintenanceDate(fleet *config.Fleet, assetID, maintenanceType, usage, environment string, today time.Time) (time.Time, error) {
	asset, ok := fleet.Asset(assetID)
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %s", detector.ErrUnknownAsset, assetID)
	}

	var days int
	if maintenanceType == config.RoutineInspection {
		days = fleet.Maintenance.RoutineInspectionDays
	} else if days, ok = asset.MaintenanceIntervals[maintenanceType]; !ok {
		return time.Time{}, fmt.Errorf("unknown maintenance type %q", maintenanceType)
	}

	usageFactor, ok := fleet.Maintenance.UsageFactors[usage]
	if !ok {
		return time.Time{}, fmt.Errorf("unknown usage level %q", usage)
	}
	envFactor, ok := fleet.Maintenance.EnvironmentFactors[environment]
	if !ok {
		return time.Time{}, fmt.Errorf("unknown environment condition %q", environment)
	}

	adjusted := int(float64(days) * usageFactor * envFactor)
	return dateOf(today).AddDate(0, 0, adjusted), nil
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
