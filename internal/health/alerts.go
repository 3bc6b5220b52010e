package health

import (
	"context"
	"fmt"

	"procodus.dev/switchwatch/internal/store"
)

// healthAlerts returns the alerts a successful report should raise. Nothing is
// raised when health alerts are disabled.
func (a *Aggregator) healthAlerts(r Report) []store.Alert {
	cfg := a.fleet.HealthAlerts
	if !cfg.Enabled {
		return nil
	}

	var alerts []store.Alert
	add := func(typ string, value, threshold float64, critical bool, desc string) {
		sev := store.SeverityWarning
		if critical {
			sev = store.SeverityCritical
		}
		alerts = append(alerts, store.Alert{
			Timestamp:   r.Timestamp,
			AssetID:     r.AssetID,
			AlertType:   typ,
			Severity:    sev,
			Description: desc,
			Value:       value,
			Threshold:   threshold,
		})
	}

	if s := r.Scores.Overall; s < cfg.OverallWarning {
		add(AlertLowOverall, s, cfg.OverallWarning, s < cfg.OverallCritical,
			fmt.Sprintf("Overall health low: %.1f%%", s))
	}
	if s := r.Scores.Electrical; s < cfg.SubsystemWarning {
		add(AlertLowElectrical, s, cfg.SubsystemWarning, s < cfg.SubsystemCritical,
			fmt.Sprintf("Electrical health low: %.1f%%", s))
	}
	if s := r.Scores.Mechanical; s < cfg.SubsystemWarning {
		add(AlertLowMechanical, s, cfg.SubsystemWarning, s < cfg.SubsystemCritical,
			fmt.Sprintf("Mechanical health low: %.1f%%", s))
	}

	m := a.fleet.Maintenance
	days := int(r.NextMaintenanceDate.Sub(dateOf(r.Timestamp)).Hours() / 24)
	if days <= m.DueWarningDays {
		add(AlertMaintenanceDue, float64(days), float64(m.DueWarningDays),
			days <= m.DueCriticalDays,
			fmt.Sprintf("Maintenance due in %d days", days))
	}
	return alerts
}

// raiseAlerts stores the health alerts of a report. Store failures are logged
// and the alert is left out of the result.
func (a *Aggregator) raiseAlerts(ctx context.Context, r Report) []store.Alert {
	pending := a.healthAlerts(r)
	raised := make([]store.Alert, 0, len(pending))
	for i := range pending {
		if err := a.store.AppendAlert(ctx, &pending[i]); err != nil {
			a.logger.Warn("failed to store health alert",
				"asset_id", r.AssetID,
				"alert_type", pending[i].AlertType,
				"error", err,
			)
			continue
		}
		raised = append(raised, pending[i])
	}
	return raised
}
