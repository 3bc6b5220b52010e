package backend

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/a-h/templ"
	"github.com/prometheus/client_golang/prometheus"

	"procodus.dev/switchwatch/internal/config"
	"procodus.dev/switchwatch/internal/health"
	"procodus.dev/switchwatch/internal/simulator"
	"procodus.dev/switchwatch/internal/store"
	"procodus.dev/switchwatch/pkg/metrics"
)

// dashboardRow is one asset line of the dashboard.
type dashboardRow struct {
	Latest     *store.HealthSnapshot
	Simulator  *simulator.Status
	Asset      config.AssetConfig
	OpenAlerts int
}

func (a *API) handleDashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	now := a.now()
	unacked := false

	rows := make([]dashboardRow, 0, len(a.fleet.Assets))
	for _, asset := range a.fleet.Assets {
		row := dashboardRow{Asset: asset}

		history, err := a.store.HealthHistory(ctx, asset.ID, now.Add(-defaultHistoryDays*24*time.Hour))
		if err != nil {
			a.logger.Warn("dashboard: failed to read health history", "asset_id", asset.ID, "error", err)
		} else if len(history) > 0 {
			row.Latest = &history[len(history)-1]
		}

		alerts, err := a.store.Alerts(ctx, store.AlertFilter{AssetID: asset.ID, Acknowledged: &unacked})
		if err != nil {
			a.logger.Warn("dashboard: failed to count alerts", "asset_id", asset.ID, "error", err)
		}
		row.OpenAlerts = len(alerts)

		if a.simulators != nil {
			if st, err := a.simulators.Status(asset.ID); err == nil {
				row.Simulator = &st
			}
		}
		rows = append(rows, row)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := renderDashboard(ctx, w, rows, now, a.metrics); err != nil {
		a.logger.Error("failed to render dashboard", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// renderDashboard renders the dashboard page.
func renderDashboard(ctx context.Context, w io.Writer, rows []dashboardRow, now time.Time, m *metrics.BackendMetrics) error {
	return trackTemplateRender(m, "dashboard", func() error {
		return dashboard(rows, now).Render(ctx, w)
	})
}

// trackTemplateRender wraps template rendering with metrics tracking.
func trackTemplateRender(m *metrics.BackendMetrics, templateName string, renderFunc func() error) error {
	if m == nil {
		return renderFunc()
	}

	timer := prometheus.NewTimer(m.TemplateRenderTime.WithLabelValues(templateName))
	defer timer.ObserveDuration()

	if err := renderFunc(); err != nil {
		m.TemplateRenderErrors.WithLabelValues(templateName).Inc()
		return err
	}
	return nil
}

// htmlWriter keeps the first write error so templates can write freely.
type htmlWriter struct {
	w   io.Writer
	err error
}

func (h *htmlWriter) printf(format string, args ...any) {
	if h.err != nil {
		return
	}
	_, h.err = fmt.Fprintf(h.w, format, args...)
}

func (h *htmlWriter) text(s string) {
	h.printf("%s", templ.EscapeString(s))
}

func dashboard(rows []dashboardRow, now time.Time) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		h := &htmlWriter{w: w}
		h.printf(`<!DOCTYPE html><html lang="en"><head><meta charset="utf-8">`)
		h.printf(`<meta http-equiv="refresh" content="30"><title>switchwatch</title>`)
		h.printf(`<style>body{font-family:sans-serif;margin:2rem}table{border-collapse:collapse}`)
		h.printf(`td,th{padding:.4rem .8rem;border-bottom:1px solid #ddd;text-align:left}`)
		h.printf(`.high{color:#b00}.medium{color:#b60}.low{color:#070}</style></head><body>`)
		h.printf(`<h1>Switch machine condition</h1><p>Updated `)
		h.text(now.Format(time.RFC3339))
		h.printf(`</p><table><thead><tr><th>Asset</th><th>Position</th><th>Wear</th>`)
		h.printf(`<th>Overall</th><th>Electrical</th><th>Mechanical</th><th>Risk</th><th>Open alerts</th></tr></thead><tbody>`)

		for _, row := range rows {
			h.printf(`<tr><td><a href="/api/assets/`)
			h.text(row.Asset.ID)
			h.printf(`/health">`)
			h.text(row.Asset.ID)
			h.printf(`</a><br><small>`)
			h.text(row.Asset.Name)
			h.printf(`</small></td>`)

			if sim := row.Simulator; sim != nil {
				h.printf(`<td>`)
				h.text(sim.Position)
				if sim.Transitioning {
					h.printf(` &rarr; `)
					h.text(sim.Target)
				}
				h.printf(`</td><td>%.1f%%</td>`, sim.Wear*100)
			} else {
				h.printf(`<td>-</td><td>-</td>`)
			}

			if s := row.Latest; s != nil {
				level := health.ConditionLevel(s.Overall)
				h.printf(`<td>%.1f</td><td>%.1f</td><td>%.1f</td><td class="%s">%s</td>`,
					s.Overall, s.Electrical, s.Mechanical, level, level)
			} else {
				h.printf(`<td colspan="4">no health computed yet</td>`)
			}
			h.printf(`<td>%d</td></tr>`, row.OpenAlerts)
		}

		h.printf(`</tbody></table></body></html>`)
		return h.err
	})
}
