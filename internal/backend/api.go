package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"procodus.dev/switchwatch/internal/config"
	"procodus.dev/switchwatch/internal/detector"
	"procodus.dev/switchwatch/internal/health"
	"procodus.dev/switchwatch/internal/modelstore"
	"procodus.dev/switchwatch/internal/simulator"
	"procodus.dev/switchwatch/internal/store"
	"procodus.dev/switchwatch/pkg/metrics"
)

const (
	defaultHistoryDays  = 7
	defaultHistoryLimit = 50
	defaultAlertLimit   = 100
)

// Engine is the detection surface used by the API. *detector.Engine
// implements it.
type Engine interface {
	Detect(ctx context.Context, assetID string, family modelstore.Family, subID string) detector.Result
	TrainAll(ctx context.Context, assetID string, force bool) (map[modelstore.Family]bool, error)
}

// Simulators controls in-process simulators. *simulator.Fleet implements it.
type Simulators interface {
	Start(ctx context.Context, id string) error
	Stop(id string) error
	Status(id string) (simulator.Status, error)
	Statuses() []simulator.Status
	SimulateMaintenance(ctx context.Context, id string) (simulator.MaintenanceResult, error)
}

// APIConfig holds the dependencies of the HTTP API.
type APIConfig struct {
	Logger   *slog.Logger
	Fleet    *config.Fleet
	Store    store.Store
	Engine   Engine
	Reporter HealthReporter
	// Simulators is nil when no simulator runs in this process.
	Simulators Simulators
	Metrics    *metrics.BackendMetrics // Optional metrics
	Now        func() time.Time
}

// API serves the JSON endpoints and the dashboard.
type API struct {
	logger     *slog.Logger
	fleet      *config.Fleet
	store      store.Store
	engine     Engine
	reporter   HealthReporter
	simulators Simulators
	metrics    *metrics.BackendMetrics
	now        func() time.Time
}

// NewAPI creates an API.
func NewAPI(cfg *APIConfig) (*API, error) {
	if cfg == nil {
		return nil, errors.New("api config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.Fleet == nil {
		return nil, errors.New("fleet cannot be nil")
	}
	if cfg.Store == nil {
		return nil, errors.New("store cannot be nil")
	}
	if cfg.Engine == nil {
		return nil, errors.New("engine cannot be nil")
	}
	if cfg.Reporter == nil {
		return nil, errors.New("health reporter cannot be nil")
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &API{
		logger:     cfg.Logger.With("component", "api"),
		fleet:      cfg.Fleet,
		store:      cfg.Store,
		engine:     cfg.Engine,
		reporter:   cfg.Reporter,
		simulators: cfg.Simulators,
		metrics:    cfg.Metrics,
		now:        now,
	}, nil
}

// Handler returns the routed and instrumented HTTP handler.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	a.route(mux, "GET /health", a.handleLiveness)
	mux.Handle("GET /metrics", metrics.Handler())

	a.route(mux, "GET /api/assets", a.handleAssets)
	a.route(mux, "GET /api/assets/{id}/health", a.handleHealth)
	a.route(mux, "GET /api/assets/{id}/health/history", a.handleHealthHistory)
	a.route(mux, "GET /api/assets/{id}/anomalies/{family}", a.handleAnomalies)
	a.route(mux, "POST /api/assets/{id}/train", a.handleTrain)
	a.route(mux, "POST /api/assets/{id}/maintenance", a.handleMaintenance)
	a.route(mux, "GET /api/assets/{id}/maintenance", a.handleMaintenanceHistory)
	a.route(mux, "POST /api/assets/{id}/simulator/{action}", a.handleSimulator)
	a.route(mux, "GET /api/alerts", a.handleAlerts)
	a.route(mux, "POST /api/alerts/{id}/ack", a.handleAcknowledge)

	// Dashboard (catch-all, must be last)
	a.route(mux, "GET /{$}", a.handleDashboard)

	return mux
}

// route registers h with request metrics labeled by pattern.
func (a *API) route(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	if a.metrics == nil {
		mux.HandleFunc(pattern, h)
		return
	}
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		a.metrics.HTTPRequestsInFlight.WithLabelValues(pattern).Inc()
		defer a.metrics.HTTPRequestsInFlight.WithLabelValues(pattern).Dec()
		timer := prometheus.NewTimer(a.metrics.HTTPRequestDuration.WithLabelValues(r.Method, pattern))
		defer timer.ObserveDuration()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)
		a.metrics.HTTPRequestsTotal.WithLabelValues(r.Method, pattern, strconv.Itoa(rec.status)).Inc()
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (a *API) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Error("failed to write response", "error", err)
	}
}

func (a *API) writeError(w http.ResponseWriter, code int, err error) {
	a.writeJSON(w, code, map[string]string{"error": err.Error()})
}

// asset resolves the {id} path value, writing 404 when it is unknown.
func (a *API) asset(w http.ResponseWriter, r *http.Request) (config.AssetConfig, bool) {
	id := r.PathValue("id")
	asset, ok := a.fleet.Asset(id)
	if !ok {
		a.writeError(w, http.StatusNotFound, fmt.Errorf("%w: %s", detector.ErrUnknownAsset, id))
	}
	return asset, ok
}

func (a *API) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	a.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// assetView is one entry of the asset listing.
type assetView struct {
	Simulator   *simulator.Status `json:"simulator,omitempty"`
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Environment string            `json:"environment"`
	Controllers []string          `json:"controllers"`
}

func (a *API) handleAssets(w http.ResponseWriter, _ *http.Request) {
	views := make([]assetView, 0, len(a.fleet.Assets))
	for _, asset := range a.fleet.Assets {
		v := assetView{
			ID:          asset.ID,
			Name:        asset.Name,
			Environment: asset.Environment,
			Controllers: make([]string, 0, len(asset.Controllers)),
		}
		for _, c := range asset.Controllers {
			v.Controllers = append(v.Controllers, c.ID)
		}
		if a.simulators != nil {
			if st, err := a.simulators.Status(asset.ID); err == nil {
				v.Simulator = &st
			}
		}
		views = append(views, v)
	}
	a.writeJSON(w, http.StatusOK, views)
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	asset, ok := a.asset(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	opts := health.Options{
		MaintenanceType: q.Get("maintenance_type"),
		Environment:     q.Get("environment"),
	}
	if opts.MaintenanceType != "" {
		if _, known := asset.MaintenanceIntervals[opts.MaintenanceType]; !known && opts.MaintenanceType != config.RoutineInspection {
			a.writeError(w, http.StatusBadRequest, fmt.Errorf("unknown maintenance type %q", opts.MaintenanceType))
			return
		}
	}
	if opts.Environment != "" {
		if _, known := a.fleet.Maintenance.EnvironmentFactors[opts.Environment]; !known {
			a.writeError(w, http.StatusBadRequest, fmt.Errorf("unknown environment condition %q", opts.Environment))
			return
		}
	}

	report := a.reporter.GetHealthStatus(r.Context(), asset.ID, opts)
	code := http.StatusOK
	if report.Status == detector.StatusError {
		code = http.StatusInternalServerError
	}
	a.writeJSON(w, code, report)
}

func (a *API) handleHealthHistory(w http.ResponseWriter, r *http.Request) {
	asset, ok := a.asset(w, r)
	if !ok {
		return
	}
	days, err := positiveInt(r, "days", defaultHistoryDays)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	since := a.now().Add(-time.Duration(days) * 24 * time.Hour)
	rows, err := a.store.HealthHistory(r.Context(), asset.ID, since)
	if err != nil {
		a.logger.Error("failed to read health history", "asset_id", asset.ID, "error", err)
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}
	a.writeJSON(w, http.StatusOK, rows)
}

func (a *API) handleAnomalies(w http.ResponseWriter, r *http.Request) {
	asset, ok := a.asset(w, r)
	if !ok {
		return
	}

	family := modelstore.Family(r.PathValue("family"))
	var subID string
	switch family {
	case modelstore.FamilyPhaseCurrent:
	case modelstore.FamilyController:
		subID = r.URL.Query().Get("controller_id")
		if _, known := asset.Controller(subID); subID != "" && !known {
			a.writeError(w, http.StatusNotFound, fmt.Errorf("unknown controller %q", subID))
			return
		}
	case modelstore.FamilyTransition:
		subID = r.URL.Query().Get("direction")
		if subID != "" && config.Direction(subID) != config.NormalToReverse && config.Direction(subID) != config.ReverseToNormal {
			a.writeError(w, http.StatusBadRequest, fmt.Errorf("unknown direction %q", subID))
			return
		}
	default:
		a.writeError(w, http.StatusNotFound, fmt.Errorf("unknown signal family %q", family))
		return
	}

	result := a.engine.Detect(r.Context(), asset.ID, family, subID)
	code := http.StatusOK
	if result.Status == detector.StatusError {
		code = http.StatusInternalServerError
	}
	a.writeJSON(w, code, result)
}

// trainResponse reports which families were (re)trained.
type trainResponse struct {
	Trained map[modelstore.Family]bool `json:"trained"`
	AssetID string                     `json:"asset_id"`
	Error   string                     `json:"error,omitempty"`
}

func (a *API) handleTrain(w http.ResponseWriter, r *http.Request) {
	asset, ok := a.asset(w, r)
	if !ok {
		return
	}
	force, err := optionalBool(r, "force")
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	trained, err := a.engine.TrainAll(r.Context(), asset.ID, force)
	resp := trainResponse{AssetID: asset.ID, Trained: trained}
	if err != nil {
		a.logger.Error("training failed", "asset_id", asset.ID, "error", err)
		resp.Error = err.Error()
		a.writeJSON(w, http.StatusInternalServerError, resp)
		return
	}
	a.writeJSON(w, http.StatusOK, resp)
}

var errNoSimulators = errors.New("no simulator runs in this process")

func (a *API) handleMaintenance(w http.ResponseWriter, r *http.Request) {
	asset, ok := a.asset(w, r)
	if !ok {
		return
	}
	if a.simulators == nil {
		a.writeError(w, http.StatusServiceUnavailable, errNoSimulators)
		return
	}

	result, err := a.simulators.SimulateMaintenance(r.Context(), asset.ID)
	if err != nil {
		a.writeSimulatorError(w, asset.ID, err)
		return
	}
	a.writeJSON(w, http.StatusOK, result)
}

func (a *API) handleMaintenanceHistory(w http.ResponseWriter, r *http.Request) {
	asset, ok := a.asset(w, r)
	if !ok {
		return
	}
	limit, err := positiveInt(r, "limit", defaultHistoryLimit)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	rows, err := a.store.MaintenanceHistory(r.Context(), asset.ID, limit)
	if err != nil {
		a.logger.Error("failed to read maintenance history", "asset_id", asset.ID, "error", err)
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}
	a.writeJSON(w, http.StatusOK, rows)
}

func (a *API) handleSimulator(w http.ResponseWriter, r *http.Request) {
	asset, ok := a.asset(w, r)
	if !ok {
		return
	}
	if a.simulators == nil {
		a.writeError(w, http.StatusServiceUnavailable, errNoSimulators)
		return
	}

	var err error
	switch action := r.PathValue("action"); action {
	case "start":
		// The worker outlives the request.
		err = a.simulators.Start(context.WithoutCancel(r.Context()), asset.ID)
	case "stop":
		err = a.simulators.Stop(asset.ID)
	case "status":
	default:
		a.writeError(w, http.StatusNotFound, fmt.Errorf("unknown simulator action %q", action))
		return
	}
	if err != nil {
		a.writeSimulatorError(w, asset.ID, err)
		return
	}

	st, err := a.simulators.Status(asset.ID)
	if err != nil {
		a.writeSimulatorError(w, asset.ID, err)
		return
	}
	a.writeJSON(w, http.StatusOK, st)
}

func (a *API) writeSimulatorError(w http.ResponseWriter, assetID string, err error) {
	if errors.Is(err, simulator.ErrUnknownAsset) {
		a.writeError(w, http.StatusNotFound, err)
		return
	}
	a.logger.Error("simulator operation failed", "asset_id", assetID, "error", err)
	a.writeError(w, http.StatusInternalServerError, err)
}

func (a *API) handleAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.AlertFilter{
		AssetID:  q.Get("asset_id"),
		Severity: q.Get("severity"),
	}

	var err error
	if f.Limit, err = positiveInt(r, "limit", defaultAlertLimit); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	if v := q.Get("acknowledged"); v != "" {
		ack, err := strconv.ParseBool(v)
		if err != nil {
			a.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid acknowledged %q", v))
			return
		}
		f.Acknowledged = &ack
	}
	if f.Since, err = optionalTime(r, "since"); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	if f.Until, err = optionalTime(r, "until"); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	alerts, err := a.store.Alerts(r.Context(), f)
	if err != nil {
		a.logger.Error("failed to query alerts", "error", err)
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}
	a.writeJSON(w, http.StatusOK, alerts)
}

func (a *API) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil || id == 0 {
		a.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid alert id %q", r.PathValue("id")))
		return
	}

	if err := a.store.AcknowledgeAlert(r.Context(), uint(id)); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			a.writeError(w, http.StatusNotFound, fmt.Errorf("alert %d: %w", id, err))
			return
		}
		a.logger.Error("failed to acknowledge alert", "alert_id", id, "error", err)
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"id": id, "acknowledged": true})
}

func positiveInt(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer", name)
	}
	return n, nil
}

func optionalBool(r *http.Request, name string) (bool, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q", name, v)
	}
	return b, nil
}

func optionalTime(r *http.Request, name string) (time.Time, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be RFC 3339: %w", name, err)
	}
	return t, nil
}
