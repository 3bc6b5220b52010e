package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/InfluxCommunity/influxdb3-go/v2/influxdb3"
)

// PointWriter is the subset of the InfluxDB v3 client used by InfluxMirror.
type PointWriter interface {
	WritePoints(ctx context.Context, points []*influxdb3.Point, options ...influxdb3.WriteOption) error
}

// InfluxConfig configures the InfluxDB v3 client.
type InfluxConfig struct {
	Host     string
	Token    string
	Database string
}

// NewInfluxClient creates an InfluxDB v3 client.
func NewInfluxClient(cfg InfluxConfig) (*influxdb3.Client, error) {
	if cfg.Host == "" {
		return nil, errors.New("influx host cannot be empty")
	}
	if cfg.Database == "" {
		return nil, errors.New("influx database cannot be empty")
	}
	client, err := influxdb3.New(influxdb3.ClientConfig{
		Host:     cfg.Host,
		Token:    cfg.Token,
		Database: cfg.Database,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create InfluxDB client: %w", err)
	}
	return client, nil
}

// InfluxMirror decorates a Store and copies every appended telemetry row and
// alert to InfluxDB for time-series dashboards. Mirror failures are logged and
// never fail the primary write.
type InfluxMirror struct {
	Store
	writer  PointWriter
	logger  *slog.Logger
	timeout time.Duration
	closeFn func() error
}

// NewInfluxMirror wraps primary. closeFn, when set, is called on Close after
// the primary store is closed.
func NewInfluxMirror(primary Store, writer PointWriter, logger *slog.Logger, closeFn func() error) (*InfluxMirror, error) {
	if primary == nil {
		return nil, errors.New("primary store cannot be nil")
	}
	if writer == nil {
		return nil, errors.New("point writer cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	return &InfluxMirror{
		Store:   primary,
		writer:  writer,
		logger:  logger,
		timeout: 5 * time.Second,
		closeFn: closeFn,
	}, nil
}

func (m *InfluxMirror) mirror(ctx context.Context, p *influxdb3.Point) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	if err := m.writer.WritePoints(ctx, []*influxdb3.Point{p}); err != nil {
		m.logger.Warn("failed to mirror point to influx", "error", err)
	}
}

// AppendPhaseCurrent stores and mirrors a phase current sample.
func (m *InfluxMirror) AppendPhaseCurrent(ctx context.Context, s *PhaseCurrentSample) error {
	if err := m.Store.AppendPhaseCurrent(ctx, s); err != nil {
		return err
	}
	m.mirror(ctx, influxdb3.NewPointWithMeasurement("phase_currents").
		SetTag("asset_id", s.AssetID).
		SetField("phase_a", s.PhaseA).
		SetField("phase_b", s.PhaseB).
		SetField("phase_c", s.PhaseC).
		SetTimestamp(s.Timestamp))
	return nil
}

// AppendControllerSample stores and mirrors a controller sample.
func (m *InfluxMirror) AppendControllerSample(ctx context.Context, s *ControllerSample) error {
	if err := m.Store.AppendControllerSample(ctx, s); err != nil {
		return err
	}
	m.mirror(ctx, influxdb3.NewPointWithMeasurement("controller_samples").
		SetTag("asset_id", s.AssetID).
		SetTag("controller_id", s.ControllerID).
		SetField("voltage", s.Voltage).
		SetField("current", s.Current).
		SetTimestamp(s.Timestamp))
	return nil
}

// AppendTransition stores and mirrors a transition.
func (m *InfluxMirror) AppendTransition(ctx context.Context, e *TransitionEvent) error {
	if err := m.Store.AppendTransition(ctx, e); err != nil {
		return err
	}
	m.mirror(ctx, influxdb3.NewPointWithMeasurement("position_transitions").
		SetTag("asset_id", e.AssetID).
		SetTag("start_position", e.StartPosition).
		SetTag("end_position", e.EndPosition).
		SetField("duration_seconds", e.DurationSeconds).
		SetField("current_spike", e.CurrentSpike).
		SetTimestamp(e.Timestamp))
	return nil
}

// AppendAlert stores and mirrors an alert.
func (m *InfluxMirror) AppendAlert(ctx context.Context, a *Alert) error {
	if err := m.Store.AppendAlert(ctx, a); err != nil {
		return err
	}
	m.mirror(ctx, influxdb3.NewPointWithMeasurement("alerts").
		SetTag("asset_id", a.AssetID).
		SetTag("alert_type", a.AlertType).
		SetTag("severity", a.Severity).
		SetField("value", a.Value).
		SetField("threshold", a.Threshold).
		SetTimestamp(a.Timestamp))
	return nil
}

// AppendHealthSnapshot stores and mirrors a health snapshot.
func (m *InfluxMirror) AppendHealthSnapshot(ctx context.Context, h *HealthSnapshot) error {
	if err := m.Store.AppendHealthSnapshot(ctx, h); err != nil {
		return err
	}
	m.mirror(ctx, influxdb3.NewPointWithMeasurement("health").
		SetTag("asset_id", h.AssetID).
		SetField("overall", h.Overall).
		SetField("electrical", h.Electrical).
		SetField("mechanical", h.Mechanical).
		SetField("control", h.Control).
		SetTimestamp(h.Timestamp))
	return nil
}

// Close closes the primary store and the influx client.
func (m *InfluxMirror) Close() error {
	err := m.Store.Close()
	if m.closeFn != nil {
		err = errors.Join(err, m.closeFn())
	}
	return err
}

var _ Store = (*InfluxMirror)(nil)
