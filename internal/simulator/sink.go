package simulator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"procodus.dev/switchwatch/internal/store"
	"procodus.dev/switchwatch/pkg/mq"
	"procodus.dev/switchwatch/pkg/telemetry"
)

// Sink receives the rows produced by a simulator. store.Store implements it.
type Sink interface {
	AppendPhaseCurrent(ctx context.Context, s *store.PhaseCurrentSample) error
	AppendControllerSample(ctx context.Context, s *store.ControllerSample) error
	AppendTransition(ctx context.Context, e *store.TransitionEvent) error
	AppendAlert(ctx context.Context, a *store.Alert) error
	AppendMaintenanceRecord(ctx context.Context, r *store.MaintenanceRecord) error
}

// MQSink publishes every row as a telemetry envelope on a queue.
type MQSink struct {
	client mq.ClientInterface
	logger *slog.Logger
}

// NewMQSink creates a sink publishing through client.
func NewMQSink(client mq.ClientInterface, logger *slog.Logger) (*MQSink, error) {
	if client == nil {
		return nil, errors.New("mq client cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	return &MQSink{client: client, logger: logger}, nil
}

func (s *MQSink) publish(ctx context.Context, row any) error {
	data, err := telemetry.Encode(row)
	if err != nil {
		return err
	}
	if err := s.client.Push(ctx, data); err != nil {
		return fmt.Errorf("failed to publish telemetry: %w", err)
	}
	return nil
}

// AppendPhaseCurrent publishes a phase current sample.
func (s *MQSink) AppendPhaseCurrent(ctx context.Context, p *store.PhaseCurrentSample) error {
	return s.publish(ctx, p)
}

// AppendControllerSample publishes a controller sample.
func (s *MQSink) AppendControllerSample(ctx context.Context, c *store.ControllerSample) error {
	return s.publish(ctx, c)
}

// AppendTransition publishes a transition.
func (s *MQSink) AppendTransition(ctx context.Context, e *store.TransitionEvent) error {
	return s.publish(ctx, e)
}

// AppendAlert publishes an alert.
func (s *MQSink) AppendAlert(ctx context.Context, a *store.Alert) error {
	return s.publish(ctx, a)
}

// AppendMaintenanceRecord publishes a maintenance record.
func (s *MQSink) AppendMaintenanceRecord(ctx context.Context, r *store.MaintenanceRecord) error {
	return s.publish(ctx, r)
}

var (
	_ Sink = (*MQSink)(nil)
	_ Sink = (store.Store)(nil)
)
