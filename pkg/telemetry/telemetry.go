// Package telemetry defines the wire envelope of telemetry messages sent over
// the message queue. An envelope is a protobuf Struct holding the message kind
// and the row it carries.
package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"procodus.dev/switchwatch/internal/store"
)

// Kind identifies the row type carried by an envelope.
type Kind string

// Message kinds.
const (
	KindPhaseCurrent      Kind = "phase_current"
	KindControllerSample  Kind = "controller_sample"
	KindTransition        Kind = "transition"
	KindAlert             Kind = "alert"
	KindMaintenanceRecord Kind = "maintenance_record"
)

// ErrUnknownKind is returned for envelopes or values of an unsupported kind.
var ErrUnknownKind = errors.New("unknown telemetry kind")

const (
	fieldKind    = "kind"
	fieldPayload = "payload"
)

// KindOf returns the kind of a store row.
func KindOf(row any) (Kind, error) {
	switch row.(type) {
	case *store.PhaseCurrentSample:
		return KindPhaseCurrent, nil
	case *store.ControllerSample:
		return KindControllerSample, nil
	case *store.TransitionEvent:
		return KindTransition, nil
	case *store.Alert:
		return KindAlert, nil
	case *store.MaintenanceRecord:
		return KindMaintenanceRecord, nil
	default:
		return "", fmt.Errorf("%w: %T", ErrUnknownKind, row)
	}
}

// Encode wraps a store row in an envelope and marshals it.
func Encode(row any) ([]byte, error) {
	kind, err := KindOf(row)
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(row)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", kind, err)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", kind, err)
	}

	envelope, err := structpb.NewStruct(map[string]any{
		fieldKind:    string(kind),
		fieldPayload: fields,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build envelope: %w", err)
	}
	return proto.Marshal(envelope)
}

// Decode unmarshals an envelope and returns the store row it carries, one of
// the pointer types accepted by Encode.
func Decode(data []byte) (any, error) {
	var envelope structpb.Struct
	if err := proto.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}

	fields := envelope.GetFields()
	kind := Kind(fields[fieldKind].GetStringValue())
	payload := fields[fieldPayload].GetStructValue()
	if payload == nil {
		return nil, errors.New("envelope has no payload")
	}

	var row any
	switch kind {
	case KindPhaseCurrent:
		row = &store.PhaseCurrentSample{}
	case KindControllerSample:
		row = &store.ControllerSample{}
	case KindTransition:
		row = &store.TransitionEvent{}
	case KindAlert:
		row = &store.Alert{}
	case KindMaintenanceRecord:
		row = &store.MaintenanceRecord{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	raw, err := payload.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", kind, err)
	}
	if err := json.Unmarshal(raw, row); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", kind, err)
	}
	return row, nil
}
