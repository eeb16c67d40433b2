// Package serialization encodes gate domain events for the wire. Each event
// type registers a function that flattens it into a protobuf Struct; the
// envelope adds routing metadata and is marshalled with proto.Marshal so any
// protobuf-aware consumer can read outcomes without sharing Go types.
package serialization

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/Sourav19o7/ppe-detector-sub002/internal/domain/events"
	"github.com/Sourav19o7/ppe-detector-sub002/internal/domain/gate"
)

// FieldsFunc flattens a domain event into wire fields.
type FieldsFunc func(payload events.DomainEvent) (map[string]any, error)

// serializerRegistry maps event types to their field encoders.
var serializerRegistry = map[events.EventType]FieldsFunc{}

// RegisterFieldsFunc registers the encoder for eventType.
func RegisterFieldsFunc(eventType events.EventType, fn FieldsFunc) {
	serializerRegistry[eventType] = fn
}

func init() {
	RegisterEventSerializers()
}

// RegisterEventSerializers registers encoders for every gate event.
func RegisterEventSerializers() {
	RegisterFieldsFunc(gate.EventTypeSessionStarted, sessionStartedFields)
	RegisterFieldsFunc(gate.EventTypeSessionFinalized, sessionFinalizedFields)
	RegisterFieldsFunc(gate.EventTypeIdentityResolved, identityResolvedFields)
	RegisterFieldsFunc(gate.EventTypeOverrideApproved, overrideApprovedFields)
	RegisterFieldsFunc(gate.EventTypeSessionReset, sessionResetFields)
}

// SerializeEventEnvelope encodes env as a protobuf Struct with the fields
// type, key, timestamp, headers and payload.
func SerializeEventEnvelope(env events.EventEnvelope) ([]byte, error) {
	if env.Payload == nil {
		return nil, fmt.Errorf("nil payload for event type %s", env.Type)
	}
	fn, ok := serializerRegistry[env.Type]
	if !ok {
		return nil, fmt.Errorf("no serializer registered for eventType=%s", env.Type)
	}
	payload, err := fn(env.Payload)
	if err != nil {
		return nil, err
	}

	headers := make(map[string]any, len(env.Headers))
	for k, v := range env.Headers {
		headers[k] = v
	}

	st, err := structpb.NewStruct(map[string]any{
		"type":      string(env.Type),
		"key":       env.Key,
		"timestamp": formatTime(env.Timestamp),
		"headers":   headers,
		"payload":   payload,
	})
	if err != nil {
		return nil, fmt.Errorf("build struct for event %s: %w", env.Type, err)
	}
	return proto.Marshal(st)
}

// DecodeEnvelope reverses SerializeEventEnvelope into plain Go values.
func DecodeEnvelope(data []byte) (map[string]any, error) {
	var st structpb.Struct
	if err := proto.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}
	return st.AsMap(), nil
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func typeMismatch(want string, got events.DomainEvent) error {
	return fmt.Errorf("serialize %s: unexpected payload %T", want, got)
}

func sessionStartedFields(payload events.DomainEvent) (map[string]any, error) {
	evt, ok := payload.(gate.SessionStartedEvent)
	if !ok {
		return nil, typeMismatch("SessionStartedEvent", payload)
	}
	return map[string]any{
		"session_id": evt.SessionID.String(),
		"gate_id":    evt.GateID,
		"site_id":    evt.SiteID,
		"budget_ms":  evt.Budget.Milliseconds(),
	}, nil
}

func sessionFinalizedFields(payload events.DomainEvent) (map[string]any, error) {
	evt, ok := payload.(gate.SessionFinalizedEvent)
	if !ok {
		return nil, typeMismatch("SessionFinalizedEvent", payload)
	}
	return map[string]any{
		"session_id":    evt.SessionID.String(),
		"gate_id":       evt.GateID,
		"site_id":       evt.SiteID,
		"outcome":       evt.Outcome.String(),
		"passed_checks": evt.PassedChecks,
		"total_checks":  evt.TotalChecks,
		"timed_out":     evt.TimedOut,
		"overridden":    evt.Overridden,
		"identity_id":   evt.IdentityID,
	}, nil
}

func identityResolvedFields(payload events.DomainEvent) (map[string]any, error) {
	evt, ok := payload.(gate.IdentityResolvedEvent)
	if !ok {
		return nil, typeMismatch("IdentityResolvedEvent", payload)
	}
	return map[string]any{
		"session_id": evt.SessionID.String(),
		"gate_id":    evt.GateID,
		"identity": map[string]any{
			"id":         evt.Identity.ID,
			"name":       evt.Identity.Name,
			"confidence": evt.Identity.Confidence,
		},
	}, nil
}

func overrideApprovedFields(payload events.DomainEvent) (map[string]any, error) {
	evt, ok := payload.(gate.OverrideApprovedEvent)
	if !ok {
		return nil, typeMismatch("OverrideApprovedEvent", payload)
	}
	rec := evt.Record
	return map[string]any{
		"audit_id":      rec.ID.String(),
		"session_id":    rec.SessionID.String(),
		"gate_id":       rec.GateID,
		"site_id":       rec.SiteID,
		"passed_checks": rec.PassedChecks,
		"total_checks":  rec.TotalChecks,
		"reason":        rec.Reason,
		"operator":      rec.Operator,
		"approved_at":   formatTime(rec.Timestamp),
	}, nil
}

func sessionResetFields(payload events.DomainEvent) (map[string]any, error) {
	evt, ok := payload.(gate.SessionResetEvent)
	if !ok {
		return nil, typeMismatch("SessionResetEvent", payload)
	}
	return map[string]any{
		"session_id":   evt.SessionID.String(),
		"gate_id":      evt.GateID,
		"prior_status": evt.PriorStatus.String(),
	}, nil
}
