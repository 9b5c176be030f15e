package outbox

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event is one row of the outbox table: the unit of propagation.
// Created in the same transaction as the entity mutation it describes,
// consumed by the propagation pipeline, deleted by the processor after
// successful handling. Authorization truth lives in the engine's tuple
// set, not in this row's existence.
type Event struct {
	ID          int64
	EventSource string
	EventType   string
	EventTime   time.Time
	Payload     json.RawMessage

	CorrelationID1 *uuid.UUID
	CorrelationID2 *uuid.UUID
	CorrelationID3 *uuid.UUID
	CorrelationID4 *uuid.UUID

	LastEditedBy int64

	// SysPeriod is the row's system validity period, kept for audit.
	SysPeriod string
}

// EventFromColumns maps a decoded WAL column map into an Event. A
// required column that is absent or of the wrong decoded type is a hard
// failure: a malformed outbox row is a data-integrity bug, not a
// recoverable condition.
func EventFromColumns(columns map[string]any) (*Event, error) {
	id, err := requireInt64(columns, "id")
	if err != nil {
		return nil, err
	}
	source, err := requireString(columns, "event_source")
	if err != nil {
		return nil, err
	}
	eventType, err := requireString(columns, "event_type")
	if err != nil {
		return nil, err
	}
	eventTime, err := requireTime(columns, "event_time")
	if err != nil {
		return nil, err
	}
	payload, err := requirePayload(columns, "payload")
	if err != nil {
		return nil, err
	}
	lastEditedBy, err := requireInt64(columns, "last_edited_by")
	if err != nil {
		return nil, err
	}
	sysPeriod, err := requireString(columns, "sys_period")
	if err != nil {
		return nil, err
	}

	event := &Event{
		ID:           id,
		EventSource:  source,
		EventType:    eventType,
		EventTime:    eventTime,
		Payload:      payload,
		LastEditedBy: lastEditedBy,
		SysPeriod:    sysPeriod,
	}

	for i, dst := range []**uuid.UUID{
		&event.CorrelationID1,
		&event.CorrelationID2,
		&event.CorrelationID3,
		&event.CorrelationID4,
	} {
		val, err := optionalUUID(columns, fmt.Sprintf("correlation_id_%d", i+1))
		if err != nil {
			return nil, err
		}
		*dst = val
	}

	return event, nil
}

func requireInt64(columns map[string]any, name string) (int64, error) {
	raw, ok := columns[name]
	if !ok {
		return 0, fmt.Errorf("outbox row missing required column %q", name)
	}
	switch v := raw.(type) {
	case int64:
		return v, nil
	case int32:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int:
		return int64(v), nil
	default:
		return 0, fmt.Errorf("outbox column %q: expected integer, got %T", name, raw)
	}
}

func requireString(columns map[string]any, name string) (string, error) {
	raw, ok := columns[name]
	if !ok {
		return "", fmt.Errorf("outbox row missing required column %q", name)
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("outbox column %q: expected string, got %T", name, raw)
	}
	return s, nil
}

func requireTime(columns map[string]any, name string) (time.Time, error) {
	raw, ok := columns[name]
	if !ok {
		return time.Time{}, fmt.Errorf("outbox row missing required column %q", name)
	}
	t, ok := raw.(time.Time)
	if !ok {
		return time.Time{}, fmt.Errorf("outbox column %q: expected timestamp, got %T", name, raw)
	}
	return t, nil
}

// requirePayload normalizes whatever shape the driver decoded the JSON
// document into back to raw bytes.
func requirePayload(columns map[string]any, name string) (json.RawMessage, error) {
	raw, ok := columns[name]
	if !ok || raw == nil {
		return nil, fmt.Errorf("outbox row missing required column %q", name)
	}
	switch v := raw.(type) {
	case []byte:
		return json.RawMessage(v), nil
	case string:
		return json.RawMessage(v), nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("outbox column %q: cannot re-encode decoded document: %w", name, err)
		}
		return data, nil
	}
}

func optionalUUID(columns map[string]any, name string) (*uuid.UUID, error) {
	raw, ok := columns[name]
	if !ok || raw == nil {
		return nil, nil
	}
	switch v := raw.(type) {
	case string:
		parsed, err := uuid.Parse(v)
		if err != nil {
			return nil, fmt.Errorf("outbox column %q: %w", name, err)
		}
		return &parsed, nil
	case [16]byte:
		parsed := uuid.UUID(v)
		return &parsed, nil
	default:
		return nil, fmt.Errorf("outbox column %q: expected uuid, got %T", name, raw)
	}
}
