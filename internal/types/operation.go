package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// Payload is the data carried by a pending operation. Each implementation
// is one (entity, operation) pair; consumers switch on the concrete type.
type Payload interface {
	Entity() EntityKind
	Op() OperationType
	// TargetID is the local id of the record the operation concerns.
	TargetID() string
}

// CreateCardSet creates a card set recorded locally under TempID.
type CreateCardSet struct {
	TempID string       `json:"temp_id"`
	Input  CardSetInput `json:"input"`
}

// UpdateCardSet replaces a card set with the locally edited record.
type UpdateCardSet struct {
	CardSet CardSet `json:"cardset"`
}

// DeleteCardSet deletes a card set.
type DeleteCardSet struct {
	ID string `json:"id"`
}

// CreateSession records a study session kept locally under TempID.
type CreateSession struct {
	TempID string       `json:"temp_id"`
	Input  SessionInput `json:"input"`
}

// UpdateSession replaces a study session with the locally edited record.
type UpdateSession struct {
	Session StudySession `json:"session"`
}

// DeleteSession deletes a study session.
type DeleteSession struct {
	ID string `json:"id"`
}

// UnknownPayload holds an operation read back from storage whose entity or
// type this build does not know.
type UnknownPayload struct {
	Kind EntityKind
	Type OperationType
	Data json.RawMessage
}

func (CreateCardSet) Entity() EntityKind { return EntityCardSet }
func (UpdateCardSet) Entity() EntityKind { return EntityCardSet }
func (DeleteCardSet) Entity() EntityKind { return EntityCardSet }
func (CreateSession) Entity() EntityKind { return EntityStatistics }
func (UpdateSession) Entity() EntityKind { return EntityStatistics }
func (DeleteSession) Entity() EntityKind { return EntityStatistics }
func (p UnknownPayload) Entity() EntityKind {
	return p.Kind
}

func (CreateCardSet) Op() OperationType { return OpCreate }
func (UpdateCardSet) Op() OperationType { return OpUpdate }
func (DeleteCardSet) Op() OperationType { return OpDelete }
func (CreateSession) Op() OperationType { return OpCreate }
func (UpdateSession) Op() OperationType { return OpUpdate }
func (DeleteSession) Op() OperationType { return OpDelete }
func (p UnknownPayload) Op() OperationType {
	return p.Type
}

func (p CreateCardSet) TargetID() string  { return p.TempID }
func (p UpdateCardSet) TargetID() string  { return p.CardSet.ID }
func (p DeleteCardSet) TargetID() string  { return p.ID }
func (p CreateSession) TargetID() string  { return p.TempID }
func (p UpdateSession) TargetID() string  { return p.Session.ID }
func (p DeleteSession) TargetID() string  { return p.ID }
func (p UnknownPayload) TargetID() string { return "" }

// PendingOperation is a mutation that has been applied locally but not yet
// confirmed by the server.
type PendingOperation struct {
	ID        string
	Type      OperationType
	Entity    EntityKind
	Payload   Payload
	Timestamp int64 // epoch milliseconds
}

// NewPendingOperation wraps payload with its id and creation time.
func NewPendingOperation(id string, payload Payload, now time.Time) PendingOperation {
	return PendingOperation{
		ID:        id,
		Type:      payload.Op(),
		Entity:    payload.Entity(),
		Payload:   payload,
		Timestamp: now.UnixMilli(),
	}
}

// Age returns how long ago the operation was enqueued.
func (op PendingOperation) Age(now time.Time) time.Duration {
	return now.Sub(time.UnixMilli(op.Timestamp))
}

type pendingOperationJSON struct {
	ID        string          `json:"id"`
	Type      OperationType   `json:"type"`
	Entity    EntityKind      `json:"entity"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

// MarshalJSON encodes the operation with its payload under "data".
func (op PendingOperation) MarshalJSON() ([]byte, error) {
	var data json.RawMessage
	switch p := op.Payload.(type) {
	case nil:
		data = json.RawMessage("null")
	case UnknownPayload:
		data = p.Data
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("marshal %s %s payload: %w", op.Entity, op.Type, err)
		}
		data = b
	}
	return json.Marshal(pendingOperationJSON{
		ID:        op.ID,
		Type:      op.Type,
		Entity:    op.Entity,
		Data:      data,
		Timestamp: op.Timestamp,
	})
}

// UnmarshalJSON decodes the payload variant selected by entity and type.
// Unknown combinations decode to UnknownPayload.
func (op *PendingOperation) UnmarshalJSON(b []byte) error {
	var raw pendingOperationJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	payload, err := decodePayload(raw.Entity, raw.Type, raw.Data)
	if err != nil {
		return fmt.Errorf("decode %s %s payload: %w", raw.Entity, raw.Type, err)
	}
	*op = PendingOperation{
		ID:        raw.ID,
		Type:      raw.Type,
		Entity:    raw.Entity,
		Payload:   payload,
		Timestamp: raw.Timestamp,
	}
	return nil
}

func decodePayload(entity EntityKind, typ OperationType, data json.RawMessage) (Payload, error) {
	var target Payload
	switch entity {
	case EntityCardSet:
		switch typ {
		case OpCreate:
			target = &CreateCardSet{}
		case OpUpdate:
			target = &UpdateCardSet{}
		case OpDelete:
			target = &DeleteCardSet{}
		}
	case EntityStatistics:
		switch typ {
		case OpCreate:
			target = &CreateSession{}
		case OpUpdate:
			target = &UpdateSession{}
		case OpDelete:
			target = &DeleteSession{}
		}
	}
	if target == nil {
		return UnknownPayload{Kind: entity, Type: typ, Data: data}, nil
	}
	if err := json.Unmarshal(data, target); err != nil {
		return nil, err
	}

	switch p := target.(type) {
	case *CreateCardSet:
		return *p, nil
	case *UpdateCardSet:
		return *p, nil
	case *DeleteCardSet:
		return *p, nil
	case *CreateSession:
		return *p, nil
	case *UpdateSession:
		return *p, nil
	case *DeleteSession:
		return *p, nil
	}
	return nil, fmt.Errorf("unhandled payload %T", target)
}
