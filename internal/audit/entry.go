package audit

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Action names what happened to the entity.
type Action string

const (
	ActionCreate Action = "CREATE"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
	ActionLogin  Action = "LOGIN"
)

var (
	ErrInvalidEntry = errors.New("audit: invalid entry")
	ErrQueueFull    = errors.New("audit: queue full")
	ErrClosed       = errors.New("audit: closed")
)

// Entry is a write-once record of one accepted mutation. ActorID is nil for
// internal operations such as seeding.
type Entry struct {
	ID         string            `json:"id"`
	ActorID    *string           `json:"actor_id"`
	Action     Action            `json:"action"`
	EntityKind string            `json:"entity_kind"`
	EntityID   string            `json:"entity_id"`
	Before     json.RawMessage   `json:"before,omitempty"`
	After      json.RawMessage   `json:"after,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// Actor returns the actor id or "" for internal entries.
func (e Entry) Actor() string {
	if e.ActorID == nil {
		return ""
	}
	return *e.ActorID
}

// ActorRef converts an actor id into the nullable form stored on entries.
func ActorRef(id string) *string {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil
	}
	return &id
}

// Validate checks the shape of an entry before it reaches a ledger.
func Validate(e Entry) error {
	if strings.TrimSpace(string(e.Action)) == "" {
		return fmt.Errorf("%w: action is required", ErrInvalidEntry)
	}
	if strings.TrimSpace(e.EntityKind) == "" {
		return fmt.Errorf("%w: entity_kind is required", ErrInvalidEntry)
	}
	if strings.TrimSpace(e.EntityID) == "" {
		return fmt.Errorf("%w: entity_id is required", ErrInvalidEntry)
	}
	switch e.Action {
	case ActionCreate:
		if len(e.Before) > 0 {
			return fmt.Errorf("%w: CREATE carries no before value", ErrInvalidEntry)
		}
	case ActionDelete:
		if len(e.After) > 0 {
			return fmt.Errorf("%w: DELETE carries no after value", ErrInvalidEntry)
		}
	}
	return nil
}

// Snapshot serialises v for the before/after columns. A nil value yields nil.
func Snapshot(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("audit: snapshot: %w", err)
	}
	if string(data) == "null" {
		return nil, nil
	}
	return data, nil
}

// Clone returns a copy that shares no mutable state with e.
func (e Entry) Clone() Entry {
	out := e
	if e.ActorID != nil {
		id := *e.ActorID
		out.ActorID = &id
	}
	if e.Before != nil {
		out.Before = append(json.RawMessage(nil), e.Before...)
	}
	if e.After != nil {
		out.After = append(json.RawMessage(nil), e.After...)
	}
	if e.Metadata != nil {
		out.Metadata = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}
