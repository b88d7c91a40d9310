// Package audit emits one immutable event per committed state transition and
// fans it out to the audit log and notification sinks.
//
// Emission is fire-and-forget from the engines' point of view: Emit never
// blocks a transition, and delivery failures are retried and logged by the
// Dispatcher, not returned to the caller.
package audit

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"time"

	"golang.org/x/crypto/blake2b"
	"gorm.io/datatypes"
)

type Event struct {
	EntityType string         `json:"entityType"`
	EntityID   string         `json:"entityId"`
	Action     string         `json:"action"`
	TenantID   string         `json:"tenantId"`
	ActorID    string         `json:"actorId"`
	Before     datatypes.JSON `json:"before"`
	After      datatypes.JSON `json:"after"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Fingerprint identifies an event across delivery retries.
func (e Event) Fingerprint() string {
	h, _ := blake2b.New256(nil)
	for _, part := range []string{
		e.EntityType, e.EntityID, e.Action, e.TenantID, e.ActorID,
		e.Timestamp.UTC().Format(time.RFC3339Nano),
	} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	h.Write(e.Before)
	h.Write([]byte{0})
	h.Write(e.After)
	return hex.EncodeToString(h.Sum(nil))
}

// Snapshot serializes an entity for the before/after fields.
func Snapshot(v any) datatypes.JSON {
	if v == nil {
		return datatypes.JSON("null")
	}
	b, err := json.Marshal(v)
	if err != nil {
		return datatypes.JSON("null")
	}
	return datatypes.JSON(b)
}

type Emitter interface {
	Emit(ctx context.Context, events ...Event)
}

type Sink interface {
	Write(ctx context.Context, ev Event) error
}

// Discard drops every event.
type Discard struct{}

func (Discard) Emit(context.Context, ...Event) {}
