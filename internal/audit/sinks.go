package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Record is the persisted form of an Event.
type Record struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	Fingerprint string         `gorm:"type:varchar(64);not null;uniqueIndex" json:"fingerprint"`
	EntityType  string         `gorm:"type:varchar(50);not null;index:idx_audit_entity,priority:1" json:"entityType"`
	EntityID    string         `gorm:"type:varchar(36);not null;index:idx_audit_entity,priority:2" json:"entityId"`
	Action      string         `gorm:"type:varchar(50);not null" json:"action"`
	TenantID    string         `gorm:"type:varchar(36);not null;index" json:"tenantId"`
	ActorID     string         `gorm:"type:varchar(64);not null" json:"actorId"`
	Before      datatypes.JSON `json:"before"`
	After       datatypes.JSON `json:"after"`
	Timestamp   time.Time      `gorm:"not null;index" json:"timestamp"`
}

func (Record) TableName() string { return "audit_events" }

// GormSink appends events to the audit_events table. Re-delivery of the same
// event is a no-op.
type GormSink struct {
	DB *gorm.DB
}

func (s GormSink) Write(ctx context.Context, ev Event) error {
	rec := Record{
		Fingerprint: ev.Fingerprint(),
		EntityType:  ev.EntityType,
		EntityID:    ev.EntityID,
		Action:      ev.Action,
		TenantID:    ev.TenantID,
		ActorID:     ev.ActorID,
		Before:      ev.Before,
		After:       ev.After,
		Timestamp:   ev.Timestamp,
	}
	return s.DB.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "fingerprint"}}, DoNothing: true}).
		Create(&rec).Error
}

// WebhookSink posts each event as JSON to the notification endpoint.
type WebhookSink struct {
	URL    string
	Client *http.Client
}

func (s WebhookSink) Write(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Fingerprint", ev.Fingerprint())

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook post: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook post: status %d", resp.StatusCode)
	}
	return nil
}

type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Write(_ context.Context, ev Event) error {
	s.Logger.Info("audit",
		"entity_type", ev.EntityType,
		"entity_id", ev.EntityID,
		"action", ev.Action,
		"tenant", ev.TenantID,
		"actor", ev.ActorID,
	)
	return nil
}

// Memory keeps events in order. It is both a Sink and a synchronous Emitter.
type Memory struct {
	mu     sync.Mutex
	events []Event
}

func (m *Memory) Write(_ context.Context, ev Event) error {
	m.mu.Lock()
	m.events = append(m.events, ev)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Emit(ctx context.Context, events ...Event) {
	for _, ev := range events {
		_ = m.Write(ctx, ev)
	}
}

func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

// Actions returns the action of every event for the given entity, in order.
func (m *Memory) Actions(entityID string) []string {
	var out []string
	for _, ev := range m.Events() {
		if ev.EntityID == entityID {
			out = append(out, ev.Action)
		}
	}
	return out
}
