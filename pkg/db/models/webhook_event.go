package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/pharmaflow-backend/pkg/enums"
)

// WebhookEvent is a write-once idempotency ledger row. The unique
// (provider, event_id) pair is the dedup gate for inbound callbacks.
type WebhookEvent struct {
	ID         uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	Provider   enums.WebhookProvider `gorm:"column:provider;type:varchar(32);uniqueIndex:ux_webhook_events_provider_event,priority:1;not null"`
	EventID    string                `gorm:"column:event_id;type:varchar(160);uniqueIndex:ux_webhook_events_provider_event,priority:2;not null"`
	EventType  string                `gorm:"column:event_type;not null"`
	Payload    json.RawMessage       `gorm:"column:payload;type:jsonb"`
	ReceivedAt time.Time             `gorm:"column:received_at;autoCreateTime"`
}

func (e *WebhookEvent) BeforeCreate(*gorm.DB) error {
	assignID(&e.ID)
	return nil
}
