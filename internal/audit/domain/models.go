package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// EventType tags one audit-log entry.
type EventType string

const (
	EventChargeCreated    EventType = "CHARGE_CREATED"
	EventChargeProcessing EventType = "CHARGE_PROCESSING"
	EventChargePaid       EventType = "CHARGE_PAID"
	EventChargeFailed     EventType = "CHARGE_FAILED"
	EventWebhookEnqueued  EventType = "WEBHOOK_ENQUEUED"
	EventWebhookSent      EventType = "WEBHOOK_SENT"
	EventWebhookFailed    EventType = "WEBHOOK_FAILED"
)

// Event is one append-only audit-log entry owned by a charge.
type Event struct {
	ID        snowflake.ID      `gorm:"primaryKey" json:"id"`
	ChargeID  snowflake.ID      `gorm:"not null;index" json:"charge_id"`
	Type      EventType         `gorm:"not null" json:"type"`
	Payload   datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"payload"`
	CreatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (Event) TableName() string {
	return "events"
}

// Repository appends and reads the audit log. Entries are never mutated.
type Repository interface {
	Append(ctx context.Context, db *gorm.DB, event *Event) error
	ListByCharge(ctx context.Context, db *gorm.DB, chargeID snowflake.ID) ([]Event, error)
}
