package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type DeliveryStatus string

const (
	DeliveryPending DeliveryStatus = "PENDING"
	DeliverySent    DeliveryStatus = "SENT"
	DeliveryFailed  DeliveryStatus = "FAILED"
)

var (
	ErrDeliveryNotFound = errors.New("webhook_delivery_not_found")
)

// DeliveryOrigin distinguishes the delivery settlement creates from the
// ones the retry endpoint creates. Settlement owns exactly one AUTO row
// per charge; MANUAL rows never count against that guarantee.
type DeliveryOrigin string

const (
	OriginAuto   DeliveryOrigin = "AUTO"
	OriginManual DeliveryOrigin = "MANUAL"
)

// WebhookDelivery tracks one notification to a merchant endpoint. A row is
// created when a charge settles and again for every manual retry; automatic
// redeliveries reuse the same row and bump Attempts.
type WebhookDelivery struct {
	ID          snowflake.ID   `json:"id,string" gorm:"primaryKey"`
	ChargeID    snowflake.ID   `json:"charge_id,string" gorm:"index"`
	Origin      DeliveryOrigin `json:"origin"`
	URL         string         `json:"url"`
	Status      DeliveryStatus `json:"status"`
	Attempts    int            `json:"attempts"`
	LastError   *string        `json:"last_error,omitempty"`
	NextRetryAt *time.Time     `json:"next_retry_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

func (WebhookDelivery) TableName() string { return "webhook_deliveries" }

// RetryResponse is returned by the manual retry endpoint.
type RetryResponse struct {
	DeliveryID string `json:"delivery_id"`
	Status     string `json:"status"`
}

type Service interface {
	// Deliver posts the signed notification for a pending delivery.
	// Missing or already-sent deliveries are treated as no-ops; a
	// delivery whose charge has not settled yet returns an error so
	// the queue redelivers it after settlement.
	Deliver(ctx context.Context, deliveryID snowflake.ID) error

	// RecordFailure persists the outcome of a failed delivery attempt.
	// It never returns an error; bookkeeping failures are logged only.
	RecordFailure(ctx context.Context, deliveryID snowflake.ID, attempts int, cause string)

	// Retry creates a fresh pending delivery for a settled charge and
	// enqueues it, regardless of any prior delivery state.
	Retry(ctx context.Context, merchantID snowflake.ID, chargeID string) (RetryResponse, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, delivery *WebhookDelivery) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*WebhookDelivery, error)
	// MarkSent flips a delivery to SENT and increments its attempt counter
	// in one statement. Returns false when the delivery was already SENT.
	MarkSent(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error)
	MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, attempts int, lastError string, nextRetryAt time.Time, at time.Time) error
	ListByCharge(ctx context.Context, db *gorm.DB, chargeID snowflake.ID) ([]WebhookDelivery, error)
	// CountAutoByCharge counts only AUTO deliveries; manual retries
	// must not satisfy settlement's one-auto-delivery check.
	CountAutoByCharge(ctx context.Context, db *gorm.DB, chargeID snowflake.ID) (int64, error)
}
