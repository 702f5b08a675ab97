package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/matheusscotini/payment-gateway/internal/audit/domain"
	webhookdomain "github.com/matheusscotini/payment-gateway/internal/webhook/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ChargeStatus string

const (
	ChargePending    ChargeStatus = "PENDING"
	ChargeProcessing ChargeStatus = "PROCESSING"
	ChargePaid       ChargeStatus = "PAID"
	ChargeFailed     ChargeStatus = "FAILED"
)

// Terminal reports whether no further transition is allowed from s.
func (s ChargeStatus) Terminal() bool {
	return s == ChargePaid || s == ChargeFailed
}

var (
	ErrChargeNotFound = errors.New("charge_not_found")
	ErrInvalidCharge  = errors.New("invalid_charge")
)

type Charge struct {
	ID                snowflake.ID      `json:"id,string" gorm:"primaryKey"`
	MerchantID        snowflake.ID      `json:"-" gorm:"index"`
	Amount            int64             `json:"amount"`
	Currency          string            `json:"currency"`
	Status            ChargeStatus      `json:"status"`
	CustomerName      string            `json:"customer_name"`
	CustomerEmail     string            `json:"customer_email"`
	PaymentMethodType string            `json:"payment_method_type"`
	CardLast4         string            `json:"card_last4"`
	WebhookURL        string            `json:"webhook_url"`
	Metadata          datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

func (Charge) TableName() string { return "charges" }

// CreateChargeRequest is the wire shape accepted by POST /v1/charges.
type CreateChargeRequest struct {
	Amount        int64          `json:"amount"`
	Currency      string         `json:"currency"`
	Customer      Customer       `json:"customer"`
	PaymentMethod PaymentMethod  `json:"payment_method"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	WebhookURL    string         `json:"webhook_url"`
}

type Customer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type PaymentMethod struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

// Snapshot is the response body recorded by the idempotency layer and
// replayed to every duplicate of the same request.
type Snapshot struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	CreatedAt string `json:"created_at"`
}

// Details is the full read model: the charge plus its audit trail in
// chronological order and its deliveries newest first.
type Details struct {
	Charge
	Events            []auditdomain.Event             `json:"events"`
	WebhookDeliveries []webhookdomain.WebhookDelivery `json:"webhook_deliveries"`
}

type Service interface {
	// Create resolves the request through the idempotency layer. The
	// returned snapshot is freshly created on first sight of the key and
	// replayed verbatim for duplicates.
	Create(ctx context.Context, merchantID snowflake.ID, key string, req CreateChargeRequest) (Snapshot, error)

	// Process drives a charge through settlement. Safe to call any
	// number of times for the same charge.
	Process(ctx context.Context, chargeID snowflake.ID) error

	GetDetails(ctx context.Context, merchantID snowflake.ID, id string) (*Details, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, charge *Charge) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Charge, error)
	FindByMerchant(ctx context.Context, db *gorm.DB, merchantID, id snowflake.ID) (*Charge, error)
	// UpdateStatus performs a guarded transition and reports whether this
	// caller won it. A false return with nil error means another worker
	// already moved the charge past from.
	UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to ChargeStatus, at time.Time) (bool, error)
}
