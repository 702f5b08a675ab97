package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	// ErrKeyConflict is returned when a key is replayed with a request
	// body that does not match the one it was first used with.
	ErrKeyConflict = errors.New("idempotency_key_conflict")
)

// Record pins an idempotency key to the charge it produced and to a
// fingerprint of the request that produced it. The (merchant_id, key)
// pair is unique; concurrent first uses race on that constraint.
type Record struct {
	MerchantID       snowflake.ID   `gorm:"primaryKey"`
	Key              string         `gorm:"primaryKey"`
	RequestHash      string
	ChargeID         snowflake.ID
	ResponseSnapshot datatypes.JSON
	CreatedAt        time.Time
}

func (Record) TableName() string { return "idempotency_keys" }

// Result carries the outcome of a resolved key, whether won or replayed.
type Result struct {
	ChargeID snowflake.ID
	Response datatypes.JSON
}

// CreateEffect runs the caller's side effects inside the transaction that
// inserts the record, so a lost key race rolls everything back together.
type CreateEffect func(tx *gorm.DB) (chargeID snowflake.ID, response any, err error)

type Coordinator interface {
	// Resolve executes effect exactly once per (merchant, key, body) and
	// replays the recorded response for duplicates. created reports
	// whether this call ran the effect.
	Resolve(ctx context.Context, merchantID snowflake.ID, key string, requestBody any, effect CreateEffect) (result Result, created bool, err error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, record *Record) error
	Find(ctx context.Context, db *gorm.DB, merchantID snowflake.ID, key string) (*Record, error)
}
