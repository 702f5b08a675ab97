package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Merchant is one API caller. A single bearer credential scopes every
// charge and idempotency key it owns.
type Merchant struct {
	ID         snowflake.ID `gorm:"primaryKey" json:"id"`
	Name       string       `gorm:"not null" json:"name"`
	APIKeyHash string       `gorm:"column:api_key_hash;not null;uniqueIndex" json:"-"`
	CreatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// HashAPIKey derives the stored lookup hash for a raw API key.
// The raw key is never persisted.
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
