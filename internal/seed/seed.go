package seed

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/matheusscotini/payment-gateway/internal/clock"
	"github.com/matheusscotini/payment-gateway/internal/config"
	merchantdomain "github.com/matheusscotini/payment-gateway/internal/merchant/domain"
	"gorm.io/gorm"
)

// EnsureDefaultMerchant seeds the configured merchant credential so a
// fresh install can authenticate without manual setup. A merchant with
// the same key hash is left untouched.
func EnsureDefaultMerchant(db *gorm.DB, cfg config.Config, clk clock.Clock) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}
	if cfg.Merchant.APIKey == "" {
		return nil
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	hash := merchantdomain.HashAPIKey(cfg.Merchant.APIKey)
	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing merchantdomain.Merchant
		if err := tx.Raw(
			`SELECT id, name, api_key_hash, created_at FROM merchants WHERE api_key_hash = ? LIMIT 1`,
			hash,
		).Scan(&existing).Error; err != nil {
			return err
		}
		if existing.ID != 0 {
			return nil
		}

		return tx.Exec(
			`INSERT INTO merchants (id, name, api_key_hash, created_at) VALUES (?, ?, ?, ?)`,
			node.Generate(),
			cfg.Merchant.Name,
			hash,
			clk.Now().UTC(),
		).Error
	})
}
