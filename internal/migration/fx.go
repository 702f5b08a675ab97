package migration

import (
	auditdomain "github.com/matheusscotini/payment-gateway/internal/audit/domain"
	chargedomain "github.com/matheusscotini/payment-gateway/internal/charge/domain"
	"github.com/matheusscotini/payment-gateway/internal/clock"
	"github.com/matheusscotini/payment-gateway/internal/config"
	idemdomain "github.com/matheusscotini/payment-gateway/internal/idempotency/domain"
	merchantdomain "github.com/matheusscotini/payment-gateway/internal/merchant/domain"
	"github.com/matheusscotini/payment-gateway/internal/seed"
	webhookdomain "github.com/matheusscotini/payment-gateway/internal/webhook/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, clk clock.Clock) error {
		if cfg.DBType == "postgres" {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := RunMigrations(sqlDB); err != nil {
				return err
			}
		} else {
			// sqlite and mysql are dev conveniences; let gorm build the
			// schema instead of maintaining per-dialect SQL.
			if err := conn.AutoMigrate(
				&merchantdomain.Merchant{},
				&chargedomain.Charge{},
				&auditdomain.Event{},
				&webhookdomain.WebhookDelivery{},
				&idemdomain.Record{},
			); err != nil {
				return err
			}
			if cfg.DBType == "sqlite" {
				// mysql has no partial indexes; sqlite mirrors the
				// postgres one-auto-delivery guarantee.
				if err := conn.Exec(
					`CREATE UNIQUE INDEX IF NOT EXISTS uq_webhook_deliveries_auto
					 ON webhook_deliveries (charge_id) WHERE origin = 'AUTO'`,
				).Error; err != nil {
					return err
				}
			}
		}

		return seed.EnsureDefaultMerchant(conn, cfg, clk)
	}),
)
