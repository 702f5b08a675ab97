package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/matheusscotini/payment-gateway/internal/webhook/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, delivery *domain.WebhookDelivery) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO webhook_deliveries (id, charge_id, origin, url, status, attempts, last_error, next_retry_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		delivery.ID,
		delivery.ChargeID,
		delivery.Origin,
		delivery.URL,
		delivery.Status,
		delivery.Attempts,
		delivery.LastError,
		delivery.NextRetryAt,
		delivery.CreatedAt,
		delivery.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.WebhookDelivery, error) {
	var delivery domain.WebhookDelivery
	err := db.WithContext(ctx).Raw(
		`SELECT id, charge_id, origin, url, status, attempts, last_error, next_retry_at, created_at, updated_at
		 FROM webhook_deliveries WHERE id = ?`,
		id,
	).Scan(&delivery).Error
	if err != nil {
		return nil, err
	}
	if delivery.ID == 0 {
		return nil, nil
	}
	return &delivery, nil
}

func (r *repo) MarkSent(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE webhook_deliveries
		 SET status = ?, attempts = attempts + 1, last_error = NULL, next_retry_at = NULL, updated_at = ?
		 WHERE id = ? AND status <> ?`,
		domain.DeliverySent,
		at,
		id,
		domain.DeliverySent,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, attempts int, lastError string, nextRetryAt time.Time, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE webhook_deliveries
		 SET status = ?, attempts = ?, last_error = ?, next_retry_at = ?, updated_at = ?
		 WHERE id = ? AND status <> ?`,
		domain.DeliveryFailed,
		attempts,
		lastError,
		nextRetryAt,
		at,
		id,
		domain.DeliverySent,
	).Error
}

func (r *repo) ListByCharge(ctx context.Context, db *gorm.DB, chargeID snowflake.ID) ([]domain.WebhookDelivery, error) {
	var deliveries []domain.WebhookDelivery
	err := db.WithContext(ctx).Raw(
		`SELECT id, charge_id, origin, url, status, attempts, last_error, next_retry_at, created_at, updated_at
		 FROM webhook_deliveries WHERE charge_id = ?
		 ORDER BY created_at DESC, id DESC`,
		chargeID,
	).Scan(&deliveries).Error
	if err != nil {
		return nil, err
	}
	return deliveries, nil
}

func (r *repo) CountAutoByCharge(ctx context.Context, db *gorm.DB, chargeID snowflake.ID) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(*) FROM webhook_deliveries WHERE charge_id = ? AND origin = ?`,
		chargeID,
		domain.OriginAuto,
	).Scan(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}
