package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/matheusscotini/payment-gateway/internal/charge/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, charge *domain.Charge) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO charges (id, merchant_id, amount, currency, status, customer_name, customer_email, payment_method_type, card_last4, webhook_url, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		charge.ID,
		charge.MerchantID,
		charge.Amount,
		charge.Currency,
		charge.Status,
		charge.CustomerName,
		charge.CustomerEmail,
		charge.PaymentMethodType,
		charge.CardLast4,
		charge.WebhookURL,
		charge.Metadata,
		charge.CreatedAt,
		charge.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Charge, error) {
	var charge domain.Charge
	err := db.WithContext(ctx).Raw(
		`SELECT id, merchant_id, amount, currency, status, customer_name, customer_email, payment_method_type, card_last4, webhook_url, metadata, created_at, updated_at
		 FROM charges WHERE id = ?`,
		id,
	).Scan(&charge).Error
	if err != nil {
		return nil, err
	}
	if charge.ID == 0 {
		return nil, nil
	}
	return &charge, nil
}

func (r *repo) FindByMerchant(ctx context.Context, db *gorm.DB, merchantID, id snowflake.ID) (*domain.Charge, error) {
	var charge domain.Charge
	err := db.WithContext(ctx).Raw(
		`SELECT id, merchant_id, amount, currency, status, customer_name, customer_email, payment_method_type, card_last4, webhook_url, metadata, created_at, updated_at
		 FROM charges WHERE merchant_id = ? AND id = ?`,
		merchantID,
		id,
	).Scan(&charge).Error
	if err != nil {
		return nil, err
	}
	if charge.ID == 0 {
		return nil, nil
	}
	return &charge, nil
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to domain.ChargeStatus, at time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE charges SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		to,
		at,
		id,
		from,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
