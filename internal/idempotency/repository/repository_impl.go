package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/matheusscotini/payment-gateway/internal/idempotency/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, record *domain.Record) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO idempotency_keys (merchant_id, key, request_hash, charge_id, response_snapshot, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		record.MerchantID,
		record.Key,
		record.RequestHash,
		record.ChargeID,
		record.ResponseSnapshot,
		record.CreatedAt,
	).Error
}

func (r *repo) Find(ctx context.Context, db *gorm.DB, merchantID snowflake.ID, key string) (*domain.Record, error) {
	var record domain.Record
	err := db.WithContext(ctx).Raw(
		`SELECT merchant_id, key, request_hash, charge_id, response_snapshot, created_at
		 FROM idempotency_keys WHERE merchant_id = ? AND key = ?`,
		merchantID,
		key,
	).Scan(&record).Error
	if err != nil {
		return nil, err
	}
	if record.Key == "" {
		return nil, nil
	}
	return &record, nil
}
