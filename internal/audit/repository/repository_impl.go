package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/matheusscotini/payment-gateway/internal/audit/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Append(ctx context.Context, db *gorm.DB, event *domain.Event) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO events (id, charge_id, type, payload, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		event.ID,
		event.ChargeID,
		event.Type,
		event.Payload,
		event.CreatedAt,
	).Error
}

func (r *repo) ListByCharge(ctx context.Context, db *gorm.DB, chargeID snowflake.ID) ([]domain.Event, error) {
	var events []domain.Event
	err := db.WithContext(ctx).
		Model(&domain.Event{}).
		Where("charge_id = ?", chargeID).
		Order("created_at asc, id asc").
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}
