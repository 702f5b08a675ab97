package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/matheusscotini/payment-gateway/internal/clock"
	"github.com/matheusscotini/payment-gateway/internal/idempotency/domain"
	"github.com/matheusscotini/payment-gateway/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
	Repo  domain.Repository
}

type service struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
	repo  domain.Repository
}

func New(p Params) domain.Coordinator {
	return &service{
		db:    p.DB,
		log:   p.Log,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *service) Resolve(ctx context.Context, merchantID snowflake.ID, key string, requestBody any, effect domain.CreateEffect) (domain.Result, bool, error) {
	hash, err := fingerprint(requestBody)
	if err != nil {
		return domain.Result{}, false, err
	}

	record, err := s.repo.Find(ctx, s.db, merchantID, key)
	if err != nil {
		return domain.Result{}, false, err
	}
	if record != nil {
		return s.replay(record, hash)
	}

	var result domain.Result
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		chargeID, response, err := effect(tx)
		if err != nil {
			return err
		}

		snapshot, err := json.Marshal(response)
		if err != nil {
			return fmt.Errorf("marshal response snapshot: %w", err)
		}

		if err := s.repo.Insert(ctx, tx, &domain.Record{
			MerchantID:       merchantID,
			Key:              key,
			RequestHash:      hash,
			ChargeID:         chargeID,
			ResponseSnapshot: snapshot,
			CreatedAt:        s.clock.Now(),
		}); err != nil {
			return err
		}

		result = domain.Result{ChargeID: chargeID, Response: snapshot}
		return nil
	})
	if txErr == nil {
		return result, true, nil
	}
	if !db.IsDuplicateKeyErr(txErr) {
		return domain.Result{}, false, txErr
	}

	// Lost the first-use race. The transaction, charge included, is
	// rolled back; converge on whatever the winner recorded.
	winner, err := s.repo.Find(ctx, s.db, merchantID, key)
	if err != nil {
		return domain.Result{}, false, err
	}
	if winner == nil {
		return domain.Result{}, false, txErr
	}
	s.log.Debug("idempotency key race lost, replaying winner",
		zap.Int64("merchant_id", merchantID.Int64()),
		zap.String("key", key),
	)
	return s.replay(winner, hash)
}

func (s *service) replay(record *domain.Record, hash string) (domain.Result, bool, error) {
	if record.RequestHash != hash {
		return domain.Result{}, false, domain.ErrKeyConflict
	}
	return domain.Result{ChargeID: record.ChargeID, Response: record.ResponseSnapshot}, false, nil
}

func fingerprint(requestBody any) (string, error) {
	body, err := json.Marshal(requestBody)
	if err != nil {
		return "", fmt.Errorf("marshal request body: %w", err)
	}
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:]), nil
}
