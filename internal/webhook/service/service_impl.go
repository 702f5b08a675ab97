package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/matheusscotini/payment-gateway/internal/audit/domain"
	chargedomain "github.com/matheusscotini/payment-gateway/internal/charge/domain"
	"github.com/matheusscotini/payment-gateway/internal/clock"
	"github.com/matheusscotini/payment-gateway/internal/config"
	"github.com/matheusscotini/payment-gateway/internal/observability/metrics"
	"github.com/matheusscotini/payment-gateway/internal/queue"
	"github.com/matheusscotini/payment-gateway/internal/webhook/domain"
	"github.com/matheusscotini/payment-gateway/internal/webhook/signature"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Notification is the body posted to merchant endpoints.
type Notification struct {
	Type      string `json:"type"`
	ChargeID  string `json:"charge_id"`
	Status    string `json:"status"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	CreatedAt string `json:"created_at"`
}

type Params struct {
	fx.In

	Config   config.Config
	DB       *gorm.DB
	Log      *zap.Logger
	Clock    clock.Clock
	GenID    *snowflake.Node
	Repo     domain.Repository
	Charges  chargedomain.Repository
	Events   auditdomain.Repository
	Enqueuer queue.Enqueuer
	Metrics  *metrics.Metrics
}

type service struct {
	db        *gorm.DB
	log       *zap.Logger
	clock     clock.Clock
	genID     *snowflake.Node
	repo      domain.Repository
	charges   chargedomain.Repository
	events    auditdomain.Repository
	enqueuer  queue.Enqueuer
	metrics   *metrics.Metrics
	client    *http.Client
	secret    string
	baseDelay time.Duration
}

func New(p Params) domain.Service {
	return &service{
		db:       p.DB,
		log:      p.Log,
		clock:    p.Clock,
		genID:    p.GenID,
		repo:     p.Repo,
		charges:  p.Charges,
		events:   p.Events,
		enqueuer: p.Enqueuer,
		metrics:  p.Metrics,
		client: &http.Client{
			Timeout: p.Config.Webhook.RequestTimeout,
		},
		secret:    p.Config.Webhook.SigningSecret,
		baseDelay: p.Config.Queue.BaseRetryDelay,
	}
}

func (s *service) Deliver(ctx context.Context, deliveryID snowflake.ID) error {
	delivery, err := s.repo.FindByID(ctx, s.db, deliveryID)
	if err != nil {
		return err
	}
	if delivery == nil {
		s.log.Warn("dropping task for unknown delivery", zap.Int64("delivery_id", deliveryID.Int64()))
		return nil
	}
	if delivery.Status == domain.DeliverySent {
		return nil
	}

	charge, err := s.charges.FindByID(ctx, s.db, delivery.ChargeID)
	if err != nil {
		return err
	}
	if charge == nil {
		s.log.Warn("dropping delivery for unknown charge",
			zap.Int64("delivery_id", deliveryID.Int64()),
			zap.Int64("charge_id", delivery.ChargeID.Int64()),
		)
		return nil
	}
	if !charge.Status.Terminal() {
		// A manual retry can land before settlement. Failing the task
		// keeps it on the queue so it is redelivered once the charge
		// reaches a terminal status.
		return fmt.Errorf("charge %s not settled yet", charge.ID)
	}

	body, err := json.Marshal(Notification{
		Type:      eventTypeFor(charge.Status),
		ChargeID:  charge.ID.String(),
		Status:    string(charge.Status),
		Amount:    charge.Amount,
		Currency:  charge.Currency,
		CreatedAt: s.clock.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return err
	}

	statusCode, err := s.post(ctx, delivery.URL, body)
	if err != nil {
		s.metrics.RecordWebhookAttempt(ctx, "error")
		return err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := s.repo.MarkSent(ctx, tx, delivery.ID, s.clock.Now())
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		return s.events.Append(ctx, tx, &auditdomain.Event{
			ID:       s.genID.Generate(),
			ChargeID: charge.ID,
			Type:     auditdomain.EventWebhookSent,
			Payload: datatypes.JSONMap{
				"delivery_id": delivery.ID.String(),
				"url":         delivery.URL,
				"status_code": statusCode,
			},
			CreatedAt: s.clock.Now(),
		})
	})
	if err != nil {
		return err
	}
	s.metrics.RecordWebhookAttempt(ctx, "success")
	return nil
}

func (s *service) post(ctx context.Context, url string, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(signature.Header, signature.Sign(body, s.secret))

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("webhook endpoint returned HTTP %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

// RecordFailure is called by the queue after each failed attempt.
// Bookkeeping must never mask the delivery error, so everything here is
// logged and swallowed.
func (s *service) RecordFailure(ctx context.Context, deliveryID snowflake.ID, attempts int, cause string) {
	delivery, err := s.repo.FindByID(ctx, s.db, deliveryID)
	if err != nil || delivery == nil {
		s.log.Error("record delivery failure", zap.Int64("delivery_id", deliveryID.Int64()), zap.Error(err))
		return
	}

	nextRetryAt := s.clock.Now().Add(queue.Backoff(s.baseDelay, attempts))
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.MarkFailed(ctx, tx, delivery.ID, attempts, cause, nextRetryAt, s.clock.Now()); err != nil {
			return err
		}
		return s.events.Append(ctx, tx, &auditdomain.Event{
			ID:       s.genID.Generate(),
			ChargeID: delivery.ChargeID,
			Type:     auditdomain.EventWebhookFailed,
			Payload: datatypes.JSONMap{
				"delivery_id": delivery.ID.String(),
				"attempts":    attempts,
				"error":       cause,
			},
			CreatedAt: s.clock.Now(),
		})
	})
	if err != nil {
		s.log.Error("record delivery failure", zap.Int64("delivery_id", deliveryID.Int64()), zap.Error(err))
	}
}

// Retry always creates a fresh pending delivery, regardless of how any
// earlier delivery for the charge ended.
func (s *service) Retry(ctx context.Context, merchantID snowflake.ID, chargeID string) (domain.RetryResponse, error) {
	id, err := snowflake.ParseString(chargeID)
	if err != nil {
		return domain.RetryResponse{}, chargedomain.ErrChargeNotFound
	}
	charge, err := s.charges.FindByMerchant(ctx, s.db, merchantID, id)
	if err != nil {
		return domain.RetryResponse{}, err
	}
	if charge == nil {
		return domain.RetryResponse{}, chargedomain.ErrChargeNotFound
	}

	now := s.clock.Now()
	delivery := &domain.WebhookDelivery{
		ID:        s.genID.Generate(),
		ChargeID:  charge.ID,
		Origin:    domain.OriginManual,
		URL:       charge.WebhookURL,
		Status:    domain.DeliveryPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Insert(ctx, tx, delivery); err != nil {
			return err
		}
		if err := s.events.Append(ctx, tx, &auditdomain.Event{
			ID:       s.genID.Generate(),
			ChargeID: charge.ID,
			Type:     auditdomain.EventWebhookEnqueued,
			Payload: datatypes.JSONMap{
				"delivery_id": delivery.ID.String(),
				"url":         delivery.URL,
				"manual":      true,
			},
			CreatedAt: now,
		}); err != nil {
			return err
		}
		return s.enqueuer.Enqueue(ctx, queue.QueueWebhookDelivery, domain.DeliverPayload{
			DeliveryID: delivery.ID.String(),
		})
	})
	if err != nil {
		return domain.RetryResponse{}, err
	}
	return domain.RetryResponse{
		DeliveryID: delivery.ID.String(),
		Status:     "ENQUEUED",
	}, nil
}

func eventTypeFor(status chargedomain.ChargeStatus) string {
	if status == chargedomain.ChargePaid {
		return "charge.paid"
	}
	return "charge.failed"
}
