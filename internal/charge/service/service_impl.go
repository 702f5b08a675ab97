package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/matheusscotini/payment-gateway/internal/audit/domain"
	"github.com/matheusscotini/payment-gateway/internal/charge/domain"
	"github.com/matheusscotini/payment-gateway/internal/clock"
	idemdomain "github.com/matheusscotini/payment-gateway/internal/idempotency/domain"
	"github.com/matheusscotini/payment-gateway/internal/observability/metrics"
	"github.com/matheusscotini/payment-gateway/internal/queue"
	webhookdomain "github.com/matheusscotini/payment-gateway/internal/webhook/domain"
	pkgdb "github.com/matheusscotini/payment-gateway/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	GenID      *snowflake.Node
	Repo       domain.Repository
	Events     auditdomain.Repository
	Deliveries webhookdomain.Repository
	Idem       idemdomain.Coordinator
	Enqueuer   queue.Enqueuer
	Metrics    *metrics.Metrics
}

type service struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	genID      *snowflake.Node
	repo       domain.Repository
	events     auditdomain.Repository
	deliveries webhookdomain.Repository
	idem       idemdomain.Coordinator
	enqueuer   queue.Enqueuer
	metrics    *metrics.Metrics
}

func New(p Params) domain.Service {
	return &service{
		db:         p.DB,
		log:        p.Log,
		clock:      p.Clock,
		genID:      p.GenID,
		repo:       p.Repo,
		events:     p.Events,
		deliveries: p.Deliveries,
		idem:       p.Idem,
		enqueuer:   p.Enqueuer,
		metrics:    p.Metrics,
	}
}

func (s *service) Create(ctx context.Context, merchantID snowflake.ID, key string, req domain.CreateChargeRequest) (domain.Snapshot, error) {
	if err := req.Validate(); err != nil {
		return domain.Snapshot{}, err
	}

	result, created, err := s.idem.Resolve(ctx, merchantID, key, req, func(tx *gorm.DB) (snowflake.ID, any, error) {
		now := s.clock.Now()
		charge := &domain.Charge{
			ID:                s.genID.Generate(),
			MerchantID:        merchantID,
			Amount:            req.Amount,
			Currency:          req.Currency,
			Status:            domain.ChargePending,
			CustomerName:      req.Customer.Name,
			CustomerEmail:     req.Customer.Email,
			PaymentMethodType: req.PaymentMethod.Type,
			CardLast4:         domain.CardLast4(req.PaymentMethod.Token),
			WebhookURL:        req.WebhookURL,
			Metadata:          datatypes.JSONMap(req.Metadata),
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if err := s.repo.Insert(ctx, tx, charge); err != nil {
			return 0, nil, err
		}
		if err := s.events.Append(ctx, tx, &auditdomain.Event{
			ID:       s.genID.Generate(),
			ChargeID: charge.ID,
			Type:     auditdomain.EventChargeCreated,
			Payload: datatypes.JSONMap{
				"amount":   charge.Amount,
				"currency": charge.Currency,
			},
			CreatedAt: now,
		}); err != nil {
			return 0, nil, err
		}
		// The task is pushed before the transaction commits. A failed
		// push rolls everything back, leaving the key free for a
		// retry; a task that races ahead of the commit no-ops in
		// Process because the charge is not visible yet.
		if err := s.enqueuer.Enqueue(ctx, queue.QueueChargeProcessing, domain.ProcessPayload{
			ChargeID: charge.ID.String(),
		}); err != nil {
			return 0, nil, err
		}
		return charge.ID, domain.Snapshot{
			ID:        charge.ID.String(),
			Status:    string(domain.ChargePending),
			Amount:    charge.Amount,
			Currency:  charge.Currency,
			CreatedAt: now.UTC().Format(time.RFC3339Nano),
		}, nil
	})
	if err != nil {
		return domain.Snapshot{}, err
	}

	if created {
		s.metrics.RecordChargeCreated(ctx, req.Currency)
	}

	var snapshot domain.Snapshot
	if err := json.Unmarshal(result.Response, &snapshot); err != nil {
		return domain.Snapshot{}, err
	}
	return snapshot, nil
}

// Process advances a charge through the settlement machine. Every step
// is a guarded status update, so concurrent or repeated deliveries of
// the same task converge without duplicating events or deliveries.
func (s *service) Process(ctx context.Context, chargeID snowflake.ID) error {
	charge, err := s.repo.FindByID(ctx, s.db, chargeID)
	if err != nil {
		return err
	}
	if charge == nil {
		s.log.Warn("dropping task for unknown charge", zap.Int64("charge_id", chargeID.Int64()))
		return nil
	}

	if charge.Status == domain.ChargePending {
		if _, err := s.transition(ctx, charge, domain.ChargeProcessing, auditdomain.EventChargeProcessing, nil); err != nil {
			return err
		}
	}

	if charge.Status == domain.ChargeProcessing {
		outcome, eventType, payload := settle(charge.CardLast4)
		won, err := s.transition(ctx, charge, outcome, eventType, payload)
		if err != nil {
			return err
		}
		if won {
			s.metrics.RecordSettlement(ctx, strings.ToLower(string(outcome)))
		}
	}

	if charge.Status.Terminal() {
		return s.ensureDeliveryEnqueued(ctx, charge)
	}
	return nil
}

func (s *service) GetDetails(ctx context.Context, merchantID snowflake.ID, id string) (*domain.Details, error) {
	chargeID, err := snowflake.ParseString(id)
	if err != nil {
		return nil, domain.ErrChargeNotFound
	}
	charge, err := s.repo.FindByMerchant(ctx, s.db, merchantID, chargeID)
	if err != nil {
		return nil, err
	}
	if charge == nil {
		return nil, domain.ErrChargeNotFound
	}
	events, err := s.events.ListByCharge(ctx, s.db, charge.ID)
	if err != nil {
		return nil, err
	}
	deliveries, err := s.deliveries.ListByCharge(ctx, s.db, charge.ID)
	if err != nil {
		return nil, err
	}
	return &domain.Details{
		Charge:            *charge,
		Events:            events,
		WebhookDeliveries: deliveries,
	}, nil
}

// settle decides the simulated outcome of a processing charge. Tokens
// ending in 0000 always decline.
func settle(cardLast4 string) (domain.ChargeStatus, auditdomain.EventType, datatypes.JSONMap) {
	if cardLast4 == "0000" {
		return domain.ChargeFailed, auditdomain.EventChargeFailed, datatypes.JSONMap{"reason": "card_declined"}
	}
	return domain.ChargePaid, auditdomain.EventChargePaid, nil
}

// transition performs one guarded status update, appending its audit
// event in the same transaction. When the guard loses, the charge is
// reloaded so the caller sees where the winner left it.
func (s *service) transition(ctx context.Context, charge *domain.Charge, to domain.ChargeStatus, eventType auditdomain.EventType, payload datatypes.JSONMap) (bool, error) {
	won := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.clock.Now()
		ok, err := s.repo.UpdateStatus(ctx, tx, charge.ID, charge.Status, to, now)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		won = true
		return s.events.Append(ctx, tx, &auditdomain.Event{
			ID:        s.genID.Generate(),
			ChargeID:  charge.ID,
			Type:      eventType,
			Payload:   payload,
			CreatedAt: now,
		})
	})
	if err != nil {
		return false, err
	}
	if won {
		charge.Status = to
		return true, nil
	}
	fresh, err := s.repo.FindByID(ctx, s.db, charge.ID)
	if err != nil {
		return false, err
	}
	if fresh != nil {
		*charge = *fresh
	}
	return false, nil
}

// ensureDeliveryEnqueued creates the automatic notification for a
// settled charge if none exists yet. Only AUTO deliveries count toward
// the check, so a manual retry issued before settlement cannot suppress
// it. The enqueue happens inside the transaction so a failed push rolls
// the row back and the processing task retries; a committed row whose
// task raced ahead is harmless because delivery of an unknown row is a
// no-op.
func (s *service) ensureDeliveryEnqueued(ctx context.Context, charge *domain.Charge) error {
	count, err := s.deliveries.CountAutoByCharge(ctx, s.db, charge.ID)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	now := s.clock.Now()
	delivery := &webhookdomain.WebhookDelivery{
		ID:        s.genID.Generate(),
		ChargeID:  charge.ID,
		Origin:    webhookdomain.OriginAuto,
		URL:       charge.WebhookURL,
		Status:    webhookdomain.DeliveryPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.deliveries.Insert(ctx, tx, delivery); err != nil {
			return err
		}
		if err := s.events.Append(ctx, tx, &auditdomain.Event{
			ID:       s.genID.Generate(),
			ChargeID: charge.ID,
			Type:     auditdomain.EventWebhookEnqueued,
			Payload: datatypes.JSONMap{
				"delivery_id": delivery.ID.String(),
				"url":         delivery.URL,
			},
			CreatedAt: now,
		}); err != nil {
			return err
		}
		return s.enqueuer.Enqueue(ctx, queue.QueueWebhookDelivery, webhookdomain.DeliverPayload{
			DeliveryID: delivery.ID.String(),
		})
	})
	if pkgdb.IsDuplicateKeyErr(err) {
		// A concurrent worker inserted the AUTO delivery between the
		// count and the insert; its unique index makes this a no-op.
		return nil
	}
	return err
}
