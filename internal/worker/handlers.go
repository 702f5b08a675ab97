package worker

import (
	"context"

	"github.com/bwmarrin/snowflake"
	chargedomain "github.com/matheusscotini/payment-gateway/internal/charge/domain"
	"github.com/matheusscotini/payment-gateway/internal/queue"
	webhookdomain "github.com/matheusscotini/payment-gateway/internal/webhook/domain"
	"go.uber.org/zap"
)

type chargeHandler struct {
	charges chargedomain.Service
	log     *zap.Logger
}

func (h *chargeHandler) Handle(ctx context.Context, task *queue.Task) error {
	var payload chargedomain.ProcessPayload
	if err := task.Decode(&payload); err != nil {
		h.log.Error("drop malformed charge task", zap.String("task_id", task.ID), zap.Error(err))
		return nil
	}
	id, err := snowflake.ParseString(payload.ChargeID)
	if err != nil {
		h.log.Error("drop charge task with bad id", zap.String("charge_id", payload.ChargeID))
		return nil
	}
	return h.charges.Process(ctx, id)
}

// Redelivery carries all the retry state a charge task needs; nothing to
// persist per attempt.
func (h *chargeHandler) OnFailure(ctx context.Context, task *queue.Task, cause error) error {
	return nil
}

type webhookHandler struct {
	webhooks webhookdomain.Service
	log      *zap.Logger
}

func (h *webhookHandler) Handle(ctx context.Context, task *queue.Task) error {
	var payload webhookdomain.DeliverPayload
	if err := task.Decode(&payload); err != nil {
		h.log.Error("drop malformed delivery task", zap.String("task_id", task.ID), zap.Error(err))
		return nil
	}
	id, err := snowflake.ParseString(payload.DeliveryID)
	if err != nil {
		h.log.Error("drop delivery task with bad id", zap.String("delivery_id", payload.DeliveryID))
		return nil
	}
	return h.webhooks.Deliver(ctx, id)
}

func (h *webhookHandler) OnFailure(ctx context.Context, task *queue.Task, cause error) error {
	var payload webhookdomain.DeliverPayload
	if err := task.Decode(&payload); err != nil {
		return err
	}
	id, err := snowflake.ParseString(payload.DeliveryID)
	if err != nil {
		return err
	}
	h.webhooks.RecordFailure(ctx, id, task.Attempts, cause.Error())
	return nil
}
