package worker

import (
	chargedomain "github.com/matheusscotini/payment-gateway/internal/charge/domain"
	"github.com/matheusscotini/payment-gateway/internal/clock"
	"github.com/matheusscotini/payment-gateway/internal/config"
	"github.com/matheusscotini/payment-gateway/internal/observability/metrics"
	"github.com/matheusscotini/payment-gateway/internal/queue"
	webhookdomain "github.com/matheusscotini/payment-gateway/internal/webhook/domain"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("worker",
	fx.Invoke(register),
)

type Params struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    config.Config
	Redis     *redis.Client
	Clock     clock.Clock
	Log       *zap.Logger
	Metrics   *metrics.Metrics
	Charges   chargedomain.Service
	Webhooks  webhookdomain.Service
}

func register(p Params) {
	cfg := queue.Config{
		BaseRetryDelay: p.Config.Queue.BaseRetryDelay,
		MaxAttempts:    p.Config.Queue.MaxAttempts,
		Concurrency:    p.Config.Queue.Concurrency,
		PollTimeout:    p.Config.Queue.PollTimeout,
	}

	workers := []*queue.Worker{
		queue.NewWorker(queue.QueueChargeProcessing, p.Redis, p.Clock, p.Log, p.Metrics,
			&chargeHandler{charges: p.Charges, log: p.Log}, cfg),
		queue.NewWorker(queue.QueueWebhookDelivery, p.Redis, p.Clock, p.Log, p.Metrics,
			&webhookHandler{webhooks: p.Webhooks, log: p.Log}, cfg),
	}
	for _, w := range workers {
		w := w
		p.Lifecycle.Append(fx.Hook{
			OnStart: w.Start,
			OnStop:  w.Stop,
		})
	}
}
