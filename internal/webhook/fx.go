package webhook

import (
	"github.com/matheusscotini/payment-gateway/internal/webhook/repository"
	"github.com/matheusscotini/payment-gateway/internal/webhook/service"
	"go.uber.org/fx"
)

var Module = fx.Module("webhook.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
