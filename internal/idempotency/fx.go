package idempotency

import (
	"github.com/matheusscotini/payment-gateway/internal/idempotency/repository"
	"github.com/matheusscotini/payment-gateway/internal/idempotency/service"
	"go.uber.org/fx"
)

var Module = fx.Module("idempotency.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
