package charge

import (
	"github.com/matheusscotini/payment-gateway/internal/charge/repository"
	"github.com/matheusscotini/payment-gateway/internal/charge/service"
	"go.uber.org/fx"
)

var Module = fx.Module("charge.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
