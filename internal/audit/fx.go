package audit

import (
	"github.com/matheusscotini/payment-gateway/internal/audit/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("audit.repository",
	fx.Provide(repository.Provide),
)
