package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/matheusscotini/payment-gateway/internal/audit"
	"github.com/matheusscotini/payment-gateway/internal/charge"
	"github.com/matheusscotini/payment-gateway/internal/clock"
	"github.com/matheusscotini/payment-gateway/internal/config"
	"github.com/matheusscotini/payment-gateway/internal/idempotency"
	"github.com/matheusscotini/payment-gateway/internal/observability"
	"github.com/matheusscotini/payment-gateway/internal/queue"
	"github.com/matheusscotini/payment-gateway/internal/webhook"
	"github.com/matheusscotini/payment-gateway/internal/worker"
	"github.com/matheusscotini/payment-gateway/pkg/db"
	"go.uber.org/fx"
)

// The worker binary runs only the queue consumers, for deployments that
// scale processing independently of the API. Schema migration is owned
// by the gateway binary.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		queue.Module,

		audit.Module,
		idempotency.Module,
		charge.Module,
		webhook.Module,

		worker.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(2)
	if err != nil {
		panic(err)
	}
	return node
}
