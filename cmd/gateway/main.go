package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/matheusscotini/payment-gateway/internal/audit"
	"github.com/matheusscotini/payment-gateway/internal/charge"
	"github.com/matheusscotini/payment-gateway/internal/clock"
	"github.com/matheusscotini/payment-gateway/internal/config"
	"github.com/matheusscotini/payment-gateway/internal/idempotency"
	"github.com/matheusscotini/payment-gateway/internal/migration"
	"github.com/matheusscotini/payment-gateway/internal/observability"
	"github.com/matheusscotini/payment-gateway/internal/queue"
	"github.com/matheusscotini/payment-gateway/internal/server"
	"github.com/matheusscotini/payment-gateway/internal/webhook"
	"github.com/matheusscotini/payment-gateway/internal/worker"
	"github.com/matheusscotini/payment-gateway/pkg/db"
	"go.uber.org/fx"
)

// The gateway binary is the all-in-one deployment: HTTP API plus both
// queue consumers in a single process.
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

		migration.Module,
		server.Module,
		worker.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
