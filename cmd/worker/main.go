package main

import (
	"log"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	taskq "digitalstore/pkg/asynq"
	"digitalstore/pkg/config"
	"digitalstore/pkg/db"
	"digitalstore/pkg/featureflags"
	"digitalstore/pkg/logger"
	"digitalstore/pkg/redis"
	"digitalstore/services/catalog"
	"digitalstore/services/entitlement"
	"digitalstore/services/order"
)

// The worker runs the asynq consumer side only: it shares the service
// layer with the storefront but mounts no HTTP routes.
func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		featureflags.Module,
		fx.Provide(
			provideSnowflakeNode,
			catalog.NewService,
			order.NewService,
			entitlement.NewIndex,
			entitlement.NewService,
			func(i *entitlement.Index) order.PurchaseChecker { return i },
		),
		entitlement.TaskModule,
		taskq.Server,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})

func provideSnowflakeNode() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}
