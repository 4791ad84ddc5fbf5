package main

import (
	"context"
	"log"
	"os"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"

	taskq "digitalstore/pkg/asynq"
	"digitalstore/pkg/authz"
	"digitalstore/pkg/config"
	"digitalstore/pkg/db"
	"digitalstore/pkg/featureflags"
	"digitalstore/pkg/health"
	"digitalstore/pkg/logger"
	"digitalstore/pkg/minio"
	"digitalstore/pkg/otelcol"
	"digitalstore/pkg/otelcol/exporters"
	"digitalstore/pkg/profiling"
	"digitalstore/pkg/redis"
	"digitalstore/pkg/secretmanager"
	"digitalstore/pkg/server"
	"digitalstore/pkg/session"
	"digitalstore/services/catalog"
	"digitalstore/services/customer"
	"digitalstore/services/download"
	"digitalstore/services/entitlement"
	"digitalstore/services/order"
)

func main() {
	opts := []fx.Option{
		config.Module,
	}
	if os.Getenv("VAULT_ADDR") != "" {
		opts = append(opts, secretmanager.Module)
	}

	opts = append(opts,
		logger.Module,
		db.Module,
		redis.Module,
		taskq.Client,
		minio.Client,
		session.Module,
		authz.Module,
		featureflags.Module,
		profiling.Module,
		health.Module,
		fx.Provide(
			provideTracerProvider,
			provideMeterProvider,
			provideSnowflakeNode,
		),
		fx.Invoke(
			migrate,
			db.Otel,
			registerTracing,
		),
		catalog.Module,
		customer.Module,
		order.Module,
		entitlement.Module,
		download.Module,
		server.ProvideHTTPServer,
		fxLogger,
	)

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})

func provideTracerProvider() trace.TracerProvider {
	return otel.GetTracerProvider()
}

func provideMeterProvider() metric.MeterProvider {
	return otel.GetMeterProvider()
}

func provideSnowflakeNode() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}

func migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(
		&catalog.FileAsset{},
		&catalog.Product{},
		&catalog.Variant{},
		&customer.Customer{},
		&order.Order{},
		&order.OrderItem{},
		&order.PaymentEvent{},
		&entitlement.Entitlement{},
		&entitlement.DownloadLog{},
	)
}

func registerTracing(lc fx.Lifecycle, cfg *config.Config) error {
	if cfg.Otel.Addr == "" {
		return nil
	}

	exporter, err := exporters.ProvideHttp(cfg)
	if err != nil {
		return err
	}

	provider := otelcol.ProvideTrace(exporter)
	otel.SetTracerProvider(provider)

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return provider.Shutdown(ctx)
		},
	})

	return nil
}
