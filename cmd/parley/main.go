package main

import (
	"context"
	"expvar"
	"log"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/hilthontt/parley/internal/infrastructure/auth"
	"github.com/hilthontt/parley/internal/infrastructure/configs"
	"github.com/hilthontt/parley/internal/infrastructure/contracts"
	"github.com/hilthontt/parley/internal/infrastructure/events"
	"github.com/hilthontt/parley/internal/infrastructure/logging"
	"github.com/hilthontt/parley/internal/infrastructure/messaging"
	"github.com/hilthontt/parley/internal/infrastructure/tracing"
	"github.com/hilthontt/parley/internal/infrastructure/ws"
	"github.com/hilthontt/parley/internal/presence"
	"github.com/hilthontt/parley/internal/presentation/api"
	"github.com/hilthontt/parley/internal/presentation/handler/health"
	"github.com/hilthontt/parley/internal/presentation/handler/messages"
	presenceHandler "github.com/hilthontt/parley/internal/presentation/handler/presence"
	"github.com/hilthontt/parley/internal/presentation/handler/rooms"
	"github.com/hilthontt/parley/internal/processor"
	"github.com/hilthontt/parley/internal/router"
	amqp "github.com/rabbitmq/amqp091-go"
)

const serviceName = "parley"

func main() {
	configPath := configs.DetermineConfigPath()
	cfg, err := configs.Load(configPath)
	if err != nil {
		log.Fatal(err)
	}

	logger := logging.NewLogger(&cfg.Logger)

	// Deferred first so it runs last.
	registry := presence.NewRegistry(logger)
	defer registry.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Auth.Secret == "" {
		logger.Fatal(logging.General, logging.Startup, "auth.secret is required", nil)
	}

	tracerCfg := tracing.NewDefaultConfig(serviceName)
	tracerCfg.Endpoint = ""
	if cfg.Tracing.Enabled {
		tracerCfg.Endpoint = cfg.Tracing.Endpoint
		tracerCfg.SampleRatio = cfg.Tracing.SampleRatio
	}
	shutdownTracer, err := tracing.InitTracer(ctx, tracerCfg)
	if err != nil {
		logger.Fatal(logging.General, logging.Startup, "failed to initialize the tracer", map[logging.ExtraKey]any{
			logging.ErrorMessage: err.Error(),
		})
	}
	defer shutdownTracer(context.Background())

	checks := map[string]health.Check{}

	rs, err := openRoomStore(ctx, cfg.Postgres, logger, checks)
	if err != nil {
		logger.Fatal(logging.Postgres, logging.Startup, "failed to open room store", map[logging.ExtraKey]any{
			logging.ErrorMessage: err.Error(),
		})
	}
	defer rs.close()

	blobs, err := openBlobStore(cfg.Storage)
	if err != nil {
		logger.Fatal(logging.IO, logging.Startup, "failed to open blob store", map[logging.ExtraKey]any{
			logging.ErrorMessage: err.Error(),
		})
	}

	audit, closeAudit, err := openAuditRepository(ctx, cfg.Mongo, logger, checks)
	if err != nil {
		logger.Fatal(logging.MongoDB, logging.Startup, "failed to open audit log", map[logging.ExtraKey]any{
			logging.ErrorMessage: err.Error(),
		})
	}
	defer closeAudit()

	rabbitmq, err := messaging.NewRabbitMQ(messaging.Config{
		URI:           cfg.RabbitMQ.URI,
		DeliveryLimit: cfg.RabbitMQ.DeliveryLimit,
		Prefetch:      cfg.RabbitMQ.Prefetch,
	}, logger)
	if err != nil {
		logger.Fatal(logging.RabbitMQ, logging.Startup, "failed to connect to rabbitmq", map[logging.ExtraKey]any{
			logging.ErrorMessage: err.Error(),
		})
	}
	defer rabbitmq.Close()
	if err := rabbitmq.SetupTopology(); err != nil {
		logger.Fatal(logging.RabbitMQ, logging.Startup, "failed to declare topology", map[logging.ExtraKey]any{
			logging.ErrorMessage: err.Error(),
		})
	}
	checks["rabbitmq"] = rabbitmq.Ping

	hub := ws.NewHub(registry, logger, ws.DefaultConfig())

	notifier, closeRelay, err := openNotifier(cfg.NATS, hub, logger, checks)
	if err != nil {
		logger.Fatal(logging.NATS, logging.Startup, "failed to start fan-out relay", map[logging.ExtraKey]any{
			logging.ErrorMessage: err.Error(),
		})
	}
	defer closeRelay()
	lifecycle := events.NewLifecyclePublisher(notifier, rabbitmq, logger)

	rl, closeLimiters := openLimiters(ctx, cfg, logger, checks)
	defer closeLimiters()

	commandRouter := router.New(rabbitmq, lifecycle, rs.store, logger, router.WithLimiter(rl.command))
	hub.Bind(commandRouter, lifecycle)

	proc := processor.New(rs.store, rs.directory, blobs, lifecycle, logger, processor.Config{
		MaxRetries:     cfg.Processor.MaxRetries,
		InitialBackoff: cfg.Processor.InitialBackoff,
		MaxBackoff:     cfg.Processor.MaxBackoff,
		HistoryLimit:   cfg.Processor.HistoryLimit,
	})

	for _, queue := range contracts.CommandQueues() {
		err := rabbitmq.ConsumeMessages(ctx, queue, func(ctx context.Context, msg amqp.Delivery) error {
			return proc.HandleMessage(ctx, msg.Body)
		})
		if err != nil {
			logger.Fatal(logging.RabbitMQ, logging.Startup, "failed to start command consumer", map[logging.ExtraKey]any{
				logging.Queue:        queue,
				logging.ErrorMessage: err.Error(),
			})
		}
	}
	if err := events.NewAuditConsumer(rabbitmq, audit, logger).Listen(ctx); err != nil {
		logger.Fatal(logging.RabbitMQ, logging.Startup, "failed to start audit consumer", map[logging.ExtraKey]any{
			logging.ErrorMessage: err.Error(),
		})
	}
	if err := events.NewDeadLetterConsumer(rabbitmq, audit, logger).Listen(ctx); err != nil {
		logger.Fatal(logging.RabbitMQ, logging.Startup, "failed to start dead-letter consumer", map[logging.ExtraKey]any{
			logging.ErrorMessage: err.Error(),
		})
	}

	app := api.NewApplication(
		cfg.HTTP,
		cfg.RateLimiter,
		rooms.NewHandler(proc, commandRouter, registry, audit, logger),
		health.NewHandler(checks),
		messages.NewHandler(commandRouter, logger),
		presenceHandler.NewHandler(registry, hub, cfg.HTTP.AllowedOrigins, logger),
		auth.NewAuthenticator(cfg.Auth.Secret, cfg.Auth.Issuer),
		logger,
		rl.http,
	)

	expvar.Publish("goroutines", expvar.Func(func() any {
		return runtime.NumGoroutine()
	}))

	mux := app.Mount()
	if err := app.Run(ctx, mux); err != nil {
		logger.Error(logging.General, logging.Shutdown, "server stopped with error", map[logging.ExtraKey]any{
			logging.ErrorMessage: err.Error(),
		})
	}

	// Connections end before the broker goes away: their disconnect sweeps
	// still publish OUT commands.
	hub.Close()
}
