package main

import (
	"context"
	"fmt"
	"time"

	"github.com/hilthontt/parley/internal/domain"
	"github.com/hilthontt/parley/internal/fanout"
	"github.com/hilthontt/parley/internal/infrastructure/configs"
	"github.com/hilthontt/parley/internal/infrastructure/logging"
	"github.com/hilthontt/parley/internal/infrastructure/ratelimiter"
	"github.com/hilthontt/parley/internal/infrastructure/storage"
	"github.com/hilthontt/parley/internal/persistence/memory"
	"github.com/hilthontt/parley/internal/persistence/mongodb"
	"github.com/hilthontt/parley/internal/persistence/postgres"
	"github.com/hilthontt/parley/internal/presentation/handler/health"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

type roomStore struct {
	store     domain.RoomStore
	directory domain.Directory
	close     func()
}

// openRoomStore connects to postgres when a DSN is configured and falls
// back to the in-memory store otherwise.
func openRoomStore(ctx context.Context, cfg configs.PostgresConfig, logger logging.Logger, checks map[string]health.Check) (*roomStore, error) {
	if cfg.DSN == "" {
		logger.Warn(logging.Postgres, logging.Startup, "no postgres dsn configured, using the in-memory room store", nil)
		return &roomStore{
			store:     memory.NewStore(),
			directory: memory.NewDirectory(),
			close:     func() {},
		}, nil
	}

	db, err := postgres.Open(ctx, postgres.Config{
		DSN:          cfg.DSN,
		MaxOpenConns: cfg.MaxOpenConns,
		MaxIdleConns: cfg.MaxIdleConns,
		MaxLifetime:  cfg.MaxLifetime,
	}, logger)
	if err != nil {
		return nil, err
	}
	if err := postgres.Migrate(db, logger); err != nil {
		postgres.Close(db)
		return nil, err
	}

	checks["postgres"] = func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	}

	return &roomStore{
		store:     postgres.NewStore(db),
		directory: postgres.NewDirectory(db),
		close: func() {
			if err := postgres.Close(db); err != nil {
				logger.Error(logging.Postgres, logging.Shutdown, "failed to close postgres", map[logging.ExtraKey]any{
					logging.ErrorMessage: err.Error(),
				})
			}
		},
	}, nil
}

func openBlobStore(cfg configs.StorageConfig) (storage.BlobStore, error) {
	switch cfg.Driver {
	case "s3":
		return storage.NewS3Storage(storage.S3Config{
			Bucket:   cfg.Bucket,
			Region:   cfg.Region,
			Endpoint: cfg.Endpoint,
		})
	case "local", "":
		return storage.NewLocalStorage(cfg.BasePath)
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
}

// openAuditRepository connects to mongodb when a URI is configured and keeps
// the audit trail in memory otherwise.
func openAuditRepository(ctx context.Context, cfg configs.MongoConfig, logger logging.Logger, checks map[string]health.Check) (domain.AuditRepository, func(), error) {
	if cfg.URI == "" {
		logger.Warn(logging.MongoDB, logging.Startup, "no mongo uri configured, keeping the audit log in memory", nil)
		return memory.NewAuditLog(), func() {}, nil
	}

	client, err := mongodb.NewClient(ctx, &mongodb.Config{
		URI:      cfg.URI,
		Database: cfg.Database,
	}, logger)
	if err != nil {
		return nil, nil, err
	}

	repo := mongodb.NewAuditRepository(client.Database(cfg.Database))
	if err := repo.EnsureIndexes(ctx); err != nil {
		mongodb.Disconnect(ctx, client)
		return nil, nil, err
	}

	checks["mongodb"] = func(ctx context.Context) error {
		return client.Ping(ctx, readpref.Primary())
	}

	return repo, func() {
		if err := mongodb.Disconnect(context.Background(), client); err != nil {
			logger.Error(logging.MongoDB, logging.Shutdown, "failed to disconnect mongodb", map[logging.ExtraKey]any{
				logging.ErrorMessage: err.Error(),
			})
		}
	}, nil
}

// openNotifier delivers through NATS when a URL is configured so every
// instance sees every event, and straight to the local hub otherwise.
func openNotifier(cfg configs.NATSConfig, local fanout.Deliverer, logger logging.Logger, checks map[string]health.Check) (fanout.Notifier, func(), error) {
	if cfg.URL == "" {
		return fanout.NewLocal(local), func() {}, nil
	}

	nc, err := nats.Connect(cfg.URL,
		nats.Name("parley"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn(logging.NATS, logging.Disconnect, "nats disconnected", map[logging.ExtraKey]any{
					logging.ErrorMessage: err.Error(),
				})
			}
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to nats: %w", err)
	}

	relay := fanout.NewNATSRelay(nc, local, logger)
	if err := relay.Start(); err != nil {
		nc.Close()
		return nil, nil, err
	}

	checks["nats"] = func(context.Context) error {
		if !nc.IsConnected() {
			return fmt.Errorf("nats status %s", nc.Status())
		}
		return nil
	}

	return relay, func() {
		if err := relay.Close(); err != nil {
			logger.Warn(logging.NATS, logging.Shutdown, "failed to unsubscribe relay", map[logging.ExtraKey]any{
				logging.ErrorMessage: err.Error(),
			})
		}
		nc.Drain()
	}, nil
}

type limiters struct {
	http    ratelimiter.Limiter
	command ratelimiter.Limiter
}

// openLimiters builds the HTTP and command limiters. The redis backend
// shares budgets between instances; it falls back to memory when redis is
// unreachable at startup.
func openLimiters(ctx context.Context, cfg *configs.Config, logger logging.Logger, checks map[string]health.Check) (limiters, func()) {
	limit, window := ratelimiter.Window(cfg.RateLimiter.MaxRatePerSecond, cfg.RateLimiter.MaxBurst)

	if cfg.RateLimiter.Backend == "redis" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err == nil {
			checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
			rl := ratelimiter.NewRedisRateLimiter(client, limit, window, cfg.RateLimiter.CacheTTL, logger)
			return limiters{http: rl, command: rl}, func() { client.Close() }
		}

		logger.Warn(logging.Redis, logging.Startup, "redis unreachable, using in-memory rate limiting", map[logging.ExtraKey]any{
			logging.ErrorMessage: err.Error(),
		})
		client.Close()
	}

	httpLimiter := ratelimiter.NewFixedWindowRateLimiter(limit, window)
	commandLimiter := ratelimiter.NewFixedWindowRateLimiter(limit, window)
	return limiters{http: httpLimiter, command: commandLimiter}, func() {
		httpLimiter.Close()
		commandLimiter.Close()
	}
}
