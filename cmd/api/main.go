package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/retail-backoffice/inventory-audit/internal/config"
	"github.com/retail-backoffice/inventory-audit/internal/db"
	"github.com/retail-backoffice/inventory-audit/internal/events"
	apphttp "github.com/retail-backoffice/inventory-audit/internal/http"
	"github.com/retail-backoffice/inventory-audit/internal/http/handlers"
	"github.com/retail-backoffice/inventory-audit/internal/locks"
	"github.com/retail-backoffice/inventory-audit/internal/repositories"
	"github.com/retail-backoffice/inventory-audit/internal/services"
	"github.com/retail-backoffice/inventory-audit/internal/tenant"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	if err := cfg.Validate(log); err != nil {
		log.Fatal("invalid config", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage
	backend, checks, closeStore, err := openBackend(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to open store", zap.String("driver", cfg.StoreDriver), zap.Error(err))
	}
	defer closeStore()

	// Redis (optional)
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		rdb, err = db.NewRedisClient(ctx, cfg.RedisURL, log)
		if err != nil {
			log.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer rdb.Close()
		checks = append(checks, apphttp.HealthCheck{Name: "redis", Check: db.RedisHealthcheck(rdb)})
	}

	// Events and locks
	var publisher events.Publisher
	var subscriber events.Subscriber
	var locker locks.SessionLocker = locks.NoopLocker{}
	if rdb != nil {
		publisher = events.NewRedisPublisher(rdb, log)
		subscriber = events.NewRedisSubscriber(rdb, log)
		locker = locks.NewRedisSessionLocker(rdb, cfg.SessionLockTTL, log)
	} else {
		bus := events.NewLocalBus()
		publisher, subscriber = bus, bus
	}

	// Services
	resolver := tenant.NewCachedResolver(backend, cfg.TenantCacheSize, cfg.TenantCacheTTL, log)
	sessionService := services.NewAuditSessionService(resolver, publisher, locker, log)

	var catalog *services.CatalogClient
	if cfg.CatalogInternalURL != "" {
		catalog = services.NewCatalogClient(cfg.CatalogInternalURL, log)
	}
	enricher := services.NewEnricher(catalog, log)

	// Handlers
	auditHandler := handlers.NewAuditSessionHandler(sessionService, enricher, log)
	wsHub := handlers.NewWSHub(cfg, subscriber, log)
	wsHub.Start(ctx)

	app := fiber.New(fiber.Config{
		ErrorHandler: apphttp.ErrorHandler(log),
	})
	apphttp.SetupRouter(app, cfg, log, rdb, auditHandler, wsHub, checks)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")
		cancel()
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf(":%s", cfg.APIPort)
	log.Info("starting API server", zap.String("addr", addr), zap.String("store_driver", cfg.StoreDriver))
	if err := app.Listen(addr); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}

// openBackend connects the configured store driver. The returned func
// releases its connections.
func openBackend(ctx context.Context, cfg *config.Config, log *zap.Logger) (tenant.Backend, []apphttp.HealthCheck, func(), error) {
	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := db.RunMigrations(ctx, pool, cfg.MigrationsDir, log); err != nil {
			pool.Close()
			return nil, nil, nil, fmt.Errorf("run migrations: %w", err)
		}
		checks := []apphttp.HealthCheck{{Name: "postgres", Check: db.PostgresHealthcheck(pool)}}
		return repositories.NewPostgresBackend(pool), checks, pool.Close, nil

	case config.StoreDriverMongo:
		mcfg, err := config.LoadMongo()
		if err != nil {
			return nil, nil, nil, err
		}
		client, err := db.NewMongoClient(ctx, mcfg, log)
		if err != nil {
			return nil, nil, nil, err
		}
		closeFn := func() {
			if err := client.Disconnect(context.Background()); err != nil {
				log.Warn("mongo disconnect failed", zap.Error(err))
			}
		}
		checks := []apphttp.HealthCheck{{Name: "mongo", Check: db.MongoHealthcheck(client)}}
		return repositories.NewMongoBackend(client, mcfg.DatabasePrefix), checks, closeFn, nil

	default:
		log.Warn("using in-memory store, data is lost on restart")
		return repositories.NewMemoryBackend(), nil, func() {}, nil
	}
}
