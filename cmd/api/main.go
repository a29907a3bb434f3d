package main

import (
	"context"
	"fmt"
	nethttp "net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/craftcost/backend/internal/config"
	"github.com/craftcost/backend/internal/db"
	"github.com/craftcost/backend/internal/events"
	apphttp "github.com/craftcost/backend/internal/http"
	"github.com/craftcost/backend/internal/http/handlers"
	"github.com/craftcost/backend/internal/metrics"
	"github.com/craftcost/backend/internal/models"
	"github.com/craftcost/backend/internal/repositories"
	"github.com/craftcost/backend/internal/services"
	"github.com/craftcost/backend/internal/store"
	"github.com/craftcost/backend/migrations"
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, int32(cfg.DBMaxConns), log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	if err := db.RunMigrations(ctx, pool, migrations.FS, log); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	// Redis
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, cfg.RedisPoolSize, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	// Telemetry
	registry := prometheus.NewRegistry()
	collectors := metrics.New(registry)

	// Repositories and the store collaborator
	userRepo := repositories.NewUserRepo(pool)
	catalogRepo := repositories.NewCatalogRepo(pool)
	auditRepo := repositories.NewAuditRepo(pool)
	pgStore := store.NewPostgres(pool, log)

	// Events
	publisher := events.NewRedisPublisher(rdb, log)
	subscriber := events.NewRedisSubscriber(rdb, log)

	// Services
	policy := models.DefaultRetentionPolicy(cfg.AuditMaxEntries, cfg.AuditMaxAge)
	auditService := services.NewAuditService(auditRepo, policy, collectors, log)
	saveService := services.NewSaveService(pgStore, auditService, publisher, collectors, log)
	optimisticService := services.NewOptimisticService(saveService, auditService, publisher, collectors, log)
	pricing := services.NewPricing(cfg.TargetMarginPercent)

	// Server-side restores are announced to connected sessions; the UI holds
	// the speculative values and applies the originals itself.
	optimisticService.RegisterRestoreCallback(func(ctx context.Context, item models.AffectedItem) error {
		return publisher.Publish(ctx, events.StreamSave, events.Event{
			Type: events.EventEntityRestored,
			Payload: map[string]any{
				"type":     item.Type,
				"id":       item.ID.String(),
				"original": item.OriginalData,
			},
		})
	})

	// Handlers
	authHandler := handlers.NewAuthHandler(userRepo, cfg, log)
	catalogHandler := handlers.NewCatalogHandler(catalogRepo, pricing, log)
	saveHandler := handlers.NewSaveHandler(saveService, optimisticService, log)
	auditHandler := handlers.NewAuditHandler(auditService, log)
	wsHub := handlers.NewWSHub(cfg, subscriber, log)

	wsHub.Start(ctx)

	// Metrics endpoint
	go func() {
		mux := nethttp.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		addr := fmt.Sprintf(":%s", cfg.MetricsPort)
		log.Info("starting metrics server", zap.String("addr", addr))
		if err := nethttp.ListenAndServe(addr, mux); err != nil {
			log.Error("metrics server error", zap.Error(err))
		}
	}()

	// Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	apphttp.SetupRouter(app, cfg, log, rdb, authHandler, catalogHandler, saveHandler, auditHandler, wsHub)

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
	log.Info("starting API server", zap.String("addr", addr))
	if err := app.Listen(addr); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}
