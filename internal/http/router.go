package http

import (
	"time"

	"github.com/craftcost/backend/internal/config"
	"github.com/craftcost/backend/internal/http/handlers"
	"github.com/craftcost/backend/internal/middleware"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func SetupRouter(
	app *fiber.App,
	cfg *config.Config,
	log *zap.Logger,
	rdb *redis.Client,
	authHandler *handlers.AuthHandler,
	catalogHandler *handlers.CatalogHandler,
	saveHandler *handlers.SaveHandler,
	auditHandler *handlers.AuditHandler,
	wsHub *handlers.WSHub,
) {
	// Global middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
	}))
	app.Use(middleware.RequestIDMiddleware())
	app.Use(middleware.LoggerMiddleware(log))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api/v1")

	// Auth (public)
	api.Post("/auth/login", authHandler.Login)

	api.Use(middleware.RateLimitMiddleware(rdb, 100, time.Minute))

	// Protected endpoints
	protected := api.Group("", middleware.AuthMiddleware(cfg, log))

	// Catalog reads (entities carry their current version tokens)
	protected.Get("/ingredients", catalogHandler.ListIngredients)
	protected.Get("/recipes", catalogHandler.ListRecipes)
	protected.Get("/recipes/:id/preview", catalogHandler.PreviewRecipeCost)
	protected.Get("/packaging", catalogHandler.ListPackaging)

	// Batch save
	protected.Post("/save", saveHandler.ExecuteSave)

	// Speculative edits
	protected.Post("/changes", saveHandler.ApplyChange)
	protected.Get("/changes/pending", saveHandler.PendingChanges)
	protected.Post("/changes/:operationId/commit", saveHandler.CommitChanges)
	protected.Post("/changes/:operationId/resolve", saveHandler.ResolveConflicts)
	protected.Post("/changes/:operationId/rollback", saveHandler.RollbackChanges)

	// Audit trail (admin)
	protected.Get("/audit", middleware.AdminMiddleware(), auditHandler.QueryAuditLog)

	// WebSocket
	app.Use("/ws", handlers.WSUpgradeMiddleware())
	app.Get("/ws", websocket.New(wsHub.HandleWS))
}
