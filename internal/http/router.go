package http

import (
	"context"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"github.com/retail-backoffice/inventory-audit/internal/config"
	"github.com/retail-backoffice/inventory-audit/internal/http/dto"
	"github.com/retail-backoffice/inventory-audit/internal/http/handlers"
	"github.com/retail-backoffice/inventory-audit/internal/middleware"
	"github.com/retail-backoffice/inventory-audit/internal/rbac"
	"go.uber.org/zap"
)

// HealthCheck probes one dependency. Checks are run by /health in order.
type HealthCheck struct {
	Name  string
	Check func(context.Context) error
}

func SetupRouter(
	app *fiber.App,
	cfg *config.Config,
	log *zap.Logger,
	rdb *redis.Client,
	auditHandler *handlers.AuditSessionHandler,
	wsHub *handlers.WSHub,
	checks []HealthCheck,
) {
	// Global middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:  "*",
		AllowHeaders:  "Origin, Content-Type, Accept, Authorization, X-Request-ID",
		ExposeHeaders: "X-Request-ID, Content-Disposition",
	}))
	app.Use(middleware.RequestIDMiddleware())
	app.Use(middleware.LoggerMiddleware(log))

	app.Get("/health", healthHandler(checks))

	api := app.Group("/api/v1")

	// Meta (public, no auth required)
	metaHandler := handlers.NewMetaHandler()
	api.Get("/meta/audit-session-statuses", metaHandler.GetStatuses)
	api.Get("/meta/audit-session-types", metaHandler.GetTypes)

	// Protected endpoints, rate limited per tenant user
	protected := api.Group("",
		middleware.AuthMiddleware(cfg, log),
		middleware.RateLimitMiddleware(rdb, cfg.RateLimitPerMinute, time.Minute),
	)

	perm := middleware.RequirePermission
	sessions := protected.Group("/audit-sessions")
	sessions.Get("", perm(rbac.PermReadSessions), auditHandler.ListSessions)
	sessions.Post("", perm(rbac.PermCreateSession), auditHandler.CreateSession)
	sessions.Get("/:id", perm(rbac.PermReadSessions), auditHandler.GetSession)
	sessions.Put("/:id", perm(rbac.PermUpdateSession), auditHandler.UpdateSession)
	sessions.Post("/:id/start", perm(rbac.PermStartCounting), auditHandler.StartCounting)
	sessions.Post("/:id/counts", perm(rbac.PermRecordCounts), auditHandler.RecordCounts)
	sessions.Post("/:id/review", perm(rbac.PermMoveToReview), auditHandler.MoveToReview)
	sessions.Post("/:id/complete", perm(rbac.PermCompleteAudit), auditHandler.CompleteSession)
	sessions.Post("/:id/cancel", perm(rbac.PermCancelSession), auditHandler.CancelSession)
	sessions.Post("/:id/attachments", perm(rbac.PermAddAttachment), auditHandler.AddAttachment)
	sessions.Get("/:id/activity", perm(rbac.PermReadSessions), auditHandler.ListActivity)
	sessions.Get("/:id/export.xlsx", perm(rbac.PermExportVariance), auditHandler.ExportVariance)

	// WebSocket
	if wsHub != nil {
		app.Use("/ws", handlers.WSUpgradeMiddleware())
		app.Get("/ws", websocket.New(wsHub.HandleWS))
	}
}

func healthHandler(checks []HealthCheck) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 3*time.Second)
		defer cancel()

		results := fiber.Map{}
		healthy := true
		for _, hc := range checks {
			if err := hc.Check(ctx); err != nil {
				results[hc.Name] = err.Error()
				healthy = false
				continue
			}
			results[hc.Name] = "ok"
		}

		if !healthy {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "degraded", "checks": results})
		}
		return c.JSON(fiber.Map{"status": "ok", "checks": results})
	}
}

// ErrorHandler renders errors that escape handlers, such as unknown routes
// or a body over the size limit, in the usual error envelope.
func ErrorHandler(log *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		msg := "internal error"
		if e, ok := err.(*fiber.Error); ok {
			code = e.Code
			msg = e.Message
		} else {
			log.Error("unhandled error", zap.String("path", c.Path()), zap.Error(err))
		}
		return c.Status(code).JSON(dto.ErrorResponse{Error: msg, RequestID: middleware.GetRequestID(c)})
	}
}
