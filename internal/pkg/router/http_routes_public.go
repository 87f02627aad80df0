package router

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/MemberPortal/internal/pkg/cache"
)

func (h HttpRouter) registerPublicRoutes(app *fiber.App) {
	// API routes live in ApiRouter (internal/pkg/router/api_router.go)
	app.Get("/healthz", h.handleHealth)

	// Billing provider webhooks (no CSRF, signature-verified in controller)
	app.Post("/webhooks/stripe", h.billing.HandleStripeWebhook)
}

// handleHealth pings the database and Redis. Unconfigured backends are
// reported as "unknown" and do not fail the check.
func (h HttpRouter) handleHealth(c *fiber.Ctx) error {
	status := fiber.Map{"status": "ok", "database": "unknown", "cache": "unknown"}
	code := fiber.StatusOK

	if h.deps.DB != nil {
		sqlDB, err := h.deps.DB.DB()
		if err == nil {
			err = sqlDB.PingContext(c.UserContext())
		}
		if err != nil {
			log.Warnf("[Health] Database ping failed: %v", err)
			status["database"] = "unreachable"
			code = fiber.StatusServiceUnavailable
		} else {
			status["database"] = "ok"
		}
	}

	if h.deps.Redis != nil {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()
		if err := cache.Ping(ctx, h.deps.Redis); err != nil {
			log.Warnf("[Health] Redis ping failed: %v", err)
			status["cache"] = "unreachable"
			code = fiber.StatusServiceUnavailable
		} else {
			status["cache"] = "ok"
		}
	}

	if code != fiber.StatusOK {
		status["status"] = "degraded"
	}
	return c.Status(code).JSON(status)
}
