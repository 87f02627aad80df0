package router

import (
	"github.com/ManuelReschke/MemberPortal/internal/pkg/middleware"
	"github.com/gofiber/fiber/v2"
)

func (h HttpRouter) registerAdminRoutes(app *fiber.App) {
	adminGroup := app.Group("/admin", newCSRF(), middleware.RequireAdmin)
	adminGroup.Get("/stats", h.admin.HandleStats)
	adminGroup.Get("/activity", h.admin.HandleActivity)
	adminGroup.Get("/users", h.admin.HandleUsers)
	adminGroup.Post("/users/:id/subscription", h.admin.HandleAdjustSubscription)
}
