package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/MemberPortal/app/controllers"
	apiv1 "github.com/ManuelReschke/MemberPortal/internal/api/v1"
)

type ApiRouter struct {
	deps *Dependencies
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api")
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	// API v1 routes, rate limited per token inside the authorizer
	v1 := api.Group("/v1")
	apiServer := apiv1.NewAPIServer(
		controllers.NewUserController(h.deps.Users, nil),
		h.deps.Billing,
		h.deps.Stats,
	)
	apiv1.RegisterHandlers(v1, apiServer, h.deps.Authorizer)
}

func NewApiRouter(deps *Dependencies) *ApiRouter {
	return &ApiRouter{deps: deps}
}
