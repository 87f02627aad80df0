package router

import (
	"github.com/ManuelReschke/MemberPortal/app/controllers"
	"github.com/ManuelReschke/MemberPortal/internal/pkg/hcaptcha"
	"github.com/ManuelReschke/MemberPortal/internal/pkg/middleware"
	"github.com/ManuelReschke/MemberPortal/internal/pkg/oauth"
	"github.com/ManuelReschke/MemberPortal/internal/pkg/session"

	"github.com/gofiber/fiber/v2"
)

type HttpRouter struct {
	deps *Dependencies

	auth    *controllers.AuthController
	oauth   *controllers.OAuthController
	tokens  *controllers.TokenController
	billing *controllers.BillingController
	user    *controllers.UserController
	admin   *controllers.AdminController
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	// init session, tests install an in-memory store beforehand
	if session.GetSessionStore() == nil {
		session.NewSessionStore()
	}

	// init oauth providers
	oauth.Setup()

	// Apply UserContext middleware globally as first middleware
	app.Use(middleware.UserContextMiddleware(h.deps.Users))

	h.registerPublicRoutes(app)
	h.registerCSRFProtectedRoutes(app)
	h.registerAdminRoutes(app)
}

func NewHttpRouter(deps *Dependencies) *HttpRouter {
	auth := controllers.NewAuthController(deps.Users, deps.Notifier)
	if captcha := hcaptcha.NewFromEnv(); captcha != nil {
		auth.WithCaptcha(captcha)
	}
	return &HttpRouter{
		deps:    deps,
		auth:    auth,
		oauth:   controllers.NewOAuthController(deps.DB, deps.Users, deps.Notifier),
		tokens:  controllers.NewTokenController(deps.Tokens, deps.Users),
		billing: controllers.NewBillingController(deps.Billing, deps.Reconciler, deps.Users),
		user:    controllers.NewUserController(deps.Users, deps.Avatars),
		admin:   controllers.NewAdminController(deps.Users, deps.ActivityLogs, deps.Stats, deps.Billing),
	}
}
