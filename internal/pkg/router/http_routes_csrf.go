package router

import (
	"time"

	"github.com/ManuelReschke/MemberPortal/app/controllers"
	"github.com/ManuelReschke/MemberPortal/internal/pkg/env"
	"github.com/ManuelReschke/MemberPortal/internal/pkg/middleware"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/csrf"
	gothfiber "github.com/shareed2k/goth_fiber"
)

// CSRFHeader carries the token from GET /auth/csrf on mutating session requests.
const CSRFHeader = "X-CSRF-Token"

func newCSRF() fiber.Handler {
	return csrf.New(csrf.Config{
		KeyLookup:      "header:" + CSRFHeader,
		ContextKey:     controllers.CSRFContextKey,
		CookieName:     "csrf_",
		CookieSameSite: "Lax",
		Expiration:     1 * time.Hour,
		CookieSecure:   !env.IsDev(),
		CookieHTTPOnly: true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error":   "forbidden",
				"message": "missing or invalid CSRF token",
			})
		},
	})
}

func (h HttpRouter) registerCSRFProtectedRoutes(app *fiber.App) {
	csrfMiddleware := newCSRF()

	// Session auth. Local routes come before the goth provider routes.
	auth := app.Group("/auth", csrfMiddleware)
	auth.Get("/csrf", h.auth.HandleCSRF)
	auth.Get("/me", middleware.RequireAuth, h.auth.HandleMe)
	auth.Post("/register", h.auth.HandleRegister)
	auth.Post("/login", h.auth.HandleLogin)
	auth.Post("/logout", middleware.RequireAuth, h.auth.HandleLogout)

	// Social OAuth
	auth.Get("/:provider", gothfiber.BeginAuthHandler)
	auth.Get("/:provider/callback", h.oauth.HandleCallback)

	user := app.Group("/user", csrfMiddleware, middleware.RequireAuth)
	user.Get("/profile", h.user.HandleProfile)
	user.Patch("/profile", h.user.HandleUpdateProfile)
	user.Post("/avatar", h.user.HandleAvatarUpload)
	user.Get("/tokens", h.tokens.HandleList)
	user.Post("/tokens", h.tokens.HandleCreate)
	user.Delete("/tokens/:id", h.tokens.HandleDelete)

	strict := middleware.RateLimit(h.deps.StrictLimiter, middleware.KeyByUserEmail)
	billingGroup := app.Group("/billing", csrfMiddleware, middleware.RequireAuth)
	billingGroup.Get("/subscriptions", h.billing.HandleSubscriptions)
	billingGroup.Post("/checkout", strict, h.billing.HandleCheckout)
	billingGroup.Post("/subscription/cancel", strict, h.billing.HandleCancel)
	billingGroup.Post("/resync", h.billing.HandleResync)
}
