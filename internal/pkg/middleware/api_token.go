package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/MemberPortal/internal/pkg/apitoken"
	"github.com/ManuelReschke/MemberPortal/internal/pkg/metrics"
	"github.com/ManuelReschke/MemberPortal/internal/pkg/usercontext"
)

// APIToken authenticates the bearer token and requires scope (none when empty).
// The identity is stored in Locals for the handlers.
func APIToken(authorizer *apitoken.Authorizer, scope string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		decision, err := authorizer.Authorize(c.UserContext(), c.Get(fiber.HeaderAuthorization), scope)
		if decision != nil && decision.RateLimit != nil {
			SetRateLimitHeaders(c, *decision.RateLimit)
		}
		if err != nil {
			status := apitoken.StatusCode(err)
			code := apitoken.ErrorCode(err)
			metrics.TokenAuthTotal.WithLabelValues(code).Inc()
			switch status {
			case fiber.StatusUnauthorized:
				c.Set(fiber.HeaderWWWAuthenticate, `Bearer realm="api"`)
			case fiber.StatusTooManyRequests:
				metrics.RateLimitRejectionsTotal.WithLabelValues("token").Inc()
			case fiber.StatusInternalServerError:
				log.Errorf("[ApiToken] authorization failed on %s: %v", c.Path(), err)
			}
			return c.Status(status).JSON(fiber.Map{"error": code, "message": apitoken.PublicMessage(err)})
		}
		metrics.TokenAuthTotal.WithLabelValues("ok").Inc()

		id := decision.Identity
		c.Locals(usercontext.KeyAPIIdentity, id)
		usercontext.Set(c, usercontext.FromIdentity(id))

		return c.Next()
	}
}
