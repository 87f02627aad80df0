package middleware

import (
	"github.com/gofiber/fiber/v2"

	icuser "github.com/ManuelReschke/MemberPortal/internal/pkg/usercontext"
)

type denial struct {
	status  int
	code    string
	message string
}

var (
	denyAnonymous = &denial{fiber.StatusUnauthorized, "unauthorized", "login required"}
	denyNonAdmin  = &denial{fiber.StatusForbidden, "forbidden", "admin access required"}
)

// guard turns a check on the request's user into a handler. A nil denial
// lets the request through.
func guard(check func(icuser.UserContext) *denial) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if d := check(icuser.GetUserContext(c)); d != nil {
			return c.Status(d.status).JSON(fiber.Map{"error": d.code, "message": d.message})
		}
		return c.Next()
	}
}

// RequireAuth answers 401 without a logged-in session.
var RequireAuth = guard(func(uc icuser.UserContext) *denial {
	if !uc.IsLoggedIn {
		return denyAnonymous
	}
	return nil
})

// RequireAdmin answers 401 for anonymous callers and 403 for members.
var RequireAdmin = guard(func(uc icuser.UserContext) *denial {
	switch {
	case !uc.IsLoggedIn:
		return denyAnonymous
	case !uc.IsAdmin:
		return denyNonAdmin
	}
	return nil
})
