package usercontext

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/MemberPortal/internal/pkg/apitoken"
	"github.com/ManuelReschke/MemberPortal/internal/pkg/entitlements"
)

// UserContext is the caller as seen by handlers, whether it came from a
// session cookie or a bearer token.
type UserContext struct {
	UserID     uint              `json:"user_id"`
	Username   string            `json:"username"`
	Email      string            `json:"email"`
	IsLoggedIn bool              `json:"is_logged_in"`
	IsAdmin    bool              `json:"is_admin"`
	Tier       entitlements.Tier `json:"membership_tier"`
}

// Anonymous is the context of a caller without a session.
func Anonymous() UserContext {
	return UserContext{Tier: entitlements.TierFree}
}

// FromIdentity builds the context for a request authorized by an API token.
func FromIdentity(id *apitoken.Identity) UserContext {
	return UserContext{
		UserID:     id.UserID,
		Username:   id.Username,
		IsLoggedIn: true,
		IsAdmin:    id.IsAdmin,
		Tier:       id.Tier,
	}
}

func Set(c *fiber.Ctx, uc UserContext) {
	c.Locals(KeyUserContext, uc)
}

// GetUserContext falls back to Anonymous when no middleware ran.
func GetUserContext(c *fiber.Ctx) UserContext {
	if uc, ok := c.Locals(KeyUserContext).(UserContext); ok {
		return uc
	}
	return Anonymous()
}

func IsLoggedIn(c *fiber.Ctx) bool { return GetUserContext(c).IsLoggedIn }

func IsAdmin(c *fiber.Ctx) bool { return GetUserContext(c).IsAdmin }

// GetUserID is 0 for anonymous callers.
func GetUserID(c *fiber.Ctx) uint { return GetUserContext(c).UserID }

// GetAPIIdentity returns the token identity when the request was authorized
// by the bearer token middleware.
func GetAPIIdentity(c *fiber.Ctx) (*apitoken.Identity, bool) {
	id, ok := c.Locals(KeyAPIIdentity).(*apitoken.Identity)
	return id, ok && id != nil
}
