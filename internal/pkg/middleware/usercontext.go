package middleware

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/MemberPortal/app/models"
	"github.com/ManuelReschke/MemberPortal/internal/pkg/session"
	"github.com/ManuelReschke/MemberPortal/internal/pkg/usercontext"
)

// UserLookup loads the session owner.
type UserLookup interface {
	GetByID(id uint) (*models.User, error)
}

// UserContextMiddleware sets up the user context for every session request.
// Tier and role are read from the database so webhook driven changes apply
// on the next request.
func UserContextMiddleware(users UserLookup) fiber.Handler {
	return func(c *fiber.Ctx) error {
		// Goth keeps its own session on /auth/:provider routes.
		if strings.HasPrefix(c.Path(), "/auth/") && !isLocalAuthPath(c.Path()) {
			return c.Next()
		}

		userID := session.SessionUserID(c)
		if userID == 0 {
			usercontext.Set(c, usercontext.Anonymous())
			return c.Next()
		}

		user, err := users.GetByID(userID)
		if err != nil || !user.IsActive() {
			if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
				log.Errorf("[UserContext] Failed to load user %d: %v", userID, err)
			} else {
				_ = session.Logout(c)
			}
			usercontext.Set(c, usercontext.Anonymous())
			return c.Next()
		}

		usercontext.Set(c, usercontext.UserContext{
			UserID:     user.ID,
			Username:   user.Name,
			Email:      user.Email,
			IsLoggedIn: true,
			IsAdmin:    user.IsAdmin(),
			Tier:       user.Tier(),
		})

		return c.Next()
	}
}

func isLocalAuthPath(path string) bool {
	switch path {
	case "/auth/login", "/auth/register", "/auth/logout", "/auth/csrf", "/auth/me":
		return true
	}
	return false
}
