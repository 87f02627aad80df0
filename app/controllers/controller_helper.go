package controllers

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/MemberPortal/app/models"
	"github.com/ManuelReschke/MemberPortal/internal/pkg/usercontext"
)

var validate = validator.New()

// UserStore is the user persistence the controllers need.
type UserStore interface {
	GetByID(id uint) (*models.User, error)
}

func jsonError(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(fiber.Map{"error": code, "message": message})
}

func internalError(c *fiber.Ctx, component string, message string, err error) error {
	log.Errorf("[%s] %s: %v", component, message, err)
	return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", message)
}

// parseJSON decodes and validates a request body. When ok is false the 400
// response has already been written.
func parseJSON(c *fiber.Ctx, out interface{}) (bool, error) {
	if err := c.BodyParser(out); err != nil {
		return false, jsonError(c, fiber.StatusBadRequest, "bad_request", "Invalid request body")
	}
	if err := validate.Struct(out); err != nil {
		return false, jsonError(c, fiber.StatusBadRequest, "validation_failed", validationMessage(err))
	}
	return true, nil
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, strings.ToLower(fe.Field())+" failed "+fe.Tag())
	}
	return strings.Join(parts, ", ")
}

func paramID(c *fiber.Ctx, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Params(name), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

// currentUser loads the session or token owner from the database. On failure
// the error response has been written and ok is false.
func currentUser(c *fiber.Ctx, users UserStore) (*models.User, bool, error) {
	userID := usercontext.GetUserID(c)
	if userID == 0 {
		return nil, false, jsonError(c, fiber.StatusUnauthorized, "unauthorized", "login required")
	}
	user, err := users.GetByID(userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, jsonError(c, fiber.StatusUnauthorized, "unauthorized", "login required")
		}
		return nil, false, internalError(c, "User", "Failed to load user", err)
	}
	return user, true, nil
}

// GetClientIP returns the client address, preferring proxy headers.
func GetClientIP(c *fiber.Ctx) string {
	if ip := strings.TrimSpace(c.Get("CF-Connecting-IP")); ip != "" {
		return ip
	}
	if xff := c.Get(fiber.HeaderXForwardedFor); xff != "" {
		if first := strings.TrimSpace(strings.Split(xff, ",")[0]); first != "" {
			return first
		}
	}
	return strings.TrimPrefix(c.IP(), "::ffff:")
}

func formatTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
