package controllers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/MemberPortal/app/models"
	"github.com/ManuelReschke/MemberPortal/internal/pkg/billing"
	"github.com/ManuelReschke/MemberPortal/internal/pkg/entitlements"
	"github.com/ManuelReschke/MemberPortal/internal/pkg/hcaptcha"
	"github.com/ManuelReschke/MemberPortal/internal/pkg/mail"
	"github.com/ManuelReschke/MemberPortal/internal/pkg/session"
	"github.com/ManuelReschke/MemberPortal/internal/pkg/usercontext"
)

// CSRFContextKey is the Locals key the csrf middleware stores its token under.
const CSRFContextKey = "csrf"

// AccountStore is the user persistence used by registration and login.
type AccountStore interface {
	GetByEmail(email string) (*models.User, error)
	Create(user *models.User) error
	TouchLastLogin(id uint, at time.Time) error
}

// CaptchaVerifier checks the bot challenge sent with a registration.
type CaptchaVerifier interface {
	Verify(ctx context.Context, token, remoteIP string) error
}

type registerRequest struct {
	Username     string `json:"username" validate:"required,min=3,max=150"`
	Email        string `json:"email" validate:"required,email,max=200"`
	Password     string `json:"password" validate:"required,min=8,max=72"`
	CaptchaToken string `json:"captcha_token"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type AuthController struct {
	accounts AccountStore
	notifier billing.Notifier
	captcha  CaptchaVerifier
}

// NewAuthController creates the session auth controller. notifier may be nil.
func NewAuthController(accounts AccountStore, notifier billing.Notifier) *AuthController {
	return &AuthController{accounts: accounts, notifier: notifier}
}

// WithCaptcha requires a solved challenge on registration.
func (ac *AuthController) WithCaptcha(v CaptchaVerifier) *AuthController {
	ac.captcha = v
	return ac
}

// HandleRegister creates a free account, queues the welcome email and logs the user in.
func (ac *AuthController) HandleRegister(c *fiber.Ctx) error {
	var req registerRequest
	if ok, err := parseJSON(c, &req); !ok {
		return err
	}
	if ac.captcha != nil {
		err := ac.captcha.Verify(c.UserContext(), req.CaptchaToken, GetClientIP(c))
		switch {
		case errors.Is(err, hcaptcha.ErrMissingToken), errors.Is(err, hcaptcha.ErrRejected):
			return jsonError(c, fiber.StatusBadRequest, "captcha_failed", "Please solve the captcha")
		case err != nil:
			log.Errorf("[Auth] Captcha verification failed: %v", err)
			return jsonError(c, fiber.StatusServiceUnavailable, "service_unavailable", "Captcha verification is unavailable")
		}
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))

	_, err := ac.accounts.GetByEmail(email)
	switch {
	case err == nil:
		return jsonError(c, fiber.StatusBadRequest, "email_taken", "An account with this email already exists")
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return internalError(c, "Auth", "Failed to check email", err)
	}

	user, err := models.CreateUser(strings.TrimSpace(req.Username), email, req.Password)
	if err != nil {
		return jsonError(c, fiber.StatusBadRequest, "validation_failed", validationMessage(err))
	}
	if err := ac.accounts.Create(user); err != nil {
		return internalError(c, "Auth", "Failed to create account", err)
	}
	log.Infof("[Auth] Registered user %d from %s", user.ID, GetClientIP(c))

	if ac.notifier != nil {
		msg := mail.Message{
			Template: mail.TemplateWelcome,
			To:       user.Email,
			Name:     user.Name,
			Data:     map[string]string{"tier": entitlements.DisplayName(user.Tier())},
		}
		if err := ac.notifier.EnqueueEmail(c.UserContext(), msg); err != nil {
			log.Warnf("[Auth] Failed to queue welcome email for user %d: %v", user.ID, err)
		}
	}

	if err := session.Login(c, user.ID, user.Name); err != nil {
		return internalError(c, "Auth", "Failed to start session", err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"user": user})
}

// HandleLogin checks email and password and starts a session.
func (ac *AuthController) HandleLogin(c *fiber.Ctx) error {
	var req loginRequest
	if ok, err := parseJSON(c, &req); !ok {
		return err
	}

	// same answer for unknown email and wrong password
	user, err := ac.accounts.GetByEmail(strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return internalError(c, "Auth", "Failed to load account", err)
		}
		return jsonError(c, fiber.StatusUnauthorized, "invalid_credentials", "Email or password is wrong")
	}
	if !user.CheckPassword(req.Password) {
		log.Warnf("[Auth] Failed login for user %d from %s", user.ID, GetClientIP(c))
		return jsonError(c, fiber.StatusUnauthorized, "invalid_credentials", "Email or password is wrong")
	}
	if !user.IsActive() {
		return jsonError(c, fiber.StatusForbidden, "account_inactive", "This account is not active")
	}

	if err := session.Login(c, user.ID, user.Name); err != nil {
		return internalError(c, "Auth", "Failed to start session", err)
	}
	now := time.Now().UTC()
	if err := ac.accounts.TouchLastLogin(user.ID, now); err != nil {
		log.Warnf("[Auth] Failed to update last login for user %d: %v", user.ID, err)
	} else {
		user.LastLoginAt = &now
	}

	return c.JSON(fiber.Map{"user": user})
}

// HandleLogout destroys the session.
func (ac *AuthController) HandleLogout(c *fiber.Ctx) error {
	if err := session.Logout(c); err != nil {
		return internalError(c, "Auth", "Failed to end session", err)
	}
	usercontext.Set(c, usercontext.Anonymous())
	return c.JSON(fiber.Map{"logged_out": true})
}

// HandleCSRF returns the token to send as X-CSRF-Token on mutating requests.
func (ac *AuthController) HandleCSRF(c *fiber.Ctx) error {
	token, _ := c.Locals(CSRFContextKey).(string)
	if token == "" {
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "CSRF protection is not active")
	}
	return c.JSON(fiber.Map{"csrf_token": token})
}

// HandleMe returns the logged in member.
func (ac *AuthController) HandleMe(c *fiber.Ctx) error {
	return c.JSON(usercontext.GetUserContext(c))
}
