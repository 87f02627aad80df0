package controllers

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/markbates/goth"
	gothfiber "github.com/shareed2k/goth_fiber"
	"gorm.io/gorm"

	"github.com/ManuelReschke/MemberPortal/app/models"
	"github.com/ManuelReschke/MemberPortal/internal/pkg/billing"
	"github.com/ManuelReschke/MemberPortal/internal/pkg/entitlements"
	"github.com/ManuelReschke/MemberPortal/internal/pkg/mail"
	"github.com/ManuelReschke/MemberPortal/internal/pkg/session"
)

// LoginRecorder stamps the last successful login.
type LoginRecorder interface {
	TouchLastLogin(id uint, at time.Time) error
}

type OAuthController struct {
	db       *gorm.DB
	logins   LoginRecorder
	notifier billing.Notifier
	// RedirectTo is where the browser lands after a successful login.
	RedirectTo string
}

func NewOAuthController(db *gorm.DB, logins LoginRecorder, notifier billing.Notifier) *OAuthController {
	return &OAuthController{db: db, logins: logins, notifier: notifier, RedirectTo: "/"}
}

// HandleCallback completes the provider flow and logs the user in
func (oc *OAuthController) HandleCallback(c *fiber.Ctx) error {
	u, err := gothfiber.CompleteUserAuth(c)
	if err != nil {
		log.Warnf("[OAuth] Provider flow failed: %v", err)
		return jsonError(c, fiber.StatusBadRequest, "oauth_failed", "Login with the provider failed")
	}

	user, created, err := linkOAuthUser(oc.db, u)
	if err != nil {
		return internalError(c, "OAuth", "Failed to link provider account", err)
	}
	if !user.IsActive() {
		return jsonError(c, fiber.StatusForbidden, "account_inactive", "This account is not active")
	}
	if created && oc.notifier != nil {
		msg := mail.Message{
			Template: mail.TemplateWelcome,
			To:       user.Email,
			Name:     user.Name,
			Data:     map[string]string{"tier": entitlements.DisplayName(user.Tier())},
		}
		if !strings.HasSuffix(user.Email, ".oauth.local") {
			if err := oc.notifier.EnqueueEmail(c.UserContext(), msg); err != nil {
				log.Warnf("[OAuth] Failed to queue welcome email for user %d: %v", user.ID, err)
			}
		}
	}

	return oc.completeLogin(c, user)
}

// completeLogin starts the session and redirects. A failed last-login write
// is logged and does not block the login.
func (oc *OAuthController) completeLogin(c *fiber.Ctx, user *models.User) error {
	if err := session.Login(c, user.ID, user.Name); err != nil {
		return internalError(c, "OAuth", "Failed to start session", err)
	}
	now := time.Now().UTC()
	if err := oc.logins.TouchLastLogin(user.ID, now); err != nil {
		log.Warnf("[OAuth] Failed to update last login for user %d: %v", user.ID, err)
	} else {
		user.LastLoginAt = &now
	}
	return c.Redirect(oc.RedirectTo, fiber.StatusSeeOther)
}

// linkOAuthUser finds or creates the local user for a provider identity and
// stores the latest provider tokens.
func linkOAuthUser(db *gorm.DB, u goth.User) (*models.User, bool, error) {
	var appUser models.User
	created := false

	err := db.Transaction(func(tx *gorm.DB) error {
		var pa models.ProviderAccount
		now := time.Now()
		res := tx.Where("provider = ? AND provider_user_id = ?", u.Provider, u.UserID).First(&pa)
		switch {
		case res.Error == nil:
			pa.SetTokens(u.AccessToken, u.RefreshToken, u.ExpiresAt, now)
			if err := tx.Save(&pa).Error; err != nil {
				return fmt.Errorf("update tokens: %w", err)
			}
			if err := tx.First(&appUser, pa.UserID).Error; err != nil {
				return fmt.Errorf("load linked user: %w", err)
			}
			return nil
		case !errors.Is(res.Error, gorm.ErrRecordNotFound):
			return res.Error
		}

		email := strings.ToLower(strings.TrimSpace(u.Email))
		if email != "" {
			if err := tx.Where("email = ?", email).First(&appUser).Error; err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
		}
		if appUser.ID == 0 {
			// placeholder password, never used for login
			hash, err := models.HashPassword(fmt.Sprintf("oauth_%d", time.Now().UnixNano()))
			if err != nil {
				return err
			}
			if email == "" {
				email = fmt.Sprintf("%s_%s@%s.oauth.local", u.Provider, u.UserID, u.Provider)
			}
			appUser = models.User{
				Name:           firstNonEmpty(u.Name, u.NickName, u.Email, "Member"),
				Email:          email,
				Password:       hash,
				AvatarURL:      u.AvatarURL,
				Role:           models.ROLE_USER,
				Status:         models.STATUS_ACTIVE,
				MembershipTier: string(entitlements.TierFree),
			}
			if err := tx.Create(&appUser).Error; err != nil {
				return fmt.Errorf("create user: %w", err)
			}
			created = true
		}

		pa = models.ProviderAccount{
			UserID:         appUser.ID,
			Provider:       u.Provider,
			ProviderUserID: u.UserID,
			Email:          email,
		}
		pa.SetTokens(u.AccessToken, u.RefreshToken, u.ExpiresAt, now)
		if err := tx.Create(&pa).Error; err != nil {
			return fmt.Errorf("link provider: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return &appUser, created, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
