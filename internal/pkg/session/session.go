package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/session"

	"github.com/ManuelReschke/MemberPortal/internal/pkg/cache"
	"github.com/ManuelReschke/MemberPortal/internal/pkg/env"
	"github.com/ManuelReschke/MemberPortal/internal/pkg/usercontext"
)

const CookieName = "session_id"

var ErrNoStore = errors.New("session store not initialized")

var sessionStore *session.Store

// Config returns the cookie settings for member sessions. SESSION_TTL
// overrides the default lifetime of 24h.
func Config() session.Config {
	return session.Config{
		KeyLookup:      "cookie:" + CookieName,
		Expiration:     env.GetEnvDuration("SESSION_TTL", 24*time.Hour),
		CookieHTTPOnly: true,
		CookieSecure:   !env.IsDev(),
		CookieSameSite: fiber.CookieSameSiteLaxMode,
	}
}

// NewSessionStore creates the Redis backed store on its own database and
// installs it as the package store.
func NewSessionStore() *session.Store {
	cfg := Config()
	cfg.Storage = cache.Storage(cache.DBSession)
	sessionStore = session.New(cfg)
	return sessionStore
}

func GetSessionStore() *session.Store {
	return sessionStore
}

// SetSessionStore replaces the store, used by tests with in-memory storage.
func SetSessionStore(store *session.Store) {
	sessionStore = store
}

func current(c *fiber.Ctx) (*session.Session, error) {
	if sessionStore == nil {
		return nil, ErrNoStore
	}
	sess, err := sessionStore.Get(c)
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return sess, nil
}

// Login stores the user in a fresh session id.
func Login(c *fiber.Ctx, userID uint, username string) error {
	sess, err := current(c)
	if err != nil {
		return err
	}
	if err := sess.Regenerate(); err != nil {
		return fmt.Errorf("failed to regenerate session: %w", err)
	}
	sess.Set(usercontext.SessionUserID, userID)
	sess.Set(usercontext.SessionUsername, username)
	return sess.Save()
}

// SessionUserID returns the logged in user id, or 0.
func SessionUserID(c *fiber.Ctx) uint {
	sess, err := current(c)
	if err != nil {
		return 0
	}
	id, _ := sess.Get(usercontext.SessionUserID).(uint)
	return id
}

// Logout destroys the current session. Without a store there is nothing to end.
func Logout(c *fiber.Ctx) error {
	sess, err := current(c)
	if errors.Is(err, ErrNoStore) {
		return nil
	}
	if err != nil {
		return err
	}
	return sess.Destroy()
}
