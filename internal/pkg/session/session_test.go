package session

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	fibersession "github.com/gofiber/fiber/v2/middleware/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig(t *testing.T) {
	t.Setenv("SESSION_TTL", "2h")
	cfg := Config()
	assert.Equal(t, "cookie:session_id", cfg.KeyLookup)
	assert.Equal(t, 2*time.Hour, cfg.Expiration)
	assert.True(t, cfg.CookieHTTPOnly)
}

func TestLoginRoundTrip(t *testing.T) {
	SetSessionStore(fibersession.New())
	t.Cleanup(func() { SetSessionStore(nil) })

	app := fiber.New()
	app.Post("/login", func(c *fiber.Ctx) error { return Login(c, 42, "ada") })
	app.Get("/whoami", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"id": SessionUserID(c)})
	})
	app.Post("/logout", func(c *fiber.Ctx) error { return Logout(c) })

	resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/login", nil))
	require.NoError(t, err)
	cookie := resp.Header.Get(fiber.HeaderSetCookie)
	require.True(t, strings.HasPrefix(cookie, CookieName+"="))
	cookie = strings.SplitN(cookie, ";", 2)[0]

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set(fiber.HeaderCookie, cookie)
	resp, err = app.Test(req)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":42}`, string(body))

	req = httptest.NewRequest(http.MethodPost, "/logout", nil)
	req.Header.Set(fiber.HeaderCookie, cookie)
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	req = httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set(fiber.HeaderCookie, cookie)
	resp, err = app.Test(req)
	require.NoError(t, err)
	body, err = io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":0}`, string(body))
}

func TestWithoutStore(t *testing.T) {
	SetSessionStore(nil)
	app := fiber.New()
	app.Get("/", func(c *fiber.Ctx) error {
		assert.ErrorIs(t, Login(c, 1, "ada"), ErrNoStore)
		assert.Zero(t, SessionUserID(c))
		assert.NoError(t, Logout(c))
		return nil
	})
	_, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
}
