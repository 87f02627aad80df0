package controllers

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/gofiber/fiber/v2"
	fibersession "github.com/gofiber/fiber/v2/middleware/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/MemberPortal/app/models"
	"github.com/ManuelReschke/MemberPortal/internal/pkg/hcaptcha"
	"github.com/ManuelReschke/MemberPortal/internal/pkg/mail"
	"github.com/ManuelReschke/MemberPortal/internal/pkg/session"
)

func setupAuthApp(t *testing.T, users *memUsers, notifier *recordingNotifier) *fiber.App {
	t.Helper()
	session.SetSessionStore(fibersession.New())
	t.Cleanup(func() { session.SetSessionStore(nil) })

	ac := NewAuthController(users, notifier)
	app := fiber.New()
	app.Post("/auth/register", ac.HandleRegister)
	app.Post("/auth/login", ac.HandleLogin)
	app.Post("/auth/logout", ac.HandleLogout)
	return app
}

func TestHandleRegister(t *testing.T) {
	users := newMemUsers()
	notifier := &recordingNotifier{}
	app := setupAuthApp(t, users, notifier)

	resp, err := app.Test(jsonRequest(t, http.MethodPost, "/auth/register", fiber.Map{
		"username": "alice",
		"email":    " Alice@Example.com ",
		"password": "correct-horse",
	}))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	assert.Contains(t, resp.Header.Get(fiber.HeaderSetCookie), "session_id=")

	body := decode(t, resp)
	user := body["user"].(map[string]interface{})
	assert.Equal(t, "alice@example.com", user["email"])
	assert.Equal(t, "free", user["membership_tier"])
	assert.NotContains(t, user, "password")

	require.Len(t, notifier.messages, 1)
	assert.Equal(t, mail.TemplateWelcome, notifier.messages[0].Template)
	assert.Equal(t, "Free", notifier.messages[0].Data["tier"])

	// same address again
	resp, err = app.Test(jsonRequest(t, http.MethodPost, "/auth/register", fiber.Map{
		"username": "alice2",
		"email":    "alice@example.com",
		"password": "correct-horse",
	}))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "email_taken", decode(t, resp)["error"])
}

func TestHandleRegisterValidation(t *testing.T) {
	app := setupAuthApp(t, newMemUsers(), &recordingNotifier{})

	tests := []struct {
		name string
		body fiber.Map
	}{
		{"bad email", fiber.Map{"username": "alice", "email": "nope", "password": "correct-horse"}},
		{"short password", fiber.Map{"username": "alice", "email": "a@example.com", "password": "short"}},
		{"short username", fiber.Map{"username": "al", "email": "a@example.com", "password": "correct-horse"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := app.Test(jsonRequest(t, http.MethodPost, "/auth/register", tt.body))
			require.NoError(t, err)
			assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, "validation_failed", decode(t, resp)["error"])
		})
	}
}

func TestHandleRegisterSurvivesQueueFailure(t *testing.T) {
	app := setupAuthApp(t, newMemUsers(), &recordingNotifier{err: errors.New("redis down")})

	resp, err := app.Test(jsonRequest(t, http.MethodPost, "/auth/register", fiber.Map{
		"username": "bob",
		"email":    "bob@example.com",
		"password": "correct-horse",
	}))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusCreated, resp.StatusCode)
}

type fakeCaptcha struct {
	err   error
	token string
}

func (f *fakeCaptcha) Verify(_ context.Context, token, _ string) error {
	f.token = token
	return f.err
}

func TestHandleRegisterCaptcha(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"missing token", hcaptcha.ErrMissingToken, fiber.StatusBadRequest, "captcha_failed"},
		{"rejected", hcaptcha.ErrRejected, fiber.StatusBadRequest, "captcha_failed"},
		{"verifier down", errors.New("dial tcp: timeout"), fiber.StatusServiceUnavailable, "service_unavailable"},
		{"solved", nil, fiber.StatusCreated, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session.SetSessionStore(fibersession.New())
			t.Cleanup(func() { session.SetSessionStore(nil) })

			users := newMemUsers()
			captcha := &fakeCaptcha{err: tt.err}
			ac := NewAuthController(users, &recordingNotifier{}).WithCaptcha(captcha)
			app := fiber.New()
			app.Post("/auth/register", ac.HandleRegister)

			resp, err := app.Test(jsonRequest(t, http.MethodPost, "/auth/register", fiber.Map{
				"username":      "alice",
				"email":         "alice@example.com",
				"password":      "correct-horse",
				"captcha_token": "p0-token",
			}))
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, "p0-token", captcha.token)
			if tt.code != "" {
				assert.Equal(t, tt.code, decode(t, resp)["error"])
				_, err := users.GetByEmail("alice@example.com")
				assert.Error(t, err)
			}
		})
	}
}

func TestHandleLogin(t *testing.T) {
	active, err := models.CreateUser("carol", "carol@example.com", "correct-horse")
	require.NoError(t, err)
	active.ID = 1
	inactive, err := models.CreateUser("dave", "dave@example.com", "correct-horse")
	require.NoError(t, err)
	inactive.ID = 2
	inactive.Status = models.STATUS_INACTIVE

	users := newMemUsers(active, inactive)
	app := setupAuthApp(t, users, &recordingNotifier{})

	tests := []struct {
		name   string
		email  string
		pass   string
		status int
		code   string
	}{
		{"unknown email", "nobody@example.com", "correct-horse", fiber.StatusUnauthorized, "invalid_credentials"},
		{"wrong password", "carol@example.com", "wrong-horse", fiber.StatusUnauthorized, "invalid_credentials"},
		{"inactive", "dave@example.com", "correct-horse", fiber.StatusForbidden, "account_inactive"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := app.Test(jsonRequest(t, http.MethodPost, "/auth/login", fiber.Map{"email": tt.email, "password": tt.pass}))
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.code, decode(t, resp)["error"])
		})
	}

	resp, err := app.Test(jsonRequest(t, http.MethodPost, "/auth/login", fiber.Map{"email": "Carol@example.com", "password": "correct-horse"}))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get(fiber.HeaderSetCookie), "session_id=")

	stored, err := users.GetByID(1)
	require.NoError(t, err)
	assert.NotNil(t, stored.LastLoginAt)
}

func TestHandleLogout(t *testing.T) {
	app := setupAuthApp(t, newMemUsers(), &recordingNotifier{})

	resp, err := app.Test(jsonRequest(t, http.MethodPost, "/auth/logout", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, true, decode(t, resp)["logged_out"])
}
