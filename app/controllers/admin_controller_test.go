package controllers

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/MemberPortal/app/models"
	"github.com/ManuelReschke/MemberPortal/internal/pkg/billing"
	"github.com/ManuelReschke/MemberPortal/internal/pkg/statistics"
)

type stubStats struct {
	gets        int
	invalidated int
}

func (s *stubStats) Get(_ context.Context) (*statistics.MembershipStats, error) {
	s.gets++
	return &statistics.MembershipStats{
		TotalUsers:            3,
		UsersByTier:           map[string]int64{"free": 2, "tier2": 1},
		SubscriptionsByStatus: map[string]int64{"active": 1},
		ApiTokens:             4,
		GeneratedAt:           time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC),
	}, nil
}

func (s *stubStats) Invalidate(_ context.Context) { s.invalidated++ }

type stubAdjuster struct {
	err      error
	adminID  uint
	targetID uint
	req      billing.AdjustRequest
}

func (s *stubAdjuster) AdminAdjust(_ context.Context, admin *models.User, targetUserID uint, req billing.AdjustRequest) (*billing.AdjustResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.adminID, s.targetID, s.req = admin.ID, targetUserID, req
	return &billing.AdjustResult{Action: req.Action, UserID: targetUserID, Tier: req.TierID}, nil
}

type memActivity struct {
	entries []models.AdminActivityLog
}

func (m *memActivity) List(offset, limit int) ([]models.AdminActivityLog, error) {
	if offset >= len(m.entries) {
		return []models.AdminActivityLog{}, nil
	}
	out := m.entries[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memActivity) ListByTarget(userID uint, limit int) ([]models.AdminActivityLog, error) {
	var out []models.AdminActivityLog
	for _, e := range m.entries {
		if e.TargetUserID == userID && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memActivity) Count() (int64, error) { return int64(len(m.entries)), nil }

func setupAdminApp(stats *stubStats, adjuster *stubAdjuster, activity *memActivity) (*fiber.App, *memUsers) {
	admin := member(1, "free")
	admin.Role = models.ROLE_ADMIN
	users := newMemUsers(admin, member(2, "tier1"), member(3, "tier2"))

	ac := NewAdminController(users, activity, stats, adjuster)
	app := fiber.New()
	app.Use(loggedInAs(admin))
	app.Get("/admin/stats", ac.HandleStats)
	app.Get("/admin/activity", ac.HandleActivity)
	app.Get("/admin/users", ac.HandleUsers)
	app.Post("/admin/users/:id/subscription", ac.HandleAdjustSubscription)
	return app, users
}

func TestHandleStats(t *testing.T) {
	stats := &stubStats{}
	app, _ := setupAdminApp(stats, &stubAdjuster{}, &memActivity{})

	resp, err := app.Test(request(http.MethodGet, "/admin/stats"))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	body := decode(t, resp)
	assert.Equal(t, float64(3), body["total_users"])
	assert.Equal(t, float64(4), body["api_tokens"])
	assert.Zero(t, stats.invalidated)

	resp, err = app.Test(request(http.MethodGet, "/admin/stats?refresh=true"))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, stats.invalidated)
}

func TestHandleActivity(t *testing.T) {
	activity := &memActivity{}
	for i := 0; i < 5; i++ {
		activity.entries = append(activity.entries, models.AdminActivityLog{ID: uint(i + 1), AdminID: 1, TargetUserID: uint(2 + i%2), Action: "grant-tier"})
	}
	app, _ := setupAdminApp(&stubStats{}, &stubAdjuster{}, activity)

	resp, err := app.Test(request(http.MethodGet, "/admin/activity?page=2&per_page=2"))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	body := decode(t, resp)
	assert.Equal(t, float64(5), body["total"])
	assert.Equal(t, float64(2), body["page"])
	entries := body["activity"].([]interface{})
	require.Len(t, entries, 2)
	assert.Equal(t, float64(3), entries[0].(map[string]interface{})["id"])

	resp, err = app.Test(request(http.MethodGet, "/admin/activity?user_id=3"))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2), decode(t, resp)["total"])

	resp, err = app.Test(request(http.MethodGet, "/admin/activity?user_id=x"))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestHandleUsers(t *testing.T) {
	app, _ := setupAdminApp(&stubStats{}, &stubAdjuster{}, &memActivity{})

	resp, err := app.Test(request(http.MethodGet, "/admin/users?per_page=2"))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	body := decode(t, resp)
	assert.Equal(t, float64(3), body["total"])
	assert.Len(t, body["users"], 2)

	resp, err = app.Test(request(http.MethodGet, "/admin/users?q=memberd"))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), decode(t, resp)["total"])
}

func TestHandleAdjustSubscription(t *testing.T) {
	stats := &stubStats{}
	adjuster := &stubAdjuster{}
	app, _ := setupAdminApp(stats, adjuster, &memActivity{})

	resp, err := app.Test(jsonRequest(t, http.MethodPost, "/admin/users/2/subscription", fiber.Map{
		"action":  "grant-tier",
		"tier_id": "tier3",
		"reason":  "conference speaker",
	}))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, uint(1), adjuster.adminID)
	assert.Equal(t, uint(2), adjuster.targetID)
	assert.Equal(t, "conference speaker", adjuster.req.Reason)
	assert.Equal(t, 1, stats.invalidated)

	resp, err = app.Test(jsonRequest(t, http.MethodPost, "/admin/users/2/subscription", fiber.Map{"action": "delete-everything"}))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "validation_failed", decode(t, resp)["error"])

	resp, err = app.Test(jsonRequest(t, http.MethodPost, "/admin/users/zero/subscription", fiber.Map{"action": "refund"}))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	failing, _ := setupAdminApp(&stubStats{}, &stubAdjuster{err: billing.ErrUserNotFound}, &memActivity{})
	resp, err = failing.Test(jsonRequest(t, http.MethodPost, "/admin/users/99/subscription", fiber.Map{"action": "refund", "subscription_id": 1}))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}
