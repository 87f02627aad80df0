package apiv1

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ManuelReschke/MemberPortal/app/controllers"
	"github.com/ManuelReschke/MemberPortal/app/models"
	"github.com/ManuelReschke/MemberPortal/internal/pkg/apitoken"
	"github.com/ManuelReschke/MemberPortal/internal/pkg/billing"
	"github.com/ManuelReschke/MemberPortal/internal/pkg/entitlements"
	"github.com/ManuelReschke/MemberPortal/internal/pkg/ratelimit"
	"github.com/ManuelReschke/MemberPortal/internal/pkg/statistics"
)

type tokenStore struct {
	tokens []models.ApiToken
}

func (s *tokenStore) FindByPrefix(prefix string) ([]models.ApiToken, error) {
	var out []models.ApiToken
	for _, t := range s.tokens {
		if t.TokenPrefix == prefix {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *tokenStore) TouchLastUsed(uint, time.Time) error { return nil }

type profileStore map[uint]*models.User

func (p profileStore) GetByID(id uint) (*models.User, error) {
	if u, ok := p[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (p profileStore) UpdateProfile(id uint, name, bio string) error {
	p[id].Name, p[id].Bio = name, bio
	return nil
}

func (p profileStore) UpdateAvatar(id uint, avatarURL string) error {
	p[id].AvatarURL = avatarURL
	return nil
}

type stubBilling struct {
	invoicesErr error
	gotLimit    int
}

func (s *stubBilling) ListSubscriptions(_ context.Context, userID uint) ([]models.Subscription, error) {
	return []models.Subscription{{ID: 3, UserID: userID, CurrentTier: "tier3", Status: "active"}}, nil
}

func (s *stubBilling) ListInvoices(_ context.Context, userID uint, limit int) ([]billing.InvoiceSummary, error) {
	s.gotLimit = limit
	if s.invoicesErr != nil {
		return nil, s.invoicesErr
	}
	return []billing.InvoiceSummary{}, nil
}

type stubStats struct{}

func (stubStats) Get(context.Context) (*statistics.MembershipStats, error) {
	return &statistics.MembershipStats{TotalUsers: 1}, nil
}

func (stubStats) Invalidate(context.Context) {}

type fixture struct {
	app     *fiber.App
	users   profileStore
	billing *stubBilling
	raw     string
}

func newFixture(t *testing.T, tier string, scopes []string, billingSvc *stubBilling) *fixture {
	t.Helper()
	token, raw, err := models.NewApiToken(7, "ci", scopes, nil)
	require.NoError(t, err)
	token.ID = 1

	users := profileStore{7: {ID: 7, Name: "ada", Email: "ada@example.com", Status: models.STATUS_ACTIVE, Role: models.ROLE_USER, MembershipTier: tier}}
	limiter := ratelimit.NewLimiter(ratelimit.Config{Name: "api", MaxRequests: 100, Window: time.Minute}, ratelimit.NewMemoryStore())
	auth := apitoken.NewAuthorizer(&tokenStore{tokens: []models.ApiToken{*token}}, users, limiter, nil)

	app := fiber.New()
	server := NewAPIServer(controllers.NewUserController(users, nil), billingSvc, stubStats{})
	RegisterHandlers(app.Group("/api/v1"), server, auth)
	return &fixture{app: app, users: users, billing: billingSvc, raw: raw}
}

func (f *fixture) do(t *testing.T, method, path, body string, authorized bool) (int, map[string]interface{}) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if authorized {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+f.raw)
	}
	resp, err := f.app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestGetPingNeedsNoToken(t *testing.T) {
	f := newFixture(t, "free", []string{entitlements.ScopeReadProfile}, &stubBilling{})

	status, body := f.do(t, fiber.MethodGet, "/api/v1/ping", "", false)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "pong", body["ping"])
}

func TestProfileEndpoints(t *testing.T) {
	f := newFixture(t, "tier2", []string{entitlements.ScopeReadProfile, entitlements.ScopeWriteProfile}, &stubBilling{})

	status, body := f.do(t, fiber.MethodGet, "/api/v1/profile", "", false)
	assert.Equal(t, fiber.StatusUnauthorized, status)
	assert.Equal(t, "unauthorized", body["error"])

	status, body = f.do(t, fiber.MethodGet, "/api/v1/profile", "", true)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "ada@example.com", body["email"])
	assert.Equal(t, "tier2", body["membership_tier"])

	status, body = f.do(t, fiber.MethodPatch, "/api/v1/profile", `{"bio":"writes Go"}`, true)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "writes Go", body["bio"])
	assert.Equal(t, "writes Go", f.users[7].Bio)
}

func TestScopeIsEnforcedPerRoute(t *testing.T) {
	f := newFixture(t, "tier3", []string{entitlements.ScopeReadProfile}, &stubBilling{})

	status, body := f.do(t, fiber.MethodGet, "/api/v1/subscriptions", "", true)
	assert.Equal(t, fiber.StatusForbidden, status)
	assert.Equal(t, "forbidden", body["error"])

	status, _ = f.do(t, fiber.MethodGet, "/api/v1/admin/stats", "", true)
	assert.Equal(t, fiber.StatusForbidden, status)
}

func TestGetSubscriptions(t *testing.T) {
	f := newFixture(t, "tier3", []string{entitlements.ScopeReadSubscriptions}, &stubBilling{})

	status, body := f.do(t, fiber.MethodGet, "/api/v1/subscriptions", "", true)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "tier3", body["membership_tier"])
	assert.Len(t, body["subscriptions"], 1)
}

func TestGetInvoices(t *testing.T) {
	svc := &stubBilling{}
	f := newFixture(t, "tier3", []string{entitlements.ScopeReadInvoices}, svc)

	status, _ := f.do(t, fiber.MethodGet, "/api/v1/invoices", "", true)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, defaultInvoiceLimit, svc.gotLimit)

	status, _ = f.do(t, fiber.MethodGet, "/api/v1/invoices?limit=500", "", true)
	assert.Equal(t, fiber.StatusBadRequest, status)

	svc.invoicesErr = billing.ErrProviderUnavailable
	status, body := f.do(t, fiber.MethodGet, "/api/v1/invoices?limit=5", "", true)
	assert.Equal(t, fiber.StatusServiceUnavailable, status)
	assert.Equal(t, "service_unavailable", body["error"])

	svc.invoicesErr = errors.New("stripe timeout")
	status, body = f.do(t, fiber.MethodGet, "/api/v1/invoices", "", true)
	assert.Equal(t, fiber.StatusBadGateway, status)
	assert.Equal(t, "bad_gateway", body["error"])
}

func TestGetAdminStats(t *testing.T) {
	f := newFixture(t, "tier4", []string{entitlements.ScopeReadProfile}, &stubBilling{})
	f.users[7].Role = models.ROLE_ADMIN

	// the token was issued without the admin scope
	status, _ := f.do(t, fiber.MethodGet, "/api/v1/admin/stats", "", true)
	assert.Equal(t, fiber.StatusForbidden, status)

	g := newFixture(t, "tier4", []string{entitlements.ScopeAdminStats}, &stubBilling{})
	g.users[7].Role = models.ROLE_ADMIN
	status, body := g.do(t, fiber.MethodGet, "/api/v1/admin/stats", "", true)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, float64(1), body["total_users"])
}
