package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ManuelReschke/MemberPortal/app/models"
	"github.com/ManuelReschke/MemberPortal/internal/pkg/mail"
	"github.com/ManuelReschke/MemberPortal/internal/pkg/usercontext"
)

// memUsers is an in-memory user store covering every controller interface.
type memUsers struct {
	mu     sync.Mutex
	nextID uint
	byID   map[uint]*models.User
}

func newMemUsers(users ...*models.User) *memUsers {
	m := &memUsers{byID: map[uint]*models.User{}}
	for _, u := range users {
		m.byID[u.ID] = u
		if u.ID > m.nextID {
			m.nextID = u.ID
		}
	}
	return m
}

func (m *memUsers) GetByID(id uint) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.byID[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *memUsers) GetByEmail(email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byID {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *memUsers) Create(user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	user.ID = m.nextID
	user.CreatedAt = time.Now()
	cp := *user
	m.byID[user.ID] = &cp
	return nil
}

func (m *memUsers) TouchLastLogin(id uint, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.byID[id]; ok {
		u.LastLoginAt = &at
	}
	return nil
}

func (m *memUsers) UpdateProfile(id uint, name, bio string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	u.Name, u.Bio = name, bio
	return nil
}

func (m *memUsers) UpdateAvatar(id uint, avatarURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	u.AvatarURL = avatarURL
	return nil
}

func (m *memUsers) List(offset, limit int) ([]models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.User
	for id := uint(1); id <= m.nextID; id++ {
		if u, ok := m.byID[id]; ok {
			out = append(out, *u)
		}
	}
	if offset >= len(out) {
		return []models.User{}, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memUsers) Search(query string) ([]models.User, error) {
	all, _ := m.List(0, 1000)
	var out []models.User
	for _, u := range all {
		if strings.Contains(u.Name, query) || strings.Contains(u.Email, query) {
			out = append(out, u)
		}
	}
	return out, nil
}

func (m *memUsers) Count() (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.byID)), nil
}

type recordingNotifier struct {
	messages []mail.Message
	err      error
}

func (n *recordingNotifier) EnqueueEmail(_ context.Context, msg mail.Message) error {
	if n.err != nil {
		return n.err
	}
	n.messages = append(n.messages, msg)
	return nil
}

func member(id uint, tier string) *models.User {
	return &models.User{
		ID:             id,
		Name:           "member" + string(rune('a'+id)),
		Email:          "member" + string(rune('a'+id)) + "@example.com",
		Role:           models.ROLE_USER,
		Status:         models.STATUS_ACTIVE,
		MembershipTier: tier,
	}
}

// loggedInAs fakes what UserContextMiddleware sets for a session user.
func loggedInAs(u *models.User) fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Locals(usercontext.KeyUserContext, usercontext.UserContext{
			UserID:     u.ID,
			Username:   u.Name,
			Email:      u.Email,
			IsLoggedIn: true,
			IsAdmin:    u.IsAdmin(),
			Tier:       u.Tier(),
		})
		return c.Next()
	}
}

func jsonRequest(t *testing.T, method, path string, body interface{}) *http.Request {
	t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return req
}

func decode(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func request(method, path string) *http.Request {
	return httptest.NewRequest(method, path, nil)
}
