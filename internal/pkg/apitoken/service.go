package apitoken

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ManuelReschke/MemberPortal/app/models"
	"github.com/ManuelReschke/MemberPortal/internal/pkg/entitlements"
)

// OneTimeWarning accompanies every freshly issued token.
const OneTimeWarning = "Save this token securely. You will not be able to view it again."

const (
	maxExpiryDays = 365
	maxNameLength = 100
)

// Repository is the token persistence used for issuance and housekeeping.
type Repository interface {
	Create(token *models.ApiToken) error
	ListByUser(userID uint) ([]models.ApiToken, error)
	DeleteForUser(id, userID uint) (bool, error)
	DeleteExpired(now time.Time) (int64, error)
}

// IssueRequest is the body of a token creation request.
type IssueRequest struct {
	Name          string   `json:"name"`
	Scopes        []string `json:"scopes"`
	ExpiresInDays *int     `json:"expires_in_days,omitempty"`
}

// Issued is returned once, right after creation.
type Issued struct {
	Token     *models.ApiToken
	Plaintext string
}

type Service struct {
	repo Repository
	now  func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Issue validates the request against the owner's tier and stores a new token.
func (s *Service) Issue(ctx context.Context, owner *models.User, req IssueRequest) (*Issued, error) {
	_ = ctx
	name := strings.TrimSpace(req.Name)
	if name == "" || len(name) > maxNameLength {
		return nil, fmt.Errorf("%w: name must be 1-%d characters", ErrInvalidRequest, maxNameLength)
	}

	scopes := dedupeScopes(req.Scopes)
	if err := entitlements.ValidateScopes(owner.Tier(), scopes); err != nil {
		return nil, err
	}

	var expiresAt *time.Time
	if req.ExpiresInDays != nil {
		days := *req.ExpiresInDays
		if days < 1 || days > maxExpiryDays {
			return nil, fmt.Errorf("%w: expires_in_days must be between 1 and %d", ErrInvalidRequest, maxExpiryDays)
		}
		t := s.now().Add(time.Duration(days) * 24 * time.Hour)
		expiresAt = &t
	}

	token, raw, err := models.NewApiToken(owner.ID, name, scopes, expiresAt)
	if err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}
	if err := s.repo.Create(token); err != nil {
		return nil, fmt.Errorf("store token: %w", err)
	}
	return &Issued{Token: token, Plaintext: raw}, nil
}

// List returns token metadata for a user.
func (s *Service) List(ctx context.Context, userID uint) ([]models.ApiToken, error) {
	_ = ctx
	return s.repo.ListByUser(userID)
}

// Revoke hard deletes a token owned by userID.
func (s *Service) Revoke(ctx context.Context, userID, tokenID uint) error {
	_ = ctx
	deleted, err := s.repo.DeleteForUser(tokenID, userID)
	if err != nil {
		return err
	}
	if !deleted {
		return ErrTokenNotFound
	}
	return nil
}

// SweepExpired hard deletes tokens whose expiry has passed.
func (s *Service) SweepExpired(ctx context.Context) (int64, error) {
	_ = ctx
	return s.repo.DeleteExpired(s.now())
}

func dedupeScopes(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, raw := range in {
		s := strings.TrimSpace(raw)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
