package apitoken

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/MemberPortal/app/models"
	"github.com/ManuelReschke/MemberPortal/internal/pkg/entitlements"
	"github.com/ManuelReschke/MemberPortal/internal/pkg/ratelimit"
)

// TokenStore is the persistence the authorizer needs.
type TokenStore interface {
	FindByPrefix(prefix string) ([]models.ApiToken, error)
	TouchLastUsed(id uint, at time.Time) error
}

// UserStore resolves token owners.
type UserStore interface {
	GetByID(id uint) (*models.User, error)
}

// UsageRecorder counts successful token requests. Failures are logged only.
type UsageRecorder interface {
	RecordTokenRequest(tokenID uint) error
}

// Identity is the authenticated caller behind a bearer token.
type Identity struct {
	UserID   uint
	TokenID  uint
	Username string
	Scopes   []string
	Tier     entitlements.Tier
	IsAdmin  bool
}

// Decision carries the identity plus the rate limit outcome for response headers.
type Decision struct {
	Identity  *Identity
	RateLimit *ratelimit.Result
}

type Authorizer struct {
	tokens  TokenStore
	users   UserStore
	limiter *ratelimit.Limiter
	usage   UsageRecorder
	now     func() time.Time
}

// NewAuthorizer wires the authorizer. limiter and usage may be nil.
func NewAuthorizer(tokens TokenStore, users UserStore, limiter *ratelimit.Limiter, usage UsageRecorder) *Authorizer {
	return &Authorizer{
		tokens:  tokens,
		users:   users,
		limiter: limiter,
		usage:   usage,
		now:     time.Now,
	}
}

// ExtractBearer returns the token from an Authorization header value.
func ExtractBearer(header string) (string, error) {
	header = strings.TrimSpace(header)
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return "", ErrMissingToken
	}
	token := strings.TrimSpace(header[7:])
	if token == "" || strings.ContainsAny(token, " \t") {
		return "", ErrMissingToken
	}
	return token, nil
}

// Authorize authenticates the header, checks requiredScope (skipped when
// empty), applies the per-token rate limit and records usage.
func (a *Authorizer) Authorize(ctx context.Context, header, requiredScope string) (*Decision, error) {
	raw, err := ExtractBearer(header)
	if err != nil {
		return nil, err
	}

	token, err := a.match(raw)
	if err != nil {
		return nil, err
	}
	now := a.now()
	if token.IsExpired(now) {
		return nil, ErrExpiredToken
	}

	user, err := a.users.GetByID(token.UserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("load token owner: %w", err)
	}
	if !user.IsActive() {
		return nil, ErrUserInactive
	}

	if requiredScope != "" && !entitlements.HasScope(token.Scopes, requiredScope) {
		return nil, fmt.Errorf("%w: %s required", ErrInsufficientScope, requiredScope)
	}

	decision := &Decision{
		Identity: &Identity{
			UserID:   user.ID,
			TokenID:  token.ID,
			Username: user.Name,
			Scopes:   token.Scopes,
			Tier:     user.Tier(),
			IsAdmin:  user.IsAdmin(),
		},
	}

	if a.limiter != nil {
		res, err := a.limiter.Allow(ctx, "token:"+strconv.FormatUint(uint64(token.ID), 10))
		if err != nil {
			return nil, fmt.Errorf("rate limit check: %w", err)
		}
		decision.RateLimit = &res
		if !res.Allowed {
			return decision, ErrRateLimited
		}
	}

	if err := a.tokens.TouchLastUsed(token.ID, now); err != nil {
		log.Warnf("[ApiToken] failed to update last used for token %d: %v", token.ID, err)
	}
	if a.usage != nil {
		if err := a.usage.RecordTokenRequest(token.ID); err != nil {
			log.Warnf("[ApiToken] failed to record usage for token %d: %v", token.ID, err)
		}
	}

	return decision, nil
}

// match narrows candidates by lookup prefix and compares bcrypt hashes one by one.
func (a *Authorizer) match(raw string) (*models.ApiToken, error) {
	if !strings.HasPrefix(raw, models.ApiTokenPrefix) {
		return nil, ErrInvalidToken
	}
	candidates, err := a.tokens.FindByPrefix(models.ApiTokenLookupPrefix(raw))
	if err != nil {
		return nil, fmt.Errorf("load token candidates: %w", err)
	}
	for i := range candidates {
		if candidates[i].Matches(raw) {
			return &candidates[i], nil
		}
	}
	return nil, ErrInvalidToken
}
