package controllers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/MemberPortal/app/models"
	"github.com/ManuelReschke/MemberPortal/internal/pkg/apitoken"
	"github.com/ManuelReschke/MemberPortal/internal/pkg/entitlements"
)

// TokenIssuer manages the API tokens of a member.
type TokenIssuer interface {
	Issue(ctx context.Context, owner *models.User, req apitoken.IssueRequest) (*apitoken.Issued, error)
	List(ctx context.Context, userID uint) ([]models.ApiToken, error)
	Revoke(ctx context.Context, userID, tokenID uint) error
}

type TokenController struct {
	tokens TokenIssuer
	users  UserStore
}

func NewTokenController(tokens TokenIssuer, users UserStore) *TokenController {
	return &TokenController{tokens: tokens, users: users}
}

func tokenJSON(t *models.ApiToken) fiber.Map {
	return fiber.Map{
		"id":            t.ID,
		"name":          t.Name,
		"token_prefix":  t.TokenPrefix,
		"scopes":        t.Scopes,
		"expires_at":    formatTimePtr(t.ExpiresAt),
		"last_used_at":  formatTimePtr(t.LastUsedAt),
		"request_count": t.RequestCount,
		"created_at":    formatTimePtr(&t.CreatedAt),
	}
}

// HandleList returns token metadata. Secrets and hashes are never included.
func (tc *TokenController) HandleList(c *fiber.Ctx) error {
	user, ok, err := currentUser(c, tc.users)
	if !ok {
		return err
	}
	tokens, err := tc.tokens.List(c.UserContext(), user.ID)
	if err != nil {
		return internalError(c, "Tokens", "Failed to list tokens", err)
	}
	out := make([]fiber.Map, 0, len(tokens))
	for i := range tokens {
		out = append(out, tokenJSON(&tokens[i]))
	}
	return c.JSON(fiber.Map{"tokens": out})
}

// HandleCreate issues a token. The plaintext is part of this response only.
func (tc *TokenController) HandleCreate(c *fiber.Ctx) error {
	user, ok, err := currentUser(c, tc.users)
	if !ok {
		return err
	}
	var req apitoken.IssueRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "Invalid request body")
	}

	issued, err := tc.tokens.Issue(c.UserContext(), user, req)
	if err != nil {
		status := apitoken.StatusCode(err)
		if status == fiber.StatusInternalServerError {
			return internalError(c, "Tokens", "Failed to create token", err)
		}
		body := fiber.Map{"error": apitoken.ErrorCode(err), "message": apitoken.PublicMessage(err)}
		var notAllowed *entitlements.ScopeNotAllowedError
		if errors.As(err, &notAllowed) {
			body["allowed_scopes"] = entitlements.AllowedScopes(user.Tier())
		}
		return c.Status(status).JSON(body)
	}

	log.Infof("[Tokens] User %d created API token %d (%v)", user.ID, issued.Token.ID, issued.Token.Scopes)
	token := tokenJSON(issued.Token)
	token["token"] = issued.Plaintext
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"token":   token,
		"warning": apitoken.OneTimeWarning,
	})
}

// HandleDelete revokes a token owned by the caller.
func (tc *TokenController) HandleDelete(c *fiber.Ctx) error {
	user, ok, err := currentUser(c, tc.users)
	if !ok {
		return err
	}
	tokenID, valid := paramID(c, "id")
	if !valid {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "Invalid token id")
	}
	if err := tc.tokens.Revoke(c.UserContext(), user.ID, tokenID); err != nil {
		if errors.Is(err, apitoken.ErrTokenNotFound) {
			return jsonError(c, fiber.StatusNotFound, "not_found", "Token not found")
		}
		return internalError(c, "Tokens", "Failed to revoke token", err)
	}
	log.Infof("[Tokens] User %d revoked API token %d", user.ID, tokenID)
	return c.JSON(fiber.Map{"revoked": true})
}
