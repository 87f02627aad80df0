package apitoken

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/MemberPortal/internal/pkg/entitlements"
)

var (
	ErrMissingToken      = errors.New("missing bearer token")
	ErrInvalidToken      = errors.New("invalid token")
	ErrExpiredToken      = errors.New("token expired")
	ErrUserInactive      = errors.New("token owner is not active")
	ErrInsufficientScope = errors.New("insufficient scope")
	ErrRateLimited       = errors.New("rate limit exceeded")
	ErrInvalidRequest    = errors.New("invalid token request")
	ErrTokenNotFound     = errors.New("token not found")
)

// StatusCode maps authorizer and issuance errors to HTTP status codes.
func StatusCode(err error) int {
	var unknown *entitlements.UnknownScopeError
	var notAllowed *entitlements.ScopeNotAllowedError
	switch {
	case err == nil:
		return fiber.StatusOK
	case errors.Is(err, ErrMissingToken), errors.Is(err, ErrInvalidToken), errors.Is(err, ErrExpiredToken):
		return fiber.StatusUnauthorized
	case errors.Is(err, ErrInsufficientScope), errors.Is(err, ErrUserInactive), errors.As(err, &notAllowed):
		return fiber.StatusForbidden
	case errors.Is(err, ErrRateLimited):
		return fiber.StatusTooManyRequests
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, entitlements.ErrNoScopes), errors.As(err, &unknown):
		return fiber.StatusBadRequest
	case errors.Is(err, ErrTokenNotFound):
		return fiber.StatusNotFound
	default:
		return fiber.StatusInternalServerError
	}
}

// ErrorCode returns the machine readable error string sent to clients.
func ErrorCode(err error) string {
	switch StatusCode(err) {
	case fiber.StatusUnauthorized:
		return "unauthorized"
	case fiber.StatusForbidden:
		return "forbidden"
	case fiber.StatusTooManyRequests:
		return "rate_limited"
	case fiber.StatusBadRequest:
		return "bad_request"
	case fiber.StatusNotFound:
		return "not_found"
	default:
		return "internal_server_error"
	}
}

// PublicMessage returns a client safe description. Internal failures never
// expose their cause.
func PublicMessage(err error) string {
	if StatusCode(err) == fiber.StatusInternalServerError {
		return "Token verification failed"
	}
	return err.Error()
}
