package billing

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

var (
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrAlreadyCanceled      = errors.New("subscription already canceled")
	ErrTierNotPurchasable   = errors.New("tier cannot be purchased")
	ErrPriceNotConfigured   = errors.New("no price configured for tier")
	ErrProviderUnavailable  = errors.New("payment provider not configured")
	ErrUnknownAction        = errors.New("unknown admin action")
	ErrInvalidAdjustment    = errors.New("invalid adjustment")
	ErrUserNotFound         = errors.New("user not found")
)

// StatusCode maps service errors to HTTP status codes.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return fiber.StatusOK
	case errors.Is(err, ErrSubscriptionNotFound), errors.Is(err, ErrUserNotFound), errors.Is(err, gorm.ErrRecordNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, ErrAlreadyCanceled), errors.Is(err, ErrTierNotPurchasable), errors.Is(err, ErrUnknownAction),
		errors.Is(err, ErrInvalidAdjustment), errors.Is(err, ErrPriceNotConfigured):
		return fiber.StatusBadRequest
	case errors.Is(err, ErrProviderUnavailable):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}
