package middleware

import (
	"math"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/MemberPortal/internal/pkg/metrics"
	"github.com/ManuelReschke/MemberPortal/internal/pkg/ratelimit"
	"github.com/ManuelReschke/MemberPortal/internal/pkg/usercontext"
)

// KeyFunc picks the rate limit identifier for a request. An empty key skips the limiter.
type KeyFunc func(c *fiber.Ctx) string

// KeyByIP limits per client address.
func KeyByIP(c *fiber.Ctx) string {
	return "ip:" + c.IP()
}

// KeyByUserEmail limits per logged in member, falling back to the client address.
func KeyByUserEmail(c *fiber.Ctx) string {
	if email := strings.ToLower(strings.TrimSpace(usercontext.GetUserContext(c).Email)); email != "" {
		return "email:" + email
	}
	return KeyByIP(c)
}

// RateLimit answers 429 once the limiter's window is full. Store errors
// let the request through.
func RateLimit(limiter *ratelimit.Limiter, keyFn KeyFunc) fiber.Handler {
	if keyFn == nil {
		keyFn = KeyByIP
	}
	name := limiter.Config().Name
	return func(c *fiber.Ctx) error {
		key := keyFn(c)
		if key == "" {
			return c.Next()
		}
		res, err := limiter.Allow(c.UserContext(), key)
		if err != nil {
			log.Errorf("[RateLimit] %s limiter unavailable: %v", name, err)
			return c.Next()
		}
		SetRateLimitHeaders(c, res)
		if !res.Allowed {
			metrics.RateLimitRejectionsTotal.WithLabelValues(name).Inc()
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":   "rate_limited",
				"message": "Too many requests, retry later",
			})
		}
		return c.Next()
	}
}

// SetRateLimitHeaders writes the X-RateLimit-* headers, plus Retry-After when rejected.
func SetRateLimitHeaders(c *fiber.Ctx, res ratelimit.Result) {
	c.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	c.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	c.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
	if !res.Allowed {
		c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(math.Ceil(res.RetryAfter.Seconds()))))
	}
}
