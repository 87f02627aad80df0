package apiv1

import (
	"context"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	// Delegate to existing controllers to keep behavior consistent
	"github.com/ManuelReschke/MemberPortal/app/controllers"
	"github.com/ManuelReschke/MemberPortal/app/models"
	"github.com/ManuelReschke/MemberPortal/internal/pkg/billing"
	"github.com/ManuelReschke/MemberPortal/internal/pkg/usercontext"
)

const (
	defaultInvoiceLimit = 10
	maxInvoiceLimit     = 100
)

// Billing is the read side of billing exposed to token holders.
type Billing interface {
	ListSubscriptions(ctx context.Context, userID uint) ([]models.Subscription, error)
	ListInvoices(ctx context.Context, userID uint, limit int) ([]billing.InvoiceSummary, error)
}

// Pong is the ping response.
type Pong struct {
	Ping string `json:"ping"`
}

// APIServer implements the ServerInterface
type APIServer struct {
	profiles *controllers.UserController
	billing  Billing
	stats    controllers.StatsProvider
}

// NewAPIServer creates a new API server instance
func NewAPIServer(profiles *controllers.UserController, billing Billing, stats controllers.StatsProvider) *APIServer {
	return &APIServer{profiles: profiles, billing: billing, stats: stats}
}

// GetPing handles the ping endpoint
func (s *APIServer) GetPing(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(Pong{Ping: "pong"})
}

// GetProfile returns the token owner's profile.
func (s *APIServer) GetProfile(c *fiber.Ctx) error {
	return s.profiles.HandleProfile(c)
}

// PatchProfile updates name and bio of the token owner.
func (s *APIServer) PatchProfile(c *fiber.Ctx) error {
	return s.profiles.HandleUpdateProfile(c)
}

// GetSubscriptions lists the token owner's subscriptions.
func (s *APIServer) GetSubscriptions(c *fiber.Ctx) error {
	id, ok := usercontext.GetAPIIdentity(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}
	subs, err := s.billing.ListSubscriptions(c.UserContext(), id.UserID)
	if err != nil {
		log.Errorf("[API] Failed to list subscriptions for user %d: %v", id.UserID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load subscriptions"})
	}
	return c.JSON(fiber.Map{"membership_tier": id.Tier, "subscriptions": subs})
}

// GetInvoices proxies the token owner's invoices from Stripe.
func (s *APIServer) GetInvoices(c *fiber.Ctx) error {
	id, ok := usercontext.GetAPIIdentity(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}
	limit, err := strconv.Atoi(c.Query("limit", strconv.Itoa(defaultInvoiceLimit)))
	if err != nil || limit < 1 || limit > maxInvoiceLimit {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "limit must be between 1 and 100"})
	}

	invoices, err := s.billing.ListInvoices(c.UserContext(), id.UserID, limit)
	if err != nil {
		status := billing.StatusCode(err)
		if status == fiber.StatusServiceUnavailable {
			return c.Status(status).JSON(fiber.Map{"error": "service_unavailable", "message": "Invoices are not available right now"})
		}
		log.Errorf("[API] Failed to list invoices for user %d: %v", id.UserID, err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "bad_gateway", "message": "Failed to load invoices from the payment provider"})
	}
	return c.JSON(fiber.Map{"invoices": invoices})
}

// GetAdminStats returns the membership statistics.
func (s *APIServer) GetAdminStats(c *fiber.Ctx) error {
	stats, err := s.stats.Get(c.UserContext())
	if err != nil {
		log.Errorf("[API] Failed to load statistics: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load statistics"})
	}
	return c.JSON(stats)
}
