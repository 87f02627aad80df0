package controllers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/MemberPortal/app/models"
	"github.com/ManuelReschke/MemberPortal/internal/pkg/billing"
	"github.com/ManuelReschke/MemberPortal/internal/pkg/entitlements"
	"github.com/ManuelReschke/MemberPortal/internal/pkg/metrics"
)

const webhookTimeout = 15 * time.Second

// BillingService is the member side of billing.
type BillingService interface {
	StartCheckout(ctx context.Context, user *models.User, tierID string) (*billing.CheckoutResult, error)
	CancelSubscription(ctx context.Context, user *models.User, subscriptionID uint) (*models.Subscription, error)
	ListSubscriptions(ctx context.Context, userID uint) ([]models.Subscription, error)
	Resync(ctx context.Context, userID uint) (entitlements.Tier, error)
}

// WebhookHandler verifies and applies a raw provider webhook.
type WebhookHandler interface {
	HandleWebhook(ctx context.Context, payload []byte, sigHeader string) (*billing.Result, error)
}

type checkoutRequest struct {
	TierID string `json:"tier_id" validate:"required"`
}

type cancelRequest struct {
	SubscriptionID uint `json:"subscription_id" validate:"required,gt=0"`
}

type BillingController struct {
	billing  BillingService
	webhooks WebhookHandler
	users    UserStore
}

func NewBillingController(svc BillingService, webhooks WebhookHandler, users UserStore) *BillingController {
	return &BillingController{billing: svc, webhooks: webhooks, users: users}
}

func billingError(c *fiber.Ctx, err error) error {
	status := billing.StatusCode(err)
	switch status {
	case fiber.StatusNotFound:
		return jsonError(c, status, "not_found", err.Error())
	case fiber.StatusBadRequest:
		return jsonError(c, status, "bad_request", err.Error())
	case fiber.StatusServiceUnavailable:
		return jsonError(c, status, "service_unavailable", "Payments are not available right now")
	default:
		return internalError(c, "Billing", "Billing request failed", err)
	}
}

// HandleStripeWebhook receives Stripe events. Signature problems answer 400
// without touching the database. Processing failures answer 500 so Stripe retries.
func (bc *BillingController) HandleStripeWebhook(c *fiber.Ctx) error {
	start := time.Now()
	if len(c.Body()) > billing.WebhookBodyLimit {
		metrics.WebhookRequestsTotal.WithLabelValues("unknown", "too_large").Inc()
		return jsonError(c, fiber.StatusRequestEntityTooLarge, "payload_too_large", "Webhook body exceeds 1 MiB")
	}
	payload := append([]byte(nil), c.Body()...)

	ctx, cancel := context.WithTimeout(context.Background(), webhookTimeout)
	defer cancel()

	res, err := bc.webhooks.HandleWebhook(ctx, payload, c.Get("Stripe-Signature"))
	eventType := "unknown"
	if res != nil && res.EventType != "" {
		eventType = res.EventType
	}
	metrics.WebhookDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())

	if err != nil {
		switch {
		case errors.Is(err, billing.ErrWebhookSecretMissing):
			log.Errorf("[Billing] Webhook received but STRIPE_WEBHOOK_SECRET is not set")
			metrics.WebhookRequestsTotal.WithLabelValues(eventType, "unconfigured").Inc()
			return jsonError(c, fiber.StatusServiceUnavailable, "service_unavailable", "Webhook endpoint is not configured")
		case errors.Is(err, billing.ErrMissingSignature), errors.Is(err, billing.ErrInvalidSignature):
			log.Warnf("[Billing] Rejected webhook from %s: %v", GetClientIP(c), err)
			metrics.WebhookRequestsTotal.WithLabelValues(eventType, "invalid_signature").Inc()
			return jsonError(c, fiber.StatusBadRequest, "invalid_signature", "Webhook signature verification failed")
		default:
			log.Errorf("[Billing] Webhook %s failed: %v", eventType, err)
			metrics.WebhookRequestsTotal.WithLabelValues(eventType, models.WebhookOutcomeFailed).Inc()
			return jsonError(c, fiber.StatusInternalServerError, "webhook_failed", "Webhook processing failed")
		}
	}

	if res.Duplicate {
		metrics.WebhookRequestsTotal.WithLabelValues(eventType, "duplicate").Inc()
		return c.JSON(fiber.Map{"received": true, "duplicate": true})
	}
	metrics.WebhookRequestsTotal.WithLabelValues(eventType, res.Outcome).Inc()
	return c.JSON(fiber.Map{"received": true})
}

// HandleCheckout starts a Stripe Checkout session for a paid tier.
func (bc *BillingController) HandleCheckout(c *fiber.Ctx) error {
	user, ok, err := currentUser(c, bc.users)
	if !ok {
		return err
	}
	var req checkoutRequest
	if ok, err := parseJSON(c, &req); !ok {
		return err
	}
	res, err := bc.billing.StartCheckout(c.UserContext(), user, req.TierID)
	if err != nil {
		return billingError(c, err)
	}
	return c.JSON(res)
}

// HandleCancel asks Stripe to cancel one of the caller's subscriptions.
func (bc *BillingController) HandleCancel(c *fiber.Ctx) error {
	user, ok, err := currentUser(c, bc.users)
	if !ok {
		return err
	}
	var req cancelRequest
	if ok, err := parseJSON(c, &req); !ok {
		return err
	}
	sub, err := bc.billing.CancelSubscription(c.UserContext(), user, req.SubscriptionID)
	if err != nil {
		return billingError(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"subscription_id": sub.ID,
		"status":          "cancel_requested",
	})
}

// HandleSubscriptions lists the caller's subscriptions.
func (bc *BillingController) HandleSubscriptions(c *fiber.Ctx) error {
	user, ok, err := currentUser(c, bc.users)
	if !ok {
		return err
	}
	subs, err := bc.billing.ListSubscriptions(c.UserContext(), user.ID)
	if err != nil {
		return billingError(c, err)
	}
	return c.JSON(fiber.Map{"membership_tier": user.Tier(), "subscriptions": subs})
}

// HandleResync recomputes the caller's tier from stored subscriptions.
func (bc *BillingController) HandleResync(c *fiber.Ctx) error {
	user, ok, err := currentUser(c, bc.users)
	if !ok {
		return err
	}
	tier, err := bc.billing.Resync(c.UserContext(), user.ID)
	if err != nil {
		return billingError(c, err)
	}
	return c.JSON(fiber.Map{"membership_tier": tier})
}
