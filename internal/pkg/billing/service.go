package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/MemberPortal/app/models"
	"github.com/ManuelReschke/MemberPortal/internal/pkg/entitlements"
)

// Service covers the member and admin initiated billing operations. Webhook
// driven state changes live in Reconciler.
type Service struct {
	repo     Repository
	provider PaymentProvider
	notifier Notifier
	cfg      StripeConfig
	now      func() time.Time
}

// NewService creates a billing service. provider and notifier may be nil.
func NewService(repo Repository, provider PaymentProvider, notifier Notifier, cfg StripeConfig) *Service {
	return &Service{
		repo:     repo,
		provider: provider,
		notifier: notifier,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// NewServiceFromDB creates a billing service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB, provider PaymentProvider, notifier Notifier, cfg StripeConfig) *Service {
	return NewService(NewRepository(db), provider, notifier, cfg)
}

// StartCheckout opens a Stripe Checkout session for a paid tier.
func (s *Service) StartCheckout(ctx context.Context, user *models.User, tierID string) (*CheckoutResult, error) {
	tier, ok := purchasableTier(tierID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrTierNotPurchasable, tierID)
	}
	if s.provider == nil {
		return nil, ErrProviderUnavailable
	}
	price := s.cfg.Prices[tier]
	if price == "" {
		return nil, fmt.Errorf("%w: %s", ErrPriceNotConfigured, tier)
	}

	req := CheckoutRequest{
		UserID:     user.ID,
		Email:      user.Email,
		Tier:       tier,
		PriceID:    price,
		SuccessURL: s.cfg.SuccessURL,
		CancelURL:  s.cfg.CancelURL,
	}
	account, err := s.repo.GetBillingAccountByUser(user.ID, models.BillingProviderStripe)
	switch {
	case err == nil:
		req.CustomerID = account.ProviderAccountID
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, fmt.Errorf("load billing account: %w", err)
	}

	res, err := s.provider.CreateCheckoutSession(ctx, req)
	if err != nil {
		return nil, err
	}
	log.Infof("[Billing] Checkout session %s created for user %d (tier %s)", res.SessionID, user.ID, tier)
	return res, nil
}

// CancelSubscription asks Stripe to cancel one of the user's subscriptions.
// Local state converges when the deletion webhook arrives.
func (s *Service) CancelSubscription(ctx context.Context, user *models.User, subscriptionID uint) (*models.Subscription, error) {
	sub, err := s.repo.GetSubscriptionByID(subscriptionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}
	if sub.UserID != user.ID {
		return nil, ErrSubscriptionNotFound
	}
	if sub.IsCanceled() {
		return nil, ErrAlreadyCanceled
	}
	if !isProviderManaged(sub) {
		return nil, fmt.Errorf("%w: subscription has no provider id", ErrInvalidAdjustment)
	}
	if s.provider == nil {
		return nil, ErrProviderUnavailable
	}
	if err := s.provider.CancelSubscription(ctx, sub.ProviderSubscriptionID); err != nil {
		return nil, err
	}
	log.Infof("[Billing] User %d requested cancellation of subscription %s", user.ID, sub.ProviderSubscriptionID)
	return sub, nil
}

// ListSubscriptions returns every subscription of a user, oldest first.
func (s *Service) ListSubscriptions(ctx context.Context, userID uint) ([]models.Subscription, error) {
	_ = ctx
	return s.repo.ListSubscriptionsByUser(userID)
}

// ListInvoices proxies the user's invoices from Stripe. Users without a
// linked customer have no invoices.
func (s *Service) ListInvoices(ctx context.Context, userID uint, limit int) ([]InvoiceSummary, error) {
	account, err := s.repo.GetBillingAccountByUser(userID, models.BillingProviderStripe)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return []InvoiceSummary{}, nil
		}
		return nil, fmt.Errorf("load billing account: %w", err)
	}
	if s.provider == nil {
		return nil, ErrProviderUnavailable
	}
	return s.provider.ListInvoices(ctx, account.ProviderAccountID, limit)
}

// Resync recomputes the user's tier from their subscriptions.
func (s *Service) Resync(ctx context.Context, userID uint) (entitlements.Tier, error) {
	_ = ctx
	if userID == 0 {
		return "", errors.New("user_id is required")
	}
	var tier entitlements.Tier
	err := s.repo.Transaction(func(tx Repository) error {
		user, best, err := reconcileUserTier(tx, userID)
		if err != nil {
			return err
		}
		if user == nil {
			return ErrUserNotFound
		}
		tier = best
		return nil
	})
	return tier, err
}

// isProviderManaged reports whether a subscription exists at Stripe. Sessions
// without a subscription are stored under a checkout key.
func isProviderManaged(sub *models.Subscription) bool {
	return sub.Provider == models.BillingProviderStripe && !strings.HasPrefix(sub.ProviderSubscriptionID, "checkout:")
}
