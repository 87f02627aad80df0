package billing

import (
	"context"
	"fmt"
	"strings"
	"time"

	stripelib "github.com/stripe/stripe-go/v82"
	stripesession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/invoice"
	"github.com/stripe/stripe-go/v82/subscription"

	"github.com/ManuelReschke/MemberPortal/internal/pkg/entitlements"
	"github.com/ManuelReschke/MemberPortal/internal/pkg/env"
)

// StripeConfig holds API credentials, webhook secret and the price per tier.
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
	Prices        map[entitlements.Tier]string
}

// LoadStripeConfig reads Stripe settings from the environment.
func LoadStripeConfig() StripeConfig {
	domain := strings.TrimRight(env.GetEnv("PUBLIC_DOMAIN", "http://localhost:4000"), "/")
	prices := make(map[entitlements.Tier]string)
	for _, t := range []entitlements.Tier{entitlements.TierOne, entitlements.TierTwo, entitlements.TierThree, entitlements.TierFour} {
		key := "STRIPE_PRICE_" + strings.ToUpper(string(t))
		if price := strings.TrimSpace(env.GetEnv(key, "")); price != "" {
			prices[t] = price
		}
	}
	return StripeConfig{
		SecretKey:     strings.TrimSpace(env.GetEnv("STRIPE_SECRET_KEY", "")),
		WebhookSecret: strings.TrimSpace(env.GetEnv("STRIPE_WEBHOOK_SECRET", "")),
		SuccessURL:    env.GetEnv("STRIPE_SUCCESS_URL", domain+"/billing/success?session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:     env.GetEnv("STRIPE_CANCEL_URL", domain+"/billing/canceled"),
		Prices:        prices,
	}
}

// CheckoutRequest describes a subscription checkout for one member.
type CheckoutRequest struct {
	UserID     uint
	Email      string
	CustomerID string
	Tier       entitlements.Tier
	PriceID    string
	SuccessURL string
	CancelURL  string
}

// CheckoutResult is what the member needs to continue at Stripe.
type CheckoutResult struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

// InvoiceSummary is the invoice view exposed by the token API.
type InvoiceSummary struct {
	ID         string    `json:"id"`
	Number     string    `json:"number"`
	Status     string    `json:"status"`
	AmountDue  int64     `json:"amount_due"`
	AmountPaid int64     `json:"amount_paid"`
	Currency   string    `json:"currency"`
	Created    time.Time `json:"created"`
	HostedURL  string    `json:"hosted_invoice_url,omitempty"`
	PDFURL     string    `json:"invoice_pdf,omitempty"`
}

// PaymentProvider is the outbound API surface the billing service needs.
type PaymentProvider interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error)
	CancelSubscription(ctx context.Context, providerSubscriptionID string) error
	ListInvoices(ctx context.Context, customerID string, limit int) ([]InvoiceSummary, error)
}

// StripeClient implements PaymentProvider on top of stripe-go.
type StripeClient struct {
	createCheckoutSession func(params *stripelib.CheckoutSessionParams) (*stripelib.CheckoutSession, error)
	cancelSubscription    func(id string, params *stripelib.SubscriptionCancelParams) (*stripelib.Subscription, error)
	listInvoices          func(params *stripelib.InvoiceListParams) *invoice.Iter
}

// NewStripeClient sets the global API key and returns a client.
func NewStripeClient(secretKey string) *StripeClient {
	stripelib.Key = strings.TrimSpace(secretKey)
	return &StripeClient{
		createCheckoutSession: stripesession.New,
		cancelSubscription:    subscription.Cancel,
		listInvoices:          invoice.List,
	}
}

func (c *StripeClient) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	metadata := map[string]string{
		MetadataUserID:   fmt.Sprintf("%d", req.UserID),
		MetadataTierID:   string(req.Tier),
		MetadataTierName: entitlements.DisplayName(req.Tier),
	}
	params := &stripelib.CheckoutSessionParams{
		Mode:              stripelib.String(string(stripelib.CheckoutSessionModeSubscription)),
		SuccessURL:        stripelib.String(req.SuccessURL),
		CancelURL:         stripelib.String(req.CancelURL),
		ClientReferenceID: stripelib.String(fmt.Sprintf("%d", req.UserID)),
		LineItems: []*stripelib.CheckoutSessionLineItemParams{
			{
				Price:    stripelib.String(req.PriceID),
				Quantity: stripelib.Int64(1),
			},
		},
		SubscriptionData: &stripelib.CheckoutSessionSubscriptionDataParams{
			Metadata: metadata,
		},
		Metadata: metadata,
	}
	if req.CustomerID != "" {
		params.Customer = stripelib.String(req.CustomerID)
	} else if req.Email != "" {
		params.CustomerEmail = stripelib.String(req.Email)
	}
	params.Context = ctx

	session, err := c.createCheckoutSession(params)
	if err != nil {
		return nil, fmt.Errorf("stripe checkout session: %w", err)
	}
	if session == nil || strings.TrimSpace(session.URL) == "" {
		return nil, fmt.Errorf("stripe checkout session: empty url")
	}
	return &CheckoutResult{SessionID: session.ID, URL: session.URL}, nil
}

func (c *StripeClient) CancelSubscription(ctx context.Context, providerSubscriptionID string) error {
	params := &stripelib.SubscriptionCancelParams{}
	params.Context = ctx
	if _, err := c.cancelSubscription(providerSubscriptionID, params); err != nil {
		return fmt.Errorf("stripe cancel subscription %s: %w", providerSubscriptionID, err)
	}
	return nil
}

func (c *StripeClient) ListInvoices(ctx context.Context, customerID string, limit int) ([]InvoiceSummary, error) {
	if limit <= 0 {
		limit = 10
	}
	params := &stripelib.InvoiceListParams{Customer: stripelib.String(customerID)}
	params.Limit = stripelib.Int64(int64(limit))
	params.Context = ctx

	out := make([]InvoiceSummary, 0, limit)
	it := c.listInvoices(params)
	for len(out) < limit && it.Next() {
		inv := it.Invoice()
		out = append(out, InvoiceSummary{
			ID:         inv.ID,
			Number:     inv.Number,
			Status:     string(inv.Status),
			AmountDue:  inv.AmountDue,
			AmountPaid: inv.AmountPaid,
			Currency:   string(inv.Currency),
			Created:    time.Unix(inv.Created, 0).UTC(),
			HostedURL:  inv.HostedInvoiceURL,
			PDFURL:     inv.InvoicePDF,
		})
	}
	if err := it.Err(); err != nil {
		return nil, fmt.Errorf("stripe list invoices: %w", err)
	}
	return out, nil
}
