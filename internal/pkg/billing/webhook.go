package billing

import (
	"errors"
	"fmt"
	"strings"

	stripelib "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

// WebhookBodyLimit caps the raw webhook body.
const WebhookBodyLimit = 1024 * 1024 // 1 MiB

var (
	ErrWebhookSecretMissing = errors.New("webhook secret not configured")
	ErrMissingSignature     = errors.New("missing Stripe signature")
	ErrInvalidSignature     = errors.New("invalid Stripe signature")
)

// VerifyStripeEvent checks the Stripe-Signature header against the raw payload
// and returns the parsed event. Nothing is persisted here.
func VerifyStripeEvent(payload []byte, sigHeader, secret string) (stripelib.Event, error) {
	if strings.TrimSpace(secret) == "" {
		return stripelib.Event{}, ErrWebhookSecretMissing
	}
	if strings.TrimSpace(sigHeader) == "" {
		return stripelib.Event{}, ErrMissingSignature
	}
	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return stripelib.Event{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return event, nil
}
