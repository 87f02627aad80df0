package billing

import (
	"fmt"
	"strings"
	"time"
)

// Stripe event types handled by the reconciler.
const (
	EventCheckoutSessionCompleted    = "checkout.session.completed"
	EventInvoicePaymentSucceeded     = "invoice.payment_succeeded"
	EventInvoicePaymentFailed        = "invoice.payment_failed"
	EventCustomerSubscriptionUpdated = "customer.subscription.updated"
	EventCustomerSubscriptionDeleted = "customer.subscription.deleted"
)

// Metadata keys written on checkout sessions and subscriptions.
const (
	MetadataUserID   = "userId"
	MetadataTierID   = "tierId"
	MetadataTierName = "tierName"
)

// CheckoutSession is a minimal representation of a Stripe checkout.session event.
type CheckoutSession struct {
	ID              string `json:"id"`
	Mode            string `json:"mode"`
	Customer        string `json:"customer"`
	Subscription    string `json:"subscription"`
	CustomerEmail   string `json:"customer_email"`
	CustomerDetails struct {
		Email string `json:"email"`
	} `json:"customer_details"`
	Metadata map[string]string `json:"metadata"`
}

// Email returns the buyer email Stripe collected.
func (s *CheckoutSession) Email() string {
	if e := strings.TrimSpace(s.CustomerDetails.Email); e != "" {
		return e
	}
	return strings.TrimSpace(s.CustomerEmail)
}

// SubscriptionKey is the provider subscription id, falling back to the
// session id for sessions that carry no subscription.
func (s *CheckoutSession) SubscriptionKey() string {
	if id := strings.TrimSpace(s.Subscription); id != "" {
		return id
	}
	return "checkout:" + s.ID
}

// Subscription is a minimal representation of a Stripe subscription event.
type Subscription struct {
	ID                string `json:"id"`
	Customer          string `json:"customer"`
	Status            string `json:"status"`
	CancelAtPeriodEnd bool   `json:"cancel_at_period_end"`
	CurrentPeriodEnd  int64  `json:"current_period_end"`
	CanceledAt        *int64 `json:"canceled_at"`
	Items             struct {
		Data []struct {
			CurrentPeriodEnd int64 `json:"current_period_end"`
			Price            struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
	Metadata map[string]string `json:"metadata"`
}

// PeriodEnd returns the end of the current billing period. Newer API versions
// report it per item.
func (s *Subscription) PeriodEnd() *time.Time {
	end := s.CurrentPeriodEnd
	for _, item := range s.Items.Data {
		if item.CurrentPeriodEnd > end {
			end = item.CurrentPeriodEnd
		}
	}
	return unixPtr(end)
}

// CanceledTime returns canceled_at as a time, nil when unset.
func (s *Subscription) CanceledTime() *time.Time {
	if s.CanceledAt == nil {
		return nil
	}
	return unixPtr(*s.CanceledAt)
}

// Invoice is a minimal representation of a Stripe invoice event.
type Invoice struct {
	ID           string `json:"id"`
	Customer     string `json:"customer"`
	Subscription string `json:"subscription"`
	Parent       struct {
		SubscriptionDetails struct {
			Subscription string `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
	AmountPaid int64  `json:"amount_paid"`
	AmountDue  int64  `json:"amount_due"`
	Currency   string `json:"currency"`
	PeriodEnd  int64  `json:"period_end"`
	Lines      struct {
		Data []struct {
			Period struct {
				End int64 `json:"end"`
			} `json:"period"`
		} `json:"data"`
	} `json:"lines"`
}

// SubscriptionID handles both the legacy top-level field and the parent
// details introduced in newer API versions.
func (i *Invoice) SubscriptionID() string {
	if id := strings.TrimSpace(i.Subscription); id != "" {
		return id
	}
	return strings.TrimSpace(i.Parent.SubscriptionDetails.Subscription)
}

// ServicePeriodEnd is the latest line item period end, which is the next
// renewal date for subscription invoices.
func (i *Invoice) ServicePeriodEnd() *time.Time {
	var end int64
	for _, line := range i.Lines.Data {
		if line.Period.End > end {
			end = line.Period.End
		}
	}
	if end == 0 {
		end = i.PeriodEnd
	}
	return unixPtr(end)
}

// FormatAmount renders minor units as "12.34 EUR".
func FormatAmount(minor int64, currency string) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s%d.%02d %s", sign, minor/100, minor%100, strings.ToUpper(currency))
}

func unixPtr(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
