package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	stripelib "github.com/stripe/stripe-go/v82"
	"gorm.io/gorm"

	"github.com/ManuelReschke/MemberPortal/app/models"
	"github.com/ManuelReschke/MemberPortal/internal/pkg/entitlements"
	"github.com/ManuelReschke/MemberPortal/internal/pkg/mail"
	"github.com/ManuelReschke/MemberPortal/internal/pkg/metrics"
)

// Notifier queues member emails. Implemented by the job queue.
type Notifier interface {
	EnqueueEmail(ctx context.Context, msg mail.Message) error
}

// Result describes what happened to one webhook delivery.
type Result struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	Outcome   string `json:"outcome"`
	Reason    string `json:"reason,omitempty"`
	Duplicate bool   `json:"duplicate"`
}

// Reconciler applies Stripe webhook events to subscriptions and user tiers.
type Reconciler struct {
	repo     Repository
	notifier Notifier
	secret   string
	now      func() time.Time
}

// NewReconciler wires a reconciler. notifier may be nil.
func NewReconciler(repo Repository, notifier Notifier, webhookSecret string) *Reconciler {
	return &Reconciler{
		repo:     repo,
		notifier: notifier,
		secret:   webhookSecret,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// effect is the result of applying one event inside the transaction.
type effect struct {
	outcome string
	reason  string
	emails  []mail.Message
}

func ignored(reason string) (*effect, error) {
	return &effect{outcome: models.WebhookOutcomeIgnored, reason: reason}, nil
}

// deferred parks an event whose subscription row does not exist yet.
func deferred() (*effect, error) {
	return &effect{outcome: models.WebhookOutcomeDeferred, reason: "subscription not found"}, nil
}

// HandleWebhook verifies the signature and applies the event. Verification
// happens before any database access.
func (r *Reconciler) HandleWebhook(ctx context.Context, payload []byte, sigHeader string) (*Result, error) {
	event, err := VerifyStripeEvent(payload, sigHeader, r.secret)
	if err != nil {
		return nil, err
	}
	return r.HandleEvent(ctx, event, payload)
}

// HandleEvent records a verified event and applies it. Events that already
// settled are acknowledged as duplicates. A returned error means the provider
// should retry.
func (r *Reconciler) HandleEvent(ctx context.Context, event stripelib.Event, payload []byte) (*Result, error) {
	eventType := string(event.Type)
	eventID := strings.TrimSpace(event.ID)
	if eventID == "" {
		sum := sha256.Sum256(payload)
		eventID = "hash:" + hex.EncodeToString(sum[:])
	}
	res := &Result{EventID: eventID, EventType: eventType}

	var raw json.RawMessage
	if event.Data != nil {
		raw = event.Data.Raw
	}

	created, stored, err := r.repo.CreateWebhookEventIfNotExists(&models.BillingWebhookEvent{
		Provider:        models.BillingProviderStripe,
		ProviderEventID: eventID,
		EventType:       eventType,
		SubscriptionRef: subscriptionRef(eventType, raw),
		PayloadJSON:     string(payload),
	})
	if err != nil {
		return nil, fmt.Errorf("record webhook event: %w", err)
	}
	if !created && stored.IsSettled() {
		log.Infof("[Billing] Duplicate webhook %s (%s) skipped", eventID, eventType)
		res.Duplicate = true
		res.Outcome = stored.Outcome
		return res, nil
	}

	var eff *effect
	err = r.repo.Transaction(func(tx Repository) error {
		var applyErr error
		eff, applyErr = r.apply(tx, eventType, raw)
		return applyErr
	})
	if err != nil {
		if markErr := r.repo.MarkWebhookOutcome(stored.ID, models.WebhookOutcomeFailed, err.Error()); markErr != nil {
			log.Errorf("[Billing] Failed to mark webhook %s as failed: %v", eventID, markErr)
		}
		res.Outcome = models.WebhookOutcomeFailed
		return res, fmt.Errorf("apply %s: %w", eventType, err)
	}

	res.Outcome = eff.outcome
	res.Reason = eff.reason
	if err := r.repo.MarkWebhookOutcome(stored.ID, eff.outcome, ""); err != nil {
		log.Errorf("[Billing] Failed to mark webhook %s as %s: %v", eventID, eff.outcome, err)
	}
	switch eff.outcome {
	case models.WebhookOutcomeIgnored:
		log.Infof("[Billing] Webhook %s (%s) ignored: %s", eventID, eventType, eff.reason)
	case models.WebhookOutcomeDeferred:
		log.Infof("[Billing] Webhook %s (%s) deferred until checkout creates its subscription", eventID, eventType)
	}

	r.notify(ctx, eff.emails)
	return res, nil
}

func (r *Reconciler) notify(ctx context.Context, emails []mail.Message) {
	if r.notifier == nil {
		return
	}
	for _, msg := range emails {
		if err := r.notifier.EnqueueEmail(ctx, msg); err != nil {
			log.Errorf("[Billing] Failed to enqueue %s email for %s: %v", msg.Template, msg.To, err)
		}
	}
}

func (r *Reconciler) apply(tx Repository, eventType string, raw json.RawMessage) (*effect, error) {
	switch eventType {
	case EventCheckoutSessionCompleted:
		var session CheckoutSession
		if err := json.Unmarshal(raw, &session); err != nil {
			return nil, fmt.Errorf("decode checkout.session: %w", err)
		}
		return r.checkoutCompleted(tx, session, raw)

	case EventInvoicePaymentSucceeded, EventInvoicePaymentFailed:
		var inv Invoice
		if err := json.Unmarshal(raw, &inv); err != nil {
			return nil, fmt.Errorf("decode invoice: %w", err)
		}
		if eventType == EventInvoicePaymentSucceeded {
			return r.paymentSucceeded(tx, inv)
		}
		return r.paymentFailed(tx, inv)

	case EventCustomerSubscriptionUpdated, EventCustomerSubscriptionDeleted:
		var sub Subscription
		if err := json.Unmarshal(raw, &sub); err != nil {
			return nil, fmt.Errorf("decode subscription: %w", err)
		}
		if eventType == EventCustomerSubscriptionUpdated {
			return r.subscriptionUpdated(tx, sub, raw)
		}
		return r.subscriptionDeleted(tx, sub)

	default:
		return ignored("unhandled event type")
	}
}

func (r *Reconciler) checkoutCompleted(tx Repository, session CheckoutSession, raw json.RawMessage) (*effect, error) {
	userID, ok := parseUserID(session.Metadata[MetadataUserID])
	if !ok {
		return ignored("checkout session without userId metadata")
	}
	tier, ok := purchasableTier(session.Metadata[MetadataTierID])
	if !ok {
		return ignored("checkout session without valid tierId metadata")
	}
	user, err := tx.GetUser(userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ignored("user not found")
		}
		return nil, fmt.Errorf("load user %d: %w", userID, err)
	}

	eff := &effect{outcome: models.WebhookOutcomeProcessed}
	key := session.SubscriptionKey()
	sub, err := tx.GetSubscriptionByProviderID(models.BillingProviderStripe, key)
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		sub = &models.Subscription{
			UserID:                 user.ID,
			Provider:               models.BillingProviderStripe,
			ProviderSubscriptionID: key,
			ProviderCustomerID:     strings.TrimSpace(session.Customer),
			CurrentTier:            string(tier),
			Status:                 models.SubscriptionStatusActive,
			RawPayloadJSON:         string(raw),
		}
		if err := tx.CreateSubscription(sub); err != nil {
			return nil, fmt.Errorf("create subscription: %w", err)
		}
		eff.emails = append(eff.emails, memberEmail(user, mail.TemplateSubscriptionActivated, map[string]string{
			"tier": entitlements.DisplayName(tier),
		}))
	case err != nil:
		return nil, fmt.Errorf("load subscription %s: %w", key, err)
	default:
		changed := false
		if sub.CurrentTier != string(tier) {
			sub.CurrentTier = string(tier)
			changed = true
		}
		if sub.ProviderCustomerID == "" && strings.TrimSpace(session.Customer) != "" {
			sub.ProviderCustomerID = strings.TrimSpace(session.Customer)
			changed = true
		}
		if changed {
			if err := tx.SaveSubscription(sub); err != nil {
				return nil, fmt.Errorf("update subscription: %w", err)
			}
		}
	}

	replayed, err := r.replayDeferred(tx, key)
	if err != nil {
		return nil, err
	}
	eff.emails = append(eff.emails, replayed...)

	if _, _, err := reconcileUserTier(tx, user.ID); err != nil {
		return nil, err
	}

	if customer := strings.TrimSpace(session.Customer); customer != "" {
		email := session.Email()
		if email == "" {
			email = user.Email
		}
		if err := tx.UpsertBillingAccount(&models.BillingAccount{
			UserID:            user.ID,
			Provider:          models.BillingProviderStripe,
			ProviderAccountID: customer,
			Email:             email,
		}); err != nil {
			return nil, fmt.Errorf("link stripe customer: %w", err)
		}
	}

	log.Infof("[Billing] Checkout completed for user %d: tier=%s subscription=%s", user.ID, tier, key)
	return eff, nil
}

func (r *Reconciler) paymentSucceeded(tx Repository, inv Invoice) (*effect, error) {
	sub, eff, err := r.invoiceSubscription(tx, inv)
	if sub == nil {
		return eff, err
	}

	renewal := inv.ServicePeriodEnd()
	if sub.Status == models.SubscriptionStatusActive && (renewal == nil || sub.SameRenewal(renewal)) {
		return &effect{outcome: models.WebhookOutcomeProcessed, reason: "already active"}, nil
	}

	sub.Status = models.SubscriptionStatusActive
	if renewal != nil && !sub.SameRenewal(renewal) {
		sub.RenewalDate = renewal
		sub.ReminderSentAt = nil
	}
	if err := tx.SaveSubscription(sub); err != nil {
		return nil, fmt.Errorf("activate subscription: %w", err)
	}

	eff = &effect{outcome: models.WebhookOutcomeProcessed}
	if user, err := tx.GetUser(sub.UserID); err == nil {
		data := map[string]string{
			"tier":   entitlements.DisplayName(entitlements.NormalizeTier(sub.CurrentTier)),
			"amount": FormatAmount(inv.AmountPaid, inv.Currency),
		}
		if sub.RenewalDate != nil {
			data["renewal_date"] = sub.RenewalDate.Format("2006-01-02")
		}
		eff.emails = append(eff.emails, memberEmail(user, mail.TemplatePaymentReceipt, data))
	}
	return eff, nil
}

func (r *Reconciler) paymentFailed(tx Repository, inv Invoice) (*effect, error) {
	sub, eff, err := r.invoiceSubscription(tx, inv)
	if sub == nil {
		return eff, err
	}

	log.Warnf("[Billing] Payment failed for subscription %s (user %d, invoice %s, amount %s)",
		sub.ProviderSubscriptionID, sub.UserID, inv.ID, FormatAmount(inv.AmountDue, inv.Currency))
	metrics.PaymentFailuresTotal.Inc()

	eff = &effect{outcome: models.WebhookOutcomeProcessed}
	if sub.Status == models.SubscriptionStatusPastDue {
		return eff, nil
	}
	sub.Status = models.SubscriptionStatusPastDue
	if err := tx.SaveSubscription(sub); err != nil {
		return nil, fmt.Errorf("mark subscription past_due: %w", err)
	}
	if user, err := tx.GetUser(sub.UserID); err == nil {
		eff.emails = append(eff.emails, memberEmail(user, mail.TemplatePaymentFailed, map[string]string{
			"tier": entitlements.DisplayName(entitlements.NormalizeTier(sub.CurrentTier)),
		}))
	}
	return eff, nil
}

// invoiceSubscription resolves the subscription an invoice belongs to. A nil
// subscription means the caller returns the given effect and error as is.
func (r *Reconciler) invoiceSubscription(tx Repository, inv Invoice) (*models.Subscription, *effect, error) {
	subID := inv.SubscriptionID()
	if subID == "" {
		eff, _ := ignored("invoice without subscription")
		return nil, eff, nil
	}
	sub, err := tx.GetSubscriptionByProviderID(models.BillingProviderStripe, subID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			eff, _ := deferred()
			return nil, eff, nil
		}
		return nil, nil, fmt.Errorf("load subscription %s: %w", subID, err)
	}
	if sub.IsCanceled() {
		eff, _ := ignored("subscription already canceled")
		return nil, eff, nil
	}
	return sub, nil, nil
}

func (r *Reconciler) subscriptionUpdated(tx Repository, in Subscription, raw json.RawMessage) (*effect, error) {
	sub, err := tx.GetSubscriptionByProviderID(models.BillingProviderStripe, strings.TrimSpace(in.ID))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return deferred()
		}
		return nil, fmt.Errorf("load subscription %s: %w", in.ID, err)
	}

	prevStatus, prevTier := sub.Status, sub.CurrentTier
	if status, ok := MapProviderStatus(in.Status); ok {
		sub.Status = status
	} else {
		log.Warnf("[Billing] Subscription %s reported unmapped status %q, keeping %s", in.ID, in.Status, sub.Status)
	}
	if end := in.PeriodEnd(); end != nil && !sub.SameRenewal(end) {
		sub.RenewalDate = end
		sub.ReminderSentAt = nil
	}
	prevCanceledAt := sub.CanceledAt
	sub.CanceledAt = in.CanceledTime()
	if sub.IsCanceled() && sub.CanceledAt == nil {
		if prevCanceledAt != nil {
			sub.CanceledAt = prevCanceledAt
		} else {
			now := r.now()
			sub.CanceledAt = &now
		}
	}
	if tier, ok := purchasableTier(in.Metadata[MetadataTierID]); ok {
		sub.CurrentTier = string(tier)
	}
	if customer := strings.TrimSpace(in.Customer); customer != "" {
		sub.ProviderCustomerID = customer
	}
	sub.RawPayloadJSON = string(raw)
	if err := tx.SaveSubscription(sub); err != nil {
		return nil, fmt.Errorf("update subscription: %w", err)
	}

	eff := &effect{outcome: models.WebhookOutcomeProcessed}
	if sub.Status == prevStatus && sub.CurrentTier == prevTier {
		return eff, nil
	}
	user, newTier, err := reconcileUserTier(tx, sub.UserID)
	if err != nil {
		return nil, err
	}
	if user != nil && sub.IsCanceled() && prevStatus != models.SubscriptionStatusCanceled {
		eff.emails = append(eff.emails, canceledEmail(user, sub, newTier))
	}
	return eff, nil
}

func (r *Reconciler) subscriptionDeleted(tx Repository, in Subscription) (*effect, error) {
	sub, err := tx.GetSubscriptionByProviderID(models.BillingProviderStripe, strings.TrimSpace(in.ID))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return deferred()
		}
		return nil, fmt.Errorf("load subscription %s: %w", in.ID, err)
	}

	wasCanceled := sub.IsCanceled()
	if !wasCanceled || sub.CanceledAt == nil {
		sub.Status = models.SubscriptionStatusCanceled
		if sub.CanceledAt == nil {
			now := r.now()
			sub.CanceledAt = &now
		}
		if err := tx.SaveSubscription(sub); err != nil {
			return nil, fmt.Errorf("cancel subscription: %w", err)
		}
	}

	user, newTier, err := reconcileUserTier(tx, sub.UserID)
	if err != nil {
		return nil, err
	}

	eff := &effect{outcome: models.WebhookOutcomeProcessed}
	if user != nil && !wasCanceled {
		log.Infof("[Billing] Subscription %s canceled, user %d now on %s", sub.ProviderSubscriptionID, user.ID, newTier)
		eff.emails = append(eff.emails, canceledEmail(user, sub, newTier))
	}
	return eff, nil
}

// replayDeferred applies the events parked for subscriptionRef, oldest
// provider timestamp first, and returns the emails they produce.
func (r *Reconciler) replayDeferred(tx Repository, subscriptionRef string) ([]mail.Message, error) {
	stored, err := tx.ListDeferredWebhookEvents(models.BillingProviderStripe, subscriptionRef)
	if err != nil {
		return nil, fmt.Errorf("list deferred events: %w", err)
	}
	if len(stored) == 0 {
		return nil, nil
	}

	type parked struct {
		event   models.BillingWebhookEvent
		created int64
		object  json.RawMessage
	}
	queue := make([]parked, 0, len(stored))
	for _, ev := range stored {
		var envelope struct {
			Created int64 `json:"created"`
			Data    struct {
				Object json.RawMessage `json:"object"`
			} `json:"data"`
		}
		if err := json.Unmarshal([]byte(ev.PayloadJSON), &envelope); err != nil || len(envelope.Data.Object) == 0 {
			log.Warnf("[Billing] Deferred webhook %s has an unreadable payload, dropping it", ev.ProviderEventID)
			if err := tx.MarkWebhookOutcome(ev.ID, models.WebhookOutcomeIgnored, ""); err != nil {
				return nil, fmt.Errorf("mark webhook %s: %w", ev.ProviderEventID, err)
			}
			continue
		}
		queue = append(queue, parked{event: ev, created: envelope.Created, object: envelope.Data.Object})
	}
	sort.SliceStable(queue, func(i, j int) bool { return queue[i].created < queue[j].created })

	var emails []mail.Message
	for _, p := range queue {
		eff, err := r.apply(tx, p.event.EventType, p.object)
		if err != nil {
			return nil, fmt.Errorf("replay %s: %w", p.event.ProviderEventID, err)
		}
		if err := tx.MarkWebhookOutcome(p.event.ID, eff.outcome, ""); err != nil {
			return nil, fmt.Errorf("mark webhook %s: %w", p.event.ProviderEventID, err)
		}
		log.Infof("[Billing] Replayed deferred webhook %s (%s): %s", p.event.ProviderEventID, p.event.EventType, eff.outcome)
		emails = append(emails, eff.emails...)
	}
	return emails, nil
}

// subscriptionRef names the subscription an event concerns, or "".
func subscriptionRef(eventType string, raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	switch eventType {
	case EventCheckoutSessionCompleted:
		var session CheckoutSession
		if json.Unmarshal(raw, &session) == nil {
			return session.SubscriptionKey()
		}
	case EventInvoicePaymentSucceeded, EventInvoicePaymentFailed:
		var inv Invoice
		if json.Unmarshal(raw, &inv) == nil {
			return inv.SubscriptionID()
		}
	case EventCustomerSubscriptionUpdated, EventCustomerSubscriptionDeleted:
		var sub Subscription
		if json.Unmarshal(raw, &sub) == nil {
			return strings.TrimSpace(sub.ID)
		}
	}
	return ""
}

// reconcileUserTier sets the user's tier to the best tier among their
// remaining entitling subscriptions, or free. A missing user yields nil.
func reconcileUserTier(tx Repository, userID uint) (*models.User, entitlements.Tier, error) {
	user, err := tx.GetUser(userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warnf("[Billing] Subscription owner %d not found, skipping tier reconciliation", userID)
			return nil, entitlements.TierFree, nil
		}
		return nil, "", fmt.Errorf("load user %d: %w", userID, err)
	}
	if user.Tier() == entitlements.TierAdmin || user.MembershipTier == string(entitlements.TierAdmin) {
		return user, entitlements.TierAdmin, nil
	}

	subs, err := tx.ListSubscriptionsByUser(userID)
	if err != nil {
		return nil, "", fmt.Errorf("list subscriptions: %w", err)
	}
	best := bestTier(subs)
	if user.MembershipTier != string(best) {
		if err := tx.UpdateUserTier(userID, string(best)); err != nil {
			return nil, "", fmt.Errorf("update user tier: %w", err)
		}
		user.MembershipTier = string(best)
	}
	return user, best, nil
}

func memberEmail(user *models.User, template string, data map[string]string) mail.Message {
	return mail.Message{Template: template, To: user.Email, Name: user.Name, Data: data}
}

func canceledEmail(user *models.User, sub *models.Subscription, newTier entitlements.Tier) mail.Message {
	return memberEmail(user, mail.TemplateSubscriptionCanceled, map[string]string{
		"tier":     entitlements.DisplayName(entitlements.NormalizeTier(sub.CurrentTier)),
		"new_tier": entitlements.DisplayName(newTier),
	})
}
