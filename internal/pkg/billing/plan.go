package billing

import (
	"strconv"
	"strings"

	"github.com/ManuelReschke/MemberPortal/app/models"
	"github.com/ManuelReschke/MemberPortal/internal/pkg/entitlements"
)

// MapProviderStatus folds a Stripe subscription status into the local status
// set. ok is false for statuses without a local meaning (for example "paused").
func MapProviderStatus(status string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "active", "trialing":
		return models.SubscriptionStatusActive, true
	case "past_due", "unpaid", "incomplete":
		return models.SubscriptionStatusPastDue, true
	case "canceled", "incomplete_expired":
		return models.SubscriptionStatusCanceled, true
	default:
		return "", false
	}
}

// isEntitlingStatus reports whether a local subscription status still grants its tier.
func isEntitlingStatus(status string) bool {
	switch status {
	case models.SubscriptionStatusActive, models.SubscriptionStatusPastDue:
		return true
	default:
		return false
	}
}

// bestTier picks the highest tier among entitling subscriptions, or free.
func bestTier(subs []models.Subscription) entitlements.Tier {
	best := entitlements.TierFree
	for _, sub := range subs {
		if !isEntitlingStatus(sub.Status) {
			continue
		}
		candidate := entitlements.NormalizeTier(sub.CurrentTier)
		if candidate == entitlements.TierAdmin {
			continue
		}
		if entitlements.Rank(candidate) > entitlements.Rank(best) {
			best = candidate
		}
	}
	return best
}

// purchasableTier parses a tier from provider metadata. Only paid tiers qualify.
func purchasableTier(raw string) (entitlements.Tier, bool) {
	t, ok := entitlements.ParseTier(raw)
	if !ok || !entitlements.IsPurchasable(t) {
		return "", false
	}
	return t, true
}

func parseUserID(raw string) (uint, bool) {
	id, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}
