package entitlements

import (
	"errors"
	"fmt"
	"strings"
)

type Tier string

const (
	TierFree  Tier = "free"
	TierOne   Tier = "tier1"
	TierTwo   Tier = "tier2"
	TierThree Tier = "tier3"
	TierFour  Tier = "tier4"
	TierAdmin Tier = "admin"
)

// Scopes understood by the token authorizer.
const (
	ScopeReadProfile       = "read:profile"
	ScopeReadSubscriptions = "read:subscriptions"
	ScopeReadInvoices      = "read:invoices"
	ScopeWriteProfile      = "write:profile"
	ScopeWriteSubscription = "write:subscriptions"
	ScopeAdminUsers        = "admin:users"
	ScopeAdminStats        = "admin:stats"
	ScopeAdminImpersonate  = "admin:impersonate"
	ScopeReadAll           = "read:*"
	ScopeWriteAll          = "write:*"
	ScopeAdminAll          = "admin:*"
	ScopeAll               = "*"
)

// AvailableScopes lists every scope string a token may be issued with.
var AvailableScopes = []string{
	ScopeReadProfile,
	ScopeReadSubscriptions,
	ScopeReadInvoices,
	ScopeWriteProfile,
	ScopeWriteSubscription,
	ScopeAdminUsers,
	ScopeAdminStats,
	ScopeAdminImpersonate,
	ScopeReadAll,
	ScopeWriteAll,
	ScopeAdminAll,
	ScopeAll,
}

var tierScopes = map[Tier][]string{
	TierAdmin: {ScopeAll},
	TierFour:  {ScopeReadAll, ScopeWriteAll},
	TierThree: {ScopeReadProfile, ScopeReadSubscriptions, ScopeReadInvoices, ScopeWriteProfile, ScopeWriteSubscription},
	TierTwo:   {ScopeReadProfile, ScopeReadSubscriptions, ScopeWriteProfile},
	TierOne:   {ScopeReadProfile},
	TierFree:  {ScopeReadProfile},
}

var tierNames = map[Tier]string{
	TierFree:  "Free",
	TierOne:   "Starter",
	TierTwo:   "Plus",
	TierThree: "Pro",
	TierFour:  "Business",
	TierAdmin: "Administrator",
}

// ParseTier normalizes a tier string. Unknown values report ok=false.
func ParseTier(raw string) (Tier, bool) {
	t := Tier(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := tierScopes[t]; ok {
		return t, true
	}
	return TierFree, false
}

// NormalizeTier maps unknown or empty values to the free tier.
func NormalizeTier(raw string) Tier {
	t, _ := ParseTier(raw)
	return t
}

// IsPurchasable reports whether the tier can be bought through checkout.
func IsPurchasable(t Tier) bool {
	switch t {
	case TierOne, TierTwo, TierThree, TierFour:
		return true
	default:
		return false
	}
}

// Rank orders tiers from lowest (free) to highest (admin).
func Rank(t Tier) int {
	switch t {
	case TierOne:
		return 1
	case TierTwo:
		return 2
	case TierThree:
		return 3
	case TierFour:
		return 4
	case TierAdmin:
		return 5
	default:
		return 0
	}
}

// DisplayName returns the human readable label used in emails and admin output.
func DisplayName(t Tier) string {
	if name, ok := tierNames[t]; ok {
		return name
	}
	return tierNames[TierFree]
}

// AllowedScopes returns the scopes a user of the given tier may hold on a token.
func AllowedScopes(t Tier) []string {
	scopes, ok := tierScopes[t]
	if !ok {
		scopes = tierScopes[TierFree]
	}
	out := make([]string, len(scopes))
	copy(out, scopes)
	return out
}

// IsKnownScope reports whether scope is part of AvailableScopes.
func IsKnownScope(scope string) bool {
	for _, s := range AvailableScopes {
		if s == scope {
			return true
		}
	}
	return false
}

// HasScope checks whether granted satisfies required.
//
// An exact match succeeds, "ns:*" covers any "ns:x", and "*" or "admin:*"
// cover every scope.
func HasScope(granted []string, required string) bool {
	for _, g := range granted {
		if g == ScopeAll || g == ScopeAdminAll {
			return true
		}
		if g == required {
			return true
		}
		if strings.HasSuffix(g, ":*") {
			ns := strings.TrimSuffix(g, "*")
			if strings.HasPrefix(required, ns) {
				return true
			}
		}
	}
	return false
}

// ErrNoScopes is returned when a token is requested without any scope.
var ErrNoScopes = errors.New("at least one scope is required")

// UnknownScopeError is returned when a requested scope is not a known scope string.
type UnknownScopeError struct {
	Scope string
}

func (e *UnknownScopeError) Error() string {
	return fmt.Sprintf("unknown scope %q", e.Scope)
}

// ScopeNotAllowedError is returned when a tier may not hold a requested scope.
type ScopeNotAllowedError struct {
	Tier  Tier
	Scope string
}

func (e *ScopeNotAllowedError) Error() string {
	return fmt.Sprintf("tier %s may not hold scope %q", e.Tier, e.Scope)
}

// ValidateScopes checks requested scopes against the known set and against the
// allow list of the owner's tier. Admins may hold any known scope.
func ValidateScopes(t Tier, requested []string) error {
	if len(requested) == 0 {
		return ErrNoScopes
	}
	allowed := AllowedScopes(t)
	for _, scope := range requested {
		if !IsKnownScope(scope) {
			return &UnknownScopeError{Scope: scope}
		}
		if t == TierAdmin {
			continue
		}
		if !coversGrant(allowed, scope) {
			return &ScopeNotAllowedError{Tier: t, Scope: scope}
		}
	}
	return nil
}

// coversGrant decides whether an allow list may mint the requested scope. A
// wildcard request is only covered by an equal or broader wildcard.
func coversGrant(allowed []string, requested string) bool {
	if !strings.HasSuffix(requested, "*") {
		return HasScope(allowed, requested)
	}
	for _, a := range allowed {
		if a == ScopeAll || a == requested {
			return true
		}
	}
	return false
}
