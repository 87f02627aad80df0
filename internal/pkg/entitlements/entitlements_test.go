package entitlements

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasScope(t *testing.T) {
	tests := []struct {
		name     string
		granted  []string
		required string
		want     bool
	}{
		{"exact match", []string{ScopeReadProfile}, ScopeReadProfile, true},
		{"no match", []string{ScopeReadProfile}, ScopeWriteProfile, false},
		{"namespace wildcard profile", []string{ScopeReadAll}, ScopeReadProfile, true},
		{"namespace wildcard invoices", []string{ScopeReadAll}, ScopeReadInvoices, true},
		{"namespace wildcard other namespace", []string{ScopeReadAll}, ScopeWriteProfile, false},
		{"universal", []string{ScopeAll}, ScopeAdminImpersonate, true},
		{"admin wildcard covers everything", []string{ScopeAdminAll}, ScopeWriteSubscription, true},
		{"empty grant", nil, ScopeReadProfile, false},
		{"prefix without colon is not a namespace", []string{"read:prof"}, ScopeReadProfile, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HasScope(tt.granted, tt.required))
		})
	}
}

func TestParseTier(t *testing.T) {
	tier, ok := ParseTier(" Tier3 ")
	assert.True(t, ok)
	assert.Equal(t, TierThree, tier)

	tier, ok = ParseTier("platinum")
	assert.False(t, ok)
	assert.Equal(t, TierFree, tier)

	assert.Equal(t, TierFree, NormalizeTier(""))
}

func TestRankOrdersTiers(t *testing.T) {
	ordered := []Tier{TierFree, TierOne, TierTwo, TierThree, TierFour, TierAdmin}
	for i := 1; i < len(ordered); i++ {
		assert.Greater(t, Rank(ordered[i]), Rank(ordered[i-1]), "%s should outrank %s", ordered[i], ordered[i-1])
	}
}

func TestIsPurchasable(t *testing.T) {
	assert.False(t, IsPurchasable(TierFree))
	assert.True(t, IsPurchasable(TierOne))
	assert.True(t, IsPurchasable(TierFour))
	assert.False(t, IsPurchasable(TierAdmin))
}

func TestAllowedScopesReturnsCopy(t *testing.T) {
	scopes := AllowedScopes(TierTwo)
	scopes[0] = ScopeAll
	assert.Equal(t, ScopeReadProfile, AllowedScopes(TierTwo)[0])
}

func TestValidateScopes(t *testing.T) {
	t.Run("tier1 cannot mint write scope", func(t *testing.T) {
		err := ValidateScopes(TierOne, []string{ScopeWriteSubscription})
		var notAllowed *ScopeNotAllowedError
		require.True(t, errors.As(err, &notAllowed))
		assert.Equal(t, ScopeWriteSubscription, notAllowed.Scope)
	})

	t.Run("tier3 may mint its explicit list", func(t *testing.T) {
		assert.NoError(t, ValidateScopes(TierThree, []string{ScopeReadInvoices, ScopeWriteSubscription}))
	})

	t.Run("tier3 cannot mint a wildcard", func(t *testing.T) {
		var notAllowed *ScopeNotAllowedError
		assert.True(t, errors.As(ValidateScopes(TierThree, []string{ScopeReadAll}), &notAllowed))
	})

	t.Run("tier4 may mint narrower scopes under its wildcards", func(t *testing.T) {
		assert.NoError(t, ValidateScopes(TierFour, []string{ScopeReadAll, ScopeWriteProfile}))
	})

	t.Run("tier4 cannot mint admin scopes", func(t *testing.T) {
		var notAllowed *ScopeNotAllowedError
		assert.True(t, errors.As(ValidateScopes(TierFour, []string{ScopeAdminStats}), &notAllowed))
		assert.True(t, errors.As(ValidateScopes(TierFour, []string{ScopeAll}), &notAllowed))
	})

	t.Run("admin may mint anything known", func(t *testing.T) {
		assert.NoError(t, ValidateScopes(TierAdmin, []string{ScopeAll, ScopeAdminImpersonate}))
	})

	t.Run("unknown scope", func(t *testing.T) {
		var unknown *UnknownScopeError
		require.True(t, errors.As(ValidateScopes(TierAdmin, []string{"delete:everything"}), &unknown))
		assert.Equal(t, "delete:everything", unknown.Scope)
	})

	t.Run("empty request", func(t *testing.T) {
		assert.ErrorIs(t, ValidateScopes(TierFour, nil), ErrNoScopes)
	})
}
