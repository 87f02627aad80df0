package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProviderAccountSetTokens(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	pa := ProviderAccount{RefreshToken: "old-refresh"}

	pa.SetTokens("access-1", "", time.Time{}, now)
	assert.Equal(t, "access-1", pa.AccessToken)
	assert.Equal(t, "old-refresh", pa.RefreshToken, "empty refresh keeps the stored one")
	assert.Nil(t, pa.ExpiresAt)
	require.NotNil(t, pa.LastUsedAt)
	assert.True(t, pa.LastUsedAt.Equal(now))

	exp := now.Add(time.Hour)
	pa.SetTokens("access-2", "refresh-2", exp, now)
	assert.Equal(t, "refresh-2", pa.RefreshToken)
	require.NotNil(t, pa.ExpiresAt)
	assert.True(t, pa.ExpiresAt.Equal(exp))
}
