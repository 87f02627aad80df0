package models

import "time"

// ProviderAccount ties one external login (provider + subject) to a local
// user. A user may hold several, one per provider identity.
type ProviderAccount struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	UserID         uint       `gorm:"not null;index" json:"user_id"`
	Provider       string     `gorm:"type:varchar(50);not null;uniqueIndex:ux_provider_accounts_subject,priority:1" json:"provider"`
	ProviderUserID string     `gorm:"type:varchar(191);not null;uniqueIndex:ux_provider_accounts_subject,priority:2" json:"provider_user_id"`
	Email          string     `gorm:"type:varchar(200);default:''" json:"email"`
	AccessToken    string     `gorm:"type:text" json:"-"`
	RefreshToken   string     `gorm:"type:text" json:"-"`
	ExpiresAt      *time.Time `gorm:"type:timestamp;default:null" json:"expires_at,omitempty"`
	LastUsedAt     *time.Time `gorm:"type:timestamp;default:null" json:"last_used_at,omitempty"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// SetTokens stores the provider's latest credentials. A zero expiry means
// the provider did not send one.
func (pa *ProviderAccount) SetTokens(access, refresh string, expiresAt, now time.Time) {
	pa.AccessToken = access
	if refresh != "" {
		pa.RefreshToken = refresh
	}
	pa.ExpiresAt = nil
	if !expiresAt.IsZero() {
		exp := expiresAt.UTC()
		pa.ExpiresAt = &exp
	}
	used := now.UTC()
	pa.LastUsedAt = &used
}
