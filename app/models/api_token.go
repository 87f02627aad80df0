package models

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const (
	ApiTokenPrefix = "mp_"
	// ApiTokenLookupLength is the number of leading characters stored in clear
	// text to narrow bcrypt comparisons.
	ApiTokenLookupLength = 11
	apiTokenRandomBytes  = 32
)

// ApiToken is a bearer credential. Only the bcrypt hash of the secret is stored.
type ApiToken struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	UserID       uint       `gorm:"not null;index" json:"user_id"`
	Name         string     `gorm:"type:varchar(100);not null" json:"name" validate:"required,min=1,max=100"`
	TokenHash    string     `gorm:"type:varchar(100);not null" json:"-"`
	TokenPrefix  string     `gorm:"type:varchar(20);not null;index" json:"token_prefix"`
	Scopes       []string   `gorm:"type:text;serializer:json" json:"scopes"`
	ExpiresAt    *time.Time `gorm:"type:timestamp;default:null;index" json:"expires_at,omitempty"`
	LastUsedAt   *time.Time `gorm:"type:timestamp;default:null" json:"last_used_at,omitempty"`
	RequestCount int64      `gorm:"not null;default:0" json:"request_count"`
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// NewApiToken builds a token record and returns the plaintext secret.
// The secret is not kept on the record and cannot be recovered later.
func NewApiToken(userID uint, name string, scopes []string, expiresAt *time.Time) (*ApiToken, string, error) {
	b := make([]byte, apiTokenRandomBytes)
	if _, err := rand.Read(b); err != nil {
		return nil, "", err
	}
	raw := ApiTokenPrefix + hex.EncodeToString(b)

	hash, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", err
	}

	return &ApiToken{
		UserID:      userID,
		Name:        strings.TrimSpace(name),
		TokenHash:   string(hash),
		TokenPrefix: ApiTokenLookupPrefix(raw),
		Scopes:      scopes,
		ExpiresAt:   expiresAt,
	}, raw, nil
}

// ApiTokenLookupPrefix returns the non-secret leading part of a raw token.
func ApiTokenLookupPrefix(raw string) string {
	if len(raw) <= ApiTokenLookupLength {
		return raw
	}
	return raw[:ApiTokenLookupLength]
}

// Matches compares a presented secret against the stored hash.
func (t *ApiToken) Matches(raw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(t.TokenHash), []byte(raw)) == nil
}

// IsExpired reports whether the token expiry lies before now.
func (t *ApiToken) IsExpired(now time.Time) bool {
	return t.ExpiresAt != nil && !now.Before(*t.ExpiresAt)
}
