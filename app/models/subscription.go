package models

import "time"

const (
	SubscriptionStatusActive   = "active"
	SubscriptionStatusPastDue  = "past_due"
	SubscriptionStatusCanceled = "canceled"
)

// Subscription mirrors one provider side subscription contract and the tier it
// grants to its user.
type Subscription struct {
	ID                     uint       `gorm:"primaryKey" json:"id"`
	UserID                 uint       `gorm:"not null;index" json:"user_id"`
	Provider               string     `gorm:"type:varchar(20);not null;index:ux_subscriptions_provider_subid,unique,priority:1" json:"provider"`
	ProviderSubscriptionID string     `gorm:"type:varchar(191);not null;index:ux_subscriptions_provider_subid,unique,priority:2" json:"provider_subscription_id"`
	ProviderCustomerID     string     `gorm:"type:varchar(191);default:'';index" json:"provider_customer_id"`
	CurrentTier            string     `gorm:"type:varchar(20);not null;default:'free'" json:"current_tier"`
	Status                 string     `gorm:"type:varchar(32);not null;default:'active';index" json:"status"`
	RenewalDate            *time.Time `gorm:"type:timestamp;default:null;index" json:"renewal_date,omitempty"`
	CanceledAt             *time.Time `gorm:"type:timestamp;default:null" json:"canceled_at,omitempty"`
	ReminderSentAt         *time.Time `gorm:"type:timestamp;default:null" json:"-"`
	RawPayloadJSON         string     `gorm:"type:longtext" json:"-"`
	CreatedAt              time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsCanceled reports whether the subscription reached its terminal state.
func (s *Subscription) IsCanceled() bool {
	return s.Status == SubscriptionStatusCanceled
}

// SameRenewal reports whether the stored renewal date equals t (second precision).
func (s *Subscription) SameRenewal(t *time.Time) bool {
	if s.RenewalDate == nil || t == nil {
		return s.RenewalDate == nil && t == nil
	}
	return s.RenewalDate.Unix() == t.Unix()
}
