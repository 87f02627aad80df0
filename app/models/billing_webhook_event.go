package models

import "time"

const (
	WebhookOutcomeProcessed = "processed"
	WebhookOutcomeIgnored   = "ignored"
	WebhookOutcomeFailed    = "failed"

	// WebhookOutcomeDeferred marks an event that arrived before its
	// subscription row. It is applied when checkout creates the row.
	WebhookOutcomeDeferred = "deferred"
)

// BillingWebhookEvent stores verified provider webhook payloads with
// deduplication metadata for idempotent processing.
type BillingWebhookEvent struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	Provider        string     `gorm:"type:varchar(20);not null;index:ux_billing_webhook_events_provider_event,unique,priority:1;index" json:"provider"`
	ProviderEventID string     `gorm:"type:varchar(191);not null;default:'';index:ux_billing_webhook_events_provider_event,unique,priority:2" json:"provider_event_id"`
	EventType       string     `gorm:"type:varchar(100);not null;index" json:"event_type"`
	SubscriptionRef string     `gorm:"type:varchar(191);not null;default:'';index" json:"subscription_ref"`
	PayloadJSON     string     `gorm:"type:longtext;not null" json:"payload_json"`
	Outcome         string     `gorm:"type:varchar(20);default:'';index" json:"outcome"`
	ProcessedAt     *time.Time `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`
	ProcessingError string     `gorm:"type:text" json:"processing_error"`
	CreatedAt       time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsSettled reports whether a previous delivery reached a final outcome.
// Failed and deferred events are applied again on redelivery.
func (e *BillingWebhookEvent) IsSettled() bool {
	if e.ProcessedAt == nil || e.ProcessingError != "" {
		return false
	}
	switch e.Outcome {
	case WebhookOutcomeFailed, WebhookOutcomeDeferred:
		return false
	}
	return true
}
