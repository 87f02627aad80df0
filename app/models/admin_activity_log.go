package models

import "time"

const (
	AdminActionGrantTier          = "grant-tier"
	AdminActionExtendSubscription = "extend-subscription"
	AdminActionCancelSubscription = "cancel-subscription"
	AdminActionRefund             = "refund"
)

// AdminActivityLog records every manual change an admin makes to a member.
type AdminActivityLog struct {
	ID           uint              `gorm:"primaryKey" json:"id"`
	AdminID      uint              `gorm:"not null;index" json:"admin_id"`
	TargetUserID uint              `gorm:"not null;index" json:"target_user_id"`
	Action       string            `gorm:"type:varchar(50);not null;index" json:"action"`
	Details      map[string]string `gorm:"type:text;serializer:json" json:"details"`
	CreatedAt    time.Time         `gorm:"autoCreateTime;index" json:"created_at"`
}
