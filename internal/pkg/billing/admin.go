package billing

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/MemberPortal/app/models"
	"github.com/ManuelReschke/MemberPortal/internal/pkg/entitlements"
)

const maxExtendDays = 365

// AdjustRequest is a manual subscription change made from the admin console.
type AdjustRequest struct {
	Action         string `json:"action" validate:"required,oneof=grant-tier extend-subscription cancel-subscription refund"`
	TierID         string `json:"tier_id,omitempty"`
	Days           int    `json:"days,omitempty"`
	SubscriptionID uint   `json:"subscription_id,omitempty"`
	Amount         string `json:"amount,omitempty"`
	Reason         string `json:"reason,omitempty" validate:"max=500"`
}

// AdjustResult reports the state after an admin adjustment.
type AdjustResult struct {
	Action       string                   `json:"action"`
	UserID       uint                     `json:"user_id"`
	Tier         string                   `json:"membership_tier"`
	Subscription *models.Subscription     `json:"subscription,omitempty"`
	Log          *models.AdminActivityLog `json:"activity"`
}

// AdminAdjust applies an admin action to a member. The state change and its
// activity log entry are written in one transaction.
func (s *Service) AdminAdjust(ctx context.Context, admin *models.User, targetUserID uint, req AdjustRequest) (*AdjustResult, error) {
	action := strings.TrimSpace(req.Action)
	details := map[string]string{}
	if reason := strings.TrimSpace(req.Reason); reason != "" {
		details["reason"] = reason
	}

	// Stripe is called before the local transaction so a provider failure
	// leaves local state untouched.
	var toCancel *models.Subscription
	if action == models.AdminActionCancelSubscription {
		sub, err := s.pickSubscription(targetUserID, req.SubscriptionID)
		if err != nil {
			return nil, err
		}
		if isProviderManaged(sub) {
			if s.provider == nil {
				return nil, ErrProviderUnavailable
			}
			if err := s.provider.CancelSubscription(ctx, sub.ProviderSubscriptionID); err != nil {
				return nil, err
			}
		}
		toCancel = sub
	}

	res := &AdjustResult{Action: action, UserID: targetUserID}
	err := s.repo.Transaction(func(tx Repository) error {
		user, err := tx.GetUser(targetUserID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return err
		}

		switch action {
		case models.AdminActionGrantTier:
			tier, ok := entitlements.ParseTier(req.TierID)
			if !ok || tier == entitlements.TierAdmin {
				return fmt.Errorf("%w: unknown tier %q", ErrInvalidAdjustment, req.TierID)
			}
			if user.IsAdmin() {
				return fmt.Errorf("%w: admin accounts have no membership tier", ErrInvalidAdjustment)
			}
			details["from"] = user.MembershipTier
			details["to"] = string(tier)
			if user.MembershipTier != string(tier) {
				if err := tx.UpdateUserTier(user.ID, string(tier)); err != nil {
					return err
				}
				user.MembershipTier = string(tier)
			}

		case models.AdminActionExtendSubscription:
			if req.Days < 1 || req.Days > maxExtendDays {
				return fmt.Errorf("%w: days must be between 1 and %d", ErrInvalidAdjustment, maxExtendDays)
			}
			sub, err := pickSubscriptionTx(tx, targetUserID, req.SubscriptionID)
			if err != nil {
				return err
			}
			base := s.now()
			if sub.RenewalDate != nil && sub.RenewalDate.After(base) {
				base = *sub.RenewalDate
			}
			renewal := base.Add(time.Duration(req.Days) * 24 * time.Hour)
			if sub.RenewalDate != nil {
				details["from"] = sub.RenewalDate.Format(time.RFC3339)
			}
			details["to"] = renewal.Format(time.RFC3339)
			details["days"] = strconv.Itoa(req.Days)
			details["subscription_id"] = strconv.FormatUint(uint64(sub.ID), 10)
			sub.RenewalDate = &renewal
			sub.ReminderSentAt = nil
			if err := tx.SaveSubscription(sub); err != nil {
				return err
			}
			res.Subscription = sub

		case models.AdminActionCancelSubscription:
			sub := toCancel
			now := s.now()
			sub.Status = models.SubscriptionStatusCanceled
			sub.CanceledAt = &now
			if err := tx.SaveSubscription(sub); err != nil {
				return err
			}
			_, newTier, err := reconcileUserTier(tx, targetUserID)
			if err != nil {
				return err
			}
			user.MembershipTier = string(newTier)
			details["subscription_id"] = strconv.FormatUint(uint64(sub.ID), 10)
			details["provider_subscription_id"] = sub.ProviderSubscriptionID
			res.Subscription = sub

		case models.AdminActionRefund:
			if amount := strings.TrimSpace(req.Amount); amount != "" {
				details["amount"] = amount
			}
			if req.SubscriptionID != 0 {
				details["subscription_id"] = strconv.FormatUint(uint64(req.SubscriptionID), 10)
			}

		default:
			return fmt.Errorf("%w: %q", ErrUnknownAction, action)
		}

		entry := &models.AdminActivityLog{
			AdminID:      admin.ID,
			TargetUserID: targetUserID,
			Action:       action,
			Details:      details,
		}
		if err := tx.CreateActivityLog(entry); err != nil {
			return fmt.Errorf("write activity log: %w", err)
		}
		res.Tier = user.MembershipTier
		res.Log = entry
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Infof("[Billing] Admin %d applied %s to user %d", admin.ID, action, targetUserID)
	return res, nil
}

func (s *Service) pickSubscription(userID, subscriptionID uint) (*models.Subscription, error) {
	return pickSubscriptionTx(s.repo, userID, subscriptionID)
}

// pickSubscriptionTx returns the named subscription, or the user's most recent
// non-canceled one when subscriptionID is zero.
func pickSubscriptionTx(tx Repository, userID, subscriptionID uint) (*models.Subscription, error) {
	if subscriptionID != 0 {
		sub, err := tx.GetSubscriptionByID(subscriptionID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrSubscriptionNotFound
			}
			return nil, err
		}
		if sub.UserID != userID {
			return nil, ErrSubscriptionNotFound
		}
		if sub.IsCanceled() {
			return nil, ErrAlreadyCanceled
		}
		return sub, nil
	}

	subs, err := tx.ListSubscriptionsByUser(userID)
	if err != nil {
		return nil, err
	}
	for i := len(subs) - 1; i >= 0; i-- {
		if !subs[i].IsCanceled() {
			sub := subs[i]
			return &sub, nil
		}
	}
	return nil, ErrSubscriptionNotFound
}
