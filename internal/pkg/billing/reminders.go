package billing

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/MemberPortal/internal/pkg/entitlements"
	"github.com/ManuelReschke/MemberPortal/internal/pkg/mail"
)

// ReminderLeadTime is how far ahead of a renewal the reminder goes out.
const ReminderLeadTime = 7 * 24 * time.Hour

// SendRenewalReminders queues one reminder per active subscription renewing
// within ReminderLeadTime and stamps reminder_sent_at. Subscriptions whose
// email could not be queued are retried on the next run.
func (s *Service) SendRenewalReminders(ctx context.Context) (int, error) {
	if s.notifier == nil {
		return 0, errors.New("renewal reminders need a notifier")
	}
	now := s.now()
	subs, err := s.repo.ListRenewingBetween(now, now.Add(ReminderLeadTime))
	if err != nil {
		return 0, err
	}

	sent := 0
	for i := range subs {
		sub := &subs[i]
		user, err := s.repo.GetUser(sub.UserID)
		if err != nil {
			log.Warnf("[Billing] Reminder skipped for subscription %d: %v", sub.ID, err)
			continue
		}
		msg := memberEmail(user, mail.TemplateRenewalReminder, map[string]string{
			"tier":         entitlements.DisplayName(entitlements.NormalizeTier(sub.CurrentTier)),
			"renewal_date": sub.RenewalDate.Format("2006-01-02"),
		})
		if err := s.notifier.EnqueueEmail(ctx, msg); err != nil {
			log.Errorf("[Billing] Failed to enqueue renewal reminder for subscription %d: %v", sub.ID, err)
			continue
		}
		stamp := now
		sub.ReminderSentAt = &stamp
		if err := s.repo.SaveSubscription(sub); err != nil {
			log.Errorf("[Billing] Failed to stamp reminder for subscription %d: %v", sub.ID, err)
			continue
		}
		sent++
	}
	if sent > 0 {
		log.Infof("[Billing] Queued %d renewal reminders", sent)
	}
	return sent, nil
}
