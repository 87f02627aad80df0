package billing

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/ManuelReschke/MemberPortal/app/models"
	"github.com/ManuelReschke/MemberPortal/internal/pkg/mail"
)

var errInjected = errors.New("injected failure")

// memRepo is an in-memory Repository. Transaction restores a snapshot when fn fails.
type memRepo struct {
	mu       sync.Mutex
	users    map[uint]*models.User
	subs     map[uint]*models.Subscription
	events   map[string]*models.BillingWebhookEvent
	accounts map[string]*models.BillingAccount
	logs     []models.AdminActivityLog
	nextID   uint
	writes   int
	failOn   string
}

func newMemRepo() *memRepo {
	return &memRepo{
		users:    map[uint]*models.User{},
		subs:     map[uint]*models.Subscription{},
		events:   map[string]*models.BillingWebhookEvent{},
		accounts: map[string]*models.BillingAccount{},
	}
}

type memSnapshot struct {
	users    map[uint]models.User
	subs     map[uint]models.Subscription
	events   map[string]models.BillingWebhookEvent
	accounts map[string]models.BillingAccount
	logs     []models.AdminActivityLog
}

func (r *memRepo) snapshot() memSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := memSnapshot{
		users:    map[uint]models.User{},
		subs:     map[uint]models.Subscription{},
		events:   map[string]models.BillingWebhookEvent{},
		accounts: map[string]models.BillingAccount{},
		logs:     append([]models.AdminActivityLog(nil), r.logs...),
	}
	for k, v := range r.users {
		s.users[k] = *v
	}
	for k, v := range r.subs {
		s.subs[k] = *v
	}
	for k, v := range r.events {
		s.events[k] = *v
	}
	for k, v := range r.accounts {
		s.accounts[k] = *v
	}
	return s
}

func (r *memRepo) restore(s memSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users = map[uint]*models.User{}
	for k, v := range s.users {
		v := v
		r.users[k] = &v
	}
	r.subs = map[uint]*models.Subscription{}
	for k, v := range s.subs {
		v := v
		r.subs[k] = &v
	}
	r.events = map[string]*models.BillingWebhookEvent{}
	for k, v := range s.events {
		v := v
		r.events[k] = &v
	}
	r.accounts = map[string]*models.BillingAccount{}
	for k, v := range s.accounts {
		v := v
		r.accounts[k] = &v
	}
	r.logs = s.logs
}

func (r *memRepo) fail(method string) error {
	if r.failOn == method {
		return fmt.Errorf("%s: %w", method, errInjected)
	}
	return nil
}

func (r *memRepo) id() uint {
	r.nextID++
	return r.nextID
}

func (r *memRepo) addUser(u models.User) *models.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u.ID == 0 {
		u.ID = r.id()
	}
	if u.Status == "" {
		u.Status = models.STATUS_ACTIVE
	}
	if u.Role == "" {
		u.Role = models.ROLE_USER
	}
	r.users[u.ID] = &u
	cp := u
	return &cp
}

func (r *memRepo) addSubscription(s models.Subscription) *models.Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	s.ID = r.id()
	if s.Provider == "" {
		s.Provider = models.BillingProviderStripe
	}
	r.subs[s.ID] = &s
	cp := s
	return &cp
}

func (r *memRepo) user(id uint) models.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.users[id]
}

func (r *memRepo) subByProvider(providerID string) *models.Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.subs {
		if s.ProviderSubscriptionID == providerID {
			cp := *s
			return &cp
		}
	}
	return nil
}

func (r *memRepo) subCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

func (r *memRepo) event(id string) *models.BillingWebhookEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.events[models.BillingProviderStripe+"/"+id]; ok {
		cp := *e
		return &cp
	}
	return nil
}

func (r *memRepo) Transaction(fn func(tx Repository) error) error {
	snap := r.snapshot()
	if err := fn(r); err != nil {
		r.restore(snap)
		return err
	}
	return nil
}

func (r *memRepo) CreateWebhookEventIfNotExists(event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := event.Provider + "/" + event.ProviderEventID
	if stored, ok := r.events[key]; ok {
		cp := *stored
		return false, &cp, nil
	}
	r.writes++
	event.ID = r.id()
	event.CreatedAt = time.Now()
	cp := *event
	r.events[key] = &cp
	out := cp
	return true, &out, nil
}

func (r *memRepo) MarkWebhookOutcome(id uint, outcome, processingError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.ID == id {
			now := time.Now()
			e.ProcessedAt = &now
			e.Outcome = outcome
			e.ProcessingError = processingError
			r.writes++
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (r *memRepo) ListDeferredWebhookEvents(provider, subscriptionRef string) ([]models.BillingWebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.BillingWebhookEvent
	for _, e := range r.events {
		if e.Provider == provider && e.SubscriptionRef == subscriptionRef && e.Outcome == models.WebhookOutcomeDeferred {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memRepo) GetUser(id uint) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *memRepo) UpdateUserTier(userID uint, tier string) error {
	if err := r.fail("UpdateUserTier"); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	r.writes++
	u.MembershipTier = tier
	return nil
}

func (r *memRepo) GetSubscriptionByID(id uint) (*models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subs[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *memRepo) GetSubscriptionByProviderID(provider, providerSubscriptionID string) (*models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.subs {
		if s.Provider == provider && s.ProviderSubscriptionID == providerSubscriptionID {
			cp := *s
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memRepo) CreateSubscription(sub *models.Subscription) error {
	if err := r.fail("CreateSubscription"); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.subs {
		if s.Provider == sub.Provider && s.ProviderSubscriptionID == sub.ProviderSubscriptionID {
			return errors.New("duplicate provider subscription id")
		}
	}
	r.writes++
	sub.ID = r.id()
	cp := *sub
	r.subs[sub.ID] = &cp
	return nil
}

func (r *memRepo) SaveSubscription(sub *models.Subscription) error {
	if err := r.fail("SaveSubscription"); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes++
	cp := *sub
	r.subs[sub.ID] = &cp
	return nil
}

func (r *memRepo) ListSubscriptionsByUser(userID uint) ([]models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Subscription
	for _, s := range r.subs {
		if s.UserID == userID {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memRepo) ListRenewingBetween(from, to time.Time) ([]models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Subscription
	for _, s := range r.subs {
		if s.Status != models.SubscriptionStatusActive || s.RenewalDate == nil || s.ReminderSentAt != nil {
			continue
		}
		if !s.RenewalDate.Before(from) && s.RenewalDate.Before(to) {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memRepo) UpsertBillingAccount(account *models.BillingAccount) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes++
	key := account.Provider + "/" + account.ProviderAccountID
	if existing, ok := r.accounts[key]; ok {
		existing.UserID = account.UserID
		existing.Email = account.Email
		*account = *existing
		return nil
	}
	account.ID = r.id()
	cp := *account
	r.accounts[key] = &cp
	return nil
}

func (r *memRepo) GetBillingAccountByUser(userID uint, provider string) (*models.BillingAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.accounts {
		if a.UserID == userID && a.Provider == provider {
			cp := *a
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memRepo) CreateActivityLog(entry *models.AdminActivityLog) error {
	if err := r.fail("CreateActivityLog"); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes++
	entry.ID = r.id()
	r.logs = append(r.logs, *entry)
	return nil
}

// recordingNotifier captures queued emails.
type recordingNotifier struct {
	mu   sync.Mutex
	sent []mail.Message
	err  error
}

func (n *recordingNotifier) EnqueueEmail(_ context.Context, msg mail.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, msg)
	return nil
}

func (n *recordingNotifier) templates() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.sent))
	for _, m := range n.sent {
		out = append(out, m.Template)
	}
	return out
}
