package repository

import (
	"time"

	"github.com/ManuelReschke/MemberPortal/app/models"
	"gorm.io/gorm"
)

// UserRepository is the account storage. Search matches name or email
// and returns at most MaxSearchResults rows.
type UserRepository interface {
	Create(user *models.User) error
	GetByID(id uint) (*models.User, error)
	GetByEmail(email string) (*models.User, error)
	UpdateProfile(id uint, name, bio string) error
	UpdateAvatar(id uint, avatarURL string) error
	TouchLastLogin(id uint, at time.Time) error
	List(offset, limit int) ([]models.User, error)
	Count() (int64, error)
	CountByTier() (map[string]int64, error)
	Search(query string) ([]models.User, error)
}

// SubscriptionRepository defines read and maintenance operations on subscriptions.
// State transitions driven by the payment provider go through the billing package.
type SubscriptionRepository interface {
	GetByID(id uint) (*models.Subscription, error)
	GetByProviderID(provider, providerSubscriptionID string) (*models.Subscription, error)
	ListByUser(userID uint) ([]models.Subscription, error)
	CountByStatus() (map[string]int64, error)
	ListRenewingBetween(from, to time.Time) ([]models.Subscription, error)
	MarkReminderSent(id uint, at time.Time) error
}

// ApiTokenRepository defines the interface for API token persistence
type ApiTokenRepository interface {
	Create(token *models.ApiToken) error
	ListByUser(userID uint) ([]models.ApiToken, error)
	FindByPrefix(prefix string) ([]models.ApiToken, error)
	TouchLastUsed(id uint, at time.Time) error
	DeleteForUser(id, userID uint) (bool, error)
	DeleteExpired(now time.Time) (int64, error)
	Count() (int64, error)
}

// ActivityLogRepository defines the interface for admin audit records
type ActivityLogRepository interface {
	Create(entry *models.AdminActivityLog) error
	List(offset, limit int) ([]models.AdminActivityLog, error)
	ListByTarget(userID uint, limit int) ([]models.AdminActivityLog, error)
	Count() (int64, error)
}

// Repositories holds all repository instances
type Repositories struct {
	User         UserRepository
	Subscription SubscriptionRepository
	ApiToken     ApiTokenRepository
	ActivityLog  ActivityLogRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		User:         NewUserRepository(db),
		Subscription: NewSubscriptionRepository(db),
		ApiToken:     NewApiTokenRepository(db),
		ActivityLog:  NewActivityLogRepository(db),
	}
}
