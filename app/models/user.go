package models

import (
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/ManuelReschke/MemberPortal/internal/pkg/entitlements"
)

const (
	ROLE_USER       = "user"
	ROLE_ADMIN      = "admin"
	STATUS_ACTIVE   = "active"
	STATUS_INACTIVE = "inactive"
	STATUS_DISABLED = "disabled"
)

type User struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	Name           string         `gorm:"type:varchar(150)" json:"name" validate:"required,min=3,max=150"`
	Email          string         `gorm:"uniqueIndex;type:varchar(200) CHARACTER SET utf8 COLLATE utf8_bin" json:"email" validate:"required,email,min=5,max=200"`
	Password       string         `gorm:"type:text" json:"-" validate:"required,min=6"`
	Role           string         `gorm:"type:varchar(50);default:'user'" json:"role" validate:"oneof=user admin"`
	Status         string         `gorm:"type:varchar(50);default:'active'" json:"status" validate:"oneof=active inactive disabled"`
	MembershipTier string         `gorm:"type:varchar(20);not null;default:'free';index" json:"membership_tier" validate:"oneof=free tier1 tier2 tier3 tier4 admin"`
	Bio            string         `gorm:"type:text;default:null" json:"bio" validate:"max=1000"`
	AvatarURL      string         `gorm:"type:varchar(255);default:null" json:"avatar_url" validate:"max=255"`
	LastLoginAt    *time.Time     `gorm:"type:timestamp;default:null" json:"last_login_at"`
	CreatedAt      time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"-"`
}

// validate caches struct metadata across calls.
var validate = validator.New()

func (u *User) Validate() error {
	return validate.Struct(u)
}

// CreateUser builds a validated active member on the free tier. The
// password is stored as a bcrypt hash.
func CreateUser(name, email, password string) (*User, error) {
	u := &User{
		Name:           name,
		Email:          email,
		Role:           ROLE_USER,
		Status:         STATUS_ACTIVE,
		MembershipTier: string(entitlements.TierFree),
	}
	// validate the plain password length before hashing
	u.Password = password
	if err := u.Validate(); err != nil {
		return nil, err
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	u.Password = hash
	return u, nil
}

func HashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(b), err
}

func (u *User) IsActive() bool { return u.Status == STATUS_ACTIVE }

func (u *User) IsAdmin() bool { return u.Role == ROLE_ADMIN }

// Tier returns the normalized membership tier. Admins always resolve to the admin tier.
func (u *User) Tier() entitlements.Tier {
	if u.IsAdmin() {
		return entitlements.TierAdmin
	}
	return entitlements.NormalizeTier(u.MembershipTier)
}

// CheckPassword reports whether password matches the stored hash.
func (u *User) CheckPassword(password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(password)) == nil
}
