package repository

import (
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/ManuelReschke/MemberPortal/app/models"
)

const MaxSearchResults = 50

type userRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) Create(user *models.User) error {
	return r.db.Create(user).Error
}

func (r *userRepository) GetByID(id uint) (*models.User, error) {
	var user models.User
	if err := r.db.First(&user, id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// GetByEmail expects a normalized (trimmed, lower-case) address.
func (r *userRepository) GetByEmail(email string) (*models.User, error) {
	var user models.User
	if err := r.db.Where("email = ?", email).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// UpdateProfile changes the self-service profile fields only.
func (r *userRepository) UpdateProfile(id uint, name, bio string) error {
	return r.db.Model(&models.User{}).Where("id = ?", id).
		Updates(map[string]any{"name": name, "bio": bio}).Error
}

func (r *userRepository) UpdateAvatar(id uint, avatarURL string) error {
	return r.db.Model(&models.User{}).Where("id = ?", id).Update("avatar_url", avatarURL).Error
}

// TouchLastLogin skips hooks and updated_at.
func (r *userRepository) TouchLastLogin(id uint, at time.Time) error {
	return r.db.Model(&models.User{}).Where("id = ?", id).UpdateColumn("last_login_at", at).Error
}

// List pages through users, newest first.
func (r *userRepository) List(offset, limit int) ([]models.User, error) {
	var users []models.User
	err := r.db.Order("created_at DESC").Order("id DESC").Offset(offset).Limit(limit).Find(&users).Error
	return users, err
}

func (r *userRepository) Count() (int64, error) {
	var count int64
	err := r.db.Model(&models.User{}).Count(&count).Error
	return count, err
}

func (r *userRepository) CountByTier() (map[string]int64, error) {
	var rows []struct {
		MembershipTier string
		Total          int64
	}
	err := r.db.Model(&models.User{}).
		Select("membership_tier, COUNT(*) AS total").
		Group("membership_tier").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.MembershipTier] = row.Total
	}
	return out, nil
}

func (r *userRepository) Search(query string) ([]models.User, error) {
	pattern := "%" + escapeLike(strings.TrimSpace(query)) + "%"
	var users []models.User
	err := r.db.Where("name LIKE ? OR email LIKE ?", pattern, pattern).
		Order("name").
		Limit(MaxSearchResults).
		Find(&users).Error
	return users, err
}

// escapeLike makes user input match literally inside a LIKE pattern
// (MySQL's default escape character is the backslash).
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
