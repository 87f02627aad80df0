package repository

import (
	"time"

	"github.com/ManuelReschke/MemberPortal/app/models"
	"gorm.io/gorm"
)

type apiTokenRepository struct {
	db *gorm.DB
}

// NewApiTokenRepository creates a new API token repository instance
func NewApiTokenRepository(db *gorm.DB) ApiTokenRepository {
	return &apiTokenRepository{db: db}
}

func (r *apiTokenRepository) Create(token *models.ApiToken) error {
	return r.db.Create(token).Error
}

func (r *apiTokenRepository) ListByUser(userID uint) ([]models.ApiToken, error) {
	var tokens []models.ApiToken
	err := r.db.Where("user_id = ?", userID).Order("created_at DESC").Find(&tokens).Error
	return tokens, err
}

// FindByPrefix returns all tokens sharing the non-secret lookup prefix.
func (r *apiTokenRepository) FindByPrefix(prefix string) ([]models.ApiToken, error) {
	var tokens []models.ApiToken
	err := r.db.Where("token_prefix = ?", prefix).Find(&tokens).Error
	return tokens, err
}

func (r *apiTokenRepository) TouchLastUsed(id uint, at time.Time) error {
	return r.db.Model(&models.ApiToken{}).Where("id = ?", id).UpdateColumn("last_used_at", at).Error
}

// DeleteForUser hard deletes a token owned by userID and reports whether a row was removed.
func (r *apiTokenRepository) DeleteForUser(id, userID uint) (bool, error) {
	res := r.db.Where("id = ? AND user_id = ?", id, userID).Delete(&models.ApiToken{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *apiTokenRepository) DeleteExpired(now time.Time) (int64, error) {
	res := r.db.Where("expires_at IS NOT NULL AND expires_at <= ?", now).Delete(&models.ApiToken{})
	return res.RowsAffected, res.Error
}

func (r *apiTokenRepository) Count() (int64, error) {
	var count int64
	err := r.db.Model(&models.ApiToken{}).Count(&count).Error
	return count, err
}
