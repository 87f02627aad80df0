package repository

import (
	"github.com/ManuelReschke/MemberPortal/app/models"
	"gorm.io/gorm"
)

type activityLogRepository struct {
	db *gorm.DB
}

// NewActivityLogRepository creates a new admin activity log repository instance
func NewActivityLogRepository(db *gorm.DB) ActivityLogRepository {
	return &activityLogRepository{db: db}
}

func (r *activityLogRepository) Create(entry *models.AdminActivityLog) error {
	return r.db.Create(entry).Error
}

func (r *activityLogRepository) List(offset, limit int) ([]models.AdminActivityLog, error) {
	var entries []models.AdminActivityLog
	err := r.db.Order("created_at DESC").Offset(offset).Limit(limit).Find(&entries).Error
	return entries, err
}

func (r *activityLogRepository) ListByTarget(userID uint, limit int) ([]models.AdminActivityLog, error) {
	var entries []models.AdminActivityLog
	err := r.db.Where("target_user_id = ?", userID).Order("created_at DESC").Limit(limit).Find(&entries).Error
	return entries, err
}

func (r *activityLogRepository) Count() (int64, error) {
	var count int64
	err := r.db.Model(&models.AdminActivityLog{}).Count(&count).Error
	return count, err
}
