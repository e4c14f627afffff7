package repository

import (
	"github.com/fareglitch/FareGlitch/app/models"
	"gorm.io/gorm"
)

// scanLogRepository implements the ScanLogRepository interface
type scanLogRepository struct {
	db *gorm.DB
}

// NewScanLogRepository creates a new scan log repository instance
func NewScanLogRepository(db *gorm.DB) ScanLogRepository {
	return &scanLogRepository{db: db}
}

// Create stores a new scan log row
func (r *scanLogRepository) Create(log *models.ScanLog) error {
	return r.db.Create(log).Error
}

// Save persists changed scan log fields
func (r *scanLogRepository) Save(log *models.ScanLog) error {
	return r.db.Save(log).Error
}

// ListRecent returns the most recent scan cycles
func (r *scanLogRepository) ListRecent(limit int) ([]models.ScanLog, error) {
	if limit <= 0 {
		limit = 20
	}
	var logs []models.ScanLog
	err := r.db.Order("started_at DESC").Limit(limit).Find(&logs).Error
	return logs, err
}
