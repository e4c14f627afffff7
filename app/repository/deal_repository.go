package repository

import (
	"time"

	"github.com/fareglitch/FareGlitch/app/models"
	"gorm.io/gorm"
)

// dealRepository implements the DealRepository interface
type dealRepository struct {
	db *gorm.DB
}

// NewDealRepository creates a new deal repository instance
func NewDealRepository(db *gorm.DB) DealRepository {
	return &dealRepository{db: db}
}

// Create creates a new deal in the database
func (r *dealRepository) Create(deal *models.Deal) error {
	return r.db.Create(deal).Error
}

// GetByID retrieves a deal by its ID
func (r *dealRepository) GetByID(id uint) (*models.Deal, error) {
	var deal models.Deal
	if err := r.db.First(&deal, id).Error; err != nil {
		return nil, err
	}
	return &deal, nil
}

// GetByDealNumber retrieves a deal by its externally shareable number
func (r *dealRepository) GetByDealNumber(dealNumber string) (*models.Deal, error) {
	var deal models.Deal
	if err := r.db.Where("deal_number = ?", dealNumber).First(&deal).Error; err != nil {
		return nil, err
	}
	return &deal, nil
}

// Update persists changed deal fields
func (r *dealRepository) Update(deal *models.Deal) error {
	return r.db.Save(deal).Error
}

// MarkPublished performs the VALIDATED -> PUBLISHED transition. The WHERE
// clause on status makes the write idempotent: a second publish matches zero
// rows and published_at keeps its original value.
func (r *dealRepository) MarkPublished(id uint, publishedAt, expiresAt time.Time) (bool, error) {
	tx := r.db.Model(&models.Deal{}).
		Where("id = ? AND status = ?", id, models.DealStatusValidated).
		Updates(map[string]interface{}{
			"status":       models.DealStatusPublished,
			"published_at": publishedAt,
			"expires_at":   expiresAt,
		})
	return tx.RowsAffected > 0, tx.Error
}

// MarkExpired performs PUBLISHED -> EXPIRED once the expiry has passed. Lazy
// read-path checks and the sweep both funnel through here, so they agree.
func (r *dealRepository) MarkExpired(id uint, now time.Time) (bool, error) {
	tx := r.db.Model(&models.Deal{}).
		Where("id = ? AND status = ? AND expires_at IS NOT NULL AND expires_at <= ?",
			id, models.DealStatusPublished, now).
		Update("status", models.DealStatusExpired)
	return tx.RowsAffected > 0, tx.Error
}

// MarkCanceled performs PUBLISHED -> CANCELED (operator action or fare
// retraction signal).
func (r *dealRepository) MarkCanceled(id uint, now time.Time) (bool, error) {
	tx := r.db.Model(&models.Deal{}).
		Where("id = ? AND status = ?", id, models.DealStatusPublished).
		Updates(map[string]interface{}{
			"status":     models.DealStatusCanceled,
			"updated_at": now,
		})
	return tx.RowsAffected > 0, tx.Error
}

// ListPublished returns all deals currently in PUBLISHED state
func (r *dealRepository) ListPublished() ([]models.Deal, error) {
	var deals []models.Deal
	err := r.db.Where("status = ?", models.DealStatusPublished).
		Order("published_at DESC").Find(&deals).Error
	return deals, err
}

// ListPublishedExpiredBefore returns published deals whose expiry has passed
func (r *dealRepository) ListPublishedExpiredBefore(now time.Time) ([]models.Deal, error) {
	var deals []models.Deal
	err := r.db.Where("status = ? AND expires_at IS NOT NULL AND expires_at <= ?",
		models.DealStatusPublished, now).Find(&deals).Error
	return deals, err
}

// NextDealSequence returns the next sequence used for deal number assignment
func (r *dealRepository) NextDealSequence() (uint, error) {
	var maxID uint
	err := r.db.Model(&models.Deal{}).
		Select("COALESCE(MAX(id), 0)").Scan(&maxID).Error
	if err != nil {
		return 0, err
	}
	return maxID + 1, nil
}

// AddUnlockStats adjusts the unlock/revenue aggregates atomically
func (r *dealRepository) AddUnlockStats(id uint, unlockDelta int, revenueDelta float64) error {
	return r.db.Model(&models.Deal{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"total_unlocks": gorm.Expr("total_unlocks + ?", unlockDelta),
			"total_revenue": gorm.Expr("total_revenue + ?", revenueDelta),
		}).Error
}

// FindActiveByRoute returns a non-terminal deal for a route if one exists
func (r *dealRepository) FindActiveByRoute(origin, destination string) (*models.Deal, error) {
	var deal models.Deal
	err := r.db.Where("origin = ? AND destination = ? AND status IN ?",
		origin, destination,
		[]string{models.DealStatusDetected, models.DealStatusValidated, models.DealStatusPublished}).
		First(&deal).Error
	if err != nil {
		return nil, err
	}
	return &deal, nil
}

// Count returns the total number of deals
func (r *dealRepository) Count() (int64, error) {
	var count int64
	err := r.db.Model(&models.Deal{}).Count(&count).Error
	return count, err
}
