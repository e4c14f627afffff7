package repository

import (
	"time"

	"github.com/fareglitch/FareGlitch/app/models"
	"gorm.io/gorm"
)

// unlockRepository implements the UnlockRepository interface
type unlockRepository struct {
	db *gorm.DB
}

// NewUnlockRepository creates a new unlock repository instance
func NewUnlockRepository(db *gorm.DB) UnlockRepository {
	return &unlockRepository{db: db}
}

// Create records one successful unlock payment
func (r *unlockRepository) Create(unlock *models.UnlockRecord) error {
	return r.db.Create(unlock).Error
}

// GetBySubscriberAndDeal retrieves the unlock record for a subscriber+deal pair
func (r *unlockRepository) GetBySubscriberAndDeal(subscriberID, dealID uint) (*models.UnlockRecord, error) {
	var unlock models.UnlockRecord
	err := r.db.Where("subscriber_id = ? AND deal_id = ?", subscriberID, dealID).
		First(&unlock).Error
	if err != nil {
		return nil, err
	}
	return &unlock, nil
}

// GetByProviderPaymentRef retrieves the unlock backed by a provider payment
func (r *unlockRepository) GetByProviderPaymentRef(ref string) (*models.UnlockRecord, error) {
	var unlock models.UnlockRecord
	err := r.db.Where("provider_payment_ref = ?", ref).First(&unlock).Error
	if err != nil {
		return nil, err
	}
	return &unlock, nil
}

// Save persists changed unlock fields
func (r *unlockRepository) Save(unlock *models.UnlockRecord) error {
	return r.db.Save(unlock).Error
}

// MarkRefunded flips refund_state to REFUNDED guarded on the current state,
// so the transition can happen at most once per record.
func (r *unlockRepository) MarkRefunded(id uint, refundedAt time.Time, providerRefundRef string) (bool, error) {
	tx := r.db.Model(&models.UnlockRecord{}).
		Where("id = ? AND refund_state <> ?", id, models.RefundStateRefunded).
		Updates(map[string]interface{}{
			"refund_state":        models.RefundStateRefunded,
			"refunded_at":         refundedAt,
			"provider_refund_ref": providerRefundRef,
		})
	return tx.RowsAffected > 0, tx.Error
}

// ListByDeal returns all unlock records for a deal
func (r *unlockRepository) ListByDeal(dealID uint) ([]models.UnlockRecord, error) {
	var unlocks []models.UnlockRecord
	err := r.db.Where("deal_id = ?", dealID).Find(&unlocks).Error
	return unlocks, err
}
