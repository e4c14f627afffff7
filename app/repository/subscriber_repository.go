package repository

import (
	"time"

	"github.com/fareglitch/FareGlitch/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// subscriberRepository implements the SubscriberRepository interface
type subscriberRepository struct {
	db *gorm.DB
}

// NewSubscriberRepository creates a new subscriber repository instance
func NewSubscriberRepository(db *gorm.DB) SubscriberRepository {
	return &subscriberRepository{db: db}
}

// GetByID retrieves a subscriber by ID
func (r *subscriberRepository) GetByID(id uint) (*models.Subscriber, error) {
	var sub models.Subscriber
	if err := r.db.First(&sub, id).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

// GetByContactIdentifier retrieves a subscriber by phone/email identity
func (r *subscriberRepository) GetByContactIdentifier(contact string) (*models.Subscriber, error) {
	var sub models.Subscriber
	if err := r.db.Where("contact_identifier = ?", contact).First(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

// GetByProviderCustomerRef retrieves a subscriber by provider customer id
func (r *subscriberRepository) GetByProviderCustomerRef(ref string) (*models.Subscriber, error) {
	var sub models.Subscriber
	if err := r.db.Where("provider_customer_ref = ?", ref).First(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

// Upsert creates or updates a subscriber keyed by contact identifier
func (r *subscriberRepository) Upsert(sub *models.Subscriber) error {
	if err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "contact_identifier"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"email",
			"subscription_state",
			"expires_at",
			"provider_customer_ref",
			"provider_subscription_ref",
			"subscribed_at",
			"last_payment_at",
			"updated_at",
		}),
	}).Create(sub).Error; err != nil {
		return err
	}

	// Ensure ID is populated after upsert.
	return r.db.Where("contact_identifier = ?", sub.ContactIdentifier).First(sub).Error
}

// Save persists changed subscriber fields
func (r *subscriberRepository) Save(sub *models.Subscriber) error {
	return r.db.Save(sub).Error
}

// ListWithActiveAccess returns subscribers whose paid access has not lapsed
func (r *subscriberRepository) ListWithActiveAccess(now time.Time) ([]models.Subscriber, error) {
	var subs []models.Subscriber
	err := r.db.Where("subscription_state IN ? AND expires_at IS NOT NULL AND expires_at > ?",
		[]string{models.SubscriptionActive, models.SubscriptionCanceled}, now).
		Find(&subs).Error
	return subs, err
}

// MarkLapsedExpired moves active and canceled subscribers past their expiry
// into the EXPIRED state
func (r *subscriberRepository) MarkLapsedExpired(now time.Time) (int64, error) {
	result := r.db.Model(&models.Subscriber{}).
		Where("subscription_state IN ? AND expires_at IS NOT NULL AND expires_at <= ?",
			[]string{models.SubscriptionActive, models.SubscriptionCanceled}, now).
		Update("subscription_state", models.SubscriptionExpired)
	return result.RowsAffected, result.Error
}

// RecordAlertSent bumps the alert counters after a notification fan-out
func (r *subscriberRepository) RecordAlertSent(id uint, sentAt time.Time) error {
	return r.db.Model(&models.Subscriber{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"total_alerts_sent":  gorm.Expr("total_alerts_sent + 1"),
			"last_alert_sent_at": sentAt,
		}).Error
}
