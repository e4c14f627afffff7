package repository

import (
	"time"

	"github.com/fareglitch/FareGlitch/app/models"
	"gorm.io/gorm"
)

// DealRepository defines the interface for deal database operations. State
// transitions go through the deals service; the repository only persists them.
type DealRepository interface {
	Create(deal *models.Deal) error
	GetByID(id uint) (*models.Deal, error)
	GetByDealNumber(dealNumber string) (*models.Deal, error)
	Update(deal *models.Deal) error
	// MarkPublished sets published_at/expires_at only when the deal is still
	// VALIDATED, so a replayed publish can never move the timestamp.
	MarkPublished(id uint, publishedAt, expiresAt time.Time) (bool, error)
	// MarkExpired flips PUBLISHED deals past their expiry; used by both the
	// lazy read path and the sweep.
	MarkExpired(id uint, now time.Time) (bool, error)
	MarkCanceled(id uint, now time.Time) (bool, error)
	ListPublished() ([]models.Deal, error)
	ListPublishedExpiredBefore(now time.Time) ([]models.Deal, error)
	NextDealSequence() (uint, error)
	AddUnlockStats(id uint, unlockDelta int, revenueDelta float64) error
	FindActiveByRoute(origin, destination string) (*models.Deal, error)
	Count() (int64, error)
}

// SubscriberRepository defines the interface for subscriber records. Writes
// happen only inside the billing reconciler.
type SubscriberRepository interface {
	GetByID(id uint) (*models.Subscriber, error)
	GetByContactIdentifier(contact string) (*models.Subscriber, error)
	GetByProviderCustomerRef(ref string) (*models.Subscriber, error)
	Upsert(sub *models.Subscriber) error
	Save(sub *models.Subscriber) error
	ListWithActiveAccess(now time.Time) ([]models.Subscriber, error)
	RecordAlertSent(id uint, sentAt time.Time) error
	// MarkLapsedExpired flips subscribers whose paid period has run out to the
	// EXPIRED state; read paths stay correct without it, it keeps rows honest.
	MarkLapsedExpired(now time.Time) (int64, error)
}

// PriceSampleRepository is the append-only price history log.
type PriceSampleRepository interface {
	Append(sample *models.PriceSample) error
	// BaselineStats returns the trailing mean and sample count for a route
	// over the given window ending at now.
	BaselineStats(origin, destination string, since time.Time) (avg float64, count int64, err error)
}

// UnlockRepository defines the interface for unlock records.
type UnlockRepository interface {
	Create(unlock *models.UnlockRecord) error
	GetBySubscriberAndDeal(subscriberID, dealID uint) (*models.UnlockRecord, error)
	GetByProviderPaymentRef(ref string) (*models.UnlockRecord, error)
	Save(unlock *models.UnlockRecord) error
	// MarkRefunded transitions refund_state to REFUNDED only from a
	// non-refunded state; returns false when the row was already refunded.
	MarkRefunded(id uint, refundedAt time.Time, providerRefundRef string) (bool, error)
	ListByDeal(dealID uint) ([]models.UnlockRecord, error)
}

// WebhookEventRepository is the dedupe ledger for provider events.
type WebhookEventRepository interface {
	// CreateIfNotExists inserts the event unless (provider, provider_event_id)
	// already exists; returns created=false with the stored row on replay.
	CreateIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error)
	MarkProcessed(id uint, processingError string) error
	PruneOlderThan(cutoff time.Time) (int64, error)
}

// ScanLogRepository records scanner cycles.
type ScanLogRepository interface {
	Create(log *models.ScanLog) error
	Save(log *models.ScanLog) error
	ListRecent(limit int) ([]models.ScanLog, error)
}

// Repositories contains all repository instances
type Repositories struct {
	Deal         DealRepository
	Subscriber   SubscriberRepository
	PriceSample  PriceSampleRepository
	Unlock       UnlockRepository
	WebhookEvent WebhookEventRepository
	ScanLog      ScanLogRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Deal:         NewDealRepository(db),
		Subscriber:   NewSubscriberRepository(db),
		PriceSample:  NewPriceSampleRepository(db),
		Unlock:       NewUnlockRepository(db),
		WebhookEvent: NewWebhookEventRepository(db),
		ScanLog:      NewScanLogRepository(db),
	}
}
