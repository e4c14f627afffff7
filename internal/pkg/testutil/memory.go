// Package testutil provides in-memory repository implementations for tests.
// They mirror the guarded-write semantics of the MySQL repositories so state
// machine tests exercise the same transition rules.
package testutil

import (
	"sort"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/fareglitch/FareGlitch/app/models"
	"github.com/fareglitch/FareGlitch/app/repository"
)

// NewRepositories returns a fully in-memory repository set.
func NewRepositories() *repository.Repositories {
	return &repository.Repositories{
		Deal:         NewDealRepository(),
		Subscriber:   NewSubscriberRepository(),
		PriceSample:  NewPriceSampleRepository(),
		Unlock:       NewUnlockRepository(),
		WebhookEvent: NewWebhookEventRepository(),
		ScanLog:      NewScanLogRepository(),
	}
}

// DealRepository is the in-memory deal store.
type DealRepository struct {
	mu    sync.Mutex
	seq   uint
	byID  map[uint]*models.Deal
	order []uint
}

// NewDealRepository creates an empty in-memory deal store.
func NewDealRepository() *DealRepository {
	return &DealRepository{byID: map[uint]*models.Deal{}}
}

func (r *DealRepository) Create(deal *models.Deal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	deal.ID = r.seq
	cp := *deal
	r.byID[deal.ID] = &cp
	r.order = append(r.order, deal.ID)
	return nil
}

func (r *DealRepository) GetByID(id uint) (*models.Deal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.byID[id]; ok {
		cp := *d
		return &cp, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *DealRepository) GetByDealNumber(dealNumber string) (*models.Deal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.byID {
		if d.DealNumber == dealNumber {
			cp := *d
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *DealRepository) Update(deal *models.Deal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[deal.ID]; !ok {
		return gorm.ErrRecordNotFound
	}
	cp := *deal
	r.byID[deal.ID] = &cp
	return nil
}

func (r *DealRepository) MarkPublished(id uint, publishedAt, expiresAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.byID[id]
	if !ok || d.Status != models.DealStatusValidated {
		return false, nil
	}
	d.Status = models.DealStatusPublished
	p, e := publishedAt, expiresAt
	d.PublishedAt = &p
	d.ExpiresAt = &e
	return true, nil
}

func (r *DealRepository) MarkExpired(id uint, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.byID[id]
	if !ok || d.Status != models.DealStatusPublished || d.ExpiresAt == nil || now.Before(*d.ExpiresAt) {
		return false, nil
	}
	d.Status = models.DealStatusExpired
	return true, nil
}

func (r *DealRepository) MarkCanceled(id uint, now time.Time) (bool, error) {
	_ = now
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.byID[id]
	if !ok || d.Status != models.DealStatusPublished {
		return false, nil
	}
	d.Status = models.DealStatusCanceled
	return true, nil
}

func (r *DealRepository) ListPublished() ([]models.Deal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Deal
	for _, id := range r.order {
		if d := r.byID[id]; d.Status == models.DealStatusPublished {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (r *DealRepository) ListPublishedExpiredBefore(now time.Time) ([]models.Deal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Deal
	for _, id := range r.order {
		d := r.byID[id]
		if d.Status == models.DealStatusPublished && d.ExpiresAt != nil && !now.Before(*d.ExpiresAt) {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (r *DealRepository) NextDealSequence() (uint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seq + 1, nil
}

func (r *DealRepository) AddUnlockStats(id uint, unlockDelta int, revenueDelta float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.byID[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	d.TotalUnlocks += unlockDelta
	d.TotalRevenue += revenueDelta
	return nil
}

func (r *DealRepository) FindActiveByRoute(origin, destination string) (*models.Deal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.byID {
		if d.Origin == origin && d.Destination == destination &&
			(d.Status == models.DealStatusValidated || d.Status == models.DealStatusPublished) {
			cp := *d
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *DealRepository) Count() (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.byID)), nil
}

// SubscriberRepository is the in-memory subscriber store.
type SubscriberRepository struct {
	mu   sync.Mutex
	seq  uint
	byID map[uint]*models.Subscriber
}

// NewSubscriberRepository creates an empty in-memory subscriber store.
func NewSubscriberRepository() *SubscriberRepository {
	return &SubscriberRepository{byID: map[uint]*models.Subscriber{}}
}

func (r *SubscriberRepository) GetByID(id uint) (*models.Subscriber, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.byID[id]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *SubscriberRepository) GetByContactIdentifier(contact string) (*models.Subscriber, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.byID {
		if s.ContactIdentifier == contact {
			cp := *s
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *SubscriberRepository) GetByProviderCustomerRef(ref string) (*models.Subscriber, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.byID {
		if s.ProviderCustomerRef != "" && s.ProviderCustomerRef == ref {
			cp := *s
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *SubscriberRepository) Upsert(sub *models.Subscriber) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.byID {
		if s.ContactIdentifier == sub.ContactIdentifier {
			sub.ID = s.ID
			cp := *sub
			r.byID[s.ID] = &cp
			return nil
		}
	}
	r.seq++
	sub.ID = r.seq
	cp := *sub
	r.byID[sub.ID] = &cp
	return nil
}

func (r *SubscriberRepository) Save(sub *models.Subscriber) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[sub.ID]; !ok {
		return gorm.ErrRecordNotFound
	}
	cp := *sub
	r.byID[sub.ID] = &cp
	return nil
}

func (r *SubscriberRepository) ListWithActiveAccess(now time.Time) ([]models.Subscriber, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Subscriber
	for _, s := range r.byID {
		if s.HasActiveAccess(now) {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *SubscriberRepository) MarkLapsedExpired(now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var flipped int64
	for _, s := range r.byID {
		switch s.SubscriptionState {
		case models.SubscriptionActive, models.SubscriptionCanceled:
			if s.ExpiresAt != nil && !now.Before(*s.ExpiresAt) {
				s.SubscriptionState = models.SubscriptionExpired
				flipped++
			}
		}
	}
	return flipped, nil
}

func (r *SubscriberRepository) RecordAlertSent(id uint, sentAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	s.TotalAlertsSent++
	t := sentAt
	s.LastAlertSentAt = &t
	return nil
}

// PriceSampleRepository is the in-memory price history log.
type PriceSampleRepository struct {
	mu      sync.Mutex
	samples []models.PriceSample
}

// NewPriceSampleRepository creates an empty in-memory price history log.
func NewPriceSampleRepository() *PriceSampleRepository {
	return &PriceSampleRepository{}
}

func (r *PriceSampleRepository) Append(sample *models.PriceSample) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sample.ID = uint(len(r.samples) + 1)
	r.samples = append(r.samples, *sample)
	return nil
}

func (r *PriceSampleRepository) BaselineStats(origin, destination string, since time.Time) (float64, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var sum float64
	var count int64
	for _, s := range r.samples {
		if s.Origin == origin && s.Destination == destination && !s.ObservedAt.Before(since) {
			sum += s.Price
			count++
		}
	}
	if count == 0 {
		return 0, 0, nil
	}
	return sum / float64(count), count, nil
}

// UnlockRepository is the in-memory unlock store.
type UnlockRepository struct {
	mu   sync.Mutex
	seq  uint
	byID map[uint]*models.UnlockRecord
}

// NewUnlockRepository creates an empty in-memory unlock store.
func NewUnlockRepository() *UnlockRepository {
	return &UnlockRepository{byID: map[uint]*models.UnlockRecord{}}
}

func (r *UnlockRepository) Create(unlock *models.UnlockRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	unlock.ID = r.seq
	cp := *unlock
	r.byID[unlock.ID] = &cp
	return nil
}

func (r *UnlockRepository) GetBySubscriberAndDeal(subscriberID, dealID uint) (*models.UnlockRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.byID {
		if u.SubscriberID == subscriberID && u.DealID == dealID {
			cp := *u
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *UnlockRepository) GetByProviderPaymentRef(ref string) (*models.UnlockRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.byID {
		if u.ProviderPaymentRef != "" && u.ProviderPaymentRef == ref {
			cp := *u
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *UnlockRepository) Save(unlock *models.UnlockRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[unlock.ID]; !ok {
		return gorm.ErrRecordNotFound
	}
	cp := *unlock
	r.byID[unlock.ID] = &cp
	return nil
}

func (r *UnlockRepository) MarkRefunded(id uint, refundedAt time.Time, providerRefundRef string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok || u.RefundState == models.RefundStateRefunded {
		return false, nil
	}
	u.RefundState = models.RefundStateRefunded
	t := refundedAt
	u.RefundedAt = &t
	u.ProviderRefundRef = providerRefundRef
	return true, nil
}

func (r *UnlockRepository) ListByDeal(dealID uint) ([]models.UnlockRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.UnlockRecord
	for _, u := range r.byID {
		if u.DealID == dealID {
			out = append(out, *u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// WebhookEventRepository is the in-memory dedupe ledger.
type WebhookEventRepository struct {
	mu    sync.Mutex
	seq   uint
	byKey map[string]*models.WebhookEvent
}

// NewWebhookEventRepository creates an empty in-memory dedupe ledger.
func NewWebhookEventRepository() *WebhookEventRepository {
	return &WebhookEventRepository{byKey: map[string]*models.WebhookEvent{}}
}

func (r *WebhookEventRepository) CreateIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := event.Provider + "|" + event.ProviderEventID
	if existing, ok := r.byKey[key]; ok {
		cp := *existing
		return false, &cp, nil
	}
	r.seq++
	event.ID = r.seq
	cp := *event
	r.byKey[key] = &cp
	return true, event, nil
}

func (r *WebhookEventRepository) MarkProcessed(id uint, processingError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.byKey {
		if e.ID == id {
			now := time.Now()
			e.ProcessedAt = &now
			e.ProcessingError = processingError
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (r *WebhookEventRepository) PruneOlderThan(cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var pruned int64
	for key, e := range r.byKey {
		if e.ReceivedAt.Before(cutoff) {
			delete(r.byKey, key)
			pruned++
		}
	}
	return pruned, nil
}

// ScanLogRepository is the in-memory scan log store.
type ScanLogRepository struct {
	mu   sync.Mutex
	seq  uint
	logs []*models.ScanLog
}

// NewScanLogRepository creates an empty in-memory scan log store.
func NewScanLogRepository() *ScanLogRepository {
	return &ScanLogRepository{}
}

func (r *ScanLogRepository) Create(entry *models.ScanLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	entry.ID = r.seq
	cp := *entry
	r.logs = append(r.logs, &cp)
	return nil
}

func (r *ScanLogRepository) Save(entry *models.ScanLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, l := range r.logs {
		if l.ID == entry.ID {
			cp := *entry
			r.logs[i] = &cp
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (r *ScanLogRepository) ListRecent(limit int) ([]models.ScanLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.ScanLog, 0, limit)
	for i := len(r.logs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, *r.logs[i])
	}
	return out, nil
}
