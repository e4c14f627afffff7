package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/fareglitch/FareGlitch/app/models"
	"github.com/fareglitch/FareGlitch/app/repository"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
)

// Default subscription economics. A 30-day plan gets a 5-day grace buffer so
// processor timing slack never cuts off a paying subscriber.
const (
	DefaultBillingPeriod = 30 * 24 * time.Hour
	DefaultGraceBuffer   = 5 * 24 * time.Hour

	// DedupeRetention matches the provider's maximum redelivery interval.
	DedupeRetention = 30 * 24 * time.Hour
)

// ErrUnknownSubscriber is returned when an event references a subscriber or
// payment the ledger has never seen and cannot create from the event alone.
var ErrUnknownSubscriber = errors.New("event references unknown subscriber")

// Result reports what applying an event did.
type Result struct {
	Duplicate  bool
	Ignored    bool
	Subscriber *models.Subscriber
}

// Service is the webhook reconciler: it owns every Subscriber mutation and
// mirrors processor-side refunds into unlock records. All transitions are
// pure functions of (current stored state, event), so replay order cannot
// corrupt results.
type Service struct {
	subscribers repository.SubscriberRepository
	events      repository.WebhookEventRepository
	unlocks     repository.UnlockRepository
	deals       repository.DealRepository

	billingPeriod time.Duration
	graceBuffer   time.Duration
	now           func() time.Time
}

// NewService creates a reconciler from injected repositories.
func NewService(repos *repository.Repositories) *Service {
	return &Service{
		subscribers:   repos.Subscriber,
		events:        repos.WebhookEvent,
		unlocks:       repos.Unlock,
		deals:         repos.Deal,
		billingPeriod: DefaultBillingPeriod,
		graceBuffer:   DefaultGraceBuffer,
		now:           time.Now,
	}
}

// SetNow overrides the clock, for tests.
func (s *Service) SetNow(now func() time.Time) {
	s.now = now
}

// RecordWebhookEvent persists the raw event idempotently. The returned bool
// is false when the (provider, event id) pair was already in the ledger.
func (s *Service) RecordWebhookEvent(ctx context.Context, in EventInput) (bool, *models.WebhookEvent, error) {
	_ = ctx
	eventID := in.ProviderEventID
	if eventID == "" {
		// No provider id: fall back to a payload hash so replays of the
		// identical body still deduplicate.
		sum := sha256.Sum256([]byte(in.PayloadJSON))
		eventID = "hash:" + hex.EncodeToString(sum[:])
	}

	event := &models.WebhookEvent{
		Provider:        ProviderPayment,
		ProviderEventID: eventID,
		EventType:       in.EventType,
		PayloadJSON:     in.PayloadJSON,
		SignatureValid:  in.SignatureValid,
		ReceivedAt:      s.now(),
	}
	return s.events.CreateIfNotExists(event)
}

// MarkWebhookProcessed marks an event as processed and stores an optional error.
func (s *Service) MarkWebhookProcessed(ctx context.Context, webhookEventID uint, processingErr error) error {
	_ = ctx
	if webhookEventID == 0 {
		return errors.New("webhook_event_id is required")
	}
	errMsg := ""
	if processingErr != nil {
		errMsg = processingErr.Error()
	}
	return s.events.MarkProcessed(webhookEventID, errMsg)
}

// Apply reconciles one parsed event into ledger state. Callers must have
// recorded the event first; a duplicate record means Apply is skipped, which
// is what makes at-least-once delivery safe.
func (s *Service) Apply(ctx context.Context, event *Event) (*Result, error) {
	switch event.Type {
	case EventCheckoutCompleted:
		return s.applyCheckoutCompleted(ctx, event)
	case EventInvoicePaid:
		return s.applyInvoicePaid(ctx, event)
	case EventSubscriptionCanceled:
		return s.applySubscriptionCanceled(ctx, event)
	case EventRefundIssued:
		return s.applyRefundIssued(ctx, event)
	default:
		return &Result{Ignored: true}, nil
	}
}

// applyCheckoutCompleted creates or re-activates the subscriber and extends
// paid access by one billing period plus the grace buffer. Expressed as an
// extension of current state so it commutes with invoice_paid when the
// provider delivers them out of order.
func (s *Service) applyCheckoutCompleted(ctx context.Context, event *Event) (*Result, error) {
	_ = ctx
	if event.Contact == "" {
		return nil, errors.New("checkout_completed without contact identifier")
	}

	now := s.now()
	sub, err := s.subscribers.GetByContactIdentifier(event.Contact)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		sub = &models.Subscriber{ContactIdentifier: event.Contact}
	}

	sub.SubscriptionState = models.SubscriptionActive
	sub.ExpiresAt = extendExpiry(sub.ExpiresAt, now, s.billingPeriod+s.graceBuffer)
	if sub.SubscribedAt == nil {
		sub.SubscribedAt = &now
	}
	sub.LastPaymentAt = &now
	if event.Email != "" {
		sub.Email = event.Email
	}
	if event.CustomerRef != "" {
		sub.ProviderCustomerRef = event.CustomerRef
	}
	if event.SubscriptionRef != "" {
		sub.ProviderSubscriptionRef = event.SubscriptionRef
	}

	if err := s.subscribers.Upsert(sub); err != nil {
		return nil, err
	}
	log.Infof("[Billing] checkout_completed: %s active until %s", sub.ContactIdentifier, sub.ExpiresAt.Format(time.RFC3339))
	return &Result{Subscriber: sub}, nil
}

// applyInvoicePaid extends paid access by one billing period from the greater
// of now and the current expiry. It never shrinks the expiry, which makes it
// immune to arriving before checkout_completed.
func (s *Service) applyInvoicePaid(ctx context.Context, event *Event) (*Result, error) {
	_ = ctx
	sub, err := s.resolveSubscriber(event)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		if event.Contact == "" {
			return nil, ErrUnknownSubscriber
		}
		// Renewal delivered before the checkout event: create the subscriber
		// from what the event carries. The later checkout event extends from
		// this state, so both orders converge.
		sub = &models.Subscriber{ContactIdentifier: event.Contact}
	}

	now := s.now()
	sub.ExpiresAt = extendExpiry(sub.ExpiresAt, now, s.billingPeriod)
	sub.LastPaymentAt = &now
	// A paid invoice re-activates a lapsed subscriber but never undoes an
	// explicit cancellation: canceled means "do not renew", and the final
	// invoice of a canceled term may still land after the cancel event.
	if sub.SubscriptionState != models.SubscriptionCanceled {
		sub.SubscriptionState = models.SubscriptionActive
	}
	if event.CustomerRef != "" && sub.ProviderCustomerRef == "" {
		sub.ProviderCustomerRef = event.CustomerRef
	}
	if event.SubscriptionRef != "" && sub.ProviderSubscriptionRef == "" {
		sub.ProviderSubscriptionRef = event.SubscriptionRef
	}

	if err := s.subscribers.Upsert(sub); err != nil {
		return nil, err
	}
	log.Infof("[Billing] invoice_paid: %s extended until %s", sub.ContactIdentifier, sub.ExpiresAt.Format(time.RFC3339))
	return &Result{Subscriber: sub}, nil
}

// applySubscriptionCanceled marks the subscriber canceled without touching
// the expiry: access runs until the already-paid period lapses.
func (s *Service) applySubscriptionCanceled(ctx context.Context, event *Event) (*Result, error) {
	_ = ctx
	sub, err := s.resolveSubscriber(event)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Cancellation for someone we never activated: nothing to revoke.
			return &Result{Ignored: true}, nil
		}
		return nil, err
	}

	sub.SubscriptionState = models.SubscriptionCanceled
	if err := s.subscribers.Save(sub); err != nil {
		return nil, err
	}
	log.Infof("[Billing] subscription_canceled: %s keeps access until expiry", sub.ContactIdentifier)
	return &Result{Subscriber: sub}, nil
}

// applyRefundIssued mirrors a processor-initiated refund into the unlock
// record it paid for, and backs the amount out of the deal's revenue.
func (s *Service) applyRefundIssued(ctx context.Context, event *Event) (*Result, error) {
	_ = ctx
	if event.PaymentRef == "" {
		return &Result{Ignored: true}, nil
	}

	unlock, err := s.unlocks.GetByProviderPaymentRef(event.PaymentRef)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Not a tracked unlock (e.g. a subscription charge refund).
			return &Result{Ignored: true}, nil
		}
		return nil, err
	}

	flipped, err := s.unlocks.MarkRefunded(unlock.ID, s.now(), event.ProviderEventID)
	if err != nil {
		return nil, err
	}
	if flipped {
		if err := s.deals.AddUnlockStats(unlock.DealID, 0, -unlock.AmountPaid); err != nil {
			return nil, err
		}
		log.Infof("[Billing] refund_issued mirrored onto unlock %d (deal %d)", unlock.ID, unlock.DealID)
	}
	return &Result{}, nil
}

// resolveSubscriber finds the subscriber an event refers to, preferring the
// provider customer ref and falling back to the contact identifier.
func (s *Service) resolveSubscriber(event *Event) (*models.Subscriber, error) {
	if event.CustomerRef != "" {
		sub, err := s.subscribers.GetByProviderCustomerRef(event.CustomerRef)
		if err == nil {
			return sub, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	if event.Contact != "" {
		return s.subscribers.GetByContactIdentifier(event.Contact)
	}
	return nil, gorm.ErrRecordNotFound
}

// PruneLedger drops dedupe rows older than the provider redelivery horizon.
func (s *Service) PruneLedger(ctx context.Context) (int64, error) {
	_ = ctx
	return s.events.PruneOlderThan(s.now().Add(-DedupeRetention))
}

// SweepExpiredSubscriptions flips lapsed subscribers to EXPIRED. Access checks
// already consult expires_at, so this is tidiness, not a source of truth; a
// later invoice_paid re-activates an expired row the same as any other.
func (s *Service) SweepExpiredSubscriptions(ctx context.Context) (int64, error) {
	_ = ctx
	flipped, err := s.subscribers.MarkLapsedExpired(s.now())
	if err != nil {
		return 0, err
	}
	if flipped > 0 {
		log.Infof("[Billing] Marked %d lapsed subscriptions expired", flipped)
	}
	return flipped, nil
}

// extendExpiry returns the expiry advanced by period from the later of now
// and the current expiry. It never moves an expiry backwards.
func extendExpiry(current *time.Time, now time.Time, period time.Duration) *time.Time {
	base := now
	if current != nil && current.After(now) {
		base = *current
	}
	next := base.Add(period)
	return &next
}
