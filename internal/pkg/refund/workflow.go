package refund

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/fareglitch/FareGlitch/app/models"
	"github.com/fareglitch/FareGlitch/app/repository"
	"github.com/fareglitch/FareGlitch/internal/pkg/payment"
)

// DefaultWindow is the glitch-guarantee refund window after an unlock.
const DefaultWindow = 48 * time.Hour

var (
	// ErrNoUnlock means no unlock record matches the subscriber+deal pair.
	ErrNoUnlock = errors.New("no unlock record found")
	// ErrIneligible is permanent: the refund window has lapsed.
	ErrIneligible = errors.New("refund window expired")
	// ErrRetryable is transient: the provider did not confirm; retry later.
	ErrRetryable = errors.New("refund not confirmed, retry")
)

// Result reports the refund outcome. AlreadyRefunded means this call was a
// replay and the original result is being returned without a provider call.
type Result struct {
	RefundRef       string
	Amount          float64
	AlreadyRefunded bool
}

// Workflow issues time-boxed, exactly-once refunds tied to unlock records.
type Workflow struct {
	subscribers repository.SubscriberRepository
	deals       repository.DealRepository
	unlocks     repository.UnlockRepository
	provider    payment.Provider

	window time.Duration
	now    func() time.Time
}

// NewWorkflow creates a refund workflow from injected collaborators.
func NewWorkflow(repos *repository.Repositories, provider payment.Provider) *Workflow {
	return &Workflow{
		subscribers: repos.Subscriber,
		deals:       repos.Deal,
		unlocks:     repos.Unlock,
		provider:    provider,
		window:      DefaultWindow,
		now:         time.Now,
	}
}

// SetWindow overrides the refund window, for tests.
func (w *Workflow) SetWindow(window time.Duration) {
	w.window = window
}

// SetNow overrides the clock, for tests.
func (w *Workflow) SetNow(now func() time.Time) {
	w.now = now
}

// Request issues a refund for the subscriber's unlock of a deal.
//
// REFUNDED is written only after the provider confirms, and at most once per
// record; a second request after REFUNDED returns the original result without
// calling the provider again. A provider timeout leaves the record in
// REQUESTED and surfaces ErrRetryable.
func (w *Workflow) Request(ctx context.Context, contact, dealNumber, reason string) (*Result, error) {
	sub, err := w.subscribers.GetByContactIdentifier(contact)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoUnlock
		}
		return nil, err
	}

	deal, err := w.deals.GetByDealNumber(dealNumber)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoUnlock
		}
		return nil, err
	}

	unlock, err := w.unlocks.GetBySubscriberAndDeal(sub.ID, deal.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoUnlock
		}
		return nil, err
	}

	if unlock.RefundState == models.RefundStateRefunded {
		return &Result{
			RefundRef:       unlock.ProviderRefundRef,
			Amount:          unlock.AmountPaid,
			AlreadyRefunded: true,
		}, nil
	}

	now := w.now()
	if !unlock.RefundEligible(now, w.window) {
		return nil, ErrIneligible
	}

	// Record intent before calling out so an interrupted attempt is visible.
	if unlock.RefundState == models.RefundStateNone {
		unlock.RefundState = models.RefundStateRequested
		unlock.RefundReason = reason
		if err := w.unlocks.Save(unlock); err != nil {
			return nil, err
		}
	}

	confirmed, err := w.provider.IssueRefund(ctx, unlock.ProviderPaymentRef, "requested_by_customer")
	if err != nil {
		if errors.Is(err, payment.ErrProviderUnavailable) {
			log.Warnf("[Refund] Provider unavailable for unlock %d: %v", unlock.ID, err)
			return nil, ErrRetryable
		}
		return nil, err
	}

	flipped, err := w.unlocks.MarkRefunded(unlock.ID, w.now(), confirmed.RefundID)
	if err != nil {
		return nil, err
	}
	if flipped {
		if err := w.deals.AddUnlockStats(deal.ID, 0, -unlock.AmountPaid); err != nil {
			return nil, err
		}
	}

	log.Infof("[Refund] Issued %s for unlock %d (deal %s)", confirmed.RefundID, unlock.ID, deal.DealNumber)
	return &Result{RefundRef: confirmed.RefundID, Amount: unlock.AmountPaid}, nil
}
