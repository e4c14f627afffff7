package refund

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2/log"

	"github.com/fareglitch/FareGlitch/app/models"
	"github.com/fareglitch/FareGlitch/internal/pkg/payment"
)

// DealCanceled refunds every still-eligible unlock of a canceled deal. It
// runs as the cancel hook; transient provider failures leave records in
// REQUESTED for the operator or a later customer retry to pick up.
func (w *Workflow) DealCanceled(ctx context.Context, deal *models.Deal) {
	unlocks, err := w.unlocks.ListByDeal(deal.ID)
	if err != nil {
		log.Errorf("[Refund] Could not list unlocks for canceled %s: %v", deal.DealNumber, err)
		return
	}

	now := w.now()
	refunded := 0
	for i := range unlocks {
		unlock := &unlocks[i]
		if unlock.RefundState == models.RefundStateRefunded {
			continue
		}
		if !unlock.RefundEligible(now, w.window) {
			continue
		}

		if unlock.RefundState == models.RefundStateNone {
			unlock.RefundState = models.RefundStateRequested
			unlock.RefundReason = "deal_canceled"
			if err := w.unlocks.Save(unlock); err != nil {
				log.Errorf("[Refund] Could not mark unlock %d requested: %v", unlock.ID, err)
				continue
			}
		}

		confirmed, err := w.provider.IssueRefund(ctx, unlock.ProviderPaymentRef, "requested_by_customer")
		if err != nil {
			if errors.Is(err, payment.ErrProviderUnavailable) {
				log.Warnf("[Refund] Provider unavailable for unlock %d, staying REQUESTED", unlock.ID)
			} else {
				log.Errorf("[Refund] Unlock %d refund failed: %v", unlock.ID, err)
			}
			continue
		}

		flipped, err := w.unlocks.MarkRefunded(unlock.ID, w.now(), confirmed.RefundID)
		if err != nil {
			log.Errorf("[Refund] Could not record refund for unlock %d: %v", unlock.ID, err)
			continue
		}
		if flipped {
			if err := w.deals.AddUnlockStats(deal.ID, 0, -unlock.AmountPaid); err != nil {
				log.Errorf("[Refund] Could not back revenue out for deal %d: %v", deal.ID, err)
			}
			refunded++
		}
	}
	log.Infof("[Refund] Canceled %s: refunded %d of %d unlocks", deal.DealNumber, refunded, len(unlocks))
}
