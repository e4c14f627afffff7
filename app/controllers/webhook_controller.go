package controllers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/fareglitch/FareGlitch/internal/pkg/billing"
	"github.com/fareglitch/FareGlitch/internal/pkg/env"
)

// WebhookController receives payment provider webhooks. Order of operations
// is fixed: verify the signature, record the event in the dedupe ledger,
// short-circuit replays, then reconcile.
type WebhookController struct {
	billing *billing.Service

	secret    func() string
	tolerance time.Duration
	now       func() time.Time
}

// NewWebhookController creates the webhook controller.
func NewWebhookController(billingSvc *billing.Service) *WebhookController {
	return &WebhookController{
		billing:   billingSvc,
		secret:    func() string { return env.GetEnv("PAYMENT_WEBHOOK_SECRET", "") },
		tolerance: billing.DefaultSignatureTolerance,
		now:       time.Now,
	}
}

// HandlePaymentWebhook serves POST /webhooks/payment.
//
// An invalid signature is rejected before the event touches the ledger, so
// forged payloads cannot occupy dedupe slots. A cleanly applied duplicate
// returns 200 with no side effects; the provider must see success and stop
// redelivering. A redelivery of an event whose first apply failed is retried.
func (wc *WebhookController) HandlePaymentWebhook(c *fiber.Ctx) error {
	payload := c.Body()
	signature := c.Get("X-Payment-Signature")

	if !billing.VerifyWebhookSignature(payload, signature, wc.secret(), wc.now(), wc.tolerance) {
		log.Warnf("[Webhook] Rejected payload with invalid signature from %s", c.IP())
		return errorResponse(c, fiber.StatusBadRequest, codeInvalidSignature, "invalid webhook signature")
	}

	event, err := billing.ParseEvent(payload)
	if err != nil {
		return errorResponse(c, fiber.StatusBadRequest, codeInvalidRequest, "invalid webhook payload")
	}

	created, record, err := wc.billing.RecordWebhookEvent(c.UserContext(), billing.EventInput{
		ProviderEventID: event.ProviderEventID,
		EventType:       event.Type,
		PayloadJSON:     string(payload),
		SignatureValid:  true,
	})
	if err != nil {
		log.Errorf("[Webhook] Could not record event %s: %v", event.ProviderEventID, err)
		return errorResponse(c, fiber.StatusInternalServerError, codeInternal, "could not record event")
	}
	if !created {
		// The ledger row alone does not make a redelivery a duplicate: the
		// first attempt may have recorded the event and then failed to apply
		// it. Only a cleanly processed row short-circuits; anything else is
		// re-applied (the transitions are pure functions of stored state).
		if record.ProcessedAt != nil && record.ProcessingError == "" {
			log.Infof("[Webhook] Duplicate event %s, skipping", record.ProviderEventID)
			return c.JSON(fiber.Map{"status": "duplicate"})
		}
		log.Warnf("[Webhook] Redelivery of unapplied event %s, retrying", record.ProviderEventID)
	}

	if !billing.IsReconcilableEvent(event.Type) {
		_ = wc.billing.MarkWebhookProcessed(c.UserContext(), record.ID, nil)
		return c.JSON(fiber.Map{"status": "ignored"})
	}

	result, applyErr := wc.billing.Apply(c.UserContext(), event)
	if markErr := wc.billing.MarkWebhookProcessed(c.UserContext(), record.ID, applyErr); markErr != nil {
		log.Errorf("[Webhook] Could not mark event %d processed: %v", record.ID, markErr)
	}
	if applyErr != nil {
		if errors.Is(applyErr, billing.ErrUnknownSubscriber) {
			// Likely out-of-order delivery: a renewal referencing a customer
			// whose checkout event has not landed yet. Fail retryably so the
			// provider redelivers once the subscriber exists.
			log.Warnf("[Webhook] Event %s references unknown subscriber, requesting redelivery", event.ProviderEventID)
			return errorResponse(c, fiber.StatusServiceUnavailable, codeInternal, "subscriber not yet known")
		}
		log.Errorf("[Webhook] Could not apply event %s: %v", event.ProviderEventID, applyErr)
		return errorResponse(c, fiber.StatusInternalServerError, codeInternal, "could not process event")
	}

	status := "processed"
	if result.Ignored {
		status = "ignored"
	}
	return c.JSON(fiber.Map{"status": status})
}
