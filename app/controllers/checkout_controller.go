package controllers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/fareglitch/FareGlitch/app/models"
	"github.com/fareglitch/FareGlitch/app/repository"
	"github.com/fareglitch/FareGlitch/internal/pkg/deals"
	"github.com/fareglitch/FareGlitch/internal/pkg/payment"
)

// CheckoutController opens hosted checkout sessions and forwards cancel
// requests to the provider. Ledger state only ever changes when the matching
// webhook lands, never from these handlers.
type CheckoutController struct {
	provider    payment.Provider
	deals       *deals.Service
	subscribers repository.SubscriberRepository
}

// NewCheckoutController creates the checkout controller.
func NewCheckoutController(provider payment.Provider, dealSvc *deals.Service, subscribers repository.SubscriberRepository) *CheckoutController {
	return &CheckoutController{provider: provider, deals: dealSvc, subscribers: subscribers}
}

type subscribeRequest struct {
	Email   string `json:"email" validate:"required,email"`
	Contact string `json:"contact" validate:"required"`
}

// HandleSubscribe serves POST /api/v1/subscribe.
func (cc *CheckoutController) HandleSubscribe(c *fiber.Ctx) error {
	var req subscribeRequest
	if err := c.BodyParser(&req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, codeInvalidRequest, "invalid request body")
	}
	if err := validate.Struct(&req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, codeInvalidRequest, err.Error())
	}

	session, err := cc.provider.CreateSubscriptionCheckout(c.UserContext(), req.Email, req.Contact)
	if err != nil {
		log.Errorf("[Checkout] Subscription session failed: %v", err)
		return errorResponse(c, fiber.StatusBadGateway, codeInternal, "could not create checkout session")
	}
	return c.JSON(fiber.Map{
		"session_id":   session.SessionID,
		"checkout_url": session.CheckoutURL,
	})
}

type unlockCheckoutRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// HandleUnlockCheckout serves POST /api/v1/deals/:dealNumber/checkout: a
// one-off session priced at the deal's unlock fee.
func (cc *CheckoutController) HandleUnlockCheckout(c *fiber.Ctx) error {
	var req unlockCheckoutRequest
	if err := c.BodyParser(&req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, codeInvalidRequest, "invalid request body")
	}
	if err := validate.Struct(&req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, codeInvalidRequest, err.Error())
	}

	deal, err := cc.deals.Resolve(c.UserContext(), dealNumberParam(c))
	if err != nil {
		if errors.Is(err, deals.ErrDealNotFound) {
			return errorResponse(c, fiber.StatusNotFound, codeDealNotFound, "deal not found")
		}
		return errorResponse(c, fiber.StatusInternalServerError, codeInternal, "could not load deal")
	}
	if deal.Status != models.DealStatusPublished {
		return errorResponse(c, fiber.StatusGone, codeDealUnavailable, "deal is no longer available")
	}

	session, err := cc.provider.CreateUnlockCheckout(c.UserContext(), deal.DealNumber, deal.TeaserHeadline, deal.UnlockFee, req.Email)
	if err != nil {
		log.Errorf("[Checkout] Unlock session failed for %s: %v", deal.DealNumber, err)
		return errorResponse(c, fiber.StatusBadGateway, codeInternal, "could not create checkout session")
	}
	return c.JSON(fiber.Map{
		"session_id":   session.SessionID,
		"checkout_url": session.CheckoutURL,
		"unlock_fee":   deal.UnlockFee,
	})
}

type cancelRequest struct {
	Contact string `json:"contact" validate:"required"`
}

// HandleCancelSubscription serves POST /api/v1/subscription/cancel. The
// subscriber keeps access until the paid period lapses; the ledger flips when
// the provider's subscription_canceled webhook arrives.
func (cc *CheckoutController) HandleCancelSubscription(c *fiber.Ctx) error {
	var req cancelRequest
	if err := c.BodyParser(&req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, codeInvalidRequest, "invalid request body")
	}
	if err := validate.Struct(&req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, codeInvalidRequest, err.Error())
	}

	sub, err := cc.subscribers.GetByContactIdentifier(req.Contact)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errorResponse(c, fiber.StatusNotFound, codeInvalidRequest, "no subscription for this contact")
		}
		return errorResponse(c, fiber.StatusInternalServerError, codeInternal, "could not load subscription")
	}
	if sub.ProviderSubscriptionRef == "" {
		return errorResponse(c, fiber.StatusUnprocessableEntity, codeInvalidRequest, "no active provider subscription")
	}

	if err := cc.provider.CancelSubscription(c.UserContext(), sub.ProviderSubscriptionRef); err != nil {
		log.Errorf("[Checkout] Cancel failed for %s: %v", req.Contact, err)
		return errorResponse(c, fiber.StatusBadGateway, codeInternal, "could not cancel subscription")
	}
	return c.JSON(fiber.Map{"status": "cancel_requested"})
}
