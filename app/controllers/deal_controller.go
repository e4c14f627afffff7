package controllers

import (
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/fareglitch/FareGlitch/app/models"
	"github.com/fareglitch/FareGlitch/app/repository"
	"github.com/fareglitch/FareGlitch/internal/pkg/access"
	"github.com/fareglitch/FareGlitch/internal/pkg/deals"
	"github.com/fareglitch/FareGlitch/internal/pkg/statistics"
)

var validate = validator.New()

// DealController serves the public deal endpoints. Every response passes
// through the access layer's visibility predicate and projections; no handler
// builds a deal response by hand.
type DealController struct {
	deals       *deals.Service
	subscribers repository.SubscriberRepository
	stats       *statistics.Service

	embargo time.Duration
	now     func() time.Time
}

// NewDealController creates the public deal controller.
func NewDealController(dealSvc *deals.Service, subscribers repository.SubscriberRepository, stats *statistics.Service, embargo time.Duration) *DealController {
	if embargo <= 0 {
		embargo = access.DefaultEmbargoWindow
	}
	return &DealController{
		deals:       dealSvc,
		subscribers: subscribers,
		stats:       stats,
		embargo:     embargo,
		now:         time.Now,
	}
}

// SetNow overrides the clock, for tests.
func (dc *DealController) SetNow(now func() time.Time) {
	dc.now = now
}

// requesterTier resolves the caller's tier from the optional contact query
// parameter. Anonymous callers are free tier.
func (dc *DealController) requesterTier(c *fiber.Ctx, now time.Time) (access.Tier, string) {
	contact := c.Query("contact")
	if contact == "" {
		return access.TierFree, ""
	}
	sub, err := dc.subscribers.GetByContactIdentifier(contact)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warnf("[Deals] Subscriber lookup failed for %s: %v", contact, err)
		}
		return access.TierFree, contact
	}
	return access.TierFor(sub, now), contact
}

// HandleListDeals serves GET /api/v1/deals: teasers of every deal visible to
// the requester's tier right now.
func (dc *DealController) HandleListDeals(c *fiber.Ctx) error {
	now := dc.now()
	tier, _ := dc.requesterTier(c, now)

	published, err := dc.deals.ListPublished(c.UserContext())
	if err != nil {
		log.Errorf("[Deals] List failed: %v", err)
		return errorResponse(c, fiber.StatusInternalServerError, codeInternal, "could not list deals")
	}

	teasers := make([]access.Teaser, 0, len(published))
	for i := range published {
		if !access.IsVisible(&published[i], tier, now, dc.embargo) {
			continue
		}
		teasers = append(teasers, access.RedactTeaser(&published[i]))
	}
	return c.JSON(fiber.Map{
		"deals": teasers,
		"tier":  tier,
	})
}

// HandleGetDeal serves GET /api/v1/deals/:dealNumber. Active subscribers and
// unlockers get the full projection; free tier gets the teaser once the
// embargo has elapsed. A canceled deal stays reachable only for its unlockers.
func (dc *DealController) HandleGetDeal(c *fiber.Ctx) error {
	now := dc.now()
	tier, contact := dc.requesterTier(c, now)

	deal, err := dc.deals.Resolve(c.UserContext(), dealNumberParam(c))
	if err != nil {
		if errors.Is(err, deals.ErrDealNotFound) {
			return errorResponse(c, fiber.StatusNotFound, codeDealNotFound, "deal not found")
		}
		log.Errorf("[Deals] Lookup failed: %v", err)
		return errorResponse(c, fiber.StatusInternalServerError, codeInternal, "could not load deal")
	}

	unlocked := contact != "" && dc.deals.HasUnlock(c.UserContext(), deal, contact)
	if deal.Status == models.DealStatusCanceled && unlocked {
		// Unlockers keep what they paid for, tagged with the terminal status.
		return c.JSON(access.ProjectFull(deal))
	}

	if !access.IsVisible(deal, tier, now, dc.embargo) {
		return errorResponse(c, fiber.StatusNotFound, codeDealNotFound, "deal not found")
	}
	if tier == access.TierActive || unlocked {
		return c.JSON(access.ProjectFull(deal))
	}
	return c.JSON(access.RedactTeaser(deal))
}

type unlockRequest struct {
	Contact    string `json:"contact" validate:"required"`
	Email      string `json:"email" validate:"omitempty,email"`
	PaymentRef string `json:"payment_ref" validate:"required"`
}

// HandleUnlockDeal serves POST /api/v1/deals/:dealNumber/unlock. The payment
// ref must reference a settled provider payment; the unlock is idempotent per
// (contact, deal).
func (dc *DealController) HandleUnlockDeal(c *fiber.Ctx) error {
	var req unlockRequest
	if err := c.BodyParser(&req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, codeInvalidRequest, "invalid request body")
	}
	if err := validate.Struct(&req); err != nil {
		if req.PaymentRef == "" {
			return errorResponse(c, fiber.StatusPaymentRequired, codePaymentNotConfirmed, "unlock requires a confirmed payment")
		}
		return errorResponse(c, fiber.StatusBadRequest, codeInvalidRequest, err.Error())
	}

	deal, unlock, err := dc.deals.Unlock(c.UserContext(), dealNumberParam(c), req.Contact, req.Email, req.PaymentRef)
	if err != nil {
		switch {
		case errors.Is(err, deals.ErrDealNotFound):
			return errorResponse(c, fiber.StatusNotFound, codeDealNotFound, "deal not found")
		case errors.Is(err, deals.ErrDealUnavailable):
			return errorResponse(c, fiber.StatusGone, codeDealUnavailable, "deal is no longer available")
		default:
			log.Errorf("[Deals] Unlock failed: %v", err)
			return errorResponse(c, fiber.StatusInternalServerError, codeInternal, "could not unlock deal")
		}
	}

	dc.stats.Invalidate()
	return c.JSON(fiber.Map{
		"deal":        access.ProjectFull(deal),
		"unlocked_at": unlock.UnlockedAt,
	})
}

// HandleStats serves GET /api/v1/stats.
func (dc *DealController) HandleStats(c *fiber.Ctx) error {
	snapshot, err := dc.stats.Headline()
	if err != nil {
		log.Errorf("[Stats] Compute failed: %v", err)
		return errorResponse(c, fiber.StatusInternalServerError, codeInternal, "could not compute statistics")
	}
	return c.JSON(snapshot)
}
