package deals

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/fareglitch/FareGlitch/app/models"
	"github.com/fareglitch/FareGlitch/internal/pkg/budget"
	"github.com/fareglitch/FareGlitch/internal/pkg/feeds"
)

// DefaultPriceTolerance is the allowed drift between the discovery price and
// the confirmation source's live price.
const DefaultPriceTolerance = 0.15

var (
	// ErrBudgetExhausted means the confirmation budget denied the call. The
	// candidate is discarded; a persisting fare gets re-detected next cycle.
	ErrBudgetExhausted = errors.New("confirmation budget exhausted")
	// ErrNotConfirmed means the live check failed: the fare is gone, not
	// bookable, or drifted past the tolerance.
	ErrNotConfirmed = errors.New("fare not confirmed")
	// ErrRouteAlreadyTracked means an active deal already covers this route.
	ErrRouteAlreadyTracked = errors.New("route already has an active deal")
)

// Candidate is a flagged anomaly awaiting live confirmation.
type Candidate struct {
	Origin            string
	Destination       string
	OfferPrice        float64
	Baseline          float64
	Currency          string
	DepartureDate     string
	SavingsAmount     float64
	SavingsPercentage float64
	DetectedAt        time.Time
}

// Validator is the gate between detection and the deal table. One candidate
// costs at most one confirmation call, and only after the budget allows it.
type Validator struct {
	source feeds.ConfirmationSource
	budget *budget.Tracker
	deals  *Service

	tolerance float64
	unlockFee float64
}

// NewValidator creates a validation gate.
func NewValidator(source feeds.ConfirmationSource, tracker *budget.Tracker, deals *Service, tolerance, unlockFee float64) *Validator {
	if tolerance <= 0 {
		tolerance = DefaultPriceTolerance
	}
	return &Validator{
		source:    source,
		budget:    tracker,
		deals:     deals,
		tolerance: tolerance,
		unlockFee: unlockFee,
	}
}

// Validate confirms a candidate against live inventory and, on success,
// persists it as a VALIDATED deal. A candidate never becomes a deal without a
// successful confirmation call; every other path discards it with only a log
// line for the audit trail.
func (v *Validator) Validate(ctx context.Context, c Candidate) (*models.Deal, error) {
	existing, err := v.deals.deals.FindActiveByRoute(c.Origin, c.Destination)
	if err == nil && existing != nil {
		log.Debugf("[Validator] %s-%s already tracked as %s, skipping", c.Origin, c.Destination, existing.DealNumber)
		return nil, ErrRouteAlreadyTracked
	}
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	if !v.budget.TryConsume(ctx, feeds.SourceConfirmation, 1) {
		log.Warnf("[Validator] Budget denied confirmation for %s-%s at %.0f", c.Origin, c.Destination, c.OfferPrice)
		return nil, ErrBudgetExhausted
	}

	check, err := v.source.ValidateFare(ctx, c.Origin, c.Destination, c.DepartureDate, c.OfferPrice)
	if err != nil {
		return nil, err
	}
	if !check.Bookable {
		log.Infof("[Validator] %s-%s no longer bookable, discarding", c.Origin, c.Destination)
		return nil, ErrNotConfirmed
	}
	if drift := math.Abs(check.ActualPrice-c.OfferPrice) / c.OfferPrice; drift > v.tolerance {
		log.Infof("[Validator] %s-%s drifted %.0f%% (flagged %.0f, live %.0f), discarding",
			c.Origin, c.Destination, drift*100, c.OfferPrice, check.ActualPrice)
		return nil, ErrNotConfirmed
	}

	// The live price is authoritative for what subscribers will pay.
	c.OfferPrice = check.ActualPrice
	c.SavingsAmount = c.Baseline - check.ActualPrice
	if c.Baseline > 0 {
		c.SavingsPercentage = c.SavingsAmount / c.Baseline
	}
	if check.Currency != "" {
		c.Currency = check.Currency
	}
	return v.deals.CreateValidated(ctx, c, check.BookingLink, v.unlockFee)
}
