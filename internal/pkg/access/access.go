package access

import (
	"math"
	"time"

	"github.com/fareglitch/FareGlitch/app/models"
)

// DefaultEmbargoWindow is how long a published deal stays subscriber-only.
const DefaultEmbargoWindow = time.Hour

// Tier is the requester's effective access tier at evaluation time.
type Tier string

const (
	TierFree   Tier = "free"
	TierActive Tier = "active"
)

// TierFor derives the requester tier from the subscriber record, if any.
func TierFor(sub *models.Subscriber, now time.Time) Tier {
	if sub != nil && sub.HasActiveAccess(now) {
		return TierActive
	}
	return TierFree
}

// IsVisible decides whether the requester may see the deal at all. Evaluated
// from stored fields on every read; the result is never cached or stored.
//
// Active subscribers see a deal the moment it is PUBLISHED. Everyone else
// waits out the embargo window measured from published_at, and only while the
// deal is still PUBLISHED.
func IsVisible(deal *models.Deal, tier Tier, now time.Time, embargo time.Duration) bool {
	if deal.PublishedAt == nil {
		return false
	}
	switch deal.Status {
	case models.DealStatusPublished:
		// fall through to tier check
	case models.DealStatusCanceled:
		// Canceled deals stay visible only through unlock records, which are
		// resolved by the caller; the general predicate hides them.
		return false
	default:
		return false
	}

	if tier == TierActive {
		return true
	}
	return now.Sub(*deal.PublishedAt) >= embargo
}

// Teaser is the redacted public projection of a deal. It must never carry the
// booking link or the exact prices.
type Teaser struct {
	DealNumber        string     `json:"deal_number"`
	Headline          string     `json:"headline"`
	Description       string     `json:"description"`
	SavingsPercentage int        `json:"savings_percentage"`
	Currency          string     `json:"currency"`
	PublishedAt       *time.Time `json:"published_at,omitempty"`
	ExpiresAt         *time.Time `json:"expires_at,omitempty"`
	UnlockFee         float64    `json:"unlock_fee"`
}

// Full is the unredacted projection served to unlocked/entitled requesters.
type Full struct {
	Teaser
	Origin        string  `json:"origin"`
	Destination   string  `json:"destination"`
	NormalPrice   float64 `json:"normal_price"`
	OfferPrice    float64 `json:"offer_price"`
	SavingsAmount float64 `json:"savings_amount"`
	BookingLink   string  `json:"booking_link"`
	DepartureDate string  `json:"departure_date,omitempty"`
	Status        string  `json:"status"`
}

// RedactTeaser projects a deal down to the aggregate teaser: headline plus a
// rounded savings percentage. Redaction lives here, at the same layer as the
// visibility check, so no downstream response shape can leak fields.
func RedactTeaser(deal *models.Deal) Teaser {
	return Teaser{
		DealNumber:        deal.DealNumber,
		Headline:          deal.TeaserHeadline,
		Description:       deal.TeaserDescription,
		SavingsPercentage: int(math.Round(deal.SavingsPercentage * 100)),
		Currency:          deal.Currency,
		PublishedAt:       deal.PublishedAt,
		ExpiresAt:         deal.ExpiresAt,
		UnlockFee:         deal.UnlockFee,
	}
}

// ProjectFull returns the complete deal view for entitled requesters.
func ProjectFull(deal *models.Deal) Full {
	return Full{
		Teaser:        RedactTeaser(deal),
		Origin:        deal.Origin,
		Destination:   deal.Destination,
		NormalPrice:   deal.NormalPrice,
		OfferPrice:    deal.OfferPrice,
		SavingsAmount: deal.SavingsAmount,
		BookingLink:   deal.BookingLink,
		DepartureDate: deal.DepartureDate,
		Status:        deal.Status,
	}
}
