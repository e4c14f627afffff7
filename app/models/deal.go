package models

import (
	"fmt"
	"time"
)

// Deal lifecycle states. EXPIRED and CANCELED are terminal.
const (
	DealStatusDetected  = "detected"
	DealStatusValidated = "validated"
	DealStatusPublished = "published"
	DealStatusExpired   = "expired"
	DealStatusCanceled  = "canceled"
)

// Deal is a validated mistake fare. Owned exclusively by the deals service;
// every other package reads it through the repository only.
type Deal struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	DealNumber string `gorm:"type:varchar(32);not null;uniqueIndex" json:"deal_number"`

	Origin      string `gorm:"type:varchar(8);not null;index:idx_deals_route,priority:1" json:"origin"`
	Destination string `gorm:"type:varchar(8);not null;index:idx_deals_route,priority:2" json:"destination"`

	NormalPrice       float64 `gorm:"not null" json:"normal_price"`
	OfferPrice        float64 `gorm:"not null" json:"offer_price"`
	SavingsAmount     float64 `gorm:"not null" json:"savings_amount"`
	SavingsPercentage float64 `gorm:"not null" json:"savings_percentage"`
	Currency          string  `gorm:"type:varchar(3);not null;default:'USD'" json:"currency"`

	Status string `gorm:"type:varchar(16);not null;default:'detected';index" json:"status"`

	// PublishedAt is written exactly once at the PUBLISHED transition and is
	// the sole input to the embargo rule. Recovery reads it, never recomputes.
	DetectedAt  time.Time  `gorm:"not null" json:"detected_at"`
	ValidatedAt *time.Time `gorm:"type:timestamp;default:null" json:"validated_at,omitempty"`
	PublishedAt *time.Time `gorm:"type:timestamp;default:null;index" json:"published_at,omitempty"`
	ExpiresAt   *time.Time `gorm:"type:timestamp;default:null;index" json:"expires_at,omitempty"`

	// Booking information, hidden until unlocked or embargo elapsed.
	BookingLink   string `gorm:"type:text" json:"booking_link,omitempty"`
	DepartureDate string `gorm:"type:varchar(10)" json:"departure_date,omitempty"`

	TeaserHeadline    string `gorm:"type:varchar(255)" json:"teaser_headline"`
	TeaserDescription string `gorm:"type:text" json:"teaser_description"`

	UnlockFee    float64 `gorm:"not null;default:0" json:"unlock_fee"`
	TotalUnlocks int     `gorm:"not null;default:0" json:"total_unlocks"`
	TotalRevenue float64 `gorm:"not null;default:0" json:"total_revenue"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsTerminal reports whether the deal can no longer change state.
func (d *Deal) IsTerminal() bool {
	return d.Status == DealStatusExpired || d.Status == DealStatusCanceled
}

// ShouldExpire reports whether a published deal has passed its expiry. The
// read path uses this lazily; the periodic sweep is only an optimization.
func (d *Deal) ShouldExpire(now time.Time) bool {
	return d.Status == DealStatusPublished && d.ExpiresAt != nil && !now.Before(*d.ExpiresAt)
}

// RouteDescription renders "JFK to NRT" for teasers and alerts.
func (d *Deal) RouteDescription() string {
	return fmt.Sprintf("%s to %s", d.Origin, d.Destination)
}

// FormatDealNumber renders the externally shareable deal number, e.g. "DEAL#042".
func FormatDealNumber(seq uint) string {
	return fmt.Sprintf("DEAL#%03d", seq)
}
