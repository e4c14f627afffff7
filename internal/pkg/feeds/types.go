package feeds

import "context"

// Budget source names, shared with the budget tracker.
const (
	SourceDiscovery    = "discovery"
	SourceConfirmation = "confirmation"
)

// FareOption is one cached destination/price pair from the discovery source.
type FareOption struct {
	Destination   string
	Price         float64
	Currency      string
	DepartureDate string
}

// FareCheck is the authoritative source's answer for a specific fare.
type FareCheck struct {
	Bookable    bool
	ActualPrice float64
	Currency    string
	BookingLink string
}

// DiscoverySource serves cached/aggregate destination prices for an origin.
// Cheap per call but still counted against the budget.
type DiscoverySource interface {
	QueryCheapDestinations(ctx context.Context, origin string, maxPrice float64) ([]FareOption, error)
}

// ConfirmationSource verifies a fare against live inventory. Expensive; used
// only after an anomaly was flagged, to keep the look-to-book ratio low.
type ConfirmationSource interface {
	ValidateFare(ctx context.Context, origin, destination, date string, expectedPrice float64) (*FareCheck, error)
}
