package scanner

import (
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/fareglitch/FareGlitch/app/models"
	"github.com/fareglitch/FareGlitch/app/repository"
	"github.com/fareglitch/FareGlitch/internal/pkg/deals"
	"github.com/fareglitch/FareGlitch/internal/pkg/feeds"
)

// Detection thresholds. A fare is anomalous only when both the relative and
// the absolute test pass, so cheap routes cannot flood the validator with
// small-dollar noise.
const (
	DefaultThreshold      = 0.50
	DefaultMinSavings     = 300.0
	DefaultBaselineWindow = 30 * 24 * time.Hour
	MinBaselineSamples    = 5
)

// Detector flags price anomalies against a trailing per-route baseline.
type Detector struct {
	samples repository.PriceSampleRepository

	threshold      float64
	minSavings     float64
	baselineWindow time.Duration
	now            func() time.Time
}

// NewDetector creates an anomaly detector over the price history log.
func NewDetector(samples repository.PriceSampleRepository, threshold, minSavings float64) *Detector {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if minSavings <= 0 {
		minSavings = DefaultMinSavings
	}
	return &Detector{
		samples:        samples,
		threshold:      threshold,
		minSavings:     minSavings,
		baselineWindow: DefaultBaselineWindow,
		now:            time.Now,
	}
}

// SetNow overrides the clock, for tests.
func (d *Detector) SetNow(now func() time.Time) {
	d.now = now
}

// Observe records the fare in the price history and returns a candidate if it
// is anomalous. The sample is appended on every path, including flagged ones:
// an uncorrected mistake fare must drag the baseline down over time rather
// than stay anomalous forever.
func (d *Detector) Observe(origin string, opt feeds.FareOption) (*deals.Candidate, error) {
	now := d.now()
	avg, count, err := d.samples.BaselineStats(origin, opt.Destination, now.Add(-d.baselineWindow))
	if err != nil {
		return nil, err
	}

	if appendErr := d.samples.Append(&models.PriceSample{
		Origin:      origin,
		Destination: opt.Destination,
		Price:       opt.Price,
		Currency:    opt.Currency,
		Source:      feeds.SourceDiscovery,
		ObservedAt:  now,
	}); appendErr != nil {
		return nil, appendErr
	}

	if count < MinBaselineSamples {
		// Not enough history to call anything an anomaly yet.
		return nil, nil
	}

	savings := avg - opt.Price
	if opt.Price > avg*(1-d.threshold) || savings < d.minSavings {
		return nil, nil
	}

	log.Infof("[Scanner] Anomaly %s-%s: %.0f vs baseline %.0f (%d samples)",
		origin, opt.Destination, opt.Price, avg, count)
	return &deals.Candidate{
		Origin:            origin,
		Destination:       opt.Destination,
		OfferPrice:        opt.Price,
		Baseline:          avg,
		Currency:          opt.Currency,
		DepartureDate:     opt.DepartureDate,
		SavingsAmount:     savings,
		SavingsPercentage: savings / avg,
		DetectedAt:        now,
	}, nil
}
