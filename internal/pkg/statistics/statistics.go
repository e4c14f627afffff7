package statistics

import (
	"encoding/json"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/fareglitch/FareGlitch/app/models"
	"github.com/fareglitch/FareGlitch/app/repository"
	"github.com/fareglitch/FareGlitch/internal/pkg/cache"
)

const (
	cacheKey = "statistics:headline"
	cacheTTL = 5 * time.Minute
)

// Headline is the public stats snapshot served on the stats endpoint.
type Headline struct {
	TotalDeals      int64     `json:"total_deals"`
	PublishedDeals  int       `json:"published_deals"`
	TotalSavings    float64   `json:"total_savings"`
	AverageSavings  float64   `json:"average_savings_pct"`
	TotalUnlocks    int       `json:"total_unlocks"`
	TotalRevenue    float64   `json:"total_revenue"`
	LastScanAt      time.Time `json:"last_scan_at,omitempty"`
	LastScanStatus  string    `json:"last_scan_status,omitempty"`
	ComputedAt      time.Time `json:"computed_at"`
}

// Service computes headline statistics, cached in Redis so the public
// endpoint never hammers the database.
type Service struct {
	deals    repository.DealRepository
	scanLogs repository.ScanLogRepository
}

// NewService creates a statistics service.
func NewService(repos *repository.Repositories) *Service {
	return &Service{deals: repos.Deal, scanLogs: repos.ScanLog}
}

// Headline returns the current snapshot, serving the cached copy when fresh.
func (s *Service) Headline() (*Headline, error) {
	if raw, err := cache.Get(cacheKey); err == nil {
		var cached Headline
		if err := json.Unmarshal([]byte(raw), &cached); err == nil {
			return &cached, nil
		}
	}

	snapshot, err := s.compute()
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(snapshot); err == nil {
		if err := cache.Set(cacheKey, string(raw), cacheTTL); err != nil {
			log.Warnf("[Statistics] Could not cache snapshot: %v", err)
		}
	}
	return snapshot, nil
}

// Invalidate drops the cached snapshot so the next read recomputes.
func (s *Service) Invalidate() {
	if err := cache.Delete(cacheKey); err != nil {
		log.Warnf("[Statistics] Could not invalidate cache: %v", err)
	}
}

func (s *Service) compute() (*Headline, error) {
	total, err := s.deals.Count()
	if err != nil {
		return nil, err
	}
	published, err := s.deals.ListPublished()
	if err != nil {
		return nil, err
	}

	snapshot := &Headline{
		TotalDeals: total,
		ComputedAt: time.Now(),
	}
	var savingsPctSum float64
	for i := range published {
		d := &published[i]
		if d.Status != models.DealStatusPublished {
			continue
		}
		snapshot.PublishedDeals++
		snapshot.TotalSavings += d.SavingsAmount
		savingsPctSum += d.SavingsPercentage
		snapshot.TotalUnlocks += d.TotalUnlocks
		snapshot.TotalRevenue += d.TotalRevenue
	}
	if snapshot.PublishedDeals > 0 {
		snapshot.AverageSavings = savingsPctSum / float64(snapshot.PublishedDeals) * 100
	}

	if logs, err := s.scanLogs.ListRecent(1); err == nil && len(logs) > 0 {
		snapshot.LastScanAt = logs[0].StartedAt
		snapshot.LastScanStatus = logs[0].Status
	}
	return snapshot, nil
}
