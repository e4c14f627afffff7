package scanner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fareglitch/FareGlitch/app/models"
	"github.com/fareglitch/FareGlitch/app/repository"
	"github.com/fareglitch/FareGlitch/internal/pkg/budget"
	"github.com/fareglitch/FareGlitch/internal/pkg/deals"
	"github.com/fareglitch/FareGlitch/internal/pkg/feeds"
	"github.com/fareglitch/FareGlitch/internal/pkg/testutil"
)

type fakeDiscovery struct {
	options map[string][]feeds.FareOption
	calls   int
}

func (f *fakeDiscovery) QueryCheapDestinations(ctx context.Context, origin string, maxPrice float64) ([]feeds.FareOption, error) {
	f.calls++
	return f.options[origin], nil
}

type fakeConfirm struct {
	calls int
}

func (f *fakeConfirm) ValidateFare(ctx context.Context, origin, destination, date string, expectedPrice float64) (*feeds.FareCheck, error) {
	f.calls++
	return &feeds.FareCheck{Bookable: true, ActualPrice: expectedPrice, Currency: "USD", BookingLink: "https://book.example/x"}, nil
}

type allowStore struct{}

func (allowStore) ConsumeIfUnder(ctx context.Context, entries []budget.CounterEntry, cost int64) (bool, error) {
	return true, nil
}

type denyStore struct{}

func (denyStore) ConsumeIfUnder(ctx context.Context, entries []budget.CounterEntry, cost int64) (bool, error) {
	return false, nil
}

func fullLimits() map[string]budget.Limits {
	return map[string]budget.Limits{
		feeds.SourceDiscovery:    {Daily: 1000, Monthly: 10000},
		feeds.SourceConfirmation: {Daily: 1000, Monthly: 10000},
	}
}

func newTestScanner(t *testing.T, discovery *fakeDiscovery, confirm *fakeConfirm, store budget.CounterStore, origins []string) (*Scanner, *repository.Repositories) {
	t.Helper()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repos := testutil.NewRepositories()

	dealSvc := deals.NewService(repos, deals.Config{})
	dealSvc.SetNow(func() time.Time { return now })

	tracker := budget.NewTracker(store, fullLimits(), time.UTC)
	validator := deals.NewValidator(confirm, tracker, dealSvc, deals.DefaultPriceTolerance, 5)
	detector := NewDetector(repos.PriceSample, 0, 0)
	detector.SetNow(func() time.Time { return now })

	s := New(discovery, tracker, detector, validator, dealSvc, NewRotation(origins, len(origins)), repos.ScanLog, Config{})
	s.now = func() time.Time { return now }
	return s, repos
}

func seedRoute(t *testing.T, repos *repository.Repositories, origin, destination string, price float64, count int, at time.Time) {
	t.Helper()
	for i := 0; i < count; i++ {
		require.NoError(t, repos.PriceSample.Append(&models.PriceSample{
			Origin: origin, Destination: destination, Price: price,
			ObservedAt: at.Add(-time.Duration(i+1) * 24 * time.Hour),
		}))
	}
}

func TestRunCycleValidatesAnomalies(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	discovery := &fakeDiscovery{options: map[string][]feeds.FareOption{
		"JFK": {
			{Destination: "NRT", Price: 280, Currency: "USD", DepartureDate: "2026-04-15"},
			{Destination: "CDG", Price: 900, Currency: "USD", DepartureDate: "2026-04-15"},
		},
	}}
	confirm := &fakeConfirm{}
	s, repos := newTestScanner(t, discovery, confirm, allowStore{}, []string{"JFK"})
	seedRoute(t, repos, "JFK", "NRT", 1000, 5, now)
	seedRoute(t, repos, "JFK", "CDG", 1000, 5, now)

	entry, err := s.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.ScanStatusSuccess, entry.Status)
	assert.Equal(t, 1, entry.OriginsChecked)
	assert.Equal(t, 1, entry.AnomaliesFound)
	assert.Equal(t, 1, entry.DealsValidated)
	assert.Equal(t, 1, confirm.calls)

	deal, err := repos.Deal.GetByDealNumber("DEAL#001")
	require.NoError(t, err)
	assert.Equal(t, "NRT", deal.Destination)
	assert.Equal(t, models.DealStatusValidated, deal.Status)
}

func TestRunCycleKeepsLowerPriceForSameRoute(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	discovery := &fakeDiscovery{options: map[string][]feeds.FareOption{
		"JFK": {
			{Destination: "NRT", Price: 300, Currency: "USD"},
			{Destination: "NRT", Price: 280, Currency: "USD"},
		},
	}}
	confirm := &fakeConfirm{}
	s, repos := newTestScanner(t, discovery, confirm, allowStore{}, []string{"JFK"})
	seedRoute(t, repos, "JFK", "NRT", 1000, 5, now)

	entry, err := s.RunCycle(context.Background())
	require.NoError(t, err)

	// Both fares are anomalous but the route resolves to one candidate.
	assert.Equal(t, 2, entry.AnomaliesFound)
	assert.Equal(t, 1, entry.DealsValidated)
	assert.Equal(t, 1, confirm.calls)

	deal, err := repos.Deal.GetByDealNumber("DEAL#001")
	require.NoError(t, err)
	assert.Equal(t, float64(280), deal.OfferPrice)
}

func TestRunCycleSkipsOriginsWhenBudgetDenied(t *testing.T) {
	discovery := &fakeDiscovery{options: map[string][]feeds.FareOption{}}
	s, _ := newTestScanner(t, discovery, &fakeConfirm{}, denyStore{}, []string{"JFK", "LAX"})

	entry, err := s.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.ScanStatusFailed, entry.Status)
	assert.Equal(t, 0, entry.OriginsChecked)
	assert.Equal(t, 2, entry.OriginsSkipped)
	// The sources were never called.
	assert.Equal(t, 0, discovery.calls)
}

func TestRunCycleRejectsReentrancy(t *testing.T) {
	s, _ := newTestScanner(t, &fakeDiscovery{}, &fakeConfirm{}, allowStore{}, []string{"JFK"})

	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	_, err := s.RunCycle(context.Background())
	assert.ErrorIs(t, err, ErrCycleInProgress)
}

func TestRunCycleRecordsScanLog(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	discovery := &fakeDiscovery{options: map[string][]feeds.FareOption{
		"JFK": {{Destination: "NRT", Price: 950, Currency: "USD"}},
	}}
	s, repos := newTestScanner(t, discovery, &fakeConfirm{}, allowStore{}, []string{"JFK"})
	seedRoute(t, repos, "JFK", "NRT", 1000, 5, now)

	_, err := s.RunCycle(context.Background())
	require.NoError(t, err)

	logs, err := repos.ScanLog.ListRecent(10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.NotEmpty(t, logs[0].ScanID)
	assert.NotNil(t, logs[0].CompletedAt)
	assert.Equal(t, 0, logs[0].AnomaliesFound)
}
