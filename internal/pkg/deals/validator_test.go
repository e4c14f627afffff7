package deals

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fareglitch/FareGlitch/internal/pkg/budget"
	"github.com/fareglitch/FareGlitch/internal/pkg/feeds"
)

type fakeConfirmation struct {
	calls int
	check *feeds.FareCheck
	err   error
}

func (f *fakeConfirmation) ValidateFare(ctx context.Context, origin, destination, date string, expectedPrice float64) (*feeds.FareCheck, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.check, nil
}

type openStore struct{}

func (openStore) ConsumeIfUnder(ctx context.Context, entries []budget.CounterEntry, cost int64) (bool, error) {
	return true, nil
}

type closedStore struct{}

func (closedStore) ConsumeIfUnder(ctx context.Context, entries []budget.CounterEntry, cost int64) (bool, error) {
	return false, nil
}

func confirmationTracker(store budget.CounterStore) *budget.Tracker {
	return budget.NewTracker(store, map[string]budget.Limits{
		feeds.SourceConfirmation: {Daily: 100, Monthly: 1000},
	}, time.UTC)
}

func newTestValidator(source feeds.ConfirmationSource, store budget.CounterStore) (*Validator, *Service) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, _ := newTestService(now)
	return NewValidator(source, confirmationTracker(store), svc, DefaultPriceTolerance, 5), svc
}

func TestValidatePromotesConfirmedCandidate(t *testing.T) {
	source := &fakeConfirmation{check: &feeds.FareCheck{
		Bookable:    true,
		ActualPrice: 290,
		Currency:    "USD",
		BookingLink: "https://book.example/offer/1",
	}}
	v, _ := newTestValidator(source, openStore{})

	deal, err := v.Validate(context.Background(), testCandidate())
	require.NoError(t, err)
	assert.Equal(t, 1, source.calls)
	// The live price becomes the deal price.
	assert.Equal(t, float64(290), deal.OfferPrice)
	assert.Equal(t, float64(710), deal.SavingsAmount)
	assert.Equal(t, "https://book.example/offer/1", deal.BookingLink)
}

func TestValidateRejectsDriftBeyondTolerance(t *testing.T) {
	// Flagged at 280, live at 400: 43% drift, well past 15%.
	source := &fakeConfirmation{check: &feeds.FareCheck{Bookable: true, ActualPrice: 400}}
	v, svc := newTestValidator(source, openStore{})

	_, err := v.Validate(context.Background(), testCandidate())
	assert.ErrorIs(t, err, ErrNotConfirmed)

	_, err = svc.Resolve(context.Background(), "DEAL#001")
	assert.ErrorIs(t, err, ErrDealNotFound)
}

func TestValidateAcceptsDriftWithinTolerance(t *testing.T) {
	// 280 -> 315 is 12.5% drift, inside the 15% tolerance.
	source := &fakeConfirmation{check: &feeds.FareCheck{Bookable: true, ActualPrice: 315}}
	v, _ := newTestValidator(source, openStore{})

	deal, err := v.Validate(context.Background(), testCandidate())
	require.NoError(t, err)
	assert.Equal(t, float64(315), deal.OfferPrice)
}

func TestValidateRejectsUnbookableFare(t *testing.T) {
	source := &fakeConfirmation{check: &feeds.FareCheck{Bookable: false}}
	v, _ := newTestValidator(source, openStore{})

	_, err := v.Validate(context.Background(), testCandidate())
	assert.ErrorIs(t, err, ErrNotConfirmed)
}

func TestValidateSkipsCallWhenBudgetDenied(t *testing.T) {
	source := &fakeConfirmation{check: &feeds.FareCheck{Bookable: true, ActualPrice: 280}}
	v, _ := newTestValidator(source, closedStore{})

	_, err := v.Validate(context.Background(), testCandidate())
	assert.ErrorIs(t, err, ErrBudgetExhausted)
	// The confirmation source was never touched.
	assert.Equal(t, 0, source.calls)
}

func TestValidateSkipsAlreadyTrackedRoute(t *testing.T) {
	source := &fakeConfirmation{check: &feeds.FareCheck{Bookable: true, ActualPrice: 280}}
	v, _ := newTestValidator(source, openStore{})

	_, err := v.Validate(context.Background(), testCandidate())
	require.NoError(t, err)

	_, err = v.Validate(context.Background(), testCandidate())
	assert.ErrorIs(t, err, ErrRouteAlreadyTracked)
	// No budget-consuming call for the duplicate.
	assert.Equal(t, 1, source.calls)
}
