package deals

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fareglitch/FareGlitch/app/models"
	"github.com/fareglitch/FareGlitch/app/repository"
	"github.com/fareglitch/FareGlitch/internal/pkg/testutil"
)

func newTestService(now time.Time) (*Service, *repository.Repositories) {
	repos := testutil.NewRepositories()
	svc := NewService(repos, Config{})
	svc.SetNow(func() time.Time { return now })
	return svc, repos
}

func testCandidate() Candidate {
	return Candidate{
		Origin:            "JFK",
		Destination:       "NRT",
		OfferPrice:        280,
		Baseline:          1000,
		Currency:          "USD",
		DepartureDate:     "2026-04-15",
		SavingsAmount:     720,
		SavingsPercentage: 0.72,
		DetectedAt:        time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC),
	}
}

func TestCreateValidatedAssignsDealNumber(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, _ := newTestService(now)

	first, err := svc.CreateValidated(context.Background(), testCandidate(), "https://book.example/1", 5)
	require.NoError(t, err)
	assert.Equal(t, "DEAL#001", first.DealNumber)
	assert.Equal(t, models.DealStatusValidated, first.Status)
	assert.Contains(t, first.TeaserHeadline, "72% Off")
	assert.Nil(t, first.PublishedAt)

	c := testCandidate()
	c.Destination = "CDG"
	second, err := svc.CreateValidated(context.Background(), c, "https://book.example/2", 5)
	require.NoError(t, err)
	assert.Equal(t, "DEAL#002", second.DealNumber)
}

func TestPublishWritesTimestampExactlyOnce(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, _ := newTestService(now)

	deal, err := svc.CreateValidated(context.Background(), testCandidate(), "", 5)
	require.NoError(t, err)

	published, err := svc.Publish(context.Background(), deal.ID)
	require.NoError(t, err)
	require.NotNil(t, published.PublishedAt)
	assert.Equal(t, now, *published.PublishedAt)
	assert.Equal(t, now.Add(DefaultDealTTL), *published.ExpiresAt)

	// A replayed publish an hour later must not move the timestamp.
	svc.SetNow(func() time.Time { return now.Add(time.Hour) })
	replayed, err := svc.Publish(context.Background(), deal.ID)
	require.NoError(t, err)
	assert.Equal(t, now, *replayed.PublishedAt)
	assert.Equal(t, now.Add(DefaultDealTTL), *replayed.ExpiresAt)
}

func TestPublishRejectsTerminalStates(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, _ := newTestService(now)

	deal, err := svc.CreateValidated(context.Background(), testCandidate(), "", 5)
	require.NoError(t, err)
	_, err = svc.Publish(context.Background(), deal.ID)
	require.NoError(t, err)
	_, err = svc.Cancel(context.Background(), deal.ID)
	require.NoError(t, err)

	_, err = svc.Publish(context.Background(), deal.ID)
	assert.ErrorIs(t, err, ErrDealUnavailable)
}

func TestResolveAppliesLazyExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, _ := newTestService(now)

	deal, err := svc.CreateValidated(context.Background(), testCandidate(), "", 5)
	require.NoError(t, err)
	_, err = svc.Publish(context.Background(), deal.ID)
	require.NoError(t, err)

	// One second before expiry: still published.
	svc.SetNow(func() time.Time { return now.Add(DefaultDealTTL - time.Second) })
	live, err := svc.Resolve(context.Background(), deal.DealNumber)
	require.NoError(t, err)
	assert.Equal(t, models.DealStatusPublished, live.Status)

	// At the expiry instant the read path flips it without waiting for the sweep.
	svc.SetNow(func() time.Time { return now.Add(DefaultDealTTL) })
	expired, err := svc.Resolve(context.Background(), deal.DealNumber)
	require.NoError(t, err)
	assert.Equal(t, models.DealStatusExpired, expired.Status)
}

func TestSweepExpiresOverdueDeals(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, repos := newTestService(now)

	for _, dest := range []string{"NRT", "CDG", "SYD"} {
		c := testCandidate()
		c.Destination = dest
		deal, err := svc.CreateValidated(context.Background(), c, "", 5)
		require.NoError(t, err)
		_, err = svc.Publish(context.Background(), deal.ID)
		require.NoError(t, err)
	}

	svc.SetNow(func() time.Time { return now.Add(DefaultDealTTL + time.Minute) })
	expired, err := svc.SweepExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, expired)

	remaining, err := repos.Deal.ListPublished()
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestUnlockIsIdempotentPerSubscriberAndDeal(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, repos := newTestService(now)

	deal, err := svc.CreateValidated(context.Background(), testCandidate(), "", 5)
	require.NoError(t, err)
	_, err = svc.Publish(context.Background(), deal.ID)
	require.NoError(t, err)

	_, first, err := svc.Unlock(context.Background(), deal.DealNumber, "+15550001111", "a@example.com", "pi_1")
	require.NoError(t, err)
	_, second, err := svc.Unlock(context.Background(), deal.DealNumber, "+15550001111", "a@example.com", "pi_1_retry")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	stored, err := repos.Deal.GetByID(deal.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.TotalUnlocks)
	assert.Equal(t, float64(5), stored.TotalRevenue)
}

func TestUnlockRequiresLiveDeal(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, _ := newTestService(now)

	deal, err := svc.CreateValidated(context.Background(), testCandidate(), "", 5)
	require.NoError(t, err)
	_, err = svc.Publish(context.Background(), deal.ID)
	require.NoError(t, err)

	svc.SetNow(func() time.Time { return now.Add(DefaultDealTTL + time.Hour) })
	_, _, err = svc.Unlock(context.Background(), deal.DealNumber, "+15550001111", "", "pi_1")
	assert.ErrorIs(t, err, ErrDealUnavailable)
}

type recordingCanceler struct {
	done chan *models.Deal
}

func (r *recordingCanceler) DealCanceled(ctx context.Context, deal *models.Deal) {
	r.done <- deal
}

func TestCancelInvokesRefundHook(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, _ := newTestService(now)
	hook := &recordingCanceler{done: make(chan *models.Deal, 1)}
	svc.OnCancel(hook)

	deal, err := svc.CreateValidated(context.Background(), testCandidate(), "", 5)
	require.NoError(t, err)
	_, err = svc.Publish(context.Background(), deal.ID)
	require.NoError(t, err)

	canceled, err := svc.Cancel(context.Background(), deal.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DealStatusCanceled, canceled.Status)

	select {
	case got := <-hook.done:
		assert.Equal(t, deal.ID, got.ID)
	case <-time.After(time.Second):
		t.Fatal("cancel hook was not invoked")
	}

	// A replayed cancel is a no-op and must not fire the hook again.
	_, err = svc.Cancel(context.Background(), deal.ID)
	require.NoError(t, err)
	select {
	case <-hook.done:
		t.Fatal("cancel hook fired on replay")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestResolveUnknownDeal(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, _ := newTestService(now)

	_, err := svc.Resolve(context.Background(), "DEAL#404")
	assert.ErrorIs(t, err, ErrDealNotFound)
}
