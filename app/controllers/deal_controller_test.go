package controllers

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fareglitch/FareGlitch/app/models"
	"github.com/fareglitch/FareGlitch/app/repository"
	"github.com/fareglitch/FareGlitch/internal/pkg/access"
	"github.com/fareglitch/FareGlitch/internal/pkg/deals"
	"github.com/fareglitch/FareGlitch/internal/pkg/statistics"
	"github.com/fareglitch/FareGlitch/internal/pkg/testutil"
)

func newDealTestApp(t *testing.T, now time.Time) (*fiber.App, *deals.Service, *repository.Repositories, *DealController) {
	t.Helper()
	repos := testutil.NewRepositories()
	dealSvc := deals.NewService(repos, deals.Config{})
	dealSvc.SetNow(func() time.Time { return now })

	dc := NewDealController(dealSvc, repos.Subscriber, statistics.NewService(repos), access.DefaultEmbargoWindow)
	dc.SetNow(func() time.Time { return now })

	app := fiber.New()
	app.Get("/api/v1/deals", dc.HandleListDeals)
	app.Get("/api/v1/deals/:dealNumber", dc.HandleGetDeal)
	return app, dealSvc, repos, dc
}

func publishTestDeal(t *testing.T, svc *deals.Service) *models.Deal {
	t.Helper()
	deal, err := svc.CreateValidated(context.Background(), deals.Candidate{
		Origin: "JFK", Destination: "NRT",
		OfferPrice: 280, Baseline: 1000, Currency: "USD",
		SavingsAmount: 720, SavingsPercentage: 0.72,
		DetectedAt: time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC),
	}, "https://book.example/offer/abc", 5)
	require.NoError(t, err)
	published, err := svc.Publish(context.Background(), deal.ID)
	require.NoError(t, err)
	return published
}

func activateSubscriber(t *testing.T, repos *repository.Repositories, contact string, now time.Time) {
	t.Helper()
	expires := now.Add(30 * 24 * time.Hour)
	require.NoError(t, repos.Subscriber.Upsert(&models.Subscriber{
		ContactIdentifier: contact,
		SubscriptionState: models.SubscriptionActive,
		ExpiresAt:         &expires,
	}))
}

func readBody(t *testing.T, r io.Reader) string {
	t.Helper()
	raw, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(raw)
}

func TestGetDealHonorsEmbargoForFreeTier(t *testing.T) {
	publishedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	app, svc, _, dc := newDealTestApp(t, publishedAt)
	deal := publishTestDeal(t, svc)

	// One second before the embargo elapses: hidden.
	dc.SetNow(func() time.Time { return publishedAt.Add(access.DefaultEmbargoWindow - time.Second) })
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/deals/"+url.PathEscape(deal.DealNumber), nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	// At the boundary: the teaser appears, without booking details.
	dc.SetNow(func() time.Time { return publishedAt.Add(access.DefaultEmbargoWindow) })
	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/deals/"+url.PathEscape(deal.DealNumber), nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	body := readBody(t, resp.Body)
	assert.Contains(t, body, deal.DealNumber)
	assert.NotContains(t, body, "book.example")
	assert.NotContains(t, body, "\"origin\"")
}

func TestGetDealServesActiveSubscriberImmediately(t *testing.T) {
	publishedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	app, svc, repos, _ := newDealTestApp(t, publishedAt)
	deal := publishTestDeal(t, svc)
	activateSubscriber(t, repos, "+15550001111", publishedAt)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet,
		"/api/v1/deals/"+url.PathEscape(deal.DealNumber)+"?contact=%2B15550001111", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	body := readBody(t, resp.Body)
	assert.Contains(t, body, "book.example")
	assert.Contains(t, body, "\"origin\"")
}

func TestListDealsFiltersByTier(t *testing.T) {
	publishedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	app, svc, repos, dc := newDealTestApp(t, publishedAt)
	publishTestDeal(t, svc)
	activateSubscriber(t, repos, "+15550001111", publishedAt)

	// During the embargo the anonymous list is empty.
	dc.SetNow(func() time.Time { return publishedAt.Add(30 * time.Minute) })
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/deals", nil))
	require.NoError(t, err)
	assert.Contains(t, readBody(t, resp.Body), `"deals":[]`)

	// The subscriber list is not.
	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/deals?contact=%2B15550001111", nil))
	require.NoError(t, err)
	assert.Contains(t, readBody(t, resp.Body), "DEAL#001")
}

func TestGetCanceledDealVisibleOnlyToUnlockers(t *testing.T) {
	publishedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	app, svc, _, dc := newDealTestApp(t, publishedAt)
	deal := publishTestDeal(t, svc)

	_, _, err := svc.Unlock(context.Background(), deal.DealNumber, "+15550001111", "", "pi_1")
	require.NoError(t, err)
	_, err = svc.Cancel(context.Background(), deal.ID)
	require.NoError(t, err)

	dc.SetNow(func() time.Time { return publishedAt.Add(2 * time.Hour) })

	// The unlocker keeps the full view, tagged canceled.
	resp, err := app.Test(httptest.NewRequest(http.MethodGet,
		"/api/v1/deals/"+url.PathEscape(deal.DealNumber)+"?contact=%2B15550001111", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	body := readBody(t, resp.Body)
	assert.Contains(t, body, `"status":"canceled"`)
	assert.Contains(t, body, "book.example")

	// Everyone else gets a 404, even past the embargo.
	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/deals/"+url.PathEscape(deal.DealNumber), nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestGetExpiredDealIsGone(t *testing.T) {
	publishedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	app, svc, _, dc := newDealTestApp(t, publishedAt)
	deal := publishTestDeal(t, svc)

	later := publishedAt.Add(deals.DefaultDealTTL + time.Minute)
	svc.SetNow(func() time.Time { return later })
	dc.SetNow(func() time.Time { return later })

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/deals/"+url.PathEscape(deal.DealNumber), nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}
