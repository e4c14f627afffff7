package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fareglitch/FareGlitch/internal/pkg/deals"
	"github.com/fareglitch/FareGlitch/internal/pkg/statistics"
	"github.com/fareglitch/FareGlitch/internal/pkg/testutil"
)

func TestAdminDealStatsBreaksDownUnlocks(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repos := testutil.NewRepositories()
	dealSvc := deals.NewService(repos, deals.Config{})
	dealSvc.SetNow(func() time.Time { return now })
	deal := publishTestDeal(t, dealSvc)

	_, first, err := dealSvc.Unlock(context.Background(), deal.DealNumber, "+15550001111", "", "pi_1")
	require.NoError(t, err)
	_, _, err = dealSvc.Unlock(context.Background(), deal.DealNumber, "+15550002222", "", "pi_2")
	require.NoError(t, err)

	flipped, err := repos.Unlock.MarkRefunded(first.ID, now, "re_1")
	require.NoError(t, err)
	require.True(t, flipped)

	ac := NewAdminController(dealSvc, nil, repos.ScanLog, repos.Unlock, statistics.NewService(repos))
	app := fiber.New()
	app.Get("/api/v1/admin/deals/:dealNumber/stats", ac.HandleDealStats)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet,
		"/api/v1/admin/deals/"+url.PathEscape(deal.DealNumber)+"/stats", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body struct {
		DealNumber     string  `json:"deal_number"`
		Status         string  `json:"status"`
		TotalUnlocks   int     `json:"total_unlocks"`
		TotalRevenue   float64 `json:"total_revenue"`
		RefundedCount  int     `json:"refunded_count"`
		RefundedAmount float64 `json:"refunded_amount"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, deal.DealNumber, body.DealNumber)
	assert.Equal(t, "published", body.Status)
	assert.Equal(t, 2, body.TotalUnlocks)
	assert.Equal(t, float64(10), body.TotalRevenue)
	assert.Equal(t, 1, body.RefundedCount)
	assert.Equal(t, float64(5), body.RefundedAmount)
}

func TestAdminDealStatsUnknownDeal(t *testing.T) {
	repos := testutil.NewRepositories()
	dealSvc := deals.NewService(repos, deals.Config{})
	ac := NewAdminController(dealSvc, nil, repos.ScanLog, repos.Unlock, statistics.NewService(repos))
	app := fiber.New()
	app.Get("/api/v1/admin/deals/:dealNumber/stats", ac.HandleDealStats)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/admin/deals/DEAL%23999/stats", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}
