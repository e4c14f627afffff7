package controllers

import (
	"context"
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/fareglitch/FareGlitch/app/models"
	"github.com/fareglitch/FareGlitch/app/repository"
	"github.com/fareglitch/FareGlitch/internal/pkg/access"
	"github.com/fareglitch/FareGlitch/internal/pkg/deals"
	"github.com/fareglitch/FareGlitch/internal/pkg/scanner"
	"github.com/fareglitch/FareGlitch/internal/pkg/statistics"
)

// AdminController serves the operator endpoints behind the API key guard.
type AdminController struct {
	deals    *deals.Service
	scanner  *scanner.Scanner
	scanLogs repository.ScanLogRepository
	unlocks  repository.UnlockRepository
	stats    *statistics.Service
}

// NewAdminController creates the admin controller.
func NewAdminController(dealSvc *deals.Service, scan *scanner.Scanner, scanLogs repository.ScanLogRepository, unlocks repository.UnlockRepository, stats *statistics.Service) *AdminController {
	return &AdminController{deals: dealSvc, scanner: scan, scanLogs: scanLogs, unlocks: unlocks, stats: stats}
}

func (ac *AdminController) dealID(c *fiber.Ctx) (uint, error) {
	id, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil || id == 0 {
		return 0, errors.New("invalid deal id")
	}
	return uint(id), nil
}

// HandlePublishDeal serves POST /api/v1/admin/deals/:id/publish.
func (ac *AdminController) HandlePublishDeal(c *fiber.Ctx) error {
	id, err := ac.dealID(c)
	if err != nil {
		return errorResponse(c, fiber.StatusBadRequest, codeInvalidRequest, err.Error())
	}

	deal, err := ac.deals.Publish(c.UserContext(), id)
	if err != nil {
		switch {
		case errors.Is(err, deals.ErrDealNotFound):
			return errorResponse(c, fiber.StatusNotFound, codeDealNotFound, "deal not found")
		case errors.Is(err, deals.ErrDealUnavailable):
			return errorResponse(c, fiber.StatusConflict, codeDealUnavailable, "deal cannot be published from its current state")
		default:
			log.Errorf("[Admin] Publish failed: %v", err)
			return errorResponse(c, fiber.StatusInternalServerError, codeInternal, "could not publish deal")
		}
	}

	ac.stats.Invalidate()
	return c.JSON(access.ProjectFull(deal))
}

// HandleCancelDeal serves POST /api/v1/admin/deals/:id/cancel.
func (ac *AdminController) HandleCancelDeal(c *fiber.Ctx) error {
	id, err := ac.dealID(c)
	if err != nil {
		return errorResponse(c, fiber.StatusBadRequest, codeInvalidRequest, err.Error())
	}

	deal, err := ac.deals.Cancel(c.UserContext(), id)
	if err != nil {
		switch {
		case errors.Is(err, deals.ErrDealNotFound):
			return errorResponse(c, fiber.StatusNotFound, codeDealNotFound, "deal not found")
		case errors.Is(err, deals.ErrDealUnavailable):
			return errorResponse(c, fiber.StatusConflict, codeDealUnavailable, "deal cannot be canceled from its current state")
		default:
			log.Errorf("[Admin] Cancel failed: %v", err)
			return errorResponse(c, fiber.StatusInternalServerError, codeInternal, "could not cancel deal")
		}
	}

	ac.stats.Invalidate()
	return c.JSON(access.ProjectFull(deal))
}

// HandleDealStats serves GET /api/v1/admin/deals/:dealNumber/stats. It breaks
// the deal's aggregates down by unlock record, including refunds, so an
// operator can reconcile revenue against the provider dashboard.
func (ac *AdminController) HandleDealStats(c *fiber.Ctx) error {
	deal, err := ac.deals.Resolve(c.UserContext(), dealNumberParam(c))
	if err != nil {
		if errors.Is(err, deals.ErrDealNotFound) {
			return errorResponse(c, fiber.StatusNotFound, codeDealNotFound, "deal not found")
		}
		log.Errorf("[Admin] Deal stats lookup failed: %v", err)
		return errorResponse(c, fiber.StatusInternalServerError, codeInternal, "could not load deal stats")
	}

	unlocks, err := ac.unlocks.ListByDeal(deal.ID)
	if err != nil {
		log.Errorf("[Admin] Unlock list failed for deal %d: %v", deal.ID, err)
		return errorResponse(c, fiber.StatusInternalServerError, codeInternal, "could not load deal stats")
	}

	var refunded int
	var refundedAmount float64
	for i := range unlocks {
		if unlocks[i].RefundState == models.RefundStateRefunded {
			refunded++
			refundedAmount += unlocks[i].AmountPaid
		}
	}

	return c.JSON(fiber.Map{
		"deal_number":     deal.DealNumber,
		"status":          deal.Status,
		"total_unlocks":   deal.TotalUnlocks,
		"total_revenue":   deal.TotalRevenue,
		"refunded_count":  refunded,
		"refunded_amount": refundedAmount,
		"unlocks":         unlocks,
	})
}

// HandleListScans serves GET /api/v1/admin/scans.
func (ac *AdminController) HandleListScans(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 20)
	if limit < 1 || limit > 100 {
		limit = 20
	}
	logs, err := ac.scanLogs.ListRecent(limit)
	if err != nil {
		log.Errorf("[Admin] Scan log list failed: %v", err)
		return errorResponse(c, fiber.StatusInternalServerError, codeInternal, "could not list scans")
	}
	return c.JSON(fiber.Map{"scans": logs})
}

// HandleTriggerScan serves POST /api/v1/admin/scans/trigger. The cycle runs
// in the background; an already-running cycle turns the request into a no-op.
func (ac *AdminController) HandleTriggerScan(c *fiber.Ctx) error {
	go func() {
		if _, err := ac.scanner.RunCycle(context.Background()); err != nil && !errors.Is(err, scanner.ErrCycleInProgress) {
			log.Errorf("[Admin] Triggered scan failed: %v", err)
		}
	}()
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "scan_triggered"})
}
