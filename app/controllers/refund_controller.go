package controllers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/fareglitch/FareGlitch/internal/pkg/refund"
)

// RefundController serves the glitch-guarantee refund endpoint.
type RefundController struct {
	workflow *refund.Workflow
}

// NewRefundController creates the refund controller.
func NewRefundController(workflow *refund.Workflow) *RefundController {
	return &RefundController{workflow: workflow}
}

type refundRequest struct {
	Contact string `json:"contact" validate:"required"`
	Reason  string `json:"reason"`
}

// HandleRequestRefund serves POST /api/v1/deals/:dealNumber/refund. Safe to
// retry: a replay after success returns the original refund without touching
// the provider again.
func (rc *RefundController) HandleRequestRefund(c *fiber.Ctx) error {
	var req refundRequest
	if err := c.BodyParser(&req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, codeInvalidRequest, "invalid request body")
	}
	if err := validate.Struct(&req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, codeInvalidRequest, err.Error())
	}

	result, err := rc.workflow.Request(c.UserContext(), req.Contact, dealNumberParam(c), req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, refund.ErrNoUnlock):
			return errorResponse(c, fiber.StatusNotFound, codeRefundNotFound, "no unlock found for this deal")
		case errors.Is(err, refund.ErrIneligible):
			return errorResponse(c, fiber.StatusUnprocessableEntity, codeRefundIneligible, "the refund window has expired")
		case errors.Is(err, refund.ErrRetryable):
			return errorResponse(c, fiber.StatusServiceUnavailable, codeRefundRetryable, "refund not confirmed yet, retry later")
		default:
			log.Errorf("[Refund] Request failed: %v", err)
			return errorResponse(c, fiber.StatusInternalServerError, codeInternal, "could not process refund")
		}
	}

	return c.JSON(fiber.Map{
		"refund_ref":       result.RefundRef,
		"amount":           result.Amount,
		"already_refunded": result.AlreadyRefunded,
	})
}
