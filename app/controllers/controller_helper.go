package controllers

import (
	"net/url"

	"github.com/gofiber/fiber/v2"
)

// dealNumberParam reads the :dealNumber route parameter. Deal numbers carry a
// "#", so clients send them percent-encoded and the raw capture is unescaped
// here.
func dealNumberParam(c *fiber.Ctx) string {
	raw := c.Params("dealNumber")
	if unescaped, err := url.PathUnescape(raw); err == nil {
		return unescaped
	}
	return raw
}

// errorResponse renders the stable error envelope. Codes are part of the API
// contract; clients branch on code, not on the message text.
func errorResponse(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    code,
			"message": message,
		},
	})
}

// Stable error codes.
const (
	codeDealNotFound        = "deal_not_found"
	codeDealUnavailable     = "deal_unavailable"
	codeInvalidRequest      = "invalid_request"
	codeInvalidSignature    = "invalid_signature"
	codePaymentNotConfirmed = "payment_not_confirmed"
	codeRefundNotFound      = "refund_not_found"
	codeRefundIneligible    = "refund_ineligible"
	codeRefundRetryable     = "refund_retryable"
	codeInternal            = "internal_error"
)
