package router

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/storage/redis"

	"github.com/fareglitch/FareGlitch/app/controllers"
	"github.com/fareglitch/FareGlitch/internal/pkg/env"
	"github.com/fareglitch/FareGlitch/internal/pkg/middleware"
)

// Controllers bundles every controller the router mounts.
type Controllers struct {
	Deal     *controllers.DealController
	Checkout *controllers.CheckoutController
	Refund   *controllers.RefundController
	Webhook  *controllers.WebhookController
	Admin    *controllers.AdminController
}

// Setup mounts all routes onto the Fiber app.
func Setup(app *fiber.App, ctrl Controllers) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// Webhooks sit outside the rate limiter; the provider retries on 429 and
	// signature verification already gates abuse.
	app.Post("/webhooks/payment", ctrl.Webhook.HandlePaymentWebhook)

	api := app.Group("/api/v1", publicRateLimiter())

	api.Get("/deals", ctrl.Deal.HandleListDeals)
	api.Get("/deals/:dealNumber", ctrl.Deal.HandleGetDeal)
	api.Post("/deals/:dealNumber/unlock", ctrl.Deal.HandleUnlockDeal)
	api.Post("/deals/:dealNumber/checkout", ctrl.Checkout.HandleUnlockCheckout)
	api.Post("/deals/:dealNumber/refund", ctrl.Refund.HandleRequestRefund)
	api.Get("/stats", ctrl.Deal.HandleStats)

	api.Post("/subscribe", ctrl.Checkout.HandleSubscribe)
	api.Post("/subscription/cancel", ctrl.Checkout.HandleCancelSubscription)

	admin := api.Group("/admin", middleware.AdminAPIKey())
	admin.Post("/deals/:id/publish", ctrl.Admin.HandlePublishDeal)
	admin.Post("/deals/:id/cancel", ctrl.Admin.HandleCancelDeal)
	admin.Get("/deals/:dealNumber/stats", ctrl.Admin.HandleDealStats)
	admin.Get("/scans", ctrl.Admin.HandleListScans)
	admin.Post("/scans/trigger", ctrl.Admin.HandleTriggerScan)
}

// publicRateLimiter throttles the public API per client IP, with counters in
// Redis so all instances share one view.
func publicRateLimiter() fiber.Handler {
	port, _ := strconv.Atoi(env.GetEnv("CACHE_PORT", "6379"))
	storage := redis.New(redis.Config{
		Host:     env.GetEnv("CACHE_HOST", "localhost"),
		Port:     port,
		Password: env.GetEnv("CACHE_PASSWORD", ""),
		Database: 1,
	})

	return limiter.New(limiter.Config{
		Max:        env.GetEnvInt("API_RATE_LIMIT", 120),
		Expiration: 1 * time.Minute,
		Storage:    storage,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": fiber.Map{
					"code":    "rate_limited",
					"message": "too many requests",
				},
			})
		},
	})
}
