package middleware

import (
	"crypto/sha256"
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"

	"github.com/fareglitch/FareGlitch/internal/pkg/env"
)

// AdminAPIKey guards operator endpoints with a shared secret in the
// X-API-Key header. Comparison is constant-time over digests.
func AdminAPIKey() fiber.Handler {
	return func(c *fiber.Ctx) error {
		secret := env.GetEnv("ADMIN_API_KEY", "")
		if secret == "" {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error": "admin api is not configured",
			})
		}

		provided := c.Get("X-API-Key")
		want := sha256.Sum256([]byte(secret))
		got := sha256.Sum256([]byte(provided))
		if subtle.ConstantTimeCompare(want[:], got[:]) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid api key",
			})
		}
		return c.Next()
	}
}
