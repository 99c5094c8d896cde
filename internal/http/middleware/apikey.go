package middleware

import (
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/crypto/bcrypt"
)

// OwnerAPIKeyAuth validates the API key for owner endpoints against a bcrypt
// hash. Expects: Authorization: Bearer <api_key>
func OwnerAPIKeyAuth(keyHash string, logger *slog.Logger) fiber.Handler {
	hash := []byte(keyHash)

	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Missing Authorization header",
			})
		}

		providedKey, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid Authorization header format. Expected: Bearer <api_key>",
			})
		}
		if strings.TrimSpace(providedKey) == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "API key is empty",
			})
		}

		if len(hash) == 0 {
			logger.Warn("Owner API key hash not configured")
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Owner API key not configured. Set LINKFOLIO_API_KEY_HASH.",
			})
		}

		if err := bcrypt.CompareHashAndPassword(hash, []byte(providedKey)); err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid API key",
			})
		}

		return c.Next()
	}
}
