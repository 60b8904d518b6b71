package middleware

import (
	"github.com/gofiber/fiber/v2"

	"github.com/sheetgenius/sheetgenius/internal/pkg/usercontext"
)

func isAuthenticated(c *fiber.Ctx) bool {
	if b, ok := c.Locals(usercontext.KeyFromProtected).(bool); ok {
		return b
	}
	return false
}

// RequireAPIAdmin ensures an authenticated admin and returns JSON 403 otherwise.
// Runs after APIKeyAuthMiddleware, which sets the context locals.
func RequireAPIAdmin(c *fiber.Ctx) error {
	if !isAuthenticated(c) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error":   "unauthorized",
			"message": "authentication required",
		})
	}
	if isAdmin, ok := c.Locals(usercontext.KeyIsAdmin).(bool); !ok || !isAdmin {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error":   "forbidden",
			"message": "admin access required",
		})
	}
	return c.Next()
}
