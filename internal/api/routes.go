package api

import (
	"github.com/gofiber/fiber/v2"

	"github.com/larkbridge/larkbridge-backend/internal/api/handlers"
)

// SetupRoutes configures the HTTP surface: the webhook callback plus a
// health probe.
func SetupRoutes(app *fiber.App, webhook *handlers.WebhookHandler) {
	app.Post("/webhook/lark", webhook.Handle)

	app.Get("/api/v1/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "healthy",
			"service": "larkbridge-backend",
		})
	})
}
