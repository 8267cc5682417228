package handlers

import (
	"github.com/gofiber/fiber/v2"

	"hddbrowser/internal/app"
)

// GET /healthz
func Health(service *app.FilesystemService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Set(fiber.HeaderCacheControl, "no-store")
		for _, root := range service.Registry().Global() {
			if root.Available {
				return c.JSON(fiber.Map{"status": "ok"})
			}
		}
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "unhealthy"})
	}
}
