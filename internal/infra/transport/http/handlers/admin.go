package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"hddbrowser/internal/app"
	"hddbrowser/internal/domain"
)

type AdminHandler struct {
	admin *app.AdminService
}

func NewAdminHandler(admin *app.AdminService) *AdminHandler {
	return &AdminHandler{admin: admin}
}

// GET /api/admin/stats
func (h *AdminHandler) Stats(c *fiber.Ctx) error {
	stats, err := h.admin.Stats(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}
	c.Set(fiber.HeaderCacheControl, "no-store")
	return c.JSON(stats)
}

// POST /api/admin/features {"uploads":true,"delete":false,...}
func (h *AdminHandler) SetFeatures(c *fiber.Ctx) error {
	var req domain.FeaturesRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	features := h.admin.SetFeatures(req)
	c.Set(fiber.HeaderCacheControl, "no-store")
	return c.JSON(fiber.Map{
		"status":   "ok",
		"features": features,
	})
}

// POST /api/admin/reindex (409 while a rebuild is running)
func (h *AdminHandler) Reindex(c *fiber.Ctx) error {
	if err := h.admin.StartReindex(time.Hour); err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"started": true,
		"message": "reindexing started in background",
	})
}
