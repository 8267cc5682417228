package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"hddbrowser/internal/domain"
	"hddbrowser/internal/logging"
)

var statusByCode = map[string]int{
	"not_found":             fiber.StatusNotFound,
	"not_allowed":           fiber.StatusForbidden,
	"feature_disabled":      fiber.StatusForbidden,
	"not_a_directory":       fiber.StatusBadRequest,
	"is_a_directory":        fiber.StatusBadRequest,
	"invalid_request":       fiber.StatusBadRequest,
	"directory_not_empty":   fiber.StatusConflict,
	"already_exists":        fiber.StatusConflict,
	"busy":                  fiber.StatusConflict,
	"unsupported_media":     fiber.StatusUnsupportedMediaType,
	"range_not_satisfiable": fiber.StatusRequestedRangeNotSatisfiable,
	"decode_failed":         fiber.StatusUnprocessableEntity,
	"tool_unavailable":      fiber.StatusServiceUnavailable,
	"thumbnail_unavailable": fiber.StatusServiceUnavailable,
}

func statusFor(code string) int {
	if s, ok := statusByCode[code]; ok {
		return s
	}
	return fiber.StatusInternalServerError
}

// respondError writes the public {"error","code"} body for err. Internal details
// stay in the log.
func respondError(c *fiber.Ctx, err error) error {
	code := domain.Code(err)
	status := statusFor(code)

	log := logging.WithContext(c.UserContext())
	if status >= fiber.StatusInternalServerError {
		log.Error("request error", zap.String("code", code), zap.Error(err))
	} else {
		log.Debug("request rejected", zap.String("code", code), zap.Error(err))
	}
	return c.Status(status).JSON(fiber.Map{
		"error": domain.PublicMessage(err),
		"code":  code,
	})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error": msg,
		"code":  "invalid_request",
	})
}
