package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"hddbrowser/internal/config"
	"hddbrowser/internal/infra/transport/http/middleware"
	"hddbrowser/internal/logging"
	"hddbrowser/internal/metrics"
)

type AuthHandler struct {
	store *config.Store
}

func NewAuthHandler(store *config.Store) *AuthHandler {
	return &AuthHandler{store: store}
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Success   bool     `json:"success"`
	Token     string   `json:"token"`
	ExpiresAt int64    `json:"expires_at"`
	Roles     []string `json:"roles"`
	Message   string   `json:"message"`
}

// POST /api/login
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	cfg := h.store.Load()
	user, ok := cfg.FindUser(req.Username)
	if !ok || !user.CheckPassword(req.Password) {
		metrics.RecordAuthAttempt(false)
		logging.WithContext(c.UserContext()).Warn("login failed", zap.String("username", req.Username))
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "invalid username or password",
			"code":  "unauthorized",
		})
	}

	token, exp, err := middleware.IssueToken(cfg.JwtSecret, user.Username, cfg.TokenTTL)
	if err != nil {
		logging.WithContext(c.UserContext()).Error("sign token", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to generate token",
			"code":  "internal",
		})
	}
	metrics.RecordAuthAttempt(true)

	c.Cookie(&fiber.Cookie{
		Name:     middleware.TokenCookie,
		Value:    token,
		Path:     "/",
		Expires:  exp,
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
	return c.JSON(LoginResponse{
		Success:   true,
		Token:     token,
		ExpiresAt: exp.Unix(),
		Roles:     user.Roles,
		Message:   "login successful",
	})
}

// POST /api/logout
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	c.Cookie(&fiber.Cookie{
		Name:     middleware.TokenCookie,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
	return c.JSON(fiber.Map{"success": true})
}
