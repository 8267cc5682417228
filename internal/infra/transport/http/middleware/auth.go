package middleware

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"hddbrowser/internal/config"
	"hddbrowser/internal/domain"
	"hddbrowser/internal/logging"
)

const (
	principalKey = "principal"
	// TokenCookie carries the session token for browser clients that cannot set
	// headers (img and video tags).
	TokenCookie = "hdd_token"
)

// IssueToken signs a session token for username.
func IssueToken(secret, username string, ttl time.Duration) (string, time.Time, error) {
	now := time.Now()
	exp := now.Add(ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"username": username,
		"exp":      exp.Unix(),
		"iat":      now.Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	return signed, exp, err
}

func tokenFrom(c *fiber.Ctx) string {
	// Format: "Bearer <token>"
	if h := c.Get(fiber.HeaderAuthorization); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	if v := c.Cookies(TokenCookie); v != "" {
		return v
	}
	return c.Query("token")
}

func parseUsername(secret, raw string) (string, error) {
	token, err := jwt.Parse(raw, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return "", err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("unexpected claims")
	}
	name, _ := claims["username"].(string)
	if name == "" {
		return "", errors.New("token has no username")
	}
	return name, nil
}

// AuthMiddleware verifies the session token and stores the caller's principal.
// The user is looked up in the current config snapshot, so removing a user or
// changing roles takes effect on reload.
func AuthMiddleware(store *config.Store) fiber.Handler {
	return func(c *fiber.Ctx) error {
		raw := tokenFrom(c)
		if raw == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing authorization token",
				"code":  "unauthorized",
			})
		}

		cfg := store.Load()
		username, err := parseUsername(cfg.JwtSecret, raw)
		if err != nil {
			logging.WithContext(c.UserContext()).Debug("token rejected", zap.Error(err))
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid or expired token",
				"code":  "unauthorized",
			})
		}
		user, ok := cfg.FindUser(username)
		if !ok {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid or expired token",
				"code":  "unauthorized",
			})
		}

		c.Locals(principalKey, user.Principal())
		c.SetUserContext(logging.IntoContext(c.UserContext(),
			logging.WithContext(c.UserContext()).With(zap.String("user", username))))
		return c.Next()
	}
}

// Principal returns the authenticated caller. Outside AuthMiddleware it is the
// zero principal, which can do nothing.
func Principal(c *fiber.Ctx) domain.Principal {
	p, _ := c.Locals(principalKey).(domain.Principal)
	return p
}

// RequireCap rejects callers lacking want.
func RequireCap(want domain.Capability) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !Principal(c).Can(want) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": domain.PublicMessage(domain.ErrNotAllowed),
				"code":  domain.Code(domain.ErrNotAllowed),
			})
		}
		return c.Next()
	}
}
