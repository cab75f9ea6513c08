package middleware

import (
	"fmt"
	"strings"
	"time"

	"mailsync/pkg/logger"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

// OperatorAuth guards the operator-facing /sync/trigger and /sync/status
// endpoints with a plain HS256 bearer JWT, validated against secret. The
// webhook path is authenticated separately (HMAC body signature), never by
// this middleware.
//
// When secret is empty the guard is a no-op — logged once at boot by the
// caller, not here, so this function stays easy to unit test in isolation.
func OperatorAuth(secret string) fiber.Handler {
	if secret == "" {
		return func(c *fiber.Ctx) error { return c.Next() }
	}

	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing bearer token"})
		}

		token, err := jwt.Parse(parts[1], func(t *jwt.Token) (interface{}, error) {
			if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("unsupported signing method: %v", t.Header["alg"])
			}
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			logger.Warn("[auth] operator token rejected: %v", err)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid token"})
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if ok {
			if exp, ok := claims["exp"].(float64); ok && time.Now().Unix() > int64(exp) {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "token expired"})
			}
		}

		return c.Next()
	}
}
