package middleware

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

func newTestApp(secret string) *fiber.App {
	app := fiber.New()
	app.Get("/guarded", OperatorAuth(secret), func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})
	return app
}

func signToken(secret string, exp time.Time) string {
	claims := jwt.MapClaims{"exp": exp.Unix()}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		panic(err)
	}
	return signed
}

func TestOperatorAuthNoOpWhenSecretUnconfigured(t *testing.T) {
	app := newTestApp("")
	req := httptest.NewRequest("GET", "/guarded", nil)

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Errorf("status = %d, want %d when no operator secret is configured", resp.StatusCode, fiber.StatusOK)
	}
}

func TestOperatorAuthRejectsMissingToken(t *testing.T) {
	app := newTestApp("secret")
	req := httptest.NewRequest("GET", "/guarded", nil)

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Errorf("status = %d, want %d", resp.StatusCode, fiber.StatusUnauthorized)
	}
}

func TestOperatorAuthAcceptsValidToken(t *testing.T) {
	app := newTestApp("secret")
	req := httptest.NewRequest("GET", "/guarded", nil)
	req.Header.Set("Authorization", "Bearer "+signToken("secret", time.Now().Add(time.Hour)))

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, fiber.StatusOK)
	}
}

func TestOperatorAuthRejectsWrongSecret(t *testing.T) {
	app := newTestApp("secret")
	req := httptest.NewRequest("GET", "/guarded", nil)
	req.Header.Set("Authorization", "Bearer "+signToken("wrong-secret", time.Now().Add(time.Hour)))

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Errorf("status = %d, want %d", resp.StatusCode, fiber.StatusUnauthorized)
	}
}

func TestOperatorAuthRejectsExpiredToken(t *testing.T) {
	app := newTestApp("secret")
	req := httptest.NewRequest("GET", "/guarded", nil)
	req.Header.Set("Authorization", "Bearer "+signToken("secret", time.Now().Add(-time.Hour)))

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Errorf("status = %d, want %d", resp.StatusCode, fiber.StatusUnauthorized)
	}
}
