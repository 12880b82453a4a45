package auth

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

func TestJWTMiddleware(t *testing.T) {
	app := fiber.New()
	app.Get("/private", JWTMiddleware("secret"), func(c *fiber.Ctx) error {
		id, err := RequireUser(c)
		if err != nil {
			return err
		}
		return c.SendString(id)
	})

	signer := NewSigner("secret")

	// missing token
	req := httptest.NewRequest(http.MethodGet, "/private", nil)
	resp, _ := app.Test(req)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized")
	}

	// valid token
	token, _ := signer.SignToken("user-1", time.Minute)
	req = httptest.NewRequest(http.MethodGet, "/private", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, _ = app.Test(req)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected ok")
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "user-1" {
		t.Fatalf("unexpected user: %s", body)
	}

	// wrong secret
	other, _ := NewSigner("other").SignToken("user-1", time.Minute)
	req = httptest.NewRequest(http.MethodGet, "/private", nil)
	req.Header.Set("Authorization", "Bearer "+other)
	resp, _ = app.Test(req)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized for foreign token")
	}
}

func TestQueryTokenMiddleware(t *testing.T) {
	app := fiber.New()
	app.Get("/ws", QueryTokenMiddleware("secret"), func(c *fiber.Ctx) error {
		id, err := RequireUser(c)
		if err != nil {
			return err
		}
		return c.SendString(id)
	})
	app.Get("/private", JWTMiddleware("secret"), func(c *fiber.Ctx) error { return c.SendStatus(http.StatusOK) })

	token, _ := NewSigner("secret").SignToken("user-1", time.Minute)
	resp, _ := app.Test(httptest.NewRequest(http.MethodGet, "/ws?token="+token, nil))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected ok with query token, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "user-1" {
		t.Fatalf("unexpected user: %s", body)
	}

	resp, _ = app.Test(httptest.NewRequest(http.MethodGet, "/ws?token=garbage", nil))
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized for a bad query token")
	}

	// plain routes ignore the query parameter
	resp, _ = app.Test(httptest.NewRequest(http.MethodGet, "/private?token="+token, nil))
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized, got %d", resp.StatusCode)
	}
}

func TestJWTMiddlewareParseFailure(t *testing.T) {
	orig := parseMiddlewareClaimsFn
	parseMiddlewareClaimsFn = func(string, jwt.Claims, jwt.Keyfunc, ...jwt.ParserOption) (*jwt.Token, error) {
		return nil, errors.New("boom")
	}
	defer func() { parseMiddlewareClaimsFn = orig }()

	app := fiber.New()
	app.Get("/private", JWTMiddleware("secret"), func(c *fiber.Ctx) error { return c.SendStatus(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/private", nil)
	req.Header.Set("Authorization", "Bearer abc")
	resp, _ := app.Test(req)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized")
	}
}

func TestUserIDWithoutMiddleware(t *testing.T) {
	app := fiber.New()
	app.Get("/open", func(c *fiber.Ctx) error {
		if _, err := RequireUser(c); err != nil {
			return err
		}
		return c.SendStatus(http.StatusOK)
	})
	resp, _ := app.Test(httptest.NewRequest(http.MethodGet, "/open", nil))
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized, got %d", resp.StatusCode)
	}
}

func TestBearerFromHeader(t *testing.T) {
	if bearerFromHeader("Bearer abc") != "abc" || bearerFromHeader("bearer abc") != "abc" {
		t.Fatalf("expected token")
	}
	if bearerFromHeader("Basic abc") != "" || bearerFromHeader("abc") != "" {
		t.Fatalf("expected empty")
	}
}
