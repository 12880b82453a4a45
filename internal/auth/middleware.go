package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

const userIDKey = "user_id"

// JWTMiddleware validates bearer tokens and stores user_id in locals.
func JWTMiddleware(secret string) fiber.Handler {
	return jwtMiddleware(secret, func(c *fiber.Ctx) string {
		return bearerFromHeader(c.Get("Authorization"))
	})
}

// QueryTokenMiddleware is JWTMiddleware for websocket upgrades, where
// browsers cannot set headers: the token may come in the token query
// parameter instead.
func QueryTokenMiddleware(secret string) fiber.Handler {
	return jwtMiddleware(secret, func(c *fiber.Ctx) string {
		if token := bearerFromHeader(c.Get("Authorization")); token != "" {
			return token
		}
		return c.Query("token")
	})
}

func jwtMiddleware(secret string, tokenOf func(*fiber.Ctx) string) fiber.Handler {
	secretBytes := []byte(secret)
	return func(c *fiber.Ctx) error {
		token := tokenOf(c)
		if token == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "missing bearer token")
		}

		parsed, err := parseMiddlewareClaimsFn(token, &Claims{}, func(_ *jwt.Token) (interface{}, error) {
			return secretBytes, nil
		})
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, err.Error())
		}

		claims, ok := parsed.Claims.(*Claims)
		if !ok || !parsed.Valid || claims.UserID == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "token invalid")
		}

		c.Locals(userIDKey, claims.UserID)
		return c.Next()
	}
}

// UserID returns the caller set by JWTMiddleware, or "" when absent.
func UserID(c *fiber.Ctx) string {
	id, _ := c.Locals(userIDKey).(string)
	return id
}

// RequireUser rejects requests that reached a handler without an identity.
func RequireUser(c *fiber.Ctx) (string, error) {
	id := UserID(c)
	if id == "" {
		return "", fiber.NewError(fiber.StatusUnauthorized, "missing user")
	}
	return id, nil
}

var parseMiddlewareClaimsFn = jwt.ParseWithClaims

func bearerFromHeader(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}
