package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/tradepost/tradepost/internal/identity"
)

// TokenVerifier resolves the user behind an access token.
type TokenVerifier interface {
	VerifyAccess(ctx context.Context, accessToken string) (identity.User, error)
}

// JWTAuth validates the bearer access token and stores user_id, username and
// role in the request locals. Websocket upgrades may pass the token as
// ?token= because browsers cannot set headers on them.
func JWTAuth(verifier TokenVerifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := bearerToken(c)
		if token == "" && websocket.IsWebSocketUpgrade(c) {
			token = c.Query("token")
		}
		if token == "" {
			return fiber.NewError(http.StatusUnauthorized, "missing bearer token")
		}
		user, err := verifier.VerifyAccess(c.UserContext(), token)
		if err != nil {
			return fiber.NewError(http.StatusUnauthorized, err.Error())
		}

		c.Locals("user_id", user.ID)
		c.Locals("username", user.Username)
		c.Locals("role", string(user.Role))
		return c.Next()
	}
}

func bearerToken(c *fiber.Ctx) string {
	authz := c.Get(fiber.HeaderAuthorization)
	if len(authz) < len("Bearer ") || !strings.EqualFold(authz[:len("Bearer ")], "bearer ") {
		return ""
	}
	return strings.TrimSpace(authz[len("Bearer "):])
}
