package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/tradepost/tradepost/internal/moderation"
)

// BanLookup reports a user's active ban.
type BanLookup interface {
	ActiveBan(ctx context.Context, userID string) (moderation.Ban, error)
}

// BanGuard rejects requests from banned users with 403 and the ban details.
// Routes a banned user must still reach are registered ahead of it. Lookup
// errors let the request through.
func BanGuard(bans BanLookup, logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		uid, _ := c.Locals("user_id").(string)
		if uid == "" {
			return c.Next()
		}
		ban, err := bans.ActiveBan(c.UserContext(), uid)
		switch {
		case errors.Is(err, moderation.ErrNoActiveBan):
			return c.Next()
		case err != nil:
			logger.Warn("ban guard lookup failed", slog.String("user_id", uid), slog.Any("error", err))
			return c.Next()
		}
		return c.Status(http.StatusForbidden).JSON(fiber.Map{
			"error": "account is banned",
			"ban":   ban,
		})
	}
}
