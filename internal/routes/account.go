package routes

import (
	"context"
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/tradepost/tradepost/internal/identity"
	"github.com/tradepost/tradepost/internal/moderation"
	"github.com/tradepost/tradepost/internal/wallet"
)

// RegisterAccountRoutes wires the endpoints a banned user can still reach.
func RegisterAccountRoutes(r fiber.Router, h Handlers) {
	r.Get("/me", h.Me)
	r.Get("/bans/me", h.Moderation.Mine)
	r.Post("/bans/:banId/appeal", h.Moderation.Appeal)
}

// UserLookup loads the caller's account.
type UserLookup interface {
	FindByID(ctx context.Context, id string) (identity.User, error)
}

// WalletLookup finds the caller's wallet.
type WalletLookup interface {
	GetByOwner(ctx context.Context, ownerID string) (wallet.Wallet, error)
}

// BanLookup reports the caller's active ban.
type BanLookup interface {
	ActiveBan(ctx context.Context, userID string) (moderation.Ban, error)
}

// MeHandler returns the caller's profile with their wallet id and active ban.
func MeHandler(users UserLookup, wallets WalletLookup, bans BanLookup) fiber.Handler {
	return func(c *fiber.Ctx) error {
		uid, _ := c.Locals("user_id").(string)
		if uid == "" {
			return fiber.NewError(http.StatusUnauthorized, "unauthorized")
		}
		user, err := users.FindByID(c.UserContext(), uid)
		if err != nil {
			return fiber.NewError(http.StatusNotFound, "user not found")
		}

		out := fiber.Map{"user": identity.ToProfile(user)}
		if w, err := wallets.GetByOwner(c.UserContext(), uid); err == nil {
			out["wallet_id"] = w.ID
		}
		ban, err := bans.ActiveBan(c.UserContext(), uid)
		switch {
		case err == nil:
			out["ban"] = ban
		case !errors.Is(err, moderation.ErrNoActiveBan):
			return fiber.NewError(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(out)
	}
}
