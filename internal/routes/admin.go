package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/tradepost/tradepost/internal/middleware"
	"github.com/tradepost/tradepost/internal/rbac"
)

// RegisterAdminRoutes wires moderation, seller review, wallet management and
// analytics for admins.
func RegisterAdminRoutes(r fiber.Router, h Handlers) {
	admin := r.Group("/admin", middleware.RequireRole(rbac.RoleAdmin))

	admin.Post("/bans", h.Moderation.Issue)
	admin.Get("/bans", h.Moderation.List)
	admin.Get("/bans/stats", h.Moderation.Stats)
	admin.Get("/bans/users/:userId", h.Moderation.UserHistory)
	admin.Post("/bans/:banId/lift", h.Moderation.Lift)

	admin.Get("/appeals", h.Moderation.Appeals)
	admin.Post("/appeals/:appealId/review", h.Moderation.Review)

	admin.Get("/reports", h.Moderation.Reports)
	admin.Post("/reports/:reportId/resolve", h.Moderation.Resolve)

	admin.Post("/sellers/:userId/verification", h.Identity.ReviewVerification)

	admin.Get("/wallets/:walletId", h.Wallet.Show)
	admin.Post("/wallets/:walletId/freeze", h.Wallet.Freeze)
	admin.Post("/wallets/:walletId/unfreeze", h.Wallet.Unfreeze)

	admin.Get("/analytics", h.Analytics.Snapshot)
}
