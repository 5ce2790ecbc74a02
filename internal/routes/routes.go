package routes

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/tradepost/tradepost/internal/analytics"
	"github.com/tradepost/tradepost/internal/auth"
	"github.com/tradepost/tradepost/internal/funding"
	"github.com/tradepost/tradepost/internal/identity"
	"github.com/tradepost/tradepost/internal/messaging"
	"github.com/tradepost/tradepost/internal/middleware"
	"github.com/tradepost/tradepost/internal/moderation"
	"github.com/tradepost/tradepost/internal/notification"
	"github.com/tradepost/tradepost/internal/orders"
	"github.com/tradepost/tradepost/internal/payments"
	"github.com/tradepost/tradepost/internal/wallet"
)

// Handlers aggregates the HTTP handlers of every domain.
type Handlers struct {
	Auth          *auth.Handler
	Identity      *identity.Handler
	Wallet        *wallet.Handler
	Payments      *payments.Handler
	Funding       *funding.Handler
	Moderation    *moderation.Handler
	Messaging     *messaging.Handler
	Notifications *notification.Handler
	Orders        *orders.Handler
	Analytics     *analytics.Handler
	Me            fiber.Handler
	WebSocket     fiber.Handler
}

// Guards are the per-route middlewares.
type Guards struct {
	JWT       fiber.Handler
	BanGuard  fiber.Handler
	LoginRate fiber.Handler
}

// Setup registers every route under /api/v1. Registration order matters:
// routes reachable while banned come before the ban guard.
func Setup(app *fiber.App, h Handlers, g Guards, health HealthDeps) {
	RegisterHealthRoutes(app, health)

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": middleware.RequestIDFrom(c),
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})
	if g.LoginRate != nil {
		RegisterAuthRoutes(api, h.Auth, g.LoginRate)
	} else {
		RegisterAuthRoutes(api, h.Auth)
	}

	authed := api.Group("", g.JWT)
	RegisterAccountRoutes(authed, h)

	guarded := authed.Group("", g.BanGuard)
	RegisterWalletRoutes(guarded, h.Wallet, h.Funding, h.Payments)
	RegisterMessagingRoutes(guarded, h.Messaging)
	RegisterOrderRoutes(guarded, h.Orders)
	RegisterIdentityRoutes(guarded, h.Identity)
	guarded.Get("/notifications", h.Notifications.List)
	guarded.Post("/notifications/read", h.Notifications.MarkRead)
	if h.WebSocket != nil {
		guarded.Get("/ws", h.WebSocket)
	}

	RegisterAdminRoutes(guarded, h)
}
