package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/tradepost/tradepost/internal/auth"
)

// RegisterAuthRoutes wires the public account endpoints. loginGuards run
// ahead of the login handler.
func RegisterAuthRoutes(r fiber.Router, h *auth.Handler, loginGuards ...fiber.Handler) {
	group := r.Group("/auth")
	group.Post("/register", h.Register)
	group.Post("/login", append(loginGuards, h.Login)...)
	group.Post("/refresh", h.Refresh)
	group.Post("/logout", h.Logout)
}
