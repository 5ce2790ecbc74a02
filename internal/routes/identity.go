package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/tradepost/tradepost/internal/identity"
	"github.com/tradepost/tradepost/internal/middleware"
	"github.com/tradepost/tradepost/internal/rbac"
)

// RegisterIdentityRoutes wires seller self-verification.
func RegisterIdentityRoutes(r fiber.Router, h *identity.Handler) {
	r.Post("/sellers/verification", middleware.RequireAction(rbac.ActionVerifySelf), h.SubmitVerification)
}
