package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/tradepost/tradepost/internal/middleware"
	"github.com/tradepost/tradepost/internal/orders"
	"github.com/tradepost/tradepost/internal/rbac"
)

// RegisterOrderRoutes wires the custom request lifecycle.
func RegisterOrderRoutes(r fiber.Router, h *orders.Handler) {
	group := r.Group("/custom-requests")
	group.Get("/", h.List)
	group.Post("/", middleware.RequireAction(rbac.ActionRequestCustom), h.Create)
	group.Get("/:requestId", h.Get)
	group.Post("/:requestId/quote", middleware.RequireAction(rbac.ActionQuoteCustom), h.Quote)
	group.Post("/:requestId/accept", h.Accept)
	group.Post("/:requestId/pay", h.Pay)
	group.Post("/:requestId/deliver", h.Deliver)
	group.Post("/:requestId/complete", h.Complete)
	group.Post("/:requestId/decline", h.Decline)
	group.Post("/:requestId/cancel", h.Cancel)
}
