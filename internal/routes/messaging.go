package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/tradepost/tradepost/internal/messaging"
	"github.com/tradepost/tradepost/internal/middleware"
	"github.com/tradepost/tradepost/internal/rbac"
)

// RegisterMessagingRoutes wires conversations, blocks and reports.
func RegisterMessagingRoutes(r fiber.Router, h *messaging.Handler) {
	canMessage := middleware.RequireAction(rbac.ActionMessage)

	r.Get("/threads", h.Threads)
	r.Get("/threads/:username/messages", h.Messages)
	r.Post("/threads/:username/messages", canMessage, h.Send)
	r.Post("/threads/:username/read", h.MarkRead)
	r.Get("/messages/unread", h.Unread)
	r.Get("/messages/search", h.Search)

	r.Get("/blocks", h.Blocked)
	r.Post("/blocks/:username", h.Block)
	r.Delete("/blocks/:username", h.Unblock)
	r.Post("/reports", h.Report)
}
