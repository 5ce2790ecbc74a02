package analytics

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
)

// Handler exposes the admin dashboard.
type Handler struct {
	svc *Service
}

// NewHandler builds the analytics handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Snapshot handles GET /admin/analytics.
func (h *Handler) Snapshot(c *fiber.Ctx) error {
	snap, err := h.svc.Snapshot(c.UserContext())
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(snap)
}
