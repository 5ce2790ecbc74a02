package notification

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
)

// Handler exposes the caller's notification inbox.
type Handler struct {
	inbox Inbox
}

// NewHandler builds the inbox handler.
func NewHandler(inbox Inbox) *Handler {
	return &Handler{inbox: inbox}
}

// List handles GET /notifications.
func (h *Handler) List(c *fiber.Ctx) error {
	uid, _ := c.Locals("user_id").(string)
	items, err := h.inbox.List(c.UserContext(), uid, c.QueryInt("limit", 20))
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	unread, err := h.inbox.Unread(c.UserContext(), uid)
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(fiber.Map{"items": items, "unread": unread})
}

// MarkRead handles POST /notifications/read.
func (h *Handler) MarkRead(c *fiber.Ctx) error {
	uid, _ := c.Locals("user_id").(string)
	if err := h.inbox.MarkRead(c.UserContext(), uid); err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(fiber.Map{"status": "read"})
}
