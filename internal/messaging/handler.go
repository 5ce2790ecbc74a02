package messaging

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/tradepost/tradepost/internal/moderation"
)

// Handler exposes conversation endpoints.
type Handler struct {
	svc *Service
}

// NewHandler builds the messaging HTTP handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func caller(c *fiber.Ctx) (userID, username string) {
	userID, _ = c.Locals("user_id").(string)
	username, _ = c.Locals("username").(string)
	return userID, username
}

// Threads handles GET /threads.
func (h *Handler) Threads(c *fiber.Ctx) error {
	_, username := caller(c)
	threads, err := h.svc.Threads(c.UserContext(), username)
	if err != nil {
		return MapError(err)
	}
	return c.JSON(fiber.Map{"threads": threads})
}

// Messages handles GET /threads/:username/messages.
func (h *Handler) Messages(c *fiber.Ctx) error {
	_, username := caller(c)
	msgs, err := h.svc.Messages(c.UserContext(), username, c.Params("username"),
		int64(c.QueryInt("after_seq", 0)), c.QueryInt("limit", defaultLimit))
	if err != nil {
		return MapError(err)
	}
	return c.JSON(fiber.Map{"thread_id": ThreadID(username, c.Params("username")), "messages": msgs})
}

type sendRequest struct {
	Body        string `json:"body"`
	ClientMsgID string `json:"client_msg_id"`
}

// Send handles POST /threads/:username/messages. A replayed client_msg_id
// answers 200 with the original message.
func (h *Handler) Send(c *fiber.Ctx) error {
	var req sendRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	userID, username := caller(c)
	msg, err := h.svc.Send(c.UserContext(), SendInput{
		SenderID:    userID,
		Sender:      username,
		Recipient:   c.Params("username"),
		Body:        req.Body,
		ClientMsgID: req.ClientMsgID,
	})
	if errors.Is(err, ErrDuplicateMessage) {
		return c.Status(http.StatusOK).JSON(fiber.Map{"message": msg, "duplicate": true})
	}
	if err != nil {
		return MapError(err)
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"message": msg, "duplicate": false})
}

type readRequest struct {
	UptoSeq int64 `json:"upto_seq"`
}

// MarkRead handles POST /threads/:username/read.
func (h *Handler) MarkRead(c *fiber.Ctx) error {
	var req readRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
	}
	_, username := caller(c)
	n, err := h.svc.MarkRead(c.UserContext(), username, c.Params("username"), req.UptoSeq)
	if err != nil {
		return MapError(err)
	}
	return c.JSON(fiber.Map{"marked": n})
}

// Unread handles GET /messages/unread.
func (h *Handler) Unread(c *fiber.Ctx) error {
	_, username := caller(c)
	sum, err := h.svc.Unread(c.UserContext(), username)
	if err != nil {
		return MapError(err)
	}
	return c.JSON(sum)
}

// Search handles GET /messages/search?q=.
func (h *Handler) Search(c *fiber.Ctx) error {
	_, username := caller(c)
	hits, err := h.svc.Search(c.UserContext(), username, c.Query("q"), c.QueryInt("limit", 20))
	if err != nil {
		return MapError(err)
	}
	return c.JSON(fiber.Map{"query": c.Query("q"), "messages": hits})
}

// Blocked handles GET /blocks.
func (h *Handler) Blocked(c *fiber.Ctx) error {
	_, username := caller(c)
	list, err := h.svc.Blocked(c.UserContext(), username)
	if err != nil {
		return MapError(err)
	}
	return c.JSON(fiber.Map{"blocked": list})
}

// Block handles POST /blocks/:username.
func (h *Handler) Block(c *fiber.Ctx) error {
	_, username := caller(c)
	if err := h.svc.Block(c.UserContext(), username, c.Params("username")); err != nil {
		return MapError(err)
	}
	return c.SendStatus(http.StatusNoContent)
}

// Unblock handles DELETE /blocks/:username.
func (h *Handler) Unblock(c *fiber.Ctx) error {
	_, username := caller(c)
	if err := h.svc.Unblock(c.UserContext(), username, c.Params("username")); err != nil {
		return MapError(err)
	}
	return c.SendStatus(http.StatusNoContent)
}

type reportRequest struct {
	Username  string                  `json:"username"`
	MessageID string                  `json:"message_id"`
	Reason    moderation.ReportReason `json:"reason"`
	Details   string                  `json:"details"`
}

// Report handles POST /reports.
func (h *Handler) Report(c *fiber.Ctx) error {
	var req reportRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	userID, username := caller(c)
	report, err := h.svc.Report(c.UserContext(), ReportInput{
		ReporterID: userID,
		Reporter:   username,
		Reported:   req.Username,
		MessageID:  req.MessageID,
		Reason:     req.Reason,
		Details:    req.Details,
	})
	if err != nil {
		return MapError(err)
	}
	return c.Status(http.StatusCreated).JSON(report)
}

// MapError translates messaging errors into HTTP errors, deferring to
// moderation for report failures.
func MapError(err error) error {
	switch {
	case errors.Is(err, ErrRecipientNotFound), errors.Is(err, ErrMessageNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrSenderBanned), errors.Is(err, ErrBlocked), errors.Is(err, ErrNotParticipant):
		return fiber.NewError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrDuplicateMessage), errors.Is(err, ErrMessagePending):
		return fiber.NewError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrSelfMessage), errors.Is(err, ErrInvalidBody),
		errors.Is(err, ErrSelfBlock), errors.Is(err, ErrEmptyQuery):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	default:
		return moderation.MapError(err)
	}
}
