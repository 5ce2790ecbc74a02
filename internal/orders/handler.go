package orders

import (
	"context"
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/tradepost/tradepost/internal/identity"
	"github.com/tradepost/tradepost/internal/ledger"
	"github.com/tradepost/tradepost/internal/rbac"
	"github.com/tradepost/tradepost/internal/wallet"
)

// Handler exposes custom request endpoints.
type Handler struct {
	svc *Service
}

// NewHandler builds the custom request HTTP handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func caller(c *fiber.Ctx) (string, rbac.Role) {
	userID, _ := c.Locals("user_id").(string)
	role, _ := c.Locals("role").(string)
	return userID, rbac.Role(role)
}

type createRequest struct {
	Seller      string `json:"seller"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Create handles POST /custom-requests.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req createRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	userID, _ := caller(c)
	out, err := h.svc.Create(c.UserContext(), CreateInput{
		BuyerID:     userID,
		Seller:      req.Seller,
		Title:       req.Title,
		Description: req.Description,
	})
	if err != nil {
		return MapError(err)
	}
	return c.Status(http.StatusCreated).JSON(out)
}

// List handles GET /custom-requests.
func (h *Handler) List(c *fiber.Ctx) error {
	userID, role := caller(c)
	list, err := h.svc.List(c.UserContext(), userID, role)
	if err != nil {
		return MapError(err)
	}
	return c.JSON(fiber.Map{"requests": list})
}

// Get handles GET /custom-requests/:requestId.
func (h *Handler) Get(c *fiber.Ctx) error {
	userID, role := caller(c)
	out, err := h.svc.Get(c.UserContext(), c.Params("requestId"), userID, role)
	if err != nil {
		return MapError(err)
	}
	return c.JSON(out)
}

type quoteRequest struct {
	Price int64 `json:"price"`
}

// Quote handles POST /custom-requests/:requestId/quote.
func (h *Handler) Quote(c *fiber.Ctx) error {
	var req quoteRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	userID, _ := caller(c)
	out, err := h.svc.Quote(c.UserContext(), userID, c.Params("requestId"), req.Price)
	if err != nil {
		return MapError(err)
	}
	return c.JSON(out)
}

func (h *Handler) act(c *fiber.Ctx, fn func(ctx context.Context, userID, id string) (CustomRequest, error)) error {
	userID, _ := caller(c)
	out, err := fn(c.UserContext(), userID, c.Params("requestId"))
	if err != nil {
		return MapError(err)
	}
	return c.JSON(out)
}

// Accept handles POST /custom-requests/:requestId/accept.
func (h *Handler) Accept(c *fiber.Ctx) error { return h.act(c, h.svc.Accept) }

// Pay handles POST /custom-requests/:requestId/pay.
func (h *Handler) Pay(c *fiber.Ctx) error { return h.act(c, h.svc.Pay) }

// Deliver handles POST /custom-requests/:requestId/deliver.
func (h *Handler) Deliver(c *fiber.Ctx) error { return h.act(c, h.svc.Deliver) }

// Complete handles POST /custom-requests/:requestId/complete.
func (h *Handler) Complete(c *fiber.Ctx) error { return h.act(c, h.svc.Complete) }

// Decline handles POST /custom-requests/:requestId/decline.
func (h *Handler) Decline(c *fiber.Ctx) error { return h.act(c, h.svc.Decline) }

// Cancel handles POST /custom-requests/:requestId/cancel.
func (h *Handler) Cancel(c *fiber.Ctx) error { return h.act(c, h.svc.Cancel) }

// MapError translates order errors into HTTP errors.
func MapError(err error) error {
	switch {
	case errors.Is(err, ErrRequestNotFound), errors.Is(err, ErrSellerNotFound),
		errors.Is(err, identity.ErrUserNotFound), errors.Is(err, wallet.ErrWalletNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrNotParticipant), errors.Is(err, ErrWrongParty), errors.Is(err, ErrBanned):
		return fiber.NewError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrInvalidTransition):
		return fiber.NewError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrNotSeller), errors.Is(err, ErrSellerUnverified), errors.Is(err, ErrSelfRequest),
		errors.Is(err, ErrInvalidPrice), errors.Is(err, ErrInvalidRequest):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ledger.ErrInsufficientFunds), errors.Is(err, wallet.ErrWalletFrozen):
		return fiber.NewError(http.StatusPaymentRequired, err.Error())
	default:
		return err
	}
}
