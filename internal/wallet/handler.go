package wallet

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
)

// Handler exposes wallet HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type walletView struct {
	Wallet
	Balance int64 `json:"balance"`
}

func (h *Handler) view(c *fiber.Ctx, w Wallet) error {
	bal, err := h.service.Balance(c.UserContext(), w.ID)
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.Status(http.StatusOK).JSON(walletView{Wallet: w, Balance: bal.Amount})
}

// Mine handles GET /wallet.
func (h *Handler) Mine(c *fiber.Ctx) error {
	uid, _ := c.Locals("user_id").(string)
	w, err := h.service.GetByOwner(c.UserContext(), uid)
	if err != nil {
		return mapError(err)
	}
	return h.view(c, w)
}

// History handles GET /wallet/history.
func (h *Handler) History(c *fiber.Ctx) error {
	uid, _ := c.Locals("user_id").(string)
	w, err := h.service.GetByOwner(c.UserContext(), uid)
	if err != nil {
		return mapError(err)
	}
	entries, err := h.service.History(c.UserContext(), w.ID, c.QueryInt("limit", 50))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(fiber.Map{"wallet_id": w.ID, "entries": entries})
}

// Show handles GET /admin/wallets/:walletId.
func (h *Handler) Show(c *fiber.Ctx) error {
	w, err := h.service.Get(c.UserContext(), c.Params("walletId"))
	if err != nil {
		return mapError(err)
	}
	return h.view(c, w)
}

// Freeze handles POST /admin/wallets/:walletId/freeze.
func (h *Handler) Freeze(c *fiber.Ctx) error {
	return h.setStatus(c, StatusFrozen)
}

// Unfreeze handles POST /admin/wallets/:walletId/unfreeze.
func (h *Handler) Unfreeze(c *fiber.Ctx) error {
	return h.setStatus(c, StatusActive)
}

func (h *Handler) setStatus(c *fiber.Ctx, status string) error {
	w, err := h.service.SetStatus(c.UserContext(), c.Params("walletId"), status)
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusOK).JSON(w)
}

func mapError(err error) error {
	switch {
	case errors.Is(err, ErrWalletNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrWalletFrozen):
		return fiber.NewError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrInvalidStatus):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	default:
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
}
