package payments

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/tradepost/tradepost/internal/ledger"
	"github.com/tradepost/tradepost/internal/wallet"
)

// Handler exposes payment endpoints.
type Handler struct {
	service *Service
	wallets *wallet.Service
}

// NewHandler constructs a payment handler.
func NewHandler(service *Service, wallets *wallet.Service) *Handler {
	return &Handler{service: service, wallets: wallets}
}

type transferRequest struct {
	ToWalletID string `json:"to_wallet_id"`
	Amount     int64  `json:"amount"`
	ClientTxID string `json:"client_tx_id"`
}

// P2P moves funds from the caller's wallet to another wallet.
func (h *Handler) P2P(c *fiber.Ctx) error {
	var req transferRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	uid, _ := c.Locals("user_id").(string)
	from, err := h.wallets.GetByOwner(c.UserContext(), uid)
	if err != nil {
		return fiber.NewError(http.StatusNotFound, err.Error())
	}

	res, err := h.service.Transfer(c.UserContext(), TransferInput{
		FromWalletID:    from.ID,
		ToWalletID:      req.ToWalletID,
		Amount:          req.Amount,
		ClientTxID:      req.ClientTxID,
		RequestorUserID: uid,
	})
	switch {
	case err == nil:
		return c.Status(http.StatusCreated).JSON(res)
	case errors.Is(err, ledger.ErrDuplicateTransaction):
		return c.Status(http.StatusOK).JSON(res)
	default:
		return MapError(err)
	}
}

// MapError translates payment and ledger errors into HTTP errors.
func MapError(err error) error {
	switch {
	case errors.Is(err, ledger.ErrInsufficientFunds), errors.Is(err, ledger.ErrInvalidAmount), errors.Is(err, ErrSelfTransfer):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotOwner), errors.Is(err, wallet.ErrWalletFrozen):
		return fiber.NewError(http.StatusForbidden, err.Error())
	case errors.Is(err, wallet.ErrWalletNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	default:
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
}
