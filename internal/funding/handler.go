package funding

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/tradepost/tradepost/internal/ledger"
	"github.com/tradepost/tradepost/internal/payments"
)

// Handler exposes HTTP endpoints for card funding flows.
type Handler struct {
	service *Service
}

// NewHandler constructs a funding handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// TopUp handles POST /wallet/topup.
func (h *Handler) TopUp(c *fiber.Ctx) error {
	var req TopUpRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	uid, _ := c.Locals("user_id").(string)
	result, err := h.service.TopUp(c.UserContext(), Input{
		OwnerID:    uid,
		Amount:     req.Amount,
		ClientTxID: req.ClientTxID,
		CardNumber: req.CardNumber,
		Expiry:     req.Expiry,
		CVV:        req.CVV,
	})
	return respond(c, result, err)
}

// Withdraw handles POST /wallet/withdraw.
func (h *Handler) Withdraw(c *fiber.Ctx) error {
	var req WithdrawRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	uid, _ := c.Locals("user_id").(string)
	result, err := h.service.Withdraw(c.UserContext(), Input{
		OwnerID:    uid,
		Amount:     req.Amount,
		ClientTxID: req.ClientTxID,
		CardNumber: req.CardNumber,
	})
	return respond(c, result, err)
}

func respond(c *fiber.Ctx, result Result, err error) error {
	switch {
	case err == nil:
		return c.Status(http.StatusCreated).JSON(toResponse(result))
	case errors.Is(err, ledger.ErrDuplicateTransaction):
		return c.Status(http.StatusOK).JSON(toResponse(result))
	case errors.Is(err, ErrInvalidCard):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrDeclined):
		return fiber.NewError(http.StatusPaymentRequired, err.Error())
	default:
		return payments.MapError(err)
	}
}

func toResponse(result Result) FundingResponse {
	return FundingResponse{
		TransactionID:     result.TransactionID,
		Status:            result.Status,
		WalletBalance:     result.WalletBalance,
		AcquirerReference: result.AcquirerReference,
	}
}
