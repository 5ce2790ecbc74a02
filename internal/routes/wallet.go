package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/tradepost/tradepost/internal/funding"
	"github.com/tradepost/tradepost/internal/payments"
	"github.com/tradepost/tradepost/internal/wallet"
)

// RegisterWalletRoutes wires the caller's wallet, card funding and P2P transfers.
func RegisterWalletRoutes(r fiber.Router, w *wallet.Handler, f *funding.Handler, p *payments.Handler) {
	r.Get("/wallet", w.Mine)
	r.Get("/wallet/history", w.History)
	r.Post("/wallet/topup", f.TopUp)
	r.Post("/wallet/withdraw", f.Withdraw)
	r.Post("/payments/p2p", p.P2P)
}
