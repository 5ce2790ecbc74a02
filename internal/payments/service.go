package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tradepost/tradepost/internal/ledger"
	"github.com/tradepost/tradepost/internal/notification"
	"github.com/tradepost/tradepost/internal/wallet"
)

var (
	// ErrNotOwner indicates the caller does not own the source wallet.
	ErrNotOwner = errors.New("not owner of source wallet")
	// ErrSelfTransfer rejects transfers into the source wallet.
	ErrSelfTransfer = errors.New("cannot transfer to the same wallet")
)

// Service wires wallet ledger postings for P2P transfers and order escrow.
type Service struct {
	ledger        ledger.Ledger
	walletService *wallet.Service
	notifier      notification.Notifier
}

// NewService constructs a payment service.
func NewService(ledger ledger.Ledger, walletService *wallet.Service, notifier notification.Notifier) *Service {
	return &Service{ledger: ledger, walletService: walletService, notifier: notifier}
}

// TransferInput captures the data needed to move funds between wallets.
type TransferInput struct {
	FromWalletID    string
	ToWalletID      string
	Amount          int64
	ClientTxID      string
	RequestorUserID string
}

// TransferResult describes the ledger outcome of a posting.
type TransferResult struct {
	TransactionID string    `json:"transaction_id"`
	FromBalance   int64     `json:"from_balance"`
	ToBalance     int64     `json:"to_balance"`
	CompletedAt   time.Time `json:"completed_at"`
}

// Transfer posts a balanced ledger entry between two wallets. A replayed
// ClientTxID returns the original result with ledger.ErrDuplicateTransaction.
func (s *Service) Transfer(ctx context.Context, input TransferInput) (TransferResult, error) {
	if input.Amount <= 0 {
		return TransferResult{}, ledger.ErrInvalidAmount
	}
	if input.FromWalletID == input.ToWalletID {
		return TransferResult{}, ErrSelfTransfer
	}
	if input.ClientTxID == "" {
		input.ClientTxID = uuid.New().String()
	}

	fromWallet, err := s.walletService.Get(ctx, input.FromWalletID)
	if err != nil {
		return TransferResult{}, err
	}
	if input.RequestorUserID != "" && fromWallet.OwnerID != input.RequestorUserID {
		return TransferResult{}, ErrNotOwner
	}
	if fromWallet.Frozen() {
		return TransferResult{}, wallet.ErrWalletFrozen
	}
	toWallet, err := s.walletService.Get(ctx, input.ToWalletID)
	if err != nil {
		return TransferResult{}, err
	}

	res, err := s.post(ctx, fromWallet.AccountCode, toWallet.AccountCode, ledger.KindP2P, input.ClientTxID, input.Amount)
	if err != nil {
		return res, err
	}
	s.notify(ctx, notification.KindP2PTransfer, toWallet.OwnerID, res.TransactionID,
		fmt.Sprintf("You received %d from wallet %s", input.Amount, input.FromWalletID))
	return res, nil
}

// Hold moves the buyer's funds into order escrow, keyed by the request id.
func (s *Service) Hold(ctx context.Context, buyerID, requestID string, amount int64) (TransferResult, error) {
	buyerWallet, err := s.walletService.GetByOwner(ctx, buyerID)
	if err != nil {
		return TransferResult{}, err
	}
	if buyerWallet.Frozen() {
		return TransferResult{}, wallet.ErrWalletFrozen
	}
	return s.post(ctx, buyerWallet.AccountCode, ledger.EscrowAccountCode, ledger.KindEscrowHold, requestID, amount)
}

// Release pays escrowed funds out to the seller.
func (s *Service) Release(ctx context.Context, sellerID, requestID string, amount int64) (TransferResult, error) {
	sellerWallet, err := s.walletService.GetByOwner(ctx, sellerID)
	if err != nil {
		return TransferResult{}, err
	}
	res, err := s.post(ctx, ledger.EscrowAccountCode, sellerWallet.AccountCode, ledger.KindEscrowRelease, requestID, amount)
	if err == nil {
		s.notify(ctx, notification.KindCustomRequest, sellerID, requestID,
			fmt.Sprintf("Escrow released: %d credited for request %s", amount, requestID))
	}
	return res, err
}

// Refund returns escrowed funds to the buyer.
func (s *Service) Refund(ctx context.Context, buyerID, requestID string, amount int64) (TransferResult, error) {
	buyerWallet, err := s.walletService.GetByOwner(ctx, buyerID)
	if err != nil {
		return TransferResult{}, err
	}
	res, err := s.post(ctx, ledger.EscrowAccountCode, buyerWallet.AccountCode, ledger.KindEscrowRefund, requestID, amount)
	if err == nil {
		s.notify(ctx, notification.KindCustomRequest, buyerID, requestID,
			fmt.Sprintf("Escrow refunded: %d returned for request %s", amount, requestID))
	}
	return res, err
}

func (s *Service) post(ctx context.Context, from, to, kind, clientTxID string, amount int64) (TransferResult, error) {
	res, err := s.ledger.Transfer(ctx, from, to, kind, clientTxID, amount)
	if err != nil && !errors.Is(err, ledger.ErrDuplicateTransaction) {
		return TransferResult{}, err
	}
	return TransferResult{
		TransactionID: res.TransactionID,
		FromBalance:   res.FromBalance,
		ToBalance:     res.ToBalance,
		CompletedAt:   time.Now().UTC(),
	}, err
}

func (s *Service) notify(ctx context.Context, kind, userID, ref, body string) {
	if s.notifier == nil {
		return
	}
	_ = s.notifier.Send(ctx, notification.Message{Kind: kind, Destination: userID, Ref: ref, Body: body})
}
