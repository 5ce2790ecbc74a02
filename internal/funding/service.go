package funding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tradepost/tradepost/internal/ledger"
	"github.com/tradepost/tradepost/internal/notification"
	"github.com/tradepost/tradepost/internal/wallet"
)

var (
	ErrInvalidCard = errors.New("card number must be 12-19 digits")
	ErrDeclined    = errors.New("card authorization declined")
)

// Service coordinates card top-ups and withdrawals using the ledger and acquirer connector.
type Service struct {
	ledger   ledger.Ledger
	wallets  *wallet.Service
	acquirer Acquirer
	notifier notification.Notifier
}

// NewService prepares a funding service ensuring the card suspense account exists.
func NewService(ctx context.Context, ledgerBackend ledger.Ledger, wallets *wallet.Service, acquirer Acquirer, notifier notification.Notifier) (*Service, error) {
	if wallets == nil {
		return nil, fmt.Errorf("wallet service is required")
	}
	if acquirer == nil {
		acquirer = StaticAcquirer{}
	}
	if err := ledgerBackend.EnsureAccount(ctx, ledger.CardSuspenseAccountCode); err != nil {
		return nil, err
	}
	return &Service{ledger: ledgerBackend, wallets: wallets, acquirer: acquirer, notifier: notifier}, nil
}

// Input describes a card movement for the wallet owned by OwnerID.
type Input struct {
	OwnerID    string
	Amount     int64
	ClientTxID string
	CardNumber string
	Expiry     string
	CVV        string
}

// Result represents the domain outcome of a card operation.
type Result struct {
	TransactionID     string
	Status            string
	WalletBalance     int64
	AcquirerReference string
	CompletedAt       time.Time
}

// TopUp authorizes and records a card top-up into the owner's wallet.
func (s *Service) TopUp(ctx context.Context, input Input) (Result, error) {
	return s.move(ctx, DirectionIn, input)
}

// Withdraw authorizes and records a payout to the provided card. Frozen wallets cannot withdraw.
func (s *Service) Withdraw(ctx context.Context, input Input) (Result, error) {
	return s.move(ctx, DirectionOut, input)
}

func (s *Service) move(ctx context.Context, direction string, input Input) (Result, error) {
	if err := validateCardNumber(input.CardNumber); err != nil {
		return Result{}, err
	}
	if input.Amount <= 0 {
		return Result{}, ledger.ErrInvalidAmount
	}
	if input.ClientTxID == "" {
		input.ClientTxID = uuid.NewString()
	}

	w, err := s.wallets.GetByOwner(ctx, input.OwnerID)
	if err != nil {
		return Result{}, err
	}
	if direction == DirectionOut && w.Frozen() {
		return Result{}, wallet.ErrWalletFrozen
	}

	decision, err := s.acquirer.Authorize(ctx, Authorization{
		Direction:  direction,
		CardNumber: input.CardNumber,
		Expiry:     input.Expiry,
		CVV:        input.CVV,
		Amount:     input.Amount,
	})
	if err != nil {
		return Result{}, err
	}
	if decision.Status != decisionApproved {
		return Result{}, ErrDeclined
	}

	var posted ledger.FundingResult
	if direction == DirectionIn {
		posted, err = s.ledger.CardIn(ctx, w.AccountCode, input.ClientTxID, input.Amount)
	} else {
		posted, err = s.ledger.CardOut(ctx, w.AccountCode, input.ClientTxID, input.Amount)
	}
	if err != nil && !errors.Is(err, ledger.ErrDuplicateTransaction) {
		return Result{}, err
	}

	result := Result{
		TransactionID:     posted.TransactionID,
		Status:            posted.Status,
		WalletBalance:     posted.WalletBalance,
		AcquirerReference: decision.Reference,
		CompletedAt:       time.Now().UTC(),
	}
	if err == nil && s.notifier != nil {
		_ = s.notifier.Send(ctx, notification.Message{
			Kind:        notification.KindFunding,
			Destination: input.OwnerID,
			Ref:         posted.TransactionID,
			Body:        fmt.Sprintf("Card %s of %d is %s", direction, input.Amount, posted.Status),
		})
	}
	return result, err
}

func validateCardNumber(card string) error {
	digits := strings.ReplaceAll(card, " ", "")
	if len(digits) < 12 || len(digits) > 19 {
		return ErrInvalidCard
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return ErrInvalidCard
		}
	}
	return nil
}
