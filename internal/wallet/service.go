package wallet

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tradepost/tradepost/internal/ledger"
)

const defaultCurrency = "USD"

// Service exposes wallet operations backed by the ledger.
type Service struct {
	repo   Repository
	ledger ledger.Ledger
}

// NewService builds a wallet service instance.
func NewService(repo Repository, ledger ledger.Ledger) *Service {
	return &Service{repo: repo, ledger: ledger}
}

// CreateInput captures data required to create a wallet.
type CreateInput struct {
	OwnerID  string
	Currency string
}

// Create provisions a wallet and its ledger account. Each user owns one wallet.
func (s *Service) Create(ctx context.Context, input CreateInput) (Wallet, error) {
	if _, err := uuid.Parse(input.OwnerID); err != nil {
		return Wallet{}, fmt.Errorf("invalid owner id: %w", err)
	}
	walletID := uuid.New().String()
	accountCode := fmt.Sprintf("wallet:%s", walletID)
	if err := s.ledger.EnsureAccount(ctx, accountCode); err != nil {
		return Wallet{}, err
	}

	currency := input.Currency
	if currency == "" {
		currency = defaultCurrency
	}
	wallet := Wallet{
		ID:          walletID,
		OwnerID:     input.OwnerID,
		AccountCode: accountCode,
		Currency:    currency,
		Status:      StatusActive,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.repo.Create(ctx, wallet); err != nil {
		return Wallet{}, err
	}
	return wallet, nil
}

// Get retrieves wallet metadata.
func (s *Service) Get(ctx context.Context, id string) (Wallet, error) {
	return s.repo.Get(ctx, id)
}

// GetByOwner retrieves the wallet of a user.
func (s *Service) GetByOwner(ctx context.Context, ownerID string) (Wallet, error) {
	return s.repo.GetByOwner(ctx, ownerID)
}

// Balance returns the ledger balance for the wallet.
func (s *Service) Balance(ctx context.Context, id string) (Balance, error) {
	wallet, err := s.repo.Get(ctx, id)
	if err != nil {
		return Balance{}, err
	}
	amount, err := s.ledger.Balance(ctx, wallet.AccountCode)
	if err != nil {
		return Balance{}, err
	}
	return Balance{WalletID: wallet.ID, Amount: amount, AsOf: time.Now().UTC()}, nil
}

// History lists the newest ledger entries of the wallet.
func (s *Service) History(ctx context.Context, id string, limit int) ([]ledger.Entry, error) {
	wallet, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.ledger.Entries(ctx, wallet.AccountCode, limit)
}

// SetStatus freezes or unfreezes a wallet.
func (s *Service) SetStatus(ctx context.Context, id, status string) (Wallet, error) {
	if status != StatusActive && status != StatusFrozen {
		return Wallet{}, ErrInvalidStatus
	}
	wallet, err := s.repo.Get(ctx, id)
	if err != nil {
		return Wallet{}, err
	}
	if wallet.Status == status {
		return wallet, nil
	}
	if err := s.repo.UpdateStatus(ctx, id, status); err != nil {
		return Wallet{}, err
	}
	wallet.Status = status
	return wallet, nil
}
