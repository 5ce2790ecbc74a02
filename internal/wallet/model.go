package wallet

import (
	"errors"
	"time"
)

// Wallet statuses.
const (
	StatusActive = "active"
	StatusFrozen = "frozen"
)

var (
	ErrWalletNotFound = errors.New("wallet not found")
	ErrWalletExists   = errors.New("wallet already provisioned")
	ErrWalletFrozen   = errors.New("wallet is frozen")
	ErrInvalidStatus  = errors.New("status must be active or frozen")
)

// Wallet represents a stored value account backed by the ledger.
type Wallet struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"owner_id"`
	AccountCode string    `json:"account_code"`
	Currency    string    `json:"currency"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

// Frozen reports whether outgoing movements are blocked.
func (w Wallet) Frozen() bool {
	return w.Status == StatusFrozen
}

// Balance encapsulates available funds for a wallet.
type Balance struct {
	WalletID string    `json:"wallet_id"`
	Amount   int64     `json:"balance"`
	AsOf     time.Time `json:"as_of"`
}
