package ledger

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrInsufficientFunds occurs when the source account lacks available balance
	// to cover a requested posting.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrDuplicateTransaction indicates the provided client transaction identifier
	// already exists and therefore the operation should be treated as idempotent.
	ErrDuplicateTransaction = errors.New("duplicate transaction")

	ErrInvalidAmount   = errors.New("amount must be positive")
	ErrAccountNotFound = errors.New("account not found")
)

const (
	// FundingStatusPendingSettlement indicates a card transaction awaiting settlement confirmation.
	FundingStatusPendingSettlement = "pending_settlement"
	// FundingStatusCompleted represents a settled transaction.
	FundingStatusCompleted = "completed"
	// CardSuspenseAccountCode is the ledger account used to park card transactions pre-settlement.
	CardSuspenseAccountCode = "suspense:card"
	// EscrowAccountCode holds buyer funds for paid custom requests until delivery.
	EscrowAccountCode = "escrow:orders"
)

// Posting kinds. Idempotency keys are scoped per kind.
const (
	KindP2P           = "p2p"
	KindEscrowHold    = "escrow_hold"
	KindEscrowRelease = "escrow_release"
	KindEscrowRefund  = "escrow_refund"
	KindCardIn        = "card_in"
	KindCardOut       = "card_out"
)

// TransactionResult captures the outcome of a ledger posting.
type TransactionResult struct {
	TransactionID string
	FromBalance   int64
	ToBalance     int64
}

// FundingResult captures the outcome of a card funding transaction.
type FundingResult struct {
	TransactionID string
	WalletBalance int64
	Status        string
}

// Entry is one leg of a posting as seen from a single account.
type Entry struct {
	TransactionID string    `json:"transaction_id"`
	Kind          string    `json:"kind"`
	ClientTxID    string    `json:"client_tx_id"`
	Status        string    `json:"status"`
	Amount        int64     `json:"amount"`
	CreatedAt     time.Time `json:"created_at"`
}

// Ledger defines the contract implemented by ledger backends.
type Ledger interface {
	EnsureAccount(ctx context.Context, code string) error
	Balance(ctx context.Context, code string) (int64, error)
	Transfer(ctx context.Context, fromCode, toCode, kind, clientTxID string, amount int64) (TransactionResult, error)
	CardIn(ctx context.Context, walletCode, clientTxID string, amount int64) (FundingResult, error)
	CardOut(ctx context.Context, walletCode, clientTxID string, amount int64) (FundingResult, error)
	// Entries lists the newest entries of an account, newest first.
	Entries(ctx context.Context, code string, limit int) ([]Entry, error)
}

// SystemAccounts are created at startup.
var SystemAccounts = []string{CardSuspenseAccountCode, EscrowAccountCode}

// EnsureSystemAccounts provisions the suspense and escrow accounts.
func EnsureSystemAccounts(ctx context.Context, l Ledger) error {
	for _, code := range SystemAccounts {
		if err := l.EnsureAccount(ctx, code); err != nil {
			return err
		}
	}
	return nil
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 200 {
		return 50
	}
	return limit
}
