package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type posting struct {
	id     string
	status string
}

type inMemoryLedger struct {
	mu       sync.RWMutex
	balances map[string]int64
	entries  map[string][]Entry
	postings map[string]posting
	now      func() time.Time
}

// NewInMemory creates a concurrency-safe in-memory ledger for dev mode and unit tests.
func NewInMemory() Ledger {
	return &inMemoryLedger{
		balances: make(map[string]int64),
		entries:  make(map[string][]Entry),
		postings: make(map[string]posting),
		now:      time.Now,
	}
}

func (l *inMemoryLedger) EnsureAccount(_ context.Context, code string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.balances[code]; !exists {
		l.balances[code] = 0
	}
	return nil
}

func (l *inMemoryLedger) Balance(_ context.Context, code string) (int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	balance, exists := l.balances[code]
	if !exists {
		return 0, ErrAccountNotFound
	}
	return balance, nil
}

func (l *inMemoryLedger) Transfer(_ context.Context, fromCode, toCode, kind, clientTxID string, amount int64) (TransactionResult, error) {
	p, err := l.post(kind, clientTxID, FundingStatusCompleted, fromCode, toCode, amount, true)
	if p.id == "" {
		return TransactionResult{}, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return TransactionResult{TransactionID: p.id, FromBalance: l.balances[fromCode], ToBalance: l.balances[toCode]}, err
}

func (l *inMemoryLedger) CardIn(_ context.Context, walletCode, clientTxID string, amount int64) (FundingResult, error) {
	// The suspense account may go negative until settlement.
	p, err := l.post(KindCardIn, clientTxID, FundingStatusPendingSettlement, CardSuspenseAccountCode, walletCode, amount, false)
	return l.funding(p, walletCode, err)
}

func (l *inMemoryLedger) CardOut(_ context.Context, walletCode, clientTxID string, amount int64) (FundingResult, error) {
	p, err := l.post(KindCardOut, clientTxID, FundingStatusPendingSettlement, walletCode, CardSuspenseAccountCode, amount, true)
	return l.funding(p, walletCode, err)
}

func (l *inMemoryLedger) funding(p posting, walletCode string, err error) (FundingResult, error) {
	if p.id == "" {
		return FundingResult{}, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return FundingResult{TransactionID: p.id, WalletBalance: l.balances[walletCode], Status: p.status}, err
}

func (l *inMemoryLedger) Entries(_ context.Context, code string, limit int) ([]Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if _, ok := l.balances[code]; !ok {
		return nil, ErrAccountNotFound
	}
	all := l.entries[code]
	limit = clampLimit(limit)
	out := make([]Entry, 0, limit)
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

// post moves amount from one account to another. A replayed (kind, clientTxID)
// returns the original posting with ErrDuplicateTransaction.
func (l *inMemoryLedger) post(kind, clientTxID, status, fromCode, toCode string, amount int64, checkFunds bool) (posting, error) {
	if amount <= 0 {
		return posting{}, ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	key := kind + ":" + clientTxID
	if p, exists := l.postings[key]; exists {
		return p, ErrDuplicateTransaction
	}

	fromBalance, ok := l.balances[fromCode]
	if !ok {
		return posting{}, ErrAccountNotFound
	}
	if _, ok := l.balances[toCode]; !ok {
		return posting{}, ErrAccountNotFound
	}
	if checkFunds && fromBalance < amount {
		return posting{}, ErrInsufficientFunds
	}

	p := posting{id: uuid.NewString(), status: status}
	now := l.now().UTC()
	l.balances[fromCode] -= amount
	l.balances[toCode] += amount
	l.entries[fromCode] = append(l.entries[fromCode], Entry{TransactionID: p.id, Kind: kind, ClientTxID: clientTxID, Status: status, Amount: -amount, CreatedAt: now})
	l.entries[toCode] = append(l.entries[toCode], Entry{TransactionID: p.id, Kind: kind, ClientTxID: clientTxID, Status: status, Amount: amount, CreatedAt: now})
	l.postings[key] = p
	return p, nil
}
