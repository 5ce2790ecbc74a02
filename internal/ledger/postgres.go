package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresLedger persists ledger entries in PostgreSQL ensuring double-entry balance.
type PostgresLedger struct {
	db *pgxpool.Pool
}

// NewPostgresLedger constructs a Postgres-backed ledger implementation.
func NewPostgresLedger(db *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{db: db}
}

// EnsureAccount guarantees an account exists for the provided code.
func (l *PostgresLedger) EnsureAccount(ctx context.Context, code string) error {
	_, err := l.db.Exec(ctx, `INSERT INTO accounts (id, code) VALUES ($1, $2)
        ON CONFLICT (code) DO NOTHING`, uuid.New(), code)
	return err
}

// Balance returns the summed balance for the specified account code.
func (l *PostgresLedger) Balance(ctx context.Context, code string) (int64, error) {
	var (
		accountID uuid.UUID
		balance   int64
	)
	err := l.db.QueryRow(ctx, `
        SELECT a.id, COALESCE(SUM(e.amount), 0)
        FROM accounts a
        LEFT JOIN entries e ON e.account_id = a.id
        WHERE a.code = $1
        GROUP BY a.id`, code).Scan(&accountID, &balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", ErrAccountNotFound, code)
	}
	return balance, err
}

// Transfer records a balanced posting between two accounts.
func (l *PostgresLedger) Transfer(ctx context.Context, fromCode, toCode, kind, clientTxID string, amount int64) (TransactionResult, error) {
	res, err := l.post(ctx, postingSpec{
		kind: kind, clientTxID: clientTxID, status: FundingStatusCompleted,
		from: fromCode, to: toCode, amount: amount, checkFunds: true,
	})
	if res.txID == "" {
		return TransactionResult{}, err
	}
	return TransactionResult{TransactionID: res.txID, FromBalance: res.fromBalance, ToBalance: res.toBalance}, err
}

// CardIn records a card funding authorization and holds it in suspense until settlement.
func (l *PostgresLedger) CardIn(ctx context.Context, walletCode, clientTxID string, amount int64) (FundingResult, error) {
	res, err := l.post(ctx, postingSpec{
		kind: KindCardIn, clientTxID: clientTxID, status: FundingStatusPendingSettlement,
		from: CardSuspenseAccountCode, to: walletCode, amount: amount,
	})
	if res.txID == "" {
		return FundingResult{}, err
	}
	return FundingResult{TransactionID: res.txID, WalletBalance: res.toBalance, Status: res.status}, err
}

// CardOut debits the wallet and credits suspense until settlement.
func (l *PostgresLedger) CardOut(ctx context.Context, walletCode, clientTxID string, amount int64) (FundingResult, error) {
	res, err := l.post(ctx, postingSpec{
		kind: KindCardOut, clientTxID: clientTxID, status: FundingStatusPendingSettlement,
		from: walletCode, to: CardSuspenseAccountCode, amount: amount, checkFunds: true,
	})
	if res.txID == "" {
		return FundingResult{}, err
	}
	return FundingResult{TransactionID: res.txID, WalletBalance: res.fromBalance, Status: res.status}, err
}

// Entries lists the newest entries for an account.
func (l *PostgresLedger) Entries(ctx context.Context, code string, limit int) ([]Entry, error) {
	rows, err := l.db.Query(ctx, `
        SELECT t.id, t.kind, t.client_tx_id, t.status, e.amount, e.created_at
        FROM entries e
        INNER JOIN accounts a ON a.id = e.account_id
        INNER JOIN transactions t ON t.id = e.transaction_id
        WHERE a.code = $1
        ORDER BY e.created_at DESC
        LIMIT $2`, code, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e    Entry
			txID uuid.UUID
		)
		if err := rows.Scan(&txID, &e.Kind, &e.ClientTxID, &e.Status, &e.Amount, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.TransactionID = txID.String()
		e.CreatedAt = e.CreatedAt.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

type postingSpec struct {
	kind       string
	clientTxID string
	status     string
	from       string
	to         string
	amount     int64
	checkFunds bool
}

type postingResult struct {
	txID        string
	status      string
	fromBalance int64
	toBalance   int64
}

// post writes one transaction with two entries inside a single database
// transaction. Both accounts are locked so concurrent postings serialize.
func (l *PostgresLedger) post(ctx context.Context, spec postingSpec) (postingResult, error) {
	if spec.amount <= 0 {
		return postingResult{}, ErrInvalidAmount
	}

	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return postingResult{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	fromID, toID, err := lockAccounts(ctx, tx, spec.from, spec.to)
	if err != nil {
		return postingResult{}, err
	}

	var (
		existingID     uuid.UUID
		existingStatus string
	)
	err = tx.QueryRow(ctx, `SELECT id, status FROM transactions WHERE kind = $1 AND client_tx_id = $2`,
		spec.kind, spec.clientTxID).Scan(&existingID, &existingStatus)
	switch {
	case err == nil:
		res := postingResult{txID: existingID.String(), status: existingStatus}
		if res.fromBalance, err = balanceForAccount(ctx, tx, fromID); err != nil {
			return postingResult{}, err
		}
		if res.toBalance, err = balanceForAccount(ctx, tx, toID); err != nil {
			return postingResult{}, err
		}
		return res, ErrDuplicateTransaction
	case !errors.Is(err, pgx.ErrNoRows):
		return postingResult{}, err
	}

	fromBalance, err := balanceForAccount(ctx, tx, fromID)
	if err != nil {
		return postingResult{}, err
	}
	if spec.checkFunds && fromBalance < spec.amount {
		return postingResult{}, ErrInsufficientFunds
	}
	toBalance, err := balanceForAccount(ctx, tx, toID)
	if err != nil {
		return postingResult{}, err
	}

	txID := uuid.New()
	if _, err := tx.Exec(ctx, `INSERT INTO transactions (id, client_tx_id, kind, status) VALUES ($1, $2, $3, $4)`,
		txID, spec.clientTxID, spec.kind, spec.status); err != nil {
		return postingResult{}, err
	}
	batch := &pgx.Batch{}
	batch.Queue(`INSERT INTO entries (id, transaction_id, account_id, amount) VALUES ($1, $2, $3, $4)`, uuid.New(), txID, fromID, -spec.amount)
	batch.Queue(`INSERT INTO entries (id, transaction_id, account_id, amount) VALUES ($1, $2, $3, $4)`, uuid.New(), txID, toID, spec.amount)
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return postingResult{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return postingResult{}, err
	}

	return postingResult{
		txID:        txID.String(),
		status:      spec.status,
		fromBalance: fromBalance - spec.amount,
		toBalance:   toBalance + spec.amount,
	}, nil
}

// lockAccounts takes row locks in code order to avoid deadlocks between
// opposite-direction postings.
func lockAccounts(ctx context.Context, tx pgx.Tx, fromCode, toCode string) (uuid.UUID, uuid.UUID, error) {
	first, second := fromCode, toCode
	if second < first {
		first, second = second, first
	}
	firstID, err := accountIDForCode(ctx, tx, first)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	secondID, err := accountIDForCode(ctx, tx, second)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	if first == fromCode {
		return firstID, secondID, nil
	}
	return secondID, firstID, nil
}

func accountIDForCode(ctx context.Context, tx pgx.Tx, code string) (uuid.UUID, error) {
	var id uuid.UUID
	if err := tx.QueryRow(ctx, `SELECT id FROM accounts WHERE code = $1 FOR UPDATE`, code).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, fmt.Errorf("%w: %s", ErrAccountNotFound, code)
		}
		return uuid.Nil, err
	}
	return id, nil
}

func balanceForAccount(ctx context.Context, tx pgx.Tx, accountID uuid.UUID) (int64, error) {
	var balance int64
	err := tx.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM entries WHERE account_id = $1`, accountID).Scan(&balance)
	return balance, err
}
