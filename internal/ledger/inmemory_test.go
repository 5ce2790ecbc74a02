package ledger

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
)

func openAccounts(t *testing.T, l Ledger, codes ...string) {
	t.Helper()
	for _, code := range codes {
		if err := l.EnsureAccount(context.Background(), code); err != nil {
			t.Fatalf("ensure %s: %v", code, err)
		}
	}
}

func sumBalances(t *testing.T, l Ledger, codes ...string) int64 {
	t.Helper()
	var total int64
	for _, code := range codes {
		bal, err := l.Balance(context.Background(), code)
		if err != nil {
			t.Fatalf("balance %s: %v", code, err)
		}
		total += bal
	}
	return total
}

func TestTransferMovesFundsBetweenWallets(t *testing.T) {
	l := NewInMemory()
	openAccounts(t, l, "wallet:bea", "wallet:sam")
	SeedBalance(l, "wallet:bea", 7_000)

	res, err := l.Transfer(context.Background(), "wallet:bea", "wallet:sam", KindP2P, "gift-1", 2_500)
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if res.FromBalance != 4_500 || res.ToBalance != 2_500 {
		t.Fatalf("unexpected balances %+v", res)
	}
	if got := sumBalances(t, l, "wallet:bea", "wallet:sam"); got != 7_000 {
		t.Fatalf("money created or destroyed, total=%d", got)
	}
}

func TestTransferRejections(t *testing.T) {
	cases := []struct {
		name   string
		from   string
		to     string
		amount int64
		want   error
	}{
		{"overdraft", "wallet:bea", "wallet:sam", 1_001, ErrInsufficientFunds},
		{"zero amount", "wallet:bea", "wallet:sam", 0, ErrInvalidAmount},
		{"unknown target", "wallet:bea", "wallet:nobody", 10, ErrAccountNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			l := NewInMemory()
			openAccounts(t, l, "wallet:bea", "wallet:sam")
			SeedBalance(l, "wallet:bea", 1_000)

			_, err := l.Transfer(context.Background(), tc.from, tc.to, KindP2P, "tx", tc.amount)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if bal, _ := l.Balance(context.Background(), "wallet:bea"); bal != 1_000 {
				t.Fatalf("rejected transfer changed balance to %d", bal)
			}
		})
	}
}

func TestParallelTransfersKeepLedgerBalanced(t *testing.T) {
	l := NewInMemory()
	openAccounts(t, l, "wallet:bea", "wallet:sam")
	SeedBalance(l, "wallet:bea", 3_000)

	// 12 attempts of 300 against 3000: exactly ten can succeed.
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Transfer(context.Background(), "wallet:bea", "wallet:sam", KindP2P, "par-"+strconv.Itoa(i), 300)
			if err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			} else if !errors.Is(err, ErrInsufficientFunds) {
				t.Errorf("transfer %d: %v", i, err)
			}
		}()
	}
	wg.Wait()

	if accepted != 10 {
		t.Fatalf("expected 10 accepted transfers, got %d", accepted)
	}
	if got := sumBalances(t, l, "wallet:bea", "wallet:sam"); got != 3_000 {
		t.Fatalf("ledger unbalanced after parallel transfers, total=%d", got)
	}
}

func TestCardFundingRoundTrip(t *testing.T) {
	l := NewInMemory()
	if err := EnsureSystemAccounts(context.Background(), l); err != nil {
		t.Fatalf("system accounts: %v", err)
	}
	openAccounts(t, l, "wallet:bea")
	ctx := context.Background()

	in, err := l.CardIn(ctx, "wallet:bea", "topup-1", 4_000)
	if err != nil {
		t.Fatalf("card in: %v", err)
	}
	if in.Status != FundingStatusPendingSettlement || in.WalletBalance != 4_000 {
		t.Fatalf("unexpected top-up result %+v", in)
	}
	if _, err := l.CardIn(ctx, "wallet:bea", "topup-1", 4_000); !errors.Is(err, ErrDuplicateTransaction) {
		t.Fatalf("replayed top-up should be a duplicate, got %v", err)
	}

	out, err := l.CardOut(ctx, "wallet:bea", "payout-1", 1_250)
	if err != nil {
		t.Fatalf("card out: %v", err)
	}
	if out.WalletBalance != 2_750 {
		t.Fatalf("expected 2750 after withdrawal, got %d", out.WalletBalance)
	}
	if _, err := l.CardOut(ctx, "wallet:bea", "payout-2", 9_999); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if got := sumBalances(t, l, "wallet:bea", CardSuspenseAccountCode); got != 0 {
		t.Fatalf("card suspense and wallet should net to zero, got %d", got)
	}
}

func TestInMemoryLedger_EntriesNewestFirst(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	if err := EnsureSystemAccounts(ctx, l); err != nil {
		t.Fatalf("system accounts: %v", err)
	}
	l.EnsureAccount(ctx, "wallet:buyer")
	l.EnsureAccount(ctx, "wallet:seller")

	if _, err := l.CardIn(ctx, "wallet:buyer", "fund-1", 3_000); err != nil {
		t.Fatalf("card in: %v", err)
	}
	if _, err := l.Transfer(ctx, "wallet:buyer", EscrowAccountCode, KindEscrowHold, "req-1", 1_000); err != nil {
		t.Fatalf("hold: %v", err)
	}
	if _, err := l.Transfer(ctx, EscrowAccountCode, "wallet:seller", KindEscrowRelease, "req-1", 1_000); err != nil {
		t.Fatalf("release: %v", err)
	}

	entries, err := l.Entries(ctx, "wallet:buyer", 10)
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Kind != KindEscrowHold || entries[0].Amount != -1_000 {
		t.Fatalf("expected newest entry to be the hold, got %+v", entries[0])
	}
	if entries[1].Kind != KindCardIn || entries[1].Status != FundingStatusPendingSettlement {
		t.Fatalf("unexpected oldest entry %+v", entries[1])
	}

	escrow, _ := l.Balance(ctx, EscrowAccountCode)
	if escrow != 0 {
		t.Fatalf("expected empty escrow after release, got %d", escrow)
	}
	seller, _ := l.Balance(ctx, "wallet:seller")
	if seller != 1_000 {
		t.Fatalf("expected seller balance 1000, got %d", seller)
	}

	if _, err := l.Entries(ctx, "wallet:ghost", 10); err != ErrAccountNotFound {
		t.Fatalf("expected account not found, got %v", err)
	}
}

func TestInMemoryLedger_DuplicateReturnsOriginal(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	l.EnsureAccount(ctx, "wallet:a")
	l.EnsureAccount(ctx, "wallet:b")
	SeedBalance(l, "wallet:a", 1_000)

	first, err := l.Transfer(ctx, "wallet:a", "wallet:b", KindP2P, "same", 400)
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	again, err := l.Transfer(ctx, "wallet:a", "wallet:b", KindP2P, "same", 400)
	if err != ErrDuplicateTransaction {
		t.Fatalf("expected duplicate, got %v", err)
	}
	if again.TransactionID != first.TransactionID || again.FromBalance != 600 {
		t.Fatalf("expected original result, got %+v", again)
	}

	// The same client id under another kind is a distinct posting.
	if _, err := l.Transfer(ctx, "wallet:a", "wallet:b", KindEscrowHold, "same", 100); err != nil {
		t.Fatalf("expected distinct kind to post, got %v", err)
	}
	if _, err := l.Transfer(ctx, "wallet:a", "wallet:b", KindP2P, "zero", 0); err != ErrInvalidAmount {
		t.Fatalf("expected invalid amount, got %v", err)
	}
}
