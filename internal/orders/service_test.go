package orders

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tradepost/tradepost/internal/identity"
	"github.com/tradepost/tradepost/internal/ledger"
	"github.com/tradepost/tradepost/internal/logging"
	"github.com/tradepost/tradepost/internal/messaging"
	"github.com/tradepost/tradepost/internal/moderation"
	"github.com/tradepost/tradepost/internal/notification"
	"github.com/tradepost/tradepost/internal/payments"
	"github.com/tradepost/tradepost/internal/rbac"
	"github.com/tradepost/tradepost/internal/realtime"
	"github.com/tradepost/tradepost/internal/wallet"
)

type captureBroker struct {
	mu     sync.Mutex
	events []realtime.Event
}

func (b *captureBroker) Publish(_ context.Context, e realtime.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
	return nil
}

func (b *captureBroker) count(typ string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, e := range b.events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

// hookedEscrow runs afterHold once the buyer's funds sit in escrow.
type hookedEscrow struct {
	Escrow
	afterHold func()
}

func (e *hookedEscrow) Hold(ctx context.Context, buyerID, requestID string, amount int64) (payments.TransferResult, error) {
	res, err := e.Escrow.Hold(ctx, buyerID, requestID, amount)
	if err == nil && e.afterHold != nil {
		e.afterHold()
	}
	return res, err
}

type fixture struct {
	svc     *Service
	repo    Repository
	pay     *payments.Service
	ids     *identity.Service
	mod     *moderation.Service
	msgs    *messaging.Service
	wallets *wallet.Service
	led     ledger.Ledger
	inbox   *notification.MemoryInbox
	broker  *captureBroker
	users   map[string]identity.User
}

func must(t *testing.T, err error, what string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %v", what, err)
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{
		repo:   NewMemoryRepository(),
		ids:    identity.NewService(identity.NewMemoryRepository()),
		led:    ledger.NewInMemory(),
		inbox:  notification.NewMemoryInbox(),
		broker: &captureBroker{},
		users:  make(map[string]identity.User),
	}
	must(t, ledger.EnsureSystemAccounts(ctx, f.led), "system accounts")
	f.wallets = wallet.NewService(wallet.NewMemoryRepository(), f.led)
	f.mod = moderation.NewService(moderation.NewMemoryRepository(), nil, f.ids, nil, nil, moderation.Policy{
		MaxBanDuration: 24 * time.Hour,
	}, logging.Discard())
	f.msgs = messaging.NewService(messaging.NewMemoryRepository(), f.ids, messaging.Dependencies{
		Bans:   f.mod,
		Logger: logging.Discard(),
	})
	f.pay = payments.NewService(f.led, f.wallets, nil)
	f.useEscrow(f.pay)

	register := func(name string, role rbac.Role) identity.User {
		u, err := f.ids.Register(ctx, identity.Registration{Username: name, Password: "password123", Role: role})
		must(t, err, "register "+name)
		_, err = f.wallets.Create(ctx, wallet.CreateInput{OwnerID: u.ID})
		must(t, err, "wallet for "+name)
		f.users[name] = u
		return u
	}
	register("bea", rbac.RoleBuyer)
	register("uma", rbac.RoleSeller)
	sam := register("sam", rbac.RoleSeller)
	_, err := f.ids.SubmitVerification(ctx, sam.ID, "doc-42")
	must(t, err, "submit verification")
	_, err = f.ids.ReviewVerification(ctx, sam.ID, true, "")
	must(t, err, "review verification")

	w, err := f.wallets.GetByOwner(ctx, f.users["bea"].ID)
	must(t, err, "buyer wallet")
	ledger.SeedBalance(f.led, w.AccountCode, 10_000)
	return f
}

func (f *fixture) useEscrow(e Escrow) {
	f.svc = NewService(f.repo, f.ids, f.mod, e, f.msgs, f.inbox, f.broker, logging.Discard())
}

func (f *fixture) balance(t *testing.T, name string) int64 {
	t.Helper()
	ctx := context.Background()
	w, err := f.wallets.GetByOwner(ctx, f.users[name].ID)
	must(t, err, "wallet of "+name)
	b, err := f.led.Balance(ctx, w.AccountCode)
	must(t, err, "balance of "+name)
	return b
}

func (f *fixture) escrowBalance(t *testing.T) int64 {
	t.Helper()
	b, err := f.led.Balance(context.Background(), ledger.EscrowAccountCode)
	must(t, err, "escrow balance")
	return b
}

func (f *fixture) create(t *testing.T) CustomRequest {
	t.Helper()
	req, err := f.svc.Create(context.Background(), CreateInput{
		BuyerID:     f.users["bea"].ID,
		Seller:      "Sam",
		Title:       "Hand-bound notebook",
		Description: "A5, dotted pages, blue leather",
	})
	must(t, err, "create request")
	return req
}

// accepted drives a new request to accepted at the given price.
func (f *fixture) accepted(t *testing.T, price int64) CustomRequest {
	t.Helper()
	ctx := context.Background()
	req := f.create(t)
	_, err := f.svc.Quote(ctx, f.users["sam"].ID, req.ID, price)
	must(t, err, "quote")
	req, err = f.svc.Accept(ctx, f.users["bea"].ID, req.ID)
	must(t, err, "accept")
	return req
}

func expectErr(t *testing.T, err, want error, what string) {
	t.Helper()
	if !errors.Is(err, want) {
		t.Fatalf("%s: expected %v, got %v", what, want, err)
	}
}

func TestCreateValidatesSeller(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := CreateInput{BuyerID: f.users["bea"].ID, Title: "Poster", Description: "Large"}

	cases := []struct {
		seller string
		want   error
	}{
		{"nobody", ErrSellerNotFound},
		{"bea", ErrSelfRequest},
		{"uma", ErrSellerUnverified},
	}
	for _, tc := range cases {
		in.Seller = tc.seller
		_, err := f.svc.Create(ctx, in)
		expectErr(t, err, tc.want, "seller "+tc.seller)
	}

	in.Seller = "sam"
	in.Title = "ab"
	_, err := f.svc.Create(ctx, in)
	expectErr(t, err, ErrInvalidRequest, "short title")

	buyerAsSeller := CreateInput{BuyerID: f.users["sam"].ID, Seller: "bea", Title: "Poster", Description: "Large"}
	_, err = f.svc.Create(ctx, buyerAsSeller)
	expectErr(t, err, ErrNotSeller, "buyer as seller")
}

func TestCreatePostsIntoThread(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.create(t)

	if req.Status != StatusRequested || req.ThreadID != "bea:sam" || req.Currency != "USD" {
		t.Fatalf("unexpected new request %+v", req)
	}

	msgs, err := f.msgs.Messages(ctx, "sam", "bea", 0, 10)
	must(t, err, "messages")
	if len(msgs) != 1 {
		t.Fatalf("expected one thread message, got %d", len(msgs))
	}
	if msgs[0].Kind != messaging.KindCustomRequest || msgs[0].RequestID != req.ID {
		t.Fatalf("unexpected thread message %+v", msgs[0])
	}

	unread, err := f.inbox.Unread(ctx, f.users["sam"].ID)
	must(t, err, "unread")
	if unread != 1 {
		t.Fatalf("seller should be notified once, got %d", unread)
	}
	if n := f.broker.count(realtime.TypeRequestUpdated); n != 1 {
		t.Fatalf("expected one update event, got %d", n)
	}
}

func TestHappyPathMovesEscrow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bea, sam := f.users["bea"].ID, f.users["sam"].ID
	req := f.create(t)

	_, err := f.svc.Quote(ctx, sam, req.ID, 1_500)
	must(t, err, "quote")
	req, err = f.svc.Quote(ctx, sam, req.ID, 2_000)
	must(t, err, "re-quote")
	if req.Price != 2_000 {
		t.Fatalf("re-quote should replace the price, got %d", req.Price)
	}

	_, err = f.svc.Accept(ctx, bea, req.ID)
	must(t, err, "accept")
	req, err = f.svc.Pay(ctx, bea, req.ID)
	must(t, err, "pay")
	if req.Status != StatusPaid || req.HoldTxID == "" {
		t.Fatalf("unexpected paid request %+v", req)
	}
	if got := f.balance(t, "bea"); got != 8_000 {
		t.Fatalf("expected buyer balance 8000, got %d", got)
	}
	if got := f.escrowBalance(t); got != 2_000 {
		t.Fatalf("expected 2000 in escrow, got %d", got)
	}

	_, err = f.svc.Deliver(ctx, sam, req.ID)
	must(t, err, "deliver")
	req, err = f.svc.Complete(ctx, bea, req.ID)
	must(t, err, "complete")
	if req.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", req.Status)
	}
	if got := f.balance(t, "sam"); got != 2_000 {
		t.Fatalf("expected seller balance 2000, got %d", got)
	}

	msgs, err := f.msgs.Messages(ctx, "bea", "sam", 0, 50)
	must(t, err, "messages")
	if len(msgs) != 7 {
		t.Fatalf("expected one thread message per step, got %d", len(msgs))
	}
	if n := f.broker.count(realtime.TypeRequestUpdated); n != 7 {
		t.Fatalf("expected 7 update events, got %d", n)
	}
}

func TestTransitionsEnforceParty(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bea, sam, uma := f.users["bea"].ID, f.users["sam"].ID, f.users["uma"].ID
	req := f.create(t)

	_, err := f.svc.Quote(ctx, bea, req.ID, 100)
	expectErr(t, err, ErrWrongParty, "buyer quoting")
	_, err = f.svc.Quote(ctx, uma, req.ID, 100)
	expectErr(t, err, ErrNotParticipant, "outsider quoting")
	_, err = f.svc.Quote(ctx, sam, req.ID, 0)
	expectErr(t, err, ErrInvalidPrice, "zero price")
	_, err = f.svc.Accept(ctx, bea, req.ID)
	expectErr(t, err, ErrInvalidTransition, "accept before quote")
	_, err = f.svc.Cancel(ctx, bea, req.ID)
	expectErr(t, err, ErrInvalidTransition, "cancel before accept")

	req, err = f.svc.Decline(ctx, sam, req.ID)
	must(t, err, "decline")
	if req.Status != StatusDeclined {
		t.Fatalf("expected declined, got %s", req.Status)
	}
	_, err = f.svc.Quote(ctx, sam, req.ID, 100)
	expectErr(t, err, ErrInvalidTransition, "quote after decline")
}

func TestCancelAfterPaymentRefunds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.accepted(t, 3_000)

	_, err := f.svc.Pay(ctx, f.users["bea"].ID, req.ID)
	must(t, err, "pay")
	if got := f.balance(t, "bea"); got != 7_000 {
		t.Fatalf("expected 7000 after paying, got %d", got)
	}

	req, err = f.svc.Cancel(ctx, f.users["sam"].ID, req.ID)
	must(t, err, "cancel")
	if req.Status != StatusCancelled {
		t.Fatalf("expected cancelled, got %s", req.Status)
	}
	if got := f.balance(t, "bea"); got != 10_000 {
		t.Fatalf("expected full refund, got %d", got)
	}
}

func TestCancelDuringPaymentWaitsForHold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.accepted(t, 500)

	cancelled := make(chan error, 1)
	f.useEscrow(&hookedEscrow{Escrow: f.pay, afterHold: func() {
		go func() {
			_, err := f.svc.Cancel(ctx, f.users["sam"].ID, req.ID)
			cancelled <- err
		}()
		// Give the seller's cancel a chance to overtake the payment.
		time.Sleep(50 * time.Millisecond)
	}})

	paid, err := f.svc.Pay(ctx, f.users["bea"].ID, req.ID)
	must(t, err, "pay")
	if paid.Status != StatusPaid {
		t.Fatalf("payment should commit before the cancel, got %s", paid.Status)
	}

	select {
	case err := <-cancelled:
		must(t, err, "cancel")
	case <-time.After(2 * time.Second):
		t.Fatalf("cancel never finished")
	}

	got, err := f.svc.Get(ctx, req.ID, f.users["bea"].ID, rbac.RoleBuyer)
	must(t, err, "get")
	if got.Status != StatusCancelled {
		t.Fatalf("expected cancelled, got %s", got.Status)
	}
	if bal := f.balance(t, "bea"); bal != 10_000 {
		t.Fatalf("buyer should be refunded, balance %d", bal)
	}
	if esc := f.escrowBalance(t); esc != 0 {
		t.Fatalf("escrow should be empty, holds %d", esc)
	}
}

func TestConcurrentCancelAndDeliverKeepFundsConsistent(t *testing.T) {
	for i := 0; i < 5; i++ {
		f := newFixture(t)
		ctx := context.Background()
		req := f.accepted(t, 3_000)
		_, err := f.svc.Pay(ctx, f.users["bea"].ID, req.ID)
		must(t, err, "pay")

		var wg sync.WaitGroup
		var cancelErr, deliverErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, cancelErr = f.svc.Cancel(ctx, f.users["bea"].ID, req.ID)
		}()
		go func() {
			defer wg.Done()
			_, deliverErr = f.svc.Deliver(ctx, f.users["sam"].ID, req.ID)
		}()
		wg.Wait()

		if (cancelErr == nil) == (deliverErr == nil) {
			t.Fatalf("exactly one transition should win: cancel=%v deliver=%v", cancelErr, deliverErr)
		}
		got, err := f.svc.Get(ctx, req.ID, f.users["bea"].ID, rbac.RoleBuyer)
		must(t, err, "get")
		buyer, escrow := f.balance(t, "bea"), f.escrowBalance(t)
		switch got.Status {
		case StatusCancelled:
			if buyer != 10_000 || escrow != 0 {
				t.Fatalf("cancelled order: buyer=%d escrow=%d", buyer, escrow)
			}
			_, err = f.svc.Complete(ctx, f.users["bea"].ID, req.ID)
			expectErr(t, err, ErrInvalidTransition, "complete after cancel")
		case StatusDelivered:
			if buyer != 7_000 || escrow != 3_000 {
				t.Fatalf("delivered order: buyer=%d escrow=%d", buyer, escrow)
			}
		default:
			t.Fatalf("unexpected status %s", got.Status)
		}
	}
}

func TestPayRequiresFunds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.accepted(t, 50_000)

	_, err := f.svc.Pay(ctx, f.users["bea"].ID, req.ID)
	expectErr(t, err, ledger.ErrInsufficientFunds, "pay without funds")

	got, err := f.svc.Get(ctx, req.ID, f.users["bea"].ID, rbac.RoleBuyer)
	must(t, err, "get")
	if got.Status != StatusAccepted {
		t.Fatalf("failed hold should leave the request accepted, got %s", got.Status)
	}
}

func TestBannedUsersCannotAct(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.create(t)

	_, err := f.mod.IssueBan(ctx, moderation.IssueInput{
		UserID:   f.users["sam"].ID,
		Reason:   "spamming buyers",
		Type:     moderation.BanTemporary,
		Duration: time.Hour,
	})
	must(t, err, "issue ban")

	_, err = f.svc.Quote(ctx, f.users["sam"].ID, req.ID, 100)
	expectErr(t, err, ErrBanned, "banned seller quoting")
	req, err = f.svc.Decline(ctx, f.users["sam"].ID, req.ID)
	must(t, err, "declining stays open to banned users")
	if req.Status != StatusDeclined {
		t.Fatalf("expected declined, got %s", req.Status)
	}
}

func TestGetAndListVisibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.create(t)

	_, err := f.svc.Get(ctx, req.ID, f.users["uma"].ID, rbac.RoleSeller)
	expectErr(t, err, ErrNotParticipant, "outsider get")
	_, err = f.svc.Get(ctx, req.ID, "admin-id", rbac.RoleAdmin)
	must(t, err, "admin get")
	_, err = f.svc.Get(ctx, "missing", "admin-id", rbac.RoleAdmin)
	expectErr(t, err, ErrRequestNotFound, "missing request")

	mine, err := f.svc.List(ctx, f.users["uma"].ID, rbac.RoleSeller)
	must(t, err, "list for uma")
	if len(mine) != 0 {
		t.Fatalf("uma should see nothing, got %d", len(mine))
	}
	all, err := f.svc.List(ctx, "admin-id", rbac.RoleAdmin)
	must(t, err, "list for admin")
	if len(all) != 1 {
		t.Fatalf("admin should see every request, got %d", len(all))
	}

	counts, err := f.svc.CountByStatus(ctx)
	must(t, err, "count")
	if counts[StatusRequested] != 1 {
		t.Fatalf("expected one requested, got %v", counts)
	}
}

func TestTransitionSkipsWriteWhenCallbackFails(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	must(t, repo.Create(ctx, CustomRequest{ID: "r-1", BuyerID: "b", SellerID: "s", Status: StatusRequested}), "create")

	_, err := repo.Transition(ctx, "r-1", func(req *CustomRequest) error {
		req.Status = StatusQuoted
		return ErrInvalidTransition
	})
	expectErr(t, err, ErrInvalidTransition, "failing callback")
	got, err := repo.Get(ctx, "r-1")
	must(t, err, "get")
	if got.Status != StatusRequested {
		t.Fatalf("failed transition must not be stored, got %s", got.Status)
	}

	updated, err := repo.Transition(ctx, "r-1", func(req *CustomRequest) error {
		req.Status = StatusQuoted
		return nil
	})
	must(t, err, "transition")
	if updated.Status != StatusQuoted {
		t.Fatalf("expected quoted, got %s", updated.Status)
	}
	_, err = repo.Transition(ctx, "missing", func(*CustomRequest) error { return nil })
	expectErr(t, err, ErrRequestNotFound, "missing request")
}
