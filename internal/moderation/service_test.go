package moderation

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/tradepost/tradepost/internal/identity"
	"github.com/tradepost/tradepost/internal/logging"
	"github.com/tradepost/tradepost/internal/notification"
	"github.com/tradepost/tradepost/internal/rbac"
	"github.com/tradepost/tradepost/internal/realtime"
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

func (b *captureBroker) types() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.events))
	for _, e := range b.events {
		out = append(out, e.Type)
	}
	return out
}

func must(t *testing.T, err error, what string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %v", what, err)
	}
}

func expectErr(t *testing.T, err, want error, what string) {
	t.Helper()
	if !errors.Is(err, want) {
		t.Fatalf("%s: expected %v, got %v", what, want, err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type fixture struct {
	svc    *Service
	repo   Repository
	ids    *identity.Service
	inbox  *notification.MemoryInbox
	broker *captureBroker
	now    time.Time
}

func testPolicy() Policy {
	return Policy{
		MaxBanDuration:   30 * 24 * time.Hour,
		AutoBanThreshold: 3,
		AutoBanWindow:    24 * time.Hour,
		AutoBanDuration:  24 * time.Hour,
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:   NewMemoryRepository(),
		ids:    identity.NewService(identity.NewMemoryRepository()),
		inbox:  notification.NewMemoryInbox(),
		broker: &captureBroker{},
		now:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.svc = NewService(f.repo, nil, f.ids, f.inbox, f.broker, testPolicy(), logging.Discard())
	f.svc.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) advance(d time.Duration) { f.now = f.now.Add(d) }

func (f *fixture) user(t *testing.T, name string) identity.User {
	t.Helper()
	u, err := f.ids.Register(context.Background(), identity.Registration{Username: name, Password: "password123"})
	must(t, err, "register "+name)
	return u
}

func (f *fixture) tempBan(t *testing.T, userID string, d time.Duration) Ban {
	t.Helper()
	ban, err := f.svc.IssueBan(context.Background(), IssueInput{
		UserID:   userID,
		Reason:   "spamming the marketplace",
		Type:     BanTemporary,
		Duration: d,
		IssuedBy: "admin-1",
	})
	must(t, err, "temporary ban")
	return ban
}

func TestTemporaryBanExpiresOnRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bob := f.user(t, "bob")

	ban := f.tempBan(t, bob.ID, time.Hour)
	if ban.ExpiresAt == nil || !ban.ExpiresAt.Equal(f.now.Add(time.Hour)) {
		t.Fatalf("expected expiry one hour out, got %v", ban.ExpiresAt)
	}
	if ban.Username != "bob" {
		t.Fatalf("expected username bob, got %q", ban.Username)
	}

	active, err := f.svc.ActiveBan(ctx, bob.ID)
	must(t, err, "active ban")
	if active.ID != ban.ID {
		t.Fatalf("expected ban %s, got %s", ban.ID, active.ID)
	}

	f.advance(2 * time.Hour)
	_, err = f.svc.ActiveBan(ctx, bob.ID)
	expectErr(t, err, ErrNoActiveBan, "active ban after expiry")

	stored, err := f.svc.GetBan(ctx, ban.ID)
	must(t, err, "get ban")
	if stored.Active || stored.LiftReason != LiftExpired || stored.LiftedBy != SystemActor {
		t.Fatalf("expected ban expired by the system, got %+v", stored)
	}

	if got := f.broker.types(); !slices.Equal(got, []string{realtime.TypeBanIssued, realtime.TypeBanLifted}) {
		t.Fatalf("unexpected events %v", got)
	}
	unread, err := f.inbox.Unread(ctx, bob.ID)
	must(t, err, "unread")
	if unread != 2 {
		t.Fatalf("expected issue and lift notifications, got %d", unread)
	}
}

func TestIssueBanValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bob := f.user(t, "bob")
	admin, err := f.ids.Provision(ctx, identity.Registration{Username: "root", Password: "password123", Role: rbac.RoleAdmin})
	must(t, err, "provision admin")

	cases := []struct {
		name string
		in   IssueInput
		want error
	}{
		{"short reason", IssueInput{UserID: bob.ID, Reason: " x ", Type: BanPermanent}, ErrInvalidReason},
		{"control chars only", IssueInput{UserID: bob.ID, Reason: "\x00\x01\x02\x03", Type: BanPermanent}, ErrInvalidReason},
		{"zero duration", IssueInput{UserID: bob.ID, Reason: "abusive", Type: BanTemporary}, ErrInvalidDuration},
		{"over max", IssueInput{UserID: bob.ID, Reason: "abusive", Type: BanTemporary, Duration: 31 * 24 * time.Hour}, ErrInvalidDuration},
		{"bad type", IssueInput{UserID: bob.ID, Reason: "abusive", Type: "forever"}, ErrInvalidBanType},
		{"admin target", IssueInput{UserID: admin.ID, Reason: "abusive", Type: BanPermanent}, ErrCannotBanAdmin},
		{"unknown user", IssueInput{Username: "ghost", Reason: "abusive", Type: BanPermanent}, ErrUnknownUser},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.IssueBan(ctx, tc.in)
			expectErr(t, err, tc.want, tc.name)
		})
	}

	ban, err := f.svc.IssueBan(ctx, IssueInput{Username: "BOB", Reason: "  abusive\x07 ", Type: BanPermanent, Duration: time.Hour})
	must(t, err, "issue permanent")
	if ban.Reason != "abusive" || ban.ExpiresAt != nil || ban.Duration != 0 || ban.IssuedBy != SystemActor {
		t.Fatalf("unexpected permanent ban %+v", ban)
	}

	_, err = f.svc.IssueBan(ctx, IssueInput{UserID: bob.ID, Reason: "again", Type: BanPermanent})
	expectErr(t, err, ErrAlreadyBanned, "second active ban")
}

func TestPermanentBanNeverExpires(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bob := f.user(t, "bob")

	_, err := f.svc.IssueBan(ctx, IssueInput{UserID: bob.ID, Reason: "fraud ring", Type: BanPermanent})
	must(t, err, "issue")

	f.advance(10 * 365 * 24 * time.Hour)
	n, err := f.svc.ExpireDue(ctx, f.now)
	must(t, err, "expire due")
	if n != 0 {
		t.Fatalf("permanent bans must not expire, expired %d", n)
	}
	_, err = f.svc.ActiveBan(ctx, bob.ID)
	must(t, err, "active ban")
}

func TestExpireDueOnlyTouchesDueBans(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	short := f.tempBan(t, f.user(t, "alice").ID, time.Minute)
	long := f.tempBan(t, f.user(t, "bob").ID, time.Hour)

	f.advance(time.Minute)
	n, err := f.svc.ExpireDue(ctx, f.now)
	must(t, err, "expire due")
	if n != 1 {
		t.Fatalf("expected one expired ban, got %d", n)
	}

	got, err := f.svc.GetBan(ctx, short.ID)
	must(t, err, "get short")
	if got.Active {
		t.Fatalf("due ban should be inactive")
	}
	got, err = f.svc.GetBan(ctx, long.ID)
	must(t, err, "get long")
	if !got.Active {
		t.Fatalf("ban not yet due should stay active")
	}

	n, err = f.svc.ExpireDue(ctx, f.now)
	must(t, err, "second sweep")
	if n != 0 {
		t.Fatalf("second sweep should be a no-op, expired %d", n)
	}
}

func TestLiftBanIsOneShot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ban := f.tempBan(t, f.user(t, "bob").ID, time.Hour)

	lifted, err := f.svc.LiftBan(ctx, ban.ID, "admin-1", "")
	must(t, err, "lift")
	if lifted.LiftReason != LiftManual || lifted.LiftedBy != "admin-1" {
		t.Fatalf("unexpected lift %+v", lifted)
	}

	_, err = f.svc.LiftBan(ctx, ban.ID, "admin-1", "")
	expectErr(t, err, ErrBanInactive, "second lift")
	_, err = f.svc.LiftBan(ctx, "missing", "admin-1", "")
	expectErr(t, err, ErrBanNotFound, "missing ban")
}

func TestAppealApprovalLiftsBan(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bob := f.user(t, "bob")
	eve := f.user(t, "eve")
	ban := f.tempBan(t, bob.ID, 48*time.Hour)

	_, err := f.svc.SubmitAppeal(ctx, ban.ID, bob.ID, "sorry")
	expectErr(t, err, ErrInvalidAppeal, "short appeal")
	_, err = f.svc.SubmitAppeal(ctx, ban.ID, eve.ID, "this is not my ban but still")
	expectErr(t, err, ErrNotBanOwner, "foreign appeal")

	appeal, err := f.svc.SubmitAppeal(ctx, ban.ID, bob.ID, "I was not spamming, please review")
	must(t, err, "submit appeal")
	if appeal.Status != AppealPending {
		t.Fatalf("new appeal should be pending, got %s", appeal.Status)
	}
	_, err = f.svc.SubmitAppeal(ctx, ban.ID, bob.ID, "second appeal for the same ban")
	expectErr(t, err, ErrAppealExists, "second appeal")

	appeal, err = f.svc.ReviewAppeal(ctx, appeal.ID, ReviewInput{ReviewerID: "admin-1", Decision: DecisionEscalate})
	must(t, err, "escalate")
	if appeal.Status != AppealEscalated {
		t.Fatalf("expected escalated, got %s", appeal.Status)
	}
	_, err = f.svc.ReviewAppeal(ctx, appeal.ID, ReviewInput{ReviewerID: "admin-1", Decision: DecisionEscalate})
	expectErr(t, err, ErrInvalidTransition, "escalate twice")

	appeal, err = f.svc.ReviewAppeal(ctx, appeal.ID, ReviewInput{ReviewerID: "admin-2", Decision: DecisionApprove, Notes: "context checked"})
	must(t, err, "approve")
	if appeal.Status != AppealApproved || appeal.ReviewedBy != "admin-2" || appeal.ReviewedAt == nil {
		t.Fatalf("unexpected approved appeal %+v", appeal)
	}

	_, err = f.svc.ActiveBan(ctx, bob.ID)
	expectErr(t, err, ErrNoActiveBan, "active ban after approval")
	history, err := f.svc.History(ctx, bob.ID)
	must(t, err, "history")
	if len(history) != 1 {
		t.Fatalf("expected one ban in history, got %d", len(history))
	}
	if history[0].LiftReason != LiftAppealApproved || history[0].Appeal == nil || history[0].Appeal.ID != appeal.ID {
		t.Fatalf("history should carry the approved appeal: %+v", history[0])
	}

	_, err = f.svc.ReviewAppeal(ctx, appeal.ID, ReviewInput{ReviewerID: "admin-1", Decision: DecisionReject})
	expectErr(t, err, ErrInvalidTransition, "reject after approval")
	if !slices.Contains(f.broker.types(), realtime.TypeAppealReviewed) {
		t.Fatalf("appeal review should be published")
	}
}

func TestRejectedAppealKeepsBan(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bob := f.user(t, "bob")
	ban := f.tempBan(t, bob.ID, time.Hour)
	appeal, err := f.svc.SubmitAppeal(ctx, ban.ID, bob.ID, "please lift this ban early")
	must(t, err, "submit appeal")

	_, err = f.svc.ReviewAppeal(ctx, appeal.ID, ReviewInput{ReviewerID: "admin-1", Decision: "maybe"})
	expectErr(t, err, ErrInvalidDecision, "unknown decision")

	appeal, err = f.svc.ReviewAppeal(ctx, appeal.ID, ReviewInput{ReviewerID: "admin-1", Decision: DecisionReject})
	must(t, err, "reject")
	if appeal.Status != AppealRejected {
		t.Fatalf("expected rejected, got %s", appeal.Status)
	}
	_, err = f.svc.ActiveBan(ctx, bob.ID)
	must(t, err, "ban should stay active")

	pending, err := f.svc.ListAppeals(ctx, AppealPending)
	must(t, err, "list appeals")
	if len(pending) != 0 {
		t.Fatalf("expected empty review queue, got %d", len(pending))
	}
}

func TestAppealOnExpiredBanFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bob := f.user(t, "bob")
	ban := f.tempBan(t, bob.ID, time.Minute)

	f.advance(time.Hour)
	_, err := f.svc.SubmitAppeal(ctx, ban.ID, bob.ID, "please lift this ban early")
	expectErr(t, err, ErrBanInactive, "appeal on expired ban")
}

func TestAutoBanCountsDistinctReporters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	target := f.user(t, "target")
	a, b, c := f.user(t, "alice"), f.user(t, "bella"), f.user(t, "carl")

	file := func(reporter identity.User) {
		_, err := f.svc.FileReport(ctx, ReportInput{ReporterID: reporter.ID, ReportedUsername: "target", Reason: ReasonSpam})
		must(t, err, "file report")
	}
	file(a)
	file(a)
	file(b)
	_, err := f.svc.ActiveBan(ctx, target.ID)
	expectErr(t, err, ErrNoActiveBan, "two distinct reporters")

	file(c)
	ban, err := f.svc.ActiveBan(ctx, target.ID)
	must(t, err, "auto ban")
	if ban.IssuedBy != SystemActor || ban.Type != BanTemporary || ban.Duration != 24*time.Hour {
		t.Fatalf("unexpected auto ban %+v", ban)
	}

	open, err := f.svc.ListReports(ctx, ReportOpen)
	must(t, err, "open reports")
	if len(open) != 0 {
		t.Fatalf("triggering reports should be closed, %d open", len(open))
	}
	actioned, err := f.svc.ListReports(ctx, ReportActioned)
	must(t, err, "actioned reports")
	if len(actioned) != 4 {
		t.Fatalf("expected 4 actioned reports, got %d", len(actioned))
	}
}

func TestAutoBanIgnoresReportsOutsideWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	target := f.user(t, "target")
	for _, name := range []string{"alice", "bella", "carl"} {
		r := f.user(t, name)
		_, err := f.svc.FileReport(ctx, ReportInput{ReporterID: r.ID, ReportedID: target.ID, Reason: ReasonHarassment})
		must(t, err, "file report")
		f.advance(13 * time.Hour)
	}
	_, err := f.svc.ActiveBan(ctx, target.ID)
	expectErr(t, err, ErrNoActiveBan, "reports spread past the window")
}

func TestFileReportValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bob := f.user(t, "bob")

	_, err := f.svc.FileReport(ctx, ReportInput{ReporterID: bob.ID, ReportedID: bob.ID, Reason: ReasonSpam})
	expectErr(t, err, ErrSelfReport, "self report")
	_, err = f.svc.FileReport(ctx, ReportInput{ReporterID: "x", ReportedUsername: "nobody", Reason: ReasonSpam})
	expectErr(t, err, ErrUnknownUser, "unknown user")
	_, err = f.svc.FileReport(ctx, ReportInput{ReporterID: "x", ReportedID: bob.ID, Reason: "rude"})
	expectErr(t, err, ErrInvalidReport, "unknown reason")
}

func TestResolveReport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bob := f.user(t, "bob")
	alice := f.user(t, "alice")

	first, err := f.svc.FileReport(ctx, ReportInput{ReporterID: alice.ID, ReportedID: bob.ID, Reason: ReasonFraud, Details: "fake listing"})
	must(t, err, "file report")
	dismissed, ban, err := f.svc.ResolveReport(ctx, ResolveInput{ReportID: first.ID, ResolverID: "admin-1", Action: ResolveDismiss})
	must(t, err, "dismiss")
	if ban != nil || dismissed.Status != ReportDismissed {
		t.Fatalf("dismissal should not ban: %+v %+v", dismissed, ban)
	}

	_, _, err = f.svc.ResolveReport(ctx, ResolveInput{ReportID: first.ID, ResolverID: "admin-1", Action: ResolveBan})
	expectErr(t, err, ErrInvalidTransition, "resolve twice")

	second, err := f.svc.FileReport(ctx, ReportInput{ReporterID: alice.ID, ReportedID: bob.ID, Reason: ReasonFraud})
	must(t, err, "file second report")
	actioned, ban, err := f.svc.ResolveReport(ctx, ResolveInput{
		ReportID:   second.ID,
		ResolverID: "admin-1",
		Action:     ResolveBan,
		Ban:        &IssueInput{Reason: "confirmed fraud", Type: BanPermanent},
	})
	must(t, err, "resolve with ban")
	if actioned.Status != ReportActioned {
		t.Fatalf("expected actioned, got %s", actioned.Status)
	}
	if ban == nil || ban.UserID != bob.ID || ban.IssuedBy != "admin-1" {
		t.Fatalf("unexpected ban %+v", ban)
	}

	st, err := f.svc.Stats(ctx)
	must(t, err, "stats")
	if st.ActiveBans != 1 || st.PermanentActive != 1 || st.OpenReports != 0 {
		t.Fatalf("unexpected stats %+v", st)
	}
}
