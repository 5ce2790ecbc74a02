package identity

import (
	"context"
	"errors"
	"testing"

	"github.com/tradepost/tradepost/internal/rbac"
)

func TestRegisterAndAuthenticate(t *testing.T) {
	svc := NewService(NewMemoryRepository())
	ctx := context.Background()

	user, err := svc.Register(ctx, Registration{Username: "  Alice_01 ", Password: "hunter2hunter2"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if user.Username != "alice_01" {
		t.Fatalf("expected normalized username, got %q", user.Username)
	}
	if user.Role != rbac.RoleBuyer {
		t.Fatalf("expected default buyer role, got %s", user.Role)
	}

	authed, err := svc.Authenticate(ctx, Credentials{Username: "ALICE_01", Password: "hunter2hunter2"})
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if authed.LastLogin == nil {
		t.Fatalf("expected last login to be recorded")
	}
	stored, _ := svc.FindByID(ctx, user.ID)
	if stored.LastLogin == nil {
		t.Fatalf("expected last login to be persisted")
	}
}

func TestRegisterValidation(t *testing.T) {
	svc := NewService(NewMemoryRepository())
	ctx := context.Background()

	if _, err := svc.Register(ctx, Registration{Username: "ab", Password: "longenough"}); !errors.Is(err, ErrInvalidUsername) {
		t.Fatalf("expected invalid username, got %v", err)
	}
	if _, err := svc.Register(ctx, Registration{Username: "bad name", Password: "longenough"}); !errors.Is(err, ErrInvalidUsername) {
		t.Fatalf("expected invalid username for spaces, got %v", err)
	}
	if _, err := svc.Register(ctx, Registration{Username: "bob", Password: "short"}); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected weak password, got %v", err)
	}
	if _, err := svc.Register(ctx, Registration{Username: "bob", Password: "longenough", Role: rbac.RoleAdmin}); !errors.Is(err, ErrInvalidRole) {
		t.Fatalf("expected admin self-registration to fail, got %v", err)
	}
	if _, err := svc.Register(ctx, Registration{Username: "bob", Password: "longenough"}); err != nil {
		t.Fatalf("register bob: %v", err)
	}
	if _, err := svc.Register(ctx, Registration{Username: "BOB", Password: "longenough"}); !errors.Is(err, ErrUserExists) {
		t.Fatalf("expected duplicate username, got %v", err)
	}
}

func TestAuthenticateRejectsBadPassword(t *testing.T) {
	svc := NewService(NewMemoryRepository())
	ctx := context.Background()
	if _, err := svc.Register(ctx, Registration{Username: "carol", Password: "correcthorse"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := svc.Authenticate(ctx, Credentials{Username: "carol", Password: "wrongwrong"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if _, err := svc.Authenticate(ctx, Credentials{Username: "nobody", Password: "wrongwrong"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials for unknown user, got %v", err)
	}
}

func TestSellerVerificationFlow(t *testing.T) {
	svc := NewService(NewMemoryRepository())
	ctx := context.Background()

	buyer, _ := svc.Register(ctx, Registration{Username: "buyer1", Password: "password1"})
	if _, err := svc.SubmitVerification(ctx, buyer.ID, "doc-1"); !errors.Is(err, ErrNotSeller) {
		t.Fatalf("expected buyers to be refused, got %v", err)
	}

	seller, err := svc.Register(ctx, Registration{Username: "seller1", Password: "password1", Role: rbac.RoleSeller})
	if err != nil {
		t.Fatalf("register seller: %v", err)
	}
	if _, err := svc.ReviewVerification(ctx, seller.ID, true, ""); !errors.Is(err, ErrVerificationState) {
		t.Fatalf("expected review without submission to fail, got %v", err)
	}
	if _, err := svc.SubmitVerification(ctx, seller.ID, " "); !errors.Is(err, ErrVerificationMissing) {
		t.Fatalf("expected missing document error, got %v", err)
	}

	pending, err := svc.SubmitVerification(ctx, seller.ID, "doc-1")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if pending.Verification != VerificationPending {
		t.Fatalf("expected pending, got %s", pending.Verification)
	}
	if _, err := svc.SubmitVerification(ctx, seller.ID, "doc-2"); !errors.Is(err, ErrVerificationState) {
		t.Fatalf("expected resubmission while pending to fail, got %v", err)
	}

	rejected, err := svc.ReviewVerification(ctx, seller.ID, false, "blurry scan")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.Verification != VerificationRejected || rejected.VerificationNotes != "blurry scan" {
		t.Fatalf("unexpected rejection state: %+v", rejected)
	}

	if _, err := svc.SubmitVerification(ctx, seller.ID, "doc-2"); err != nil {
		t.Fatalf("resubmit after rejection: %v", err)
	}
	verified, err := svc.ReviewVerification(ctx, seller.ID, true, "")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if !verified.IsVerifiedSeller() {
		t.Fatalf("expected verified seller")
	}
}

func TestProvisionAdminAndBumpTokenVersion(t *testing.T) {
	svc := NewService(NewMemoryRepository())
	ctx := context.Background()

	admin, err := svc.Provision(ctx, Registration{Username: "root", Password: "password1", Role: rbac.RoleAdmin})
	if err != nil {
		t.Fatalf("provision: %v", err)
	}
	stored, _ := svc.FindByUsername(ctx, "ROOT")
	if stored.Role != rbac.RoleAdmin || admin.Role != rbac.RoleAdmin {
		t.Fatalf("expected admin role, got %s", stored.Role)
	}

	bumped, err := svc.BumpTokenVersion(ctx, admin.ID)
	if err != nil {
		t.Fatalf("bump: %v", err)
	}
	if bumped.TokenVersion != 1 {
		t.Fatalf("expected token version 1, got %d", bumped.TokenVersion)
	}
}
