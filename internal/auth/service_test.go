package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/tradepost/tradepost/internal/config"
	"github.com/tradepost/tradepost/internal/identity"
)

func testConfig() config.Config {
	return config.Config{
		JWTSecret:       "access-secret",
		RefreshSecret:   "refresh-secret",
		AccessTokenTTL:  time.Minute,
		RefreshTokenTTL: time.Hour,
	}
}

func registeredUser(t *testing.T, repo identity.Repository) identity.User {
	t.Helper()
	ids := identity.NewService(repo)
	user, err := ids.Register(context.Background(), identity.Registration{Username: "dana", Password: "password1"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return user
}

func TestLoginRefreshAndLogout(t *testing.T) {
	repo := identity.NewMemoryRepository()
	user := registeredUser(t, repo)
	svc := NewService(testConfig(), repo)
	ctx := context.Background()

	pair, err := svc.Login(user)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	verified, err := svc.VerifyAccess(ctx, pair.AccessToken)
	if err != nil {
		t.Fatalf("verify access: %v", err)
	}
	if verified.Username != "dana" {
		t.Fatalf("expected dana, got %s", verified.Username)
	}
	if _, err := svc.VerifyAccess(ctx, pair.RefreshToken); err == nil {
		t.Fatalf("refresh token must not pass as access token")
	}

	access, exp, err := svc.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if access == "" || exp != 60 {
		t.Fatalf("unexpected refresh result %q %d", access, exp)
	}

	if err := svc.Logout(ctx, user.ID); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := svc.VerifyAccess(ctx, pair.AccessToken); !errors.Is(err, ErrTokenInvalidated) {
		t.Fatalf("expected invalidated token, got %v", err)
	}
	if _, _, err := svc.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrTokenInvalidated) {
		t.Fatalf("expected invalidated refresh token, got %v", err)
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	repo := identity.NewMemoryRepository()
	user := registeredUser(t, repo)
	svc := NewService(testConfig(), repo)
	svc.now = func() time.Time { return time.Now().Add(-2 * time.Minute) }

	pair, err := svc.Login(user)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	svc.now = time.Now
	if _, err := svc.VerifyAccess(context.Background(), pair.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired token to be rejected, got %v", err)
	}
}

func TestParseRejectsTampering(t *testing.T) {
	token, err := SignHS256(Claims{Subject: "u1", Username: "eve", Role: "buyer"}, []byte("k"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	claims, err := ParseAndVerifyHS256(token, []byte("k"), time.Now())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Username != "eve" || claims.Role != "buyer" {
		t.Fatalf("unexpected claims %+v", claims)
	}

	if _, err := ParseAndVerifyHS256(token, []byte("other"), time.Now()); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected signature mismatch, got %v", err)
	}
	parts := strings.Split(token, ".")
	forged, _ := SignHS256(Claims{Subject: "u1", Username: "eve", Role: "admin"}, []byte("k"))
	swapped := parts[0] + "." + strings.Split(forged, ".")[1] + "." + parts[2]
	if _, err := ParseAndVerifyHS256(swapped, []byte("k"), time.Now()); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected swapped payload to fail, got %v", err)
	}
	if _, err := ParseAndVerifyHS256("a.b", []byte("k"), time.Now()); !errors.Is(err, ErrMalformedToken) {
		t.Fatalf("expected malformed token, got %v", err)
	}
}
