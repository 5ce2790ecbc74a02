package server

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/tradepost/tradepost/internal/config"
	"github.com/tradepost/tradepost/internal/logging"
)

func testConfig() config.Config {
	return config.Config{
		AppName:          "TradePost",
		Env:              "development",
		Port:             "0",
		ShutdownPeriod:   time.Second,
		JWTSecret:        "access-secret",
		RefreshSecret:    "refresh-secret",
		AccessTokenTTL:   time.Minute,
		RefreshTokenTTL:  time.Hour,
		LoginAttempts:    5,
		BanSweepInterval: time.Minute,
		MaxBanDuration:   24 * time.Hour,
		AutoBanThreshold: 3,
		AutoBanWindow:    time.Hour,
		AutoBanDuration:  time.Hour,
		MessageDedupTTL:  time.Hour,
		AdminUsername:    "ada",
		AdminPassword:    "admin-password",
	}
}

type client struct {
	t   *testing.T
	app *fiber.App
}

func (c client) do(method, path, token, body string) (int, map[string]any) {
	c.t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}
	resp, err := c.app.Test(req, -1)
	if err != nil {
		c.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func (c client) login(username, password string) string {
	c.t.Helper()
	status, body := c.do(fiber.MethodPost, "/api/v1/auth/login", "",
		`{"username":"`+username+`","password":"`+password+`"}`)
	if status != fiber.StatusOK {
		c.t.Fatalf("login %s: status %d, body %v", username, status, body)
	}
	token, _ := body["access_token"].(string)
	if token == "" {
		c.t.Fatalf("login %s: no access token in %v", username, body)
	}
	return token
}

func (c client) expect(method, path, token, body string, want int) map[string]any {
	c.t.Helper()
	status, out := c.do(method, path, token, body)
	if status != want {
		c.t.Fatalf("%s %s: expected %d, got %d (%v)", method, path, want, status, out)
	}
	return out
}

func newTestServer(t *testing.T) client {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	srv, err := New(ctx, testConfig(), nil, nil, logging.Discard())
	if err != nil {
		cancel()
		t.Fatalf("new server: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- srv.background(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return client{t: t, app: srv.App()}
}

func TestNewRequiresBackendsOutsideDev(t *testing.T) {
	cfg := testConfig()
	cfg.Env = "production"
	if _, err := New(context.Background(), cfg, nil, nil, logging.Discard()); err == nil {
		t.Fatalf("production without postgres and redis should fail")
	}
}

func TestHealthAndPing(t *testing.T) {
	c := newTestServer(t)

	body := c.expect(fiber.MethodGet, "/healthz", "", "", fiber.StatusOK)
	backends, _ := body["status"].(map[string]any)
	if backends["postgres"] != "disabled" {
		t.Fatalf("expected postgres disabled, got %v", backends["postgres"])
	}

	body = c.expect(fiber.MethodGet, "/api/v1/ping", "", "", fiber.StatusOK)
	if id, _ := body["request_id"].(string); id == "" {
		t.Fatalf("ping should echo a request id: %v", body)
	}
}

func TestBannedUserFlow(t *testing.T) {
	c := newTestServer(t)

	c.expect(fiber.MethodPost, "/api/v1/auth/register", "", `{"username":"bea","password":"password123"}`, fiber.StatusCreated)
	c.expect(fiber.MethodPost, "/api/v1/auth/register", "", `{"username":"sam","password":"password123","role":"seller"}`, fiber.StatusCreated)

	admin := c.login("ada", "admin-password")
	bea := c.login("bea", "password123")
	sam := c.login("sam", "password123")

	c.expect(fiber.MethodGet, "/api/v1/me", "", "", fiber.StatusUnauthorized)
	body := c.expect(fiber.MethodGet, "/api/v1/me", bea, "", fiber.StatusOK)
	if id, _ := body["wallet_id"].(string); id == "" {
		t.Fatalf("profile should carry a wallet id: %v", body)
	}

	c.expect(fiber.MethodPost, "/api/v1/threads/sam/messages", bea, `{"body":"hello there"}`, fiber.StatusCreated)

	banBody := `{"username":"bea","reason":"spam links","type":"temporary","duration_seconds":3600}`
	c.expect(fiber.MethodPost, "/api/v1/admin/bans", sam, banBody, fiber.StatusForbidden)
	ban := c.expect(fiber.MethodPost, "/api/v1/admin/bans", admin, banBody, fiber.StatusCreated)
	banID, _ := ban["id"].(string)

	body = c.expect(fiber.MethodGet, "/api/v1/threads", bea, "", fiber.StatusForbidden)
	if _, ok := body["ban"]; !ok {
		t.Fatalf("forbidden response should describe the ban: %v", body)
	}

	body = c.expect(fiber.MethodGet, "/api/v1/me", bea, "", fiber.StatusOK)
	if _, ok := body["ban"]; !ok {
		t.Fatalf("profile should show the active ban: %v", body)
	}

	body = c.expect(fiber.MethodGet, "/api/v1/bans/me", bea, "", fiber.StatusOK)
	if body["active"] == nil {
		t.Fatalf("ban status should include the active ban: %v", body)
	}

	c.expect(fiber.MethodPost, "/api/v1/bans/"+banID+"/appeal", bea, `{"message":"I only shared my own shop link"}`, fiber.StatusCreated)

	body = c.expect(fiber.MethodGet, "/api/v1/admin/analytics", admin, "", fiber.StatusOK)
	moderation, _ := body["moderation"].(map[string]any)
	if n, _ := moderation["appeals_pending"].(float64); n != 1 {
		t.Fatalf("expected one pending appeal, got %v", moderation["appeals_pending"])
	}
	messaging, _ := body["messaging"].(map[string]any)
	if n, _ := messaging["messages"].(float64); n != 1 {
		t.Fatalf("expected one message, got %v", messaging["messages"])
	}
}
