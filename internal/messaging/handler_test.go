package messaging

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
)

func setupHandlerApp(t *testing.T, f *fixture, username string) *fiber.App {
	t.Helper()
	h := NewHandler(f.svc)
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("user_id", f.users[username].ID)
		c.Locals("username", username)
		return c.Next()
	})
	app.Get("/threads/:username/messages", h.Messages)
	app.Post("/threads/:username/messages", h.Send)
	app.Post("/blocks/:username", h.Block)
	return app
}

func call(t *testing.T, app *fiber.App, method, path, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func TestSendHandlerReplaysDuplicate(t *testing.T) {
	f := newFixture(t)
	app := setupHandlerApp(t, f, "alice")

	status, body := call(t, app, fiber.MethodPost, "/threads/bob/messages", `{"body":"hello","client_msg_id":"c-1"}`)
	if status != fiber.StatusCreated {
		t.Fatalf("expected %d got %d", fiber.StatusCreated, status)
	}
	first, _ := body["message"].(map[string]any)

	status, body = call(t, app, fiber.MethodPost, "/threads/bob/messages", `{"body":"hello","client_msg_id":"c-1"}`)
	if status != fiber.StatusOK {
		t.Fatalf("expected %d got %d", fiber.StatusOK, status)
	}
	again, _ := body["message"].(map[string]any)
	if body["duplicate"] != true || again["id"] != first["id"] {
		t.Fatalf("expected duplicate of %v, got %v", first["id"], body)
	}

	status, body = call(t, app, fiber.MethodGet, "/threads/bob/messages?after_seq=0", "")
	if status != fiber.StatusOK {
		t.Fatalf("expected %d got %d", fiber.StatusOK, status)
	}
	if msgs, _ := body["messages"].([]any); len(msgs) != 1 {
		t.Fatalf("expected one stored message, got %v", body["messages"])
	}
}

func TestSendHandlerBlocked(t *testing.T) {
	f := newFixture(t)
	bob := setupHandlerApp(t, f, "bob")
	if status, _ := call(t, bob, fiber.MethodPost, "/blocks/alice", ""); status != fiber.StatusNoContent {
		t.Fatalf("expected %d got %d", fiber.StatusNoContent, status)
	}

	alice := setupHandlerApp(t, f, "alice")
	if status, _ := call(t, alice, fiber.MethodPost, "/threads/bob/messages", `{"body":"hello"}`); status != fiber.StatusForbidden {
		t.Fatalf("expected %d got %d", fiber.StatusForbidden, status)
	}
	if status, _ := call(t, alice, fiber.MethodPost, "/threads/alice/messages", `{"body":"hello"}`); status != fiber.StatusBadRequest {
		t.Fatalf("expected %d got %d", fiber.StatusBadRequest, status)
	}
}
