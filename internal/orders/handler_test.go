package orders

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
)

func setupHandlerApp(f *fixture, username, role string) *fiber.App {
	h := NewHandler(f.svc)
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("user_id", f.users[username].ID)
		c.Locals("username", username)
		c.Locals("role", role)
		return c.Next()
	})
	app.Post("/custom-requests", h.Create)
	app.Get("/custom-requests/:requestId", h.Get)
	app.Post("/custom-requests/:requestId/quote", h.Quote)
	app.Post("/custom-requests/:requestId/accept", h.Accept)
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

func TestHandlerCreateAndQuote(t *testing.T) {
	f := newFixture(t)
	buyer := setupHandlerApp(f, "bea", "buyer")
	seller := setupHandlerApp(f, "sam", "seller")

	status, body := call(t, buyer, fiber.MethodPost, "/custom-requests",
		`{"seller":"sam","title":"Logo sketch","description":"Three concepts"}`)
	if status != fiber.StatusCreated {
		t.Fatalf("expected %d got %d (%v)", fiber.StatusCreated, status, body)
	}
	id, _ := body["id"].(string)

	status, _ = call(t, buyer, fiber.MethodPost, "/custom-requests/"+id+"/quote", `{"price":500}`)
	if status != fiber.StatusForbidden {
		t.Fatalf("buyer quote: expected %d got %d", fiber.StatusForbidden, status)
	}
	status, _ = call(t, buyer, fiber.MethodPost, "/custom-requests/"+id+"/accept", "")
	if status != fiber.StatusConflict {
		t.Fatalf("early accept: expected %d got %d", fiber.StatusConflict, status)
	}

	status, body = call(t, seller, fiber.MethodPost, "/custom-requests/"+id+"/quote", `{"price":500}`)
	if status != fiber.StatusOK || body["status"] != string(StatusQuoted) {
		t.Fatalf("seller quote: %d %v", status, body)
	}

	outsider := setupHandlerApp(f, "uma", "seller")
	status, _ = call(t, outsider, fiber.MethodGet, "/custom-requests/"+id, "")
	if status != fiber.StatusForbidden {
		t.Fatalf("outsider get: expected %d got %d", fiber.StatusForbidden, status)
	}
	status, _ = call(t, buyer, fiber.MethodGet, "/custom-requests/missing", "")
	if status != fiber.StatusNotFound {
		t.Fatalf("missing: expected %d got %d", fiber.StatusNotFound, status)
	}
}

func TestHandlerRejectsUnverifiedSeller(t *testing.T) {
	f := newFixture(t)
	app := setupHandlerApp(f, "bea", "buyer")
	status, _ := call(t, app, fiber.MethodPost, "/custom-requests",
		`{"seller":"uma","title":"Logo sketch","description":"Three concepts"}`)
	if status != fiber.StatusBadRequest {
		t.Fatalf("expected %d got %d", fiber.StatusBadRequest, status)
	}
}
