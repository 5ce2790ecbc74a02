package search

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/tradepost/tradepost/internal/logging"
	"github.com/tradepost/tradepost/internal/messaging"
)

type fakeMeili struct {
	mu      sync.Mutex
	queries []map[string]any
	hits    []document
}

func (f *fakeMeili) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/health":
		_, _ = io.WriteString(w, `{"status":"available"}`)
	case "/multi-search":
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.queries = append(f.queries, body)
		hits := f.hits
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{{
				"indexUid":           messagesIndex,
				"hits":               hits,
				"query":              "",
				"processingTimeMs":   1,
				"limit":              20,
				"offset":             0,
				"estimatedTotalHits": len(hits),
			}},
		})
	default:
		w.WriteHeader(http.StatusAccepted)
		_, _ = io.WriteString(w, `{"taskUid":1,"indexUid":"`+messagesIndex+`","status":"enqueued","type":"settingsUpdate","enqueuedAt":"2026-01-01T00:00:00Z"}`)
	}
}

func TestMeiliSearchFiltersByParticipant(t *testing.T) {
	sent := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	fake := &fakeMeili{hits: []document{toDocument(messaging.Message{
		ID: "m-1", ThreadID: "alice:bob", Seq: 3, Sender: "alice", Recipient: "bob",
		Body: "is the lamp still available?", Kind: messaging.KindText, SentAt: sent,
	})}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	m := NewMeili(srv.URL, "key", logging.Discard())
	if !m.Healthy() {
		t.Fatalf("expected meili to report healthy")
	}

	hits, err := m.Search(context.Background(), "bob", "lamp", 20)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(hits))
	}
	if hits[0].ID != "m-1" || hits[0].Seq != 3 || !hits[0].SentAt.Equal(sent) {
		t.Fatalf("unexpected hit %+v", hits[0])
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.queries) != 1 {
		t.Fatalf("expected one multi-search call, got %d", len(fake.queries))
	}
	queries, _ := fake.queries[0]["queries"].([]any)
	if len(queries) != 1 {
		t.Fatalf("expected one query, got %d", len(queries))
	}
	q, _ := queries[0].(map[string]any)
	if q["filter"] != `participants = "bob"` {
		t.Fatalf("search must be scoped to the caller, filter=%v", q["filter"])
	}
	if q["q"] != "lamp" {
		t.Fatalf("unexpected query text %v", q["q"])
	}
}

func TestMeiliUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	m := NewMeili(url, "", logging.Discard())
	if m.Healthy() {
		t.Fatalf("closed server should not be healthy")
	}
	if _, err := m.Search(context.Background(), "bob", "lamp", 20); err == nil {
		t.Fatalf("expected search error against a closed server")
	}
}

func TestDocumentKeepsParticipants(t *testing.T) {
	d := toDocument(messaging.Message{ID: "m-2", ThreadID: "a:b", Sender: "b", Recipient: "a", Body: "hi"})
	got := slices.Clone(d.Participants)
	slices.Sort(got)
	if !slices.Equal(got, []string{"a", "b"}) {
		t.Fatalf("expected participants a and b, got %v", d.Participants)
	}
	if d.message().Body != "hi" {
		t.Fatalf("document should round trip the body")
	}
}
