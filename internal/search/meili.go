package search

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"

	"github.com/tradepost/tradepost/internal/logging"
	"github.com/tradepost/tradepost/internal/messaging"
)

const messagesIndex = "tradepost_messages"

// document is the indexed shape of a message. Participants drives the
// per-user filter.
type document struct {
	ID           string   `json:"id"`
	ThreadID     string   `json:"thread_id"`
	Seq          int64    `json:"seq"`
	Sender       string   `json:"sender"`
	Recipient    string   `json:"recipient"`
	Participants []string `json:"participants"`
	Body         string   `json:"body"`
	Kind         string   `json:"kind"`
	RequestID    string   `json:"request_id,omitempty"`
	SentAt       int64    `json:"sent_at"`
}

func toDocument(m messaging.Message) document {
	return document{
		ID:           m.ID,
		ThreadID:     m.ThreadID,
		Seq:          m.Seq,
		Sender:       m.Sender,
		Recipient:    m.Recipient,
		Participants: []string{m.Sender, m.Recipient},
		Body:         m.Body,
		Kind:         m.Kind,
		RequestID:    m.RequestID,
		SentAt:       m.SentAt.Unix(),
	}
}

func (d document) message() messaging.Message {
	return messaging.Message{
		ID:        d.ID,
		ThreadID:  d.ThreadID,
		Seq:       d.Seq,
		Sender:    d.Sender,
		Recipient: d.Recipient,
		Body:      d.Body,
		Kind:      d.Kind,
		RequestID: d.RequestID,
		SentAt:    time.Unix(d.SentAt, 0).UTC(),
	}
}

// Meili indexes messages in Meilisearch and answers per-user queries.
type Meili struct {
	client   meili.ServiceManager
	healthy  atomic.Bool
	interval time.Duration
	logger   *slog.Logger
}

// NewMeili builds a Meilisearch-backed searcher. It checks the server once;
// Run keeps the health flag current afterwards.
func NewMeili(url, apiKey string, logger *slog.Logger) *Meili {
	m := &Meili{
		client:   meili.New(url, meili.WithAPIKey(apiKey)),
		interval: 10 * time.Second,
		logger:   logging.Component(logger, "search"),
	}
	m.checkHealth()
	return m
}

func (m *Meili) checkHealth() {
	_, err := m.client.Health()
	was := m.healthy.Swap(err == nil)
	switch {
	case err != nil && was:
		m.logger.Warn("meilisearch unavailable", slog.Any("error", err))
	case err == nil && !was:
		m.logger.Info("meilisearch available, configuring index")
		m.configure()
	}
}

func (m *Meili) configure() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{Uid: messagesIndex, PrimaryKey: "id"}); err != nil {
		m.logger.Debug("create index (may already exist)", slog.Any("error", err))
	}
	index := m.client.Index(messagesIndex)
	filterable := []interface{}{"participants", "thread_id", "kind"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		m.logger.Warn("update filterable attributes", slog.Any("error", err))
	}
	searchable := []string{"body"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		m.logger.Warn("update searchable attributes", slog.Any("error", err))
	}
}

// Run re-checks server health until ctx is done.
func (m *Meili) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.checkHealth()
		}
	}
}

// Healthy reports whether Meilisearch answered the last health check.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Index adds or replaces a message document.
func (m *Meili) Index(_ context.Context, msg messaging.Message) error {
	_, err := m.client.Index(messagesIndex).AddDocuments([]document{toDocument(msg)}, nil)
	return err
}

// Search returns the user's messages matching query.
func (m *Meili) Search(_ context.Context, username, query string, limit int) ([]messaging.Message, error) {
	if !m.healthy.Load() {
		return nil, fmt.Errorf("meilisearch unhealthy")
	}
	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: []*meili.SearchRequest{{
			IndexUID: messagesIndex,
			Query:    query,
			Limit:    int64(limit),
			Filter:   fmt.Sprintf("participants = %q", username),
		}},
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, fmt.Errorf("meilisearch search: %w", err)
	}
	out := []messaging.Message{}
	for _, res := range resp.Results {
		for _, hit := range res.Hits {
			d, err := decodeHit(hit)
			if err != nil {
				return nil, err
			}
			out = append(out, d.message())
		}
	}
	return out, nil
}

func decodeHit(hit meili.Hit) (document, error) {
	raw, err := json.Marshal(hit)
	if err != nil {
		return document{}, err
	}
	var d document
	if err := json.Unmarshal(raw, &d); err != nil {
		return document{}, fmt.Errorf("decode search hit: %w", err)
	}
	return d, nil
}
