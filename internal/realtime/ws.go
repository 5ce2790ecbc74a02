package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/websocket/v2"
)

// Operations accepted from websocket clients.
const (
	OpPing = "ping"
	OpSync = "sync"
	OpRead = "read"
)

// Envelope is a client request frame.
type Envelope struct {
	ID         *string `json:"id,omitempty"`
	Operation  string  `json:"op"`
	ThreadWith string  `json:"thread_with,omitempty"`
	AfterSeq   int64   `json:"after_seq,omitempty"`
	UptoSeq    int64   `json:"upto_seq,omitempty"`
}

type statusResponse struct {
	ID     *string `json:"id,omitempty"`
	Status string  `json:"status"`
	Count  int     `json:"count,omitempty"`
}

type errorResponse struct {
	ID    *string `json:"id,omitempty"`
	Error string  `json:"error"`
}

// SyncFunc returns the message events of the thread between username and
// other with seq greater than afterSeq, ascending.
type SyncFunc func(ctx context.Context, username, other string, afterSeq int64) ([]Event, error)

// ReadFunc marks messages of the thread as read up to uptoSeq.
type ReadFunc func(ctx context.Context, username, other string, uptoSeq int64) error

// ThreadFunc returns the thread id shared by two usernames.
type ThreadFunc func(a, b string) string

// Options configures the websocket handler.
type Options struct {
	Hub          *Hub
	Sync         SyncFunc
	MarkRead     ReadFunc
	ThreadOf     ThreadFunc
	Logger       *slog.Logger
	RequestLimit time.Duration
}

// WebSocketHandler serves an authenticated connection. The upgrade request
// must already carry the "username" local.
func WebSocketHandler(opts Options) func(*websocket.Conn) {
	if opts.RequestLimit <= 0 {
		opts.RequestLimit = 5 * time.Second
	}
	return func(c *websocket.Conn) {
		username, _ := c.Locals("username").(string)
		if username == "" {
			_ = c.WriteMessage(websocket.TextMessage, mustJSON(errorResponse{Error: "unauthorized"}))
			_ = c.Close()
			return
		}

		client := NewClient(username, func(b []byte) error { return c.WriteMessage(websocket.TextMessage, b) })
		opts.Hub.Register(client)
		defer opts.Hub.Unregister(client)

		for {
			_, msg, err := c.ReadMessage()
			if err != nil {
				opts.Logger.Debug("ws read", slog.String("username", username), slog.Any("error", err))
				return
			}

			var env Envelope
			if err := json.Unmarshal(msg, &env); err != nil {
				client.Reply(mustJSON(errorResponse{Error: fmt.Sprintf("invalid request envelope: %v", err)}))
				continue
			}

			switch env.Operation {
			case OpPing:
				client.Reply(mustJSON(statusResponse{ID: env.ID, Status: "pong"}))

			case OpSync:
				if env.ThreadWith == "" || opts.Sync == nil {
					client.Reply(mustJSON(errorResponse{ID: env.ID, Error: "thread_with is required"}))
					continue
				}
				ctx, cancel := context.WithTimeout(context.Background(), opts.RequestLimit)
				events, err := opts.Sync(ctx, username, env.ThreadWith, env.AfterSeq)
				cancel()
				if err != nil {
					client.Reply(mustJSON(errorResponse{ID: env.ID, Error: err.Error()}))
					continue
				}
				thread := ""
				if opts.ThreadOf != nil {
					thread = opts.ThreadOf(username, env.ThreadWith)
				}
				replayed := opts.Hub.Replay(client, thread, env.AfterSeq, events)
				client.Reply(mustJSON(statusResponse{ID: env.ID, Status: "synced", Count: replayed}))

			case OpRead:
				if env.ThreadWith == "" || opts.MarkRead == nil {
					client.Reply(mustJSON(errorResponse{ID: env.ID, Error: "thread_with is required"}))
					continue
				}
				ctx, cancel := context.WithTimeout(context.Background(), opts.RequestLimit)
				err := opts.MarkRead(ctx, username, env.ThreadWith, env.UptoSeq)
				cancel()
				if err != nil {
					client.Reply(mustJSON(errorResponse{ID: env.ID, Error: err.Error()}))
					continue
				}
				client.Reply(mustJSON(statusResponse{ID: env.ID, Status: "read"}))

			default:
				client.Reply(mustJSON(errorResponse{ID: env.ID, Error: fmt.Sprintf("unknown operation: %s", env.Operation)}))
			}
		}
	}
}

func mustJSON(v any) []byte {
	b, _ := json.Marshal(v)
	return b
}
