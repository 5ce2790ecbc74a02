package notification

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

// InboxCapacity bounds the number of notifications kept per user.
const InboxCapacity = 100

// Inbox stores per-user notifications for later retrieval.
type Inbox interface {
	Notifier
	List(ctx context.Context, userID string, limit int) ([]Message, error)
	Unread(ctx context.Context, userID string) (int64, error)
	MarkRead(ctx context.Context, userID string) error
}

func stamp(m Message) Message {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.At.IsZero() {
		m.At = time.Now().UTC()
	}
	return m
}

func clamp(limit int) int {
	if limit <= 0 || limit > InboxCapacity {
		return 20
	}
	return limit
}

// RedisInbox keeps a capped list and an unread counter per user.
type RedisInbox struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisInbox builds an inbox on top of Redis.
func NewRedisInbox(rdb *redis.Client) *RedisInbox {
	return &RedisInbox{rdb: rdb, prefix: "inbox:"}
}

func (r *RedisInbox) listKey(userID string) string   { return r.prefix + userID }
func (r *RedisInbox) unreadKey(userID string) string { return r.prefix + userID + ":unread" }

// Send stores the message at the head of the recipient's inbox.
func (r *RedisInbox) Send(ctx context.Context, message Message) error {
	if message.Destination == "" {
		return nil
	}
	message = stamp(message)
	data, err := msgpack.Marshal(message)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	pipe := r.rdb.TxPipeline()
	pipe.LPush(ctx, r.listKey(message.Destination), data)
	pipe.LTrim(ctx, r.listKey(message.Destination), 0, InboxCapacity-1)
	pipe.Incr(ctx, r.unreadKey(message.Destination))
	_, err = pipe.Exec(ctx)
	return err
}

// List returns the newest notifications first.
func (r *RedisInbox) List(ctx context.Context, userID string, limit int) ([]Message, error) {
	raw, err := r.rdb.LRange(ctx, r.listKey(userID), 0, int64(clamp(limit)-1)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Message, 0, len(raw))
	for _, item := range raw {
		var m Message
		if err := msgpack.Unmarshal([]byte(item), &m); err != nil {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// Unread returns the unread counter, capped at the inbox capacity.
func (r *RedisInbox) Unread(ctx context.Context, userID string) (int64, error) {
	n, err := r.rdb.Get(ctx, r.unreadKey(userID)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return min(n, InboxCapacity), nil
}

// MarkRead resets the unread counter.
func (r *RedisInbox) MarkRead(ctx context.Context, userID string) error {
	return r.rdb.Del(ctx, r.unreadKey(userID)).Err()
}

// MemoryInbox is the in-process Inbox used in dev mode and tests.
type MemoryInbox struct {
	mu     sync.Mutex
	items  map[string][]Message
	unread map[string]int64
}

// NewMemoryInbox builds an empty in-memory inbox.
func NewMemoryInbox() *MemoryInbox {
	return &MemoryInbox{items: make(map[string][]Message), unread: make(map[string]int64)}
}

func (m *MemoryInbox) Send(_ context.Context, message Message) error {
	if message.Destination == "" {
		return nil
	}
	message = stamp(message)
	m.mu.Lock()
	defer m.mu.Unlock()
	list := append([]Message{message}, m.items[message.Destination]...)
	if len(list) > InboxCapacity {
		list = list[:InboxCapacity]
	}
	m.items[message.Destination] = list
	m.unread[message.Destination]++
	return nil
}

func (m *MemoryInbox) List(_ context.Context, userID string, limit int) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.items[userID]
	n := min(clamp(limit), len(list))
	out := make([]Message, n)
	copy(out, list[:n])
	return out, nil
}

func (m *MemoryInbox) Unread(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return min(m.unread[userID], InboxCapacity), nil
}

func (m *MemoryInbox) MarkRead(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.unread, userID)
	return nil
}
