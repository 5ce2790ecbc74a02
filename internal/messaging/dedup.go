package messaging

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper claims sender idempotency keys ahead of the store so that a
// retried send is answered without touching the thread sequence.
type Deduper interface {
	// Claim binds key to messageID unless already bound. It returns the bound
	// id and whether this call made the binding.
	Claim(ctx context.Context, key, messageID string) (string, bool, error)
	Release(ctx context.Context, key string) error
}

// RedisDeduper keeps claims in Redis with a TTL.
type RedisDeduper struct {
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisDeduper builds a Redis-backed deduper.
func NewRedisDeduper(rdb *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{rdb: rdb, ttl: ttl, prefix: "msgdedup:"}
}

// Claim implements Deduper.
func (d *RedisDeduper) Claim(ctx context.Context, key, messageID string) (string, bool, error) {
	ok, err := d.rdb.SetNX(ctx, d.prefix+key, messageID, d.ttl).Result()
	if err != nil {
		return "", false, err
	}
	if ok {
		return messageID, true, nil
	}
	existing, err := d.rdb.Get(ctx, d.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return d.Claim(ctx, key, messageID)
	}
	return existing, false, err
}

// Release implements Deduper.
func (d *RedisDeduper) Release(ctx context.Context, key string) error {
	return d.rdb.Del(ctx, d.prefix+key).Err()
}

type claim struct {
	id      string
	expires time.Time
}

// MemoryDeduper is the in-process Deduper.
type MemoryDeduper struct {
	mu     sync.Mutex
	ttl    time.Duration
	claims map[string]claim
	now    func() time.Time
}

// NewMemoryDeduper builds an in-process deduper.
func NewMemoryDeduper(ttl time.Duration) *MemoryDeduper {
	return &MemoryDeduper{ttl: ttl, claims: make(map[string]claim), now: time.Now}
}

// Claim implements Deduper.
func (d *MemoryDeduper) Claim(_ context.Context, key, messageID string) (string, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	if c, ok := d.claims[key]; ok && now.Before(c.expires) {
		return c.id, false, nil
	}
	d.claims[key] = claim{id: messageID, expires: now.Add(d.ttl)}
	return messageID, true, nil
}

// Release implements Deduper.
func (d *MemoryDeduper) Release(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.claims, key)
	return nil
}
