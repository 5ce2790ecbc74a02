package moderation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

// PermanentCacheTTL bounds how long a permanent ban stays cached before the
// store is consulted again.
const PermanentCacheTTL = 24 * time.Hour

// BanCache keeps active bans close to the request path.
type BanCache interface {
	// Get returns the cached active ban for a user. ok is false on a miss.
	Get(ctx context.Context, userID string) (ban Ban, ok bool, err error)
	Put(ctx context.Context, ban Ban, now time.Time) error
	Evict(ctx context.Context, userID string) error
}

// RedisBanCache stores active bans with a TTL equal to the time left on the
// ban, so entries vanish on their own when a temporary ban runs out.
type RedisBanCache struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisBanCache builds a ban cache on Redis.
func NewRedisBanCache(rdb *redis.Client) *RedisBanCache {
	return &RedisBanCache{rdb: rdb, prefix: "ban:active:"}
}

func (c *RedisBanCache) key(userID string) string { return c.prefix + userID }

// Get implements BanCache.
func (c *RedisBanCache) Get(ctx context.Context, userID string) (Ban, bool, error) {
	raw, err := c.rdb.Get(ctx, c.key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Ban{}, false, nil
	}
	if err != nil {
		return Ban{}, false, err
	}
	var ban Ban
	if err := msgpack.Unmarshal(raw, &ban); err != nil {
		return Ban{}, false, fmt.Errorf("decode cached ban: %w", err)
	}
	return ban, true, nil
}

// Put implements BanCache. Expired or inactive bans are evicted instead.
func (c *RedisBanCache) Put(ctx context.Context, ban Ban, now time.Time) error {
	ttl := PermanentCacheTTL
	if ban.Type == BanTemporary {
		ttl = ban.Remaining(now)
	}
	if !ban.Active || ttl <= 0 {
		return c.Evict(ctx, ban.UserID)
	}
	ban.Appeal = nil
	data, err := msgpack.Marshal(ban)
	if err != nil {
		return fmt.Errorf("encode ban: %w", err)
	}
	return c.rdb.Set(ctx, c.key(ban.UserID), data, ttl).Err()
}

// Evict implements BanCache.
func (c *RedisBanCache) Evict(ctx context.Context, userID string) error {
	return c.rdb.Del(ctx, c.key(userID)).Err()
}

// NoopBanCache always misses. Used when Redis is not configured.
type NoopBanCache struct{}

func (NoopBanCache) Get(context.Context, string) (Ban, bool, error) { return Ban{}, false, nil }
func (NoopBanCache) Put(context.Context, Ban, time.Time) error      { return nil }
func (NoopBanCache) Evict(context.Context, string) error            { return nil }
