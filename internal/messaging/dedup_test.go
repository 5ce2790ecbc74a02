package messaging

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRedisDeduperClaimsOnce(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	d := NewRedisDeduper(rdb, time.Minute)
	ctx := context.Background()

	id, claimed, err := d.Claim(ctx, "alice:c-1", "m-1")
	if err != nil || !claimed || id != "m-1" {
		t.Fatalf("first claim: id=%s claimed=%v err=%v", id, claimed, err)
	}
	id, claimed, err = d.Claim(ctx, "alice:c-1", "m-2")
	if err != nil || claimed || id != "m-1" {
		t.Fatalf("second claim should return m-1: id=%s claimed=%v err=%v", id, claimed, err)
	}
	if ttl := mr.TTL("msgdedup:alice:c-1"); ttl != time.Minute {
		t.Fatalf("expected ttl %s got %s", time.Minute, ttl)
	}

	mr.FastForward(2 * time.Minute)
	if _, claimed, _ = d.Claim(ctx, "alice:c-1", "m-3"); !claimed {
		t.Fatalf("expired key should be claimable")
	}
	if err := d.Release(ctx, "alice:c-1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if mr.Exists("msgdedup:alice:c-1") {
		t.Fatalf("released key still present")
	}
}

func TestMemoryDeduperExpires(t *testing.T) {
	d := NewMemoryDeduper(time.Minute)
	now := time.Now()
	d.now = func() time.Time { return now }
	ctx := context.Background()

	if _, claimed, _ := d.Claim(ctx, "k", "a"); !claimed {
		t.Fatalf("first claim should succeed")
	}
	if id, claimed, _ := d.Claim(ctx, "k", "b"); claimed || id != "a" {
		t.Fatalf("expected existing claim a, got %s claimed=%v", id, claimed)
	}
	now = now.Add(time.Minute)
	if _, claimed, _ := d.Claim(ctx, "k", "c"); !claimed {
		t.Fatalf("claim should be free after ttl")
	}
}
