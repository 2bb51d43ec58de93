package cache

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

func TestMemoryGetSet(t *testing.T) {
	c := NewMemory(10, 0)
	ctx := context.Background()

	if _, ok := c.Get(ctx, "missing"); ok {
		t.Fatal("expected miss")
	}
	c.Set(ctx, "q", "answer")
	if got, ok := c.Get(ctx, "q"); !ok || got != "answer" {
		t.Fatalf("expected hit, got %q %v", got, ok)
	}
}

func TestMemoryEvictsOldest(t *testing.T) {
	c := NewMemory(3, 0)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		c.Set(ctx, fmt.Sprint(i), "v")
	}

	if c.Len() != 3 {
		t.Fatalf("expected 3 entries, got %d", c.Len())
	}
	if _, ok := c.Get(ctx, "0"); ok {
		t.Fatal("expected oldest entry to be evicted")
	}
	if _, ok := c.Get(ctx, "4"); !ok {
		t.Fatal("expected newest entry to survive")
	}
}

func TestMemoryExpires(t *testing.T) {
	c := NewMemory(10, time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	c.Set(ctx, "q", "answer")
	now = now.Add(59 * time.Second)
	if _, ok := c.Get(ctx, "q"); !ok {
		t.Fatal("expected entry before ttl")
	}
	now = now.Add(time.Second)
	if _, ok := c.Get(ctx, "q"); ok {
		t.Fatal("expected entry to expire")
	}
}

func TestMemoryReinsertAfterExpiryEvictsOldest(t *testing.T) {
	c := NewMemory(3, time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	c.Set(ctx, "a", "old")
	now = now.Add(2 * time.Minute)
	if _, ok := c.Get(ctx, "a"); ok {
		t.Fatal("expected a to expire")
	}

	for _, k := range []string{"b", "a", "c", "d"} {
		c.Set(ctx, k, k)
	}
	if c.Len() != 3 {
		t.Fatalf("expected 3 entries, got %d", c.Len())
	}
	if _, ok := c.Get(ctx, "b"); ok {
		t.Fatal("expected b to be evicted as the oldest insertion")
	}
	if got, ok := c.Get(ctx, "a"); !ok || got != "a" {
		t.Fatalf("expected re-inserted a to survive, got %q %v", got, ok)
	}
	if len(c.order) != 3 {
		t.Fatalf("expected order to track live keys only, got %v", c.order)
	}
}

func TestMemoryDefaultsSize(t *testing.T) {
	if c := NewMemory(0, 0); c.maxEntries != DefaultMaxEntries {
		t.Fatalf("expected default size %d, got %d", DefaultMaxEntries, c.maxEntries)
	}
}

func TestRedisMissOnUnreachableServer(t *testing.T) {
	rdb := goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	defer rdb.Close()

	c := NewRedis(rdb, "", time.Minute, nil)
	c.Set(context.Background(), "q", "answer")
	if _, ok := c.Get(context.Background(), "q"); ok {
		t.Fatal("expected miss when redis is unreachable")
	}
}

func TestRedisRoundTrip(t *testing.T) {
	if os.Getenv("RUN_DB_INTEGRATION_TESTS") != "1" {
		t.Skip("set RUN_DB_INTEGRATION_TESTS=1 to run redis checks")
	}
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	rdb := goredis.NewClient(&goredis.Options{Addr: addr})
	defer rdb.Close()

	c := NewRedis(rdb, "palms-test:", time.Minute, nil)
	ctx := context.Background()
	c.Set(ctx, "q", "answer")
	if got, ok := c.Get(ctx, "q"); !ok || got != "answer" {
		t.Fatalf("expected round trip, got %q %v", got, ok)
	}
	rdb.Del(ctx, "palms-test:q")
}
