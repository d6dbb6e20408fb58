package ratelimit

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func redisTestStore(t *testing.T) *RedisStore {
	t.Helper()
	url := os.Getenv("REDIS_URL")
	if url == "" {
		url = "redis://localhost:6379/15"
	}
	store, err := NewRedisStore(url)
	if err != nil {
		t.Skipf("Skipping integration test: Redis not available (%v)", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestNewRedisStore_BadURL(t *testing.T) {
	t.Parallel()
	if _, err := NewRedisStore("not-a-url://"); err == nil {
		t.Error("expected error for malformed URL")
	}
}

func TestRedisStore_Integration(t *testing.T) {
	store := redisTestStore(t)
	ctx := context.Background()
	key := fmt.Sprintf("it_test:%d", time.Now().UnixNano())

	if _, found, err := store.Get(ctx, key); err != nil || found {
		t.Fatalf("Get() missing key = found %v err %v", found, err)
	}
	if err := store.SetWithTTL(ctx, key, `{"count":1,"resetAt":1}`, time.Minute); err != nil {
		t.Fatalf("SetWithTTL() error = %v", err)
	}
	v, found, err := store.Get(ctx, key)
	if err != nil || !found || v != `{"count":1,"resetAt":1}` {
		t.Fatalf("Get() = %q, %v, %v", v, found, err)
	}
	ttl := store.Client().PTTL(ctx, key).Val()
	if ttl <= 0 || ttl > time.Minute {
		t.Errorf("PTTL = %v, want within (0, 1m]", ttl)
	}
	if err := store.Delete(ctx, key); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := store.Delete(ctx, key); err != nil {
		t.Errorf("Delete() of missing key error = %v", err)
	}
}

func TestRedisStore_SharedAcrossLimiters(t *testing.T) {
	store := redisTestStore(t)
	policy := Policy{Name: "it", Limit: 1, Window: time.Minute, Namespace: fmt.Sprintf("it:%d", time.Now().UnixNano())}

	// Two limiters simulate two server instances.
	a := New(store)
	b := New(NewRedisStoreFromClient(store.Client()))

	if d := a.Check(context.Background(), "ip", policy); !d.Success {
		t.Fatal("instance A denied first request")
	}
	if d := b.Check(context.Background(), "ip", policy); d.Success {
		t.Error("instance B did not see the window written by instance A")
	}
	_ = a.Reset(context.Background(), "ip", policy.Namespace)
}

func TestRedisStore_UnreachableFailsOpen(t *testing.T) {
	t.Parallel()
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	l := New(NewRedisStoreFromClient(client))
	d := l.Check(context.Background(), "ip", testPolicy(3, time.Minute))
	if !d.Success || d.Remaining != 3 {
		t.Errorf("got %+v, want fail-open", d)
	}
}
