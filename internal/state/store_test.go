package state

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func setupTestStore(t *testing.T) (*Store, *redis.Client, context.Context) {
	t.Helper()

	rdb := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})

	ctx := context.Background()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("skipping: Redis not available: %v", err)
	}

	rdb.FlushDB(ctx)
	t.Cleanup(func() {
		rdb.FlushDB(ctx)
		rdb.Close()
	})

	return NewStore(rdb), rdb, ctx
}

func TestGet_DefaultsToIdle(t *testing.T) {
	s, _, ctx := setupTestStore(t)

	st, err := s.Get(ctx, 42)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if st != Idle {
		t.Errorf("missing record should read as idle, got %s", st)
	}
}

func TestSetAndGet(t *testing.T) {
	s, rdb, ctx := setupTestStore(t)

	if err := s.Set(ctx, 42, Searching, time.Minute); err != nil {
		t.Fatalf("Set() error: %v", err)
	}

	st, err := s.Get(ctx, 42)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if st != Searching {
		t.Errorf("expected searching, got %s", st)
	}

	ttl, _ := rdb.TTL(ctx, Key(42)).Result()
	if ttl <= 0 || ttl > time.Minute {
		t.Errorf("TTL = %v, want (0,1m]", ttl)
	}
}

func TestGet_UnknownValueReadsAsIdle(t *testing.T) {
	s, rdb, ctx := setupTestStore(t)

	rdb.Set(ctx, Key(42), "garbage", time.Minute)

	st, err := s.Get(ctx, 42)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if st != Idle {
		t.Errorf("corrupt value should read as idle, got %s", st)
	}
}

func TestSetIdle_UsesGraceTTL(t *testing.T) {
	s, rdb, ctx := setupTestStore(t)

	if err := s.SetIdle(ctx, 42, 10*time.Second); err != nil {
		t.Fatalf("SetIdle() error: %v", err)
	}

	st, _ := s.Get(ctx, 42)
	if st != Idle {
		t.Errorf("expected idle, got %s", st)
	}
	ttl, _ := rdb.TTL(ctx, Key(42)).Result()
	if ttl <= 0 || ttl > 10*time.Second {
		t.Errorf("grace TTL = %v, want (0,10s]", ttl)
	}
}
