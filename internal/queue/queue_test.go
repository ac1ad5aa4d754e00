package queue

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"

	"github.com/redis/go-redis/v9"
)

// setupTestQueue creates a Queue connected to a test Redis instance.
// Requires Redis running on localhost:6379. Tests are skipped if unavailable.
func setupTestQueue(t *testing.T, maxSize int) (*Queue, context.Context) {
	t.Helper()

	rdb := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // use DB 15 for tests to avoid conflicts
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

	return New(rdb, maxSize), ctx
}

func TestTryPairOrEnqueue_EmptyQueueEnqueues(t *testing.T) {
	q, ctx := setupTestQueue(t, 10)

	partner, enqueued, err := q.TryPairOrEnqueue(ctx, 100, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !enqueued {
		t.Fatalf("expected enqueue, got partner=%d", partner)
	}

	size, err := q.Size(ctx)
	if err != nil {
		t.Fatalf("Size() error: %v", err)
	}
	if size != 1 {
		t.Errorf("expected size 1, got %d", size)
	}
}

func TestTryPairOrEnqueue_TakesOldestWaiter(t *testing.T) {
	q, ctx := setupTestQueue(t, 10)

	for _, id := range []int64{101, 102} {
		if _, enqueued, err := q.TryPairOrEnqueue(ctx, id, nil); err != nil || !enqueued {
			t.Fatalf("failed to enqueue %d: enqueued=%v err=%v", id, enqueued, err)
		}
	}

	partner, enqueued, err := q.TryPairOrEnqueue(ctx, 103, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if enqueued {
		t.Fatal("expected a partner, got enqueued")
	}
	if partner != 101 {
		t.Errorf("expected oldest waiter 101, got %d", partner)
	}

	members, _ := q.Members(ctx)
	if len(members) != 1 || members[0] != 102 {
		t.Errorf("expected [102] remaining, got %v", members)
	}
}

func TestTryPairOrEnqueue_RespectsExclusions(t *testing.T) {
	q, ctx := setupTestQueue(t, 10)

	q.TryPairOrEnqueue(ctx, 201, nil)
	q.TryPairOrEnqueue(ctx, 202, nil)

	// Both waiters excluded: the caller must be enqueued instead.
	_, enqueued, err := q.TryPairOrEnqueue(ctx, 203, []int64{201, 202})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !enqueued {
		t.Fatal("expected enqueue when all waiters are excluded")
	}

	// Only the head excluded: the second waiter is taken.
	partner, enqueued, err := q.TryPairOrEnqueue(ctx, 204, []int64{201})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if enqueued {
		t.Fatal("expected a partner")
	}
	if partner != 202 {
		t.Errorf("expected partner 202, got %d", partner)
	}
}

func TestTryPairOrEnqueue_CapacityError(t *testing.T) {
	q, ctx := setupTestQueue(t, 2)

	q.TryPairOrEnqueue(ctx, 301, nil)
	q.TryPairOrEnqueue(ctx, 302, nil)

	// Exclude both waiters so the third caller can only enqueue — which the
	// capacity bound forbids.
	_, _, err := q.TryPairOrEnqueue(ctx, 303, []int64{301, 302})
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}

	// The failed call must not have altered the queue.
	size, _ := q.Size(ctx)
	if size != 2 {
		t.Errorf("queue size changed on capacity error: %d", size)
	}
}

func TestTryPairOrEnqueue_NeverDoubleEnqueues(t *testing.T) {
	q, ctx := setupTestQueue(t, 10)

	q.TryPairOrEnqueue(ctx, 401, nil)
	// Calling again for the same id must not create a second entry.
	_, enqueued, err := q.TryPairOrEnqueue(ctx, 401, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !enqueued {
		t.Fatal("expected enqueue (self is never taken as partner)")
	}

	size, _ := q.Size(ctx)
	if size != 1 {
		t.Errorf("expected single entry for id 401, got size %d", size)
	}
}

func TestLeave_Idempotent(t *testing.T) {
	q, ctx := setupTestQueue(t, 10)

	q.TryPairOrEnqueue(ctx, 501, nil)

	removed, err := q.Leave(ctx, 501)
	if err != nil {
		t.Fatalf("Leave() error: %v", err)
	}
	if !removed {
		t.Fatal("expected first Leave to remove the entry")
	}

	removed, err = q.Leave(ctx, 501)
	if err != nil {
		t.Fatalf("Leave() error: %v", err)
	}
	if removed {
		t.Error("second Leave should remove nothing")
	}
}

func TestMembers_FIFOOrder(t *testing.T) {
	q, ctx := setupTestQueue(t, 10)

	for _, id := range []int64{601, 602, 603} {
		q.TryPairOrEnqueue(ctx, id, []int64{601, 602, 603})
	}

	members, err := q.Members(ctx)
	if err != nil {
		t.Fatalf("Members() error: %v", err)
	}
	want := []int64{601, 602, 603}
	if len(members) != len(want) {
		t.Fatalf("expected %d members, got %v", len(want), members)
	}
	for i, id := range want {
		if members[i] != id {
			t.Errorf("position %d: expected %d, got %d", i, id, members[i])
		}
	}
}

func TestTryPairOrEnqueue_ConcurrentCallsFormValidMatching(t *testing.T) {
	q, ctx := setupTestQueue(t, 100)

	const n = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	paired := make(map[int64]int64) // caller -> partner taken

	for i := 0; i < n; i++ {
		id := int64(1000 + i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			partner, enqueued, err := q.TryPairOrEnqueue(ctx, id, nil)
			if err != nil {
				t.Errorf("TryPairOrEnqueue(%d): %v", id, err)
				return
			}
			if !enqueued {
				mu.Lock()
				paired[id] = partner
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// No waiter may have been handed to two different callers, and nobody
	// pairs with themselves.
	seen := make(map[int64]int64)
	for caller, partner := range paired {
		if caller == partner {
			t.Errorf("%d paired with itself", caller)
		}
		if prev, ok := seen[partner]; ok {
			t.Errorf("waiter %d taken by both %d and %d", partner, prev, caller)
		}
		seen[partner] = caller
	}

	// Every id is accounted for exactly once: still queued, took a partner,
	// or was taken as one.
	size, _ := q.Size(ctx)
	if int(size)+2*len(paired) != n {
		t.Errorf("accounting mismatch: queued=%d paired-calls=%d total=%d", size, len(paired), n)
	}
}

func TestMembers_SkipsForeignEntries(t *testing.T) {
	q, ctx := setupTestQueue(t, 10)

	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 15})
	defer rdb.Close()
	rdb.RPush(ctx, WaitingKey, "not-a-number", strconv.FormatInt(701, 10))

	members, err := q.Members(ctx)
	if err != nil {
		t.Fatalf("Members() error: %v", err)
	}
	if len(members) != 1 || members[0] != 701 {
		t.Errorf("expected [701], got %v", members)
	}
}
