// Package queue implements the FIFO waiting list of participants looking for
// a partner. The list lives in Redis; the join primitive is a single Lua
// script so that two concurrent joiners can never both take the same waiter
// or enqueue the same id twice.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// WaitingKey is the Redis list holding waiting participant ids, oldest first.
const WaitingKey = "match:waiting"

// ErrQueueFull is returned by TryPairOrEnqueue when the queue is at capacity
// and no partner could be taken. The queue is left untouched; the caller may
// retry later.
var ErrQueueFull = errors.New("queue: waiting list is full")

// tryPairOrEnqueueLua atomically takes the oldest eligible waiter or, failing
// that, appends the caller. ARGV[1] is the caller id, ARGV[2] the capacity,
// ARGV[3..] ids the caller has already inspected and must not pair with here.
//
// Returns {1, partner} when a waiter was taken, {0} when the caller was
// enqueued, {-1} when the queue is full.
const tryPairOrEnqueueLua = `
local key = KEYS[1]
local self = ARGV[1]
local max = tonumber(ARGV[2])

local skip = {}
for i = 3, #ARGV do
    skip[ARGV[i]] = true
end

local members = redis.call('LRANGE', key, 0, -1)
for _, id in ipairs(members) do
    if id ~= self and not skip[id] then
        redis.call('LREM', key, 1, id)
        return {1, id}
    end
end

if #members >= max then
    return {-1}
end

redis.call('LREM', key, 0, self)
redis.call('RPUSH', key, self)
return {0}
`

// Queue manages the Redis waiting list.
type Queue struct {
	client  *redis.Client
	maxSize int
	script  *redis.Script
}

// New creates a waiting queue with the given capacity.
func New(client *redis.Client, maxSize int) *Queue {
	return &Queue{
		client:  client,
		maxSize: maxSize,
		script:  redis.NewScript(tryPairOrEnqueueLua),
	}
}

// TryPairOrEnqueue atomically removes and returns the oldest waiter that is
// neither the caller nor listed in exclude; if no such waiter exists, the
// caller is appended instead (enqueued=true). ErrQueueFull is returned when
// the list is at capacity and nobody could be taken.
//
// The caller must not already be queued or paired; the engine checks that
// before calling.
func (q *Queue) TryPairOrEnqueue(ctx context.Context, id int64, exclude []int64) (partner int64, enqueued bool, err error) {
	args := make([]interface{}, 0, 2+len(exclude))
	args = append(args, strconv.FormatInt(id, 10), q.maxSize)
	for _, ex := range exclude {
		args = append(args, strconv.FormatInt(ex, 10))
	}

	res, err := q.script.Run(ctx, q.client, []string{WaitingKey}, args...).Slice()
	if err != nil {
		return 0, false, fmt.Errorf("queue: try pair or enqueue %d: %w", id, err)
	}
	if len(res) == 0 {
		return 0, false, fmt.Errorf("queue: empty script reply for %d", id)
	}

	code, ok := res[0].(int64)
	if !ok {
		return 0, false, fmt.Errorf("queue: unexpected script reply %v", res[0])
	}

	switch code {
	case 1:
		raw, _ := res[1].(string)
		partner, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return 0, false, fmt.Errorf("queue: bad member %q: %w", raw, err)
		}
		return partner, false, nil
	case 0:
		return 0, true, nil
	case -1:
		return 0, false, ErrQueueFull
	}
	return 0, false, fmt.Errorf("queue: unexpected script code %d", code)
}

// Leave removes every occurrence of id from the waiting list and reports
// whether anything was removed. Safe to call repeatedly.
func (q *Queue) Leave(ctx context.Context, id int64) (bool, error) {
	n, err := q.client.LRem(ctx, WaitingKey, 0, strconv.FormatInt(id, 10)).Result()
	if err != nil {
		return false, fmt.Errorf("queue: leave %d: %w", id, err)
	}
	return n > 0, nil
}

// Size returns the number of waiting participants.
func (q *Queue) Size(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, WaitingKey).Result()
	if err != nil {
		return 0, fmt.Errorf("queue: size: %w", err)
	}
	return n, nil
}

// Members returns a snapshot of the waiting list, oldest first. Entries may
// already be gone by the time the caller acts on them; anything done with a
// member must re-validate with Leave before committing.
func (q *Queue) Members(ctx context.Context) ([]int64, error) {
	raw, err := q.client.LRange(ctx, WaitingKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("queue: members: %w", err)
	}

	ids := make([]int64, 0, len(raw))
	for _, v := range raw {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue // foreign junk in the list, skip it
		}
		ids = append(ids, id)
	}
	return ids, nil
}
