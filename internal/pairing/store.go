// Package pairing stores the bidirectional partner mapping for active
// conversations. A pairing is two co-expiring Redis keys (pair:A -> B and
// pair:B -> A) plus both participants' state values; every mutation runs as
// one Lua script so no caller can ever observe half a pairing.
package pairing

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/veilchat/veil/internal/state"
)

// PairPrefix is the Redis key prefix for pairing halves.
const PairPrefix = "pair:"

// ErrMirrorMissing reports a pairing half without its mirror — an invariant
// violation that should never occur. Callers treat it as already-ended and
// log it; the store has already failed closed by the time it is returned.
var ErrMirrorMissing = errors.New("pairing: one-sided record detected")

// createLua creates both pairing halves and moves both participants to
// chatting, all under the conversation TTL. Aborts without writing anything
// if either participant already has a pairing.
//
// KEYS: pair:A, pair:B, state:A, state:B. ARGV: idA, idB, ttl seconds.
const createLua = `
if redis.call('EXISTS', KEYS[1]) == 1 or redis.call('EXISTS', KEYS[2]) == 1 then
    return 0
end
local ttl = tonumber(ARGV[3])
redis.call('SET', KEYS[1], ARGV[2], 'EX', ttl)
redis.call('SET', KEYS[2], ARGV[1], 'EX', ttl)
redis.call('SET', KEYS[3], 'chatting', 'EX', ttl)
redis.call('SET', KEYS[4], 'chatting', 'EX', ttl)
return 1
`

// endLua tears a pairing down from one side: deletes both halves and idles
// both participants with a short grace TTL. The partner's key is derived
// inside the script, so the whole teardown stays atomic.
//
// Returns {0} when the caller has no pairing, {1, partner} on a clean
// teardown, {2, partner} when the mirror half was missing or pointed at
// someone else (the caller's own records are still cleaned up).
const endLua = `
local partner = redis.call('GET', KEYS[1])
if not partner then
    return {0}
end

local grace = tonumber(ARGV[2])
redis.call('DEL', KEYS[1])
redis.call('SET', KEYS[2], 'idle', 'EX', grace)

local mirror = redis.call('GET', ARGV[3] .. partner)
if mirror ~= ARGV[1] then
    return {2, partner}
end

redis.call('DEL', ARGV[3] .. partner)
redis.call('SET', ARGV[4] .. partner, 'idle', 'EX', grace)
return {1, partner}
`

// Store manages pairing records in Redis.
type Store struct {
	client       *redis.Client
	createScript *redis.Script
	endScript    *redis.Script
}

// NewStore creates a pairing store using the provided Redis client.
func NewStore(client *redis.Client) *Store {
	return &Store{
		client:       client,
		createScript: redis.NewScript(createLua),
		endScript:    redis.NewScript(endLua),
	}
}

func pairKey(id int64) string {
	return PairPrefix + strconv.FormatInt(id, 10)
}

// Create atomically writes both pairing halves and both chatting states with
// the conversation TTL. Returns false without touching anything if either
// participant is already paired — the caller should move on to another
// candidate.
func (s *Store) Create(ctx context.Context, a, b int64, ttl time.Duration) (bool, error) {
	keys := []string{pairKey(a), pairKey(b), state.Key(a), state.Key(b)}
	res, err := s.createScript.Run(ctx, s.client, keys,
		strconv.FormatInt(a, 10),
		strconv.FormatInt(b, 10),
		int(ttl.Seconds()),
	).Int()
	if err != nil {
		return false, fmt.Errorf("pairing: create %d<->%d: %w", a, b, err)
	}
	return res == 1, nil
}

// End atomically destroys the caller's pairing and idles both sides with the
// grace TTL. ended is false when the caller was not paired. A one-sided
// record is cleaned up on the caller's side and reported as ErrMirrorMissing
// alongside the partner id, so the engine can log it and carry on.
func (s *Store) End(ctx context.Context, id int64, grace time.Duration) (partner int64, ended bool, err error) {
	keys := []string{pairKey(id), state.Key(id)}
	res, err := s.endScript.Run(ctx, s.client, keys,
		strconv.FormatInt(id, 10),
		int(grace.Seconds()),
		PairPrefix,
		state.StatePrefix,
	).Slice()
	if err != nil {
		return 0, false, fmt.Errorf("pairing: end %d: %w", id, err)
	}
	if len(res) == 0 {
		return 0, false, fmt.Errorf("pairing: empty script reply for %d", id)
	}

	code, _ := res[0].(int64)
	switch code {
	case 0:
		return 0, false, nil
	case 1, 2:
		raw, _ := res[1].(string)
		partner, perr := strconv.ParseInt(raw, 10, 64)
		if perr != nil {
			return 0, true, fmt.Errorf("pairing: bad partner value %q: %w", raw, perr)
		}
		if code == 2 {
			return partner, true, ErrMirrorMissing
		}
		return partner, true, nil
	}
	return 0, false, fmt.Errorf("pairing: unexpected script code %d", code)
}

// Partner returns the caller's current partner. The mirror half is
// re-validated: a record whose mirror is missing or points elsewhere is
// reported as unpaired with ErrMirrorMissing, never as a live pairing.
func (s *Store) Partner(ctx context.Context, id int64) (int64, bool, error) {
	raw, err := s.client.Get(ctx, pairKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("pairing: partner of %d: %w", id, err)
	}

	partner, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("pairing: bad partner value %q: %w", raw, err)
	}

	mirror, err := s.client.Get(ctx, pairKey(partner)).Result()
	if errors.Is(err, redis.Nil) || (err == nil && mirror != strconv.FormatInt(id, 10)) {
		return 0, false, ErrMirrorMissing
	}
	if err != nil {
		return 0, false, fmt.Errorf("pairing: mirror of %d: %w", id, err)
	}
	return partner, true, nil
}
