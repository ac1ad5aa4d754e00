// Package state stores the per-participant matching state machine in Redis.
// Each participant has at most one state value at a time, kept under a TTL so
// that a crashed process cannot leave anyone stranded: an expired key simply
// reads back as idle. Only the matching engine writes these keys.
package state

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// StatePrefix is the Redis key prefix for participant state values.
const StatePrefix = "user:state:"

// Status is a participant's position in the matching lifecycle.
type Status string

const (
	// Idle: not queued and not chatting. Also the default for any
	// participant without a state record (expired or never set).
	Idle Status = "idle"

	// Searching: waiting in the queue for a partner.
	Searching Status = "searching"

	// Chatting: paired with a partner.
	Chatting Status = "chatting"
)

// Store reads and writes participant states.
type Store struct {
	client *redis.Client
}

// NewStore creates a state store using the provided Redis client.
func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

// Key returns the Redis key for a participant's state value. Exposed so the
// pairing store can write both participants' states inside one transaction.
func Key(id int64) string {
	return StatePrefix + strconv.FormatInt(id, 10)
}

// Get returns the participant's current status. Missing or expired keys are
// reported as Idle — the lazy revert that recovers crashed sessions.
func (s *Store) Get(ctx context.Context, id int64) (Status, error) {
	val, err := s.client.Get(ctx, Key(id)).Result()
	if errors.Is(err, redis.Nil) {
		return Idle, nil
	}
	if err != nil {
		return Idle, fmt.Errorf("state: get %d: %w", id, err)
	}
	switch Status(val) {
	case Idle, Searching, Chatting:
		return Status(val), nil
	}
	// Unknown value: treat as expired rather than propagating corruption.
	return Idle, nil
}

// Set writes the participant's status with the given TTL.
func (s *Store) Set(ctx context.Context, id int64, status Status, ttl time.Duration) error {
	if err := s.client.Set(ctx, Key(id), string(status), ttl).Err(); err != nil {
		return fmt.Errorf("state: set %d=%s: %w", id, status, err)
	}
	return nil
}

// SetIdle writes an explicit idle marker with a short grace TTL instead of
// deleting the key outright, so a trailing request right after a chat ends
// still sees a definite state.
func (s *Store) SetIdle(ctx context.Context, id int64, grace time.Duration) error {
	return s.Set(ctx, id, Idle, grace)
}
