// Package ban keeps moderation blocks in Redis. A participant can carry two
// kinds of block, both plain TTL keys:
//
//	Key:   ban:<participant_id>      (admin-issued, long-lived)
//	Key:   freeze:<participant_id>   (automatic, escalating duration)
//	Value: <reason>
//	TTL:   block duration
//
// The matching engine only asks one question — IsBlocked — and treats a
// blocked participant as a graceful match failure, never an error.
package ban

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// BanPrefix is the Redis key prefix for admin-issued bans.
	BanPrefix = "ban:"

	// FreezePrefix is the Redis key prefix for automatic freezes.
	FreezePrefix = "freeze:"

	// OffensesPrefix is the Redis key prefix for the rolling offense counter
	// that drives freeze escalation.
	OffensesPrefix = "offenses:"

	// Escalating freeze durations.
	Freeze15Min  = 15 * time.Minute // 1st offense
	Freeze1Hour  = 1 * time.Hour    // 2nd offense
	Freeze24Hour = 24 * time.Hour   // 3rd+ offense

	// OffensesTTL is how long the offense counter lives without new
	// offenses before it resets to zero.
	OffensesTTL = 24 * time.Hour

	// AutoFreezeThreshold is the number of reports within OffensesTTL that
	// triggers an automatic freeze.
	AutoFreezeThreshold = 3
)

// Store manages moderation blocks in Redis.
type Store struct {
	client *redis.Client
}

// NewStore creates a ban store using the provided Redis client.
func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

func banKey(id int64) string     { return BanPrefix + strconv.FormatInt(id, 10) }
func freezeKey(id int64) string  { return FreezePrefix + strconv.FormatInt(id, 10) }
func offenseKey(id int64) string { return OffensesPrefix + strconv.FormatInt(id, 10) }

// IsBlocked reports whether the participant currently carries a ban or a
// freeze. This is the moderation gate the matching engine consults.
func (s *Store) IsBlocked(ctx context.Context, id int64) (bool, error) {
	n, err := s.client.Exists(ctx, banKey(id), freezeKey(id)).Result()
	if err != nil {
		return false, fmt.Errorf("ban: check %d: %w", id, err)
	}
	return n > 0, nil
}

// Ban sets an admin-issued ban with the given duration and reason.
func (s *Store) Ban(ctx context.Context, id int64, duration time.Duration, reason string) error {
	return s.client.Set(ctx, banKey(id), reason, duration).Err()
}

// Unban lifts an admin-issued ban immediately.
func (s *Store) Unban(ctx context.Context, id int64) error {
	return s.client.Del(ctx, banKey(id)).Err()
}

// Freeze applies an automatic freeze with the given duration and reason.
func (s *Store) Freeze(ctx context.Context, id int64, duration time.Duration, reason string) error {
	return s.client.Set(ctx, freezeKey(id), reason, duration).Err()
}

// FreezeRemaining returns whether the participant is frozen, the remaining
// duration and the recorded reason.
func (s *Store) FreezeRemaining(ctx context.Context, id int64) (bool, time.Duration, string, error) {
	reason, err := s.client.Get(ctx, freezeKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return false, 0, "", nil
	}
	if err != nil {
		return false, 0, "", fmt.Errorf("ban: freeze remaining %d: %w", id, err)
	}

	ttl, err := s.client.TTL(ctx, freezeKey(id)).Result()
	if err != nil || ttl < 0 {
		// The freeze exists but the TTL is unreadable. Report frozen with
		// zero remaining rather than swallowing the freeze.
		return true, 0, reason, nil
	}
	return true, ttl, reason, nil
}

// escalationDuration returns the freeze duration for a given offense count
// past the threshold.
func escalationDuration(offenseCount int) time.Duration {
	switch {
	case offenseCount <= 1:
		return Freeze15Min
	case offenseCount == 2:
		return Freeze1Hour
	default:
		return Freeze24Hour
	}
}

// ReportAndCheck increments the participant's offense counter and, once the
// auto-freeze threshold is reached, applies a freeze whose duration
// escalates the further past the threshold the count goes:
//
//	at threshold      -> 15 minutes
//	threshold + 1     -> 1 hour
//	threshold + 2 on  -> 24 hours
//
// The counter carries a 24h TTL set on first increment, so it expires on its
// own when the reports stop. Returns (frozen, applied duration).
func (s *Store) ReportAndCheck(ctx context.Context, id int64, reason string) (bool, time.Duration, error) {
	key := offenseKey(id)

	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return false, 0, fmt.Errorf("ban: report incr %d: %w", id, err)
	}

	// TTL only on first increment so the window doesn't slide.
	if count == 1 {
		if err := s.client.Expire(ctx, key, OffensesTTL).Err(); err != nil {
			return false, 0, fmt.Errorf("ban: report expire %d: %w", id, err)
		}
	}

	if count >= AutoFreezeThreshold {
		duration := escalationDuration(int(count) - AutoFreezeThreshold + 1)
		if err := s.Freeze(ctx, id, duration, reason); err != nil {
			return false, 0, fmt.Errorf("ban: report freeze %d: %w", id, err)
		}
		return true, duration, nil
	}
	return false, 0, nil
}
