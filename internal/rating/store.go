// Package rating persists post-chat feedback in PostgreSQL and serves the
// reputation snapshots the matching engine gates on. Individual ratings are
// append-only rows; per-participant chat counters live in a small stats
// table updated when a conversation starts.
package rating

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/veilchat/veil/internal/reputation"
)

// Store manages ratings and chat counters in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a rating store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Record inserts one rating of rated by rater. positive=false counts as a
// negative rating.
func (s *Store) Record(ctx context.Context, rated, rater int64, positive bool) error {
	const query = `
		INSERT INTO chat_ratings (rated_id, rater_id, positive)
		VALUES ($1, $2, $3)`

	if _, err := s.db.ExecContext(ctx, query, rated, rater, positive); err != nil {
		return fmt.Errorf("rating: insert: %w", err)
	}
	return nil
}

// GetReputation aggregates a participant's rating record. Participants with
// no rows at all get a zero snapshot, which the gate treats as neutral.
func (s *Store) GetReputation(ctx context.Context, id int64) (reputation.Snapshot, error) {
	const query = `
		SELECT
			COUNT(*) FILTER (WHERE positive),
			COUNT(*) FILTER (WHERE NOT positive),
			COALESCE((SELECT total_chats FROM chat_stats WHERE user_id = $1), 0)
		FROM chat_ratings
		WHERE rated_id = $1`

	var snap reputation.Snapshot
	err := s.db.QueryRowContext(ctx, query, id).Scan(&snap.Positive, &snap.Negative, &snap.TotalChats)
	if err != nil {
		return reputation.Snapshot{}, fmt.Errorf("rating: get reputation %d: %w", id, err)
	}
	return snap, nil
}

// OnChatStarted bumps the participant's conversation counter.
func (s *Store) OnChatStarted(ctx context.Context, id int64) error {
	const query = `
		INSERT INTO chat_stats (user_id, total_chats)
		VALUES ($1, 1)
		ON CONFLICT (user_id) DO UPDATE SET total_chats = chat_stats.total_chats + 1`

	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("rating: bump chats %d: %w", id, err)
	}
	return nil
}
