// Package profile provides read access to participant profiles and search
// preferences stored in Redis hashes. The matching engine only ever reads
// these; profile editing belongs to the account service and is out of scope
// here beyond the write helpers used by tests and tooling.
package profile

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/veilchat/veil/internal/compat"
)

const (
	// ProfilePrefix is the Redis key prefix for profile hashes.
	ProfilePrefix = "user:profile:"

	// PrefsPrefix is the Redis key prefix for preference hashes.
	PrefsPrefix = "user:prefs:"
)

// Store reads profiles and preferences from Redis.
type Store struct {
	client *redis.Client
}

// NewStore creates a profile store using the provided Redis client.
func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

func profileKey(id int64) string {
	return ProfilePrefix + strconv.FormatInt(id, 10)
}

func prefsKey(id int64) string {
	return PrefsPrefix + strconv.FormatInt(id, 10)
}

// GetProfile returns the participant's profile, or nil if they never set one.
func (s *Store) GetProfile(ctx context.Context, id int64) (*compat.Profile, error) {
	res, err := s.client.HGetAll(ctx, profileKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("profile: get %d: %w", id, err)
	}
	if len(res) == 0 {
		return nil, nil
	}
	return &compat.Profile{
		Gender:  res["gender"],
		Country: res["country"],
	}, nil
}

// GetPreferences returns the participant's search filters, defaulting to
// Any/Any when none are stored.
func (s *Store) GetPreferences(ctx context.Context, id int64) (compat.Preferences, error) {
	res, err := s.client.HGetAll(ctx, prefsKey(id)).Result()
	if err != nil {
		return compat.Preferences{}, fmt.Errorf("profile: get prefs %d: %w", id, err)
	}
	if len(res) == 0 {
		return compat.DefaultPreferences(), nil
	}

	prefs := compat.Preferences{
		GenderFilter:  res["gender_filter"],
		CountryFilter: res["country_filter"],
	}
	if prefs.GenderFilter == "" {
		prefs.GenderFilter = compat.Any
	}
	if prefs.CountryFilter == "" {
		prefs.CountryFilter = compat.Any
	}
	return prefs, nil
}

// SetProfile writes a participant's profile hash.
func (s *Store) SetProfile(ctx context.Context, id int64, p compat.Profile) error {
	err := s.client.HSet(ctx, profileKey(id), map[string]interface{}{
		"gender":  p.Gender,
		"country": p.Country,
	}).Err()
	if err != nil {
		return fmt.Errorf("profile: set %d: %w", id, err)
	}
	return nil
}

// SetPreferences writes a participant's search filters.
func (s *Store) SetPreferences(ctx context.Context, id int64, prefs compat.Preferences) error {
	err := s.client.HSet(ctx, prefsKey(id), map[string]interface{}{
		"gender_filter":  prefs.GenderFilter,
		"country_filter": prefs.CountryFilter,
	}).Err()
	if err != nil {
		return fmt.Errorf("profile: set prefs %d: %w", id, err)
	}
	return nil
}
