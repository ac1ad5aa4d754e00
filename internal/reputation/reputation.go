// Package reputation implements the rating-based gate that decides whether a
// participant may take part in matching and how strongly they are preferred
// over other waiters. It is pure computation over a rating snapshot; the
// snapshot itself comes from a ReputationProvider (see internal/rating).
package reputation

const (
	// MinRatedCount is the number of ratings a participant must have
	// accumulated before the toxicity rule applies at all. Below this the
	// sample is too small to judge.
	MinRatedCount = 5

	// ToxicScoreCeiling is the score below which a sufficiently-rated
	// participant is excluded from matching.
	ToxicScoreCeiling = 30.0

	// NeutralScore is the score assigned to participants with no ratings.
	NeutralScore = 50.0
)

// Snapshot is a participant's rating record at a point in time.
type Snapshot struct {
	Positive   int
	Negative   int
	TotalChats int
}

// Score derives the 0-100 rating score: the share of positive ratings,
// or NeutralScore when the participant has never been rated.
func (s Snapshot) Score() float64 {
	rated := s.Positive + s.Negative
	if rated == 0 {
		return NeutralScore
	}
	return float64(s.Positive) / float64(rated) * 100
}

// Toxic reports whether the participant has enough ratings to judge and a
// score below the ceiling. Toxic participants are never offered as partners
// and their own match requests are rejected.
func (s Snapshot) Toxic() bool {
	return s.Positive+s.Negative >= MinRatedCount && s.Score() < ToxicScoreCeiling
}

// Eligible reports whether the participant may take part in matching.
func (s Snapshot) Eligible() bool {
	return !s.Toxic()
}
