// Package engagement maintains a member's rolling traction score and capture
// streak. The update rule is a pure fold so that any member's state can be
// rebuilt from their alignment history.
package engagement

import (
	"time"

	"github.com/kalambet/driftline/internal/scoring"
)

// Streak windows. The window is always passed explicitly to Apply; these name
// the two cadences in use.
const (
	// LiveStreakWindow applies to captures arriving from live traffic.
	LiveStreakWindow = 48 * time.Hour
	// SeedStreakWindow applies when replaying weekly-cadence seed data.
	SeedStreakWindow = 168 * time.Hour
)

const (
	historyWeight = 0.7
	sampleWeight  = 0.3
)

// State is a member's engagement state. The zero value is Unscored.
type State struct {
	scored   bool
	Traction float64
	Streak   int
	LastAt   time.Time
}

// Unscored returns the state of a member who has never been scored.
func Unscored() State {
	return State{}
}

// Scored returns the state of a member with history.
func Scored(traction float64, streak int, lastAt time.Time) State {
	return State{scored: true, Traction: traction, Streak: streak, LastAt: lastAt}
}

// IsScored reports whether at least one alignment sample has been folded in.
func (s State) IsScored() bool {
	return s.scored
}

// DisplayTraction returns the traction rounded to two decimals.
func (s State) DisplayTraction() float64 {
	return scoring.Round2(s.Traction)
}

// Apply folds one alignment sample observed at `at` into s. The first sample
// becomes the traction as is; later ones are smoothed and rounded to two
// decimals. A sample older than LastAt is folded as if observed at LastAt, so
// LastAt never moves backwards. Samples must be applied in the same order for
// replays to agree.
func (s State) Apply(alignment float64, at time.Time, window time.Duration) State {
	if !s.scored {
		return Scored(alignment, 1, at)
	}
	if at.Before(s.LastAt) {
		at = s.LastAt
	}

	streak := 1
	if at.Sub(s.LastAt) <= window {
		streak = s.Streak + 1
	}
	traction := scoring.Round2(s.Traction*historyWeight + alignment*sampleWeight)
	return Scored(traction, streak, at)
}
