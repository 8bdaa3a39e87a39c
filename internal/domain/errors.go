package domain

import (
	"errors"
	"strings"
)

var (
	// ErrNoActiveHunt is returned when a guild has no hunt configured.
	ErrNoActiveHunt = errors.New("no active hunt")
	// ErrHuntPaused is returned by play operations while the guild's hunt is paused.
	ErrHuntPaused = errors.New("hunt is paused")
	// ErrProgressNotFound is returned when a participant has no progress record.
	ErrProgressNotFound = errors.New("progress not found")
	// ErrProgressNotSaved means a progress write did not apply; the state did not advance.
	ErrProgressNotSaved = errors.New("progress not saved")
	// ErrAllLevelsCompleted is returned when the participant has no level left to play.
	ErrAllLevelsCompleted = errors.New("all levels completed")
	// ErrNotRanked is returned when a participant has no leaderboard entry.
	ErrNotRanked = errors.New("participant not ranked")
	// ErrNotPermitted is returned when the authorization policy denies an action.
	ErrNotPermitted = errors.New("action not permitted")
	// ErrNoHint is returned when the current level has no hint.
	ErrNoHint = errors.New("level has no hint")
)

// ValidationError lists the problems found in a hunt definition.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid hunt: " + strings.Join(e.Problems, "; ")
}
