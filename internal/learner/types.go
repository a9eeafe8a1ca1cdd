package learner

import (
	"time"

	"github.com/jpviola/theoagent-sub002/internal/classifier"
)

// Level is a coarse proficiency tier derived from cumulative interaction
// volume. It never regresses over a profile's lifetime.
type Level string

const (
	LevelBeginner     Level = "beginner"
	LevelIntermediate Level = "intermediate"
	LevelAdvanced     Level = "advanced"
)

// Thresholds for level progression: more queries, higher level.
const (
	intermediateThreshold = 50
	advancedThreshold     = 200
)

var levelRank = map[Level]int{
	LevelBeginner:     0,
	LevelIntermediate: 1,
	LevelAdvanced:     2,
}

// LevelForCount returns the complexity level implied by a query count alone.
func LevelForCount(queryCount int) Level {
	switch {
	case queryCount > advancedThreshold:
		return LevelAdvanced
	case queryCount > intermediateThreshold:
		return LevelIntermediate
	default:
		return LevelBeginner
	}
}

// maxLevel returns the more advanced of two levels. Ties resolve to b so an
// unknown level string (e.g. from a hand-edited row) normalizes to a valid
// level rather than winning.
func maxLevel(a, b Level) Level {
	if levelRank[a] > levelRank[b] {
		return a
	}
	return b
}

// Profile is a per-user behavioral profile built up from classified chat
// messages.
type Profile struct {
	UserID          string                 `json:"user_id"`
	Interests       map[classifier.Tag]int `json:"interests"`
	QueryCount      int                    `json:"query_count"`
	ComplexityLevel Level                  `json:"complexity_level"`
	LastActive      time.Time              `json:"last_active"`
}

// NewProfile returns the default profile for a user with no stored state.
func NewProfile(userID string) Profile {
	return Profile{
		UserID:          userID,
		Interests:       make(map[classifier.Tag]int),
		QueryCount:      0,
		ComplexityLevel: LevelBeginner,
	}
}
