package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// LearnerProfileRecord is the persisted form of a learner profile.
// Interests is a JSON object (tag -> count) stored as text.
type LearnerProfileRecord struct {
	UserID          string
	Interests       string
	QueryCount      int
	ComplexityLevel string
	LastActive      time.Time // zero when the profile has never been updated
	UpdatedAt       time.Time
}

// QuotaRecord tracks daily message usage for one user. Tier holds the
// tier seen on the most recent quota check, for display purposes only;
// admission decisions always use the tier supplied by the caller.
type QuotaRecord struct {
	UserID      string
	Tier        string
	UsedToday   int
	WindowStart time.Time
	UpdatedAt   time.Time
}

// ConversationTurn is a log record of one admitted (or attempted) chat turn.
type ConversationTurn struct {
	ID            string
	UserID        string
	Tier          string
	Question      string
	ResponseChars int
	Status        string // "admitted", "engine_failed"
	CreatedAt     time.Time
}
