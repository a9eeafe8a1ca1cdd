// Package learner owns one behavioral profile per user, updated
// incrementally from classified chat messages.
package learner

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jpviola/theoagent-sub002/internal/classifier"
	"github.com/jpviola/theoagent-sub002/internal/storage"
)

// ProfileStore defines the persistence operations the Store needs.
// Implemented by storage.Store.
type ProfileStore interface {
	GetLearnerProfile(userID string) (storage.LearnerProfileRecord, error)
	SaveLearnerProfile(rec storage.LearnerProfileRecord) error
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Store provides keyed, serialized access to learner profiles. Updates for
// one user are atomic read-modify-write; users never block each other.
type Store struct {
	store    ProfileStore
	clock    Clock
	classify func(string) []classifier.Tag

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStore creates a Store backed by the given persistence layer.
func NewStore(ps ProfileStore) *Store {
	return NewStoreWithClock(ps, realClock{})
}

// NewStoreWithClock creates a Store with a custom clock (for testing).
func NewStoreWithClock(ps ProfileStore, clock Clock) *Store {
	return &Store{
		store:    ps,
		clock:    clock,
		classify: classifier.Classify,
		locks:    make(map[string]*sync.Mutex),
	}
}

// userLock returns the mutex guarding one user's profile, creating it on
// first use.
func (s *Store) userLock(userID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[userID] = l
	}
	return l
}

// Get returns the stored profile for userID, or the default profile when
// none exists yet.
func (s *Store) Get(userID string) (Profile, error) {
	rec, err := s.store.GetLearnerProfile(userID)
	if errors.Is(err, storage.ErrNotFound) {
		return NewProfile(userID), nil
	}
	if err != nil {
		return NewProfile(userID), fmt.Errorf("loading profile for %s: %w", userID, err)
	}
	return profileFromRecord(rec)
}

// Apply classifies message, merges the resulting tags into the user's
// interests (one increment per tag per call), bumps the query count,
// recomputes the complexity level, and persists the result.
//
// On a persist failure the computed profile is still returned alongside the
// error so it can be displayed; the caller must not assume durability.
func (s *Store) Apply(userID, message string) (Profile, error) {
	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	p, err := s.Get(userID)
	if err != nil {
		return p, err
	}

	for _, tag := range s.classify(message) {
		p.Interests[tag]++
	}
	p.QueryCount++
	// Max-with-previous guards against a level regression if the stored
	// count was ever restored from a stale snapshot.
	p.ComplexityLevel = maxLevel(p.ComplexityLevel, LevelForCount(p.QueryCount))
	p.LastActive = s.clock.Now().UTC()

	rec, err := recordFromProfile(p)
	if err != nil {
		return p, err
	}
	if err := s.store.SaveLearnerProfile(rec); err != nil {
		return p, fmt.Errorf("persisting profile for %s: %w", userID, err)
	}
	return p, nil
}

func profileFromRecord(rec storage.LearnerProfileRecord) (Profile, error) {
	p := NewProfile(rec.UserID)
	if rec.Interests != "" {
		if err := json.Unmarshal([]byte(rec.Interests), &p.Interests); err != nil {
			slog.Warn("malformed interests JSON, resetting", "user_id", rec.UserID, "error", err)
			p.Interests = make(map[classifier.Tag]int)
		}
	}
	p.QueryCount = rec.QueryCount
	// The stored level wins over the recomputed one only when it is higher:
	// the level must never move down, even from a stale row.
	p.ComplexityLevel = maxLevel(Level(rec.ComplexityLevel), LevelForCount(rec.QueryCount))
	p.LastActive = rec.LastActive
	return p, nil
}

func recordFromProfile(p Profile) (storage.LearnerProfileRecord, error) {
	interests, err := json.Marshal(p.Interests)
	if err != nil {
		return storage.LearnerProfileRecord{}, fmt.Errorf("marshalling interests: %w", err)
	}
	return storage.LearnerProfileRecord{
		UserID:          p.UserID,
		Interests:       string(interests),
		QueryCount:      p.QueryCount,
		ComplexityLevel: string(p.ComplexityLevel),
		LastActive:      p.LastActive,
	}, nil
}
