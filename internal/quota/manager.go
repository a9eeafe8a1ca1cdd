// Package quota enforces per-tier daily message ceilings over a rolling
// 24-hour accounting window.
package quota

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jpviola/theoagent-sub002/internal/storage"
)

// Window is the length of one quota accounting period.
const Window = 24 * time.Hour

// QuotaStore defines the persistence operations the Manager needs.
// Implemented by storage.Store.
type QuotaStore interface {
	GetQuotaRecord(userID string) (storage.QuotaRecord, error)
	SaveQuotaRecord(rec storage.QuotaRecord) error
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Decision is the outcome of a quota check.
type Decision struct {
	Allowed   bool
	Remaining Remaining
}

// Manager tracks message usage per user. Checks for one user are atomic
// read-modify-write under a per-user mutex; users never block each other.
type Manager struct {
	store QuotaStore
	clock Clock

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewManager creates a Manager backed by the given persistence layer.
func NewManager(qs QuotaStore) *Manager {
	return NewManagerWithClock(qs, realClock{})
}

// NewManagerWithClock creates a Manager with a custom clock (for testing).
func NewManagerWithClock(qs QuotaStore, clock Clock) *Manager {
	return &Manager{
		store: qs,
		clock: clock,
		locks: make(map[string]*sync.Mutex),
	}
}

func (m *Manager) userLock(userID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[userID] = l
	}
	return l
}

// CheckAndReserve decides whether a message for userID may proceed under
// tier, and on allow reserves one unit of quota in the same atomic step.
// The ceiling is always taken from the tier argument, so a mid-window tier
// change takes effect on the next check without resetting usage.
func (m *Manager) CheckAndReserve(userID string, tier Tier) (Decision, error) {
	lock := m.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	now := m.clock.Now().UTC()
	rec, err := m.load(userID, tier, now)
	if err != nil {
		return Decision{}, err
	}

	if !now.Before(rec.WindowStart.Add(Window)) {
		rec.UsedToday = 0
		rec.WindowStart = now
	}
	rec.Tier = string(tier)

	if tier.Unbounded() {
		rec.UsedToday++
		if err := m.store.SaveQuotaRecord(rec); err != nil {
			return Decision{}, fmt.Errorf("persisting quota for %s: %w", userID, err)
		}
		return Decision{Allowed: true, Remaining: Remaining{Unlimited: true}}, nil
	}

	ceiling := tier.Ceiling()
	if rec.UsedToday >= ceiling {
		// Persist anyway so a window reset computed above is not lost.
		if err := m.store.SaveQuotaRecord(rec); err != nil {
			return Decision{}, fmt.Errorf("persisting quota for %s: %w", userID, err)
		}
		return Decision{Allowed: false, Remaining: Remaining{N: 0}}, nil
	}

	rec.UsedToday++
	if err := m.store.SaveQuotaRecord(rec); err != nil {
		return Decision{}, fmt.Errorf("persisting quota for %s: %w", userID, err)
	}
	return Decision{Allowed: true, Remaining: Remaining{N: ceiling - rec.UsedToday}}, nil
}

// Peek returns the decision CheckAndReserve would make, without mutating
// any state. Used for UI display only.
func (m *Manager) Peek(userID string, tier Tier) (Decision, error) {
	now := m.clock.Now().UTC()
	rec, err := m.load(userID, tier, now)
	if err != nil {
		return Decision{}, err
	}

	used := rec.UsedToday
	if !now.Before(rec.WindowStart.Add(Window)) {
		used = 0
	}

	if tier.Unbounded() {
		return Decision{Allowed: true, Remaining: Remaining{Unlimited: true}}, nil
	}
	remaining := tier.Ceiling() - used
	if remaining <= 0 {
		return Decision{Allowed: false, Remaining: Remaining{N: 0}}, nil
	}
	return Decision{Allowed: true, Remaining: Remaining{N: remaining}}, nil
}

// StoredTier returns the tier recorded on the user's most recent quota
// check, defaulting to free when the user has no record.
func (m *Manager) StoredTier(userID string) (Tier, error) {
	rec, err := m.store.GetQuotaRecord(userID)
	if errors.Is(err, storage.ErrNotFound) {
		return TierFree, nil
	}
	if err != nil {
		return "", fmt.Errorf("loading quota for %s: %w", userID, err)
	}
	t, err := ParseTier(rec.Tier)
	if err != nil {
		return TierFree, nil
	}
	return t, nil
}

func (m *Manager) load(userID string, tier Tier, now time.Time) (storage.QuotaRecord, error) {
	rec, err := m.store.GetQuotaRecord(userID)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.QuotaRecord{
			UserID:      userID,
			Tier:        string(tier),
			UsedToday:   0,
			WindowStart: now,
		}, nil
	}
	if err != nil {
		return storage.QuotaRecord{}, fmt.Errorf("loading quota for %s: %w", userID, err)
	}
	return rec, nil
}
