package learner

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jpviola/theoagent-sub002/internal/classifier"
	"github.com/jpviola/theoagent-sub002/internal/storage"
)

// --- Mock store ---

type mockProfileStore struct {
	mu   sync.Mutex
	data map[string]storage.LearnerProfileRecord

	saveErr error
	getErr  error
}

func newMockProfileStore() *mockProfileStore {
	return &mockProfileStore{data: make(map[string]storage.LearnerProfileRecord)}
}

func (m *mockProfileStore) GetLearnerProfile(userID string) (storage.LearnerProfileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return storage.LearnerProfileRecord{}, m.getErr
	}
	rec, ok := m.data[userID]
	if !ok {
		return storage.LearnerProfileRecord{}, storage.ErrNotFound
	}
	return rec, nil
}

func (m *mockProfileStore) SaveLearnerProfile(rec storage.LearnerProfileRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.data[rec.UserID] = rec
	return nil
}

// --- Mock clock ---

type mockClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *mockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *mockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// --- Tests ---

func TestGetUnknownUserReturnsDefault(t *testing.T) {
	s := NewStore(newMockProfileStore())

	p, err := s.Get("maria")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.UserID != "maria" {
		t.Errorf("expected user maria, got %q", p.UserID)
	}
	if p.QueryCount != 0 {
		t.Errorf("expected query count 0, got %d", p.QueryCount)
	}
	if p.ComplexityLevel != LevelBeginner {
		t.Errorf("expected beginner, got %q", p.ComplexityLevel)
	}
	if len(p.Interests) != 0 {
		t.Errorf("expected no interests, got %v", p.Interests)
	}
}

func TestApplyIncrementsCountAndInterests(t *testing.T) {
	store := newMockProfileStore()
	clock := &mockClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	s := NewStoreWithClock(store, clock)

	for i := 0; i < 3; i++ {
		if _, err := s.Apply("maria", "cuéntame sobre la virgen de guadalupe"); err != nil {
			t.Fatalf("Apply error: %v", err)
		}
	}

	p, err := s.Get("maria")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if p.QueryCount != 3 {
		t.Errorf("expected query count 3, got %d", p.QueryCount)
	}
	if p.Interests[classifier.TagMariology] != 3 {
		t.Errorf("expected Mariology count 3, got %d", p.Interests[classifier.TagMariology])
	}
	if !p.LastActive.Equal(clock.Now()) {
		t.Errorf("expected last active %v, got %v", clock.Now(), p.LastActive)
	}
}

func TestApplyOneIncrementPerTagPerMessage(t *testing.T) {
	s := NewStore(newMockProfileStore())

	p, err := s.Apply("john", "mary, the virgin of lourdes, and the rosary")
	if err != nil {
		t.Fatalf("Apply error: %v", err)
	}
	if p.Interests[classifier.TagMariology] != 1 {
		t.Errorf("expected Mariology count 1, got %d", p.Interests[classifier.TagMariology])
	}
}

func TestLevelThresholds(t *testing.T) {
	tests := []struct {
		count int
		want  Level
	}{
		{0, LevelBeginner},
		{50, LevelBeginner},
		{51, LevelIntermediate},
		{200, LevelIntermediate},
		{201, LevelAdvanced},
		{1000, LevelAdvanced},
	}
	for _, tt := range tests {
		if got := LevelForCount(tt.count); got != tt.want {
			t.Errorf("LevelForCount(%d) = %q, want %q", tt.count, got, tt.want)
		}
	}
}

func TestApplyCrossesIntermediateThreshold(t *testing.T) {
	store := newMockProfileStore()
	store.data["john"] = storage.LearnerProfileRecord{
		UserID:          "john",
		Interests:       "{}",
		QueryCount:      50,
		ComplexityLevel: string(LevelBeginner),
	}
	s := NewStore(store)

	p, err := s.Apply("john", "hello")
	if err != nil {
		t.Fatalf("Apply error: %v", err)
	}
	if p.QueryCount != 51 {
		t.Errorf("expected query count 51, got %d", p.QueryCount)
	}
	if p.ComplexityLevel != LevelIntermediate {
		t.Errorf("expected intermediate, got %q", p.ComplexityLevel)
	}
}

func TestLevelNeverRegresses(t *testing.T) {
	store := newMockProfileStore()
	// A stale row: high level but low count, e.g. restored from an old backup.
	store.data["ana"] = storage.LearnerProfileRecord{
		UserID:          "ana",
		Interests:       "{}",
		QueryCount:      2,
		ComplexityLevel: string(LevelAdvanced),
	}
	s := NewStore(store)

	p, err := s.Get("ana")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if p.ComplexityLevel != LevelAdvanced {
		t.Errorf("level regressed: got %q", p.ComplexityLevel)
	}

	p, err = s.Apply("ana", "hello")
	if err != nil {
		t.Fatalf("Apply error: %v", err)
	}
	if p.ComplexityLevel != LevelAdvanced {
		t.Errorf("level regressed after apply: got %q", p.ComplexityLevel)
	}
}

func TestUnknownStoredLevelNormalizes(t *testing.T) {
	store := newMockProfileStore()
	store.data["bob"] = storage.LearnerProfileRecord{
		UserID:          "bob",
		Interests:       "{}",
		QueryCount:      5,
		ComplexityLevel: "galactic",
	}
	s := NewStore(store)

	p, err := s.Get("bob")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if p.ComplexityLevel != LevelBeginner {
		t.Errorf("expected unknown level to normalize to beginner, got %q", p.ComplexityLevel)
	}
}

func TestMalformedInterestsReset(t *testing.T) {
	store := newMockProfileStore()
	store.data["eva"] = storage.LearnerProfileRecord{
		UserID:          "eva",
		Interests:       "{not json",
		QueryCount:      1,
		ComplexityLevel: string(LevelBeginner),
	}
	s := NewStore(store)

	p, err := s.Get("eva")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if len(p.Interests) != 0 {
		t.Errorf("expected interests reset, got %v", p.Interests)
	}
	if p.QueryCount != 1 {
		t.Errorf("query count should survive reset, got %d", p.QueryCount)
	}
}

func TestApplyPersistFailureReturnsProfile(t *testing.T) {
	store := newMockProfileStore()
	store.saveErr = errors.New("disk full")
	s := NewStore(store)

	p, err := s.Apply("maria", "hello")
	if err == nil {
		t.Fatal("expected error")
	}
	if p.QueryCount != 1 {
		t.Errorf("expected computed profile alongside error, got count %d", p.QueryCount)
	}
}

func TestApplyConcurrentSameUser(t *testing.T) {
	store := newMockProfileStore()
	s := NewStore(store)

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Apply("maria", "la biblia"); err != nil {
				t.Errorf("Apply error: %v", err)
			}
		}()
	}
	wg.Wait()

	p, err := s.Get("maria")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if p.QueryCount != n {
		t.Errorf("expected query count %d, got %d", n, p.QueryCount)
	}
	if p.Interests[classifier.TagScripture] != n {
		t.Errorf("expected Scripture count %d, got %d", n, p.Interests[classifier.TagScripture])
	}
}
