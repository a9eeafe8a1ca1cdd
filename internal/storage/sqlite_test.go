package storage

import (
	"errors"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}

	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)

	indexes := []string{"idx_conversation_turns_user", "idx_conversation_turns_created", "idx_quota_records_window"}
	for _, idx := range indexes {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&count)
		if err != nil {
			t.Fatalf("querying index %s: %v", idx, err)
		}
		if count != 1 {
			t.Errorf("index %s not found", idx)
		}
	}
}

// --- Learner profiles ---

func TestLearnerProfileRoundTrip(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.GetLearnerProfile("maria"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	rec := LearnerProfileRecord{
		UserID:          "maria",
		Interests:       `{"Mariology":3}`,
		QueryCount:      3,
		ComplexityLevel: "beginner",
		LastActive:      time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	if err := s.SaveLearnerProfile(rec); err != nil {
		t.Fatalf("SaveLearnerProfile: %v", err)
	}

	got, err := s.GetLearnerProfile("maria")
	if err != nil {
		t.Fatalf("GetLearnerProfile: %v", err)
	}
	if got.Interests != rec.Interests {
		t.Errorf("interests %q, want %q", got.Interests, rec.Interests)
	}
	if got.QueryCount != 3 {
		t.Errorf("query count %d, want 3", got.QueryCount)
	}
	if !got.LastActive.Equal(rec.LastActive) {
		t.Errorf("last active %v, want %v", got.LastActive, rec.LastActive)
	}
	if got.UpdatedAt.IsZero() {
		t.Error("updated_at not set")
	}
}

func TestLearnerProfileUpsert(t *testing.T) {
	s := openTestStore(t)

	rec := LearnerProfileRecord{UserID: "maria", Interests: "{}", QueryCount: 1, ComplexityLevel: "beginner"}
	if err := s.SaveLearnerProfile(rec); err != nil {
		t.Fatalf("first save: %v", err)
	}
	rec.QueryCount = 2
	rec.ComplexityLevel = "intermediate"
	if err := s.SaveLearnerProfile(rec); err != nil {
		t.Fatalf("second save: %v", err)
	}

	got, err := s.GetLearnerProfile("maria")
	if err != nil {
		t.Fatalf("GetLearnerProfile: %v", err)
	}
	if got.QueryCount != 2 || got.ComplexityLevel != "intermediate" {
		t.Errorf("upsert did not overwrite: %+v", got)
	}
}

func TestLearnerProfileZeroLastActive(t *testing.T) {
	s := openTestStore(t)

	if err := s.SaveLearnerProfile(LearnerProfileRecord{
		UserID: "bob", Interests: "{}", ComplexityLevel: "beginner",
	}); err != nil {
		t.Fatalf("SaveLearnerProfile: %v", err)
	}

	got, err := s.GetLearnerProfile("bob")
	if err != nil {
		t.Fatalf("GetLearnerProfile: %v", err)
	}
	if !got.LastActive.IsZero() {
		t.Errorf("expected zero last active, got %v", got.LastActive)
	}
}

func TestHasLearnerProfile(t *testing.T) {
	s := openTestStore(t)

	ok, err := s.HasLearnerProfile("maria")
	if err != nil {
		t.Fatalf("HasLearnerProfile: %v", err)
	}
	if ok {
		t.Error("expected no profile")
	}

	if err := s.SaveLearnerProfile(LearnerProfileRecord{UserID: "maria", Interests: "{}", ComplexityLevel: "beginner"}); err != nil {
		t.Fatalf("SaveLearnerProfile: %v", err)
	}

	ok, err = s.HasLearnerProfile("maria")
	if err != nil {
		t.Fatalf("HasLearnerProfile: %v", err)
	}
	if !ok {
		t.Error("expected profile to exist")
	}
}

// --- Quota records ---

func TestQuotaRecordRoundTrip(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.GetQuotaRecord("maria"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	rec := QuotaRecord{
		UserID:      "maria",
		Tier:        "plus",
		UsedToday:   42,
		WindowStart: time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC),
	}
	if err := s.SaveQuotaRecord(rec); err != nil {
		t.Fatalf("SaveQuotaRecord: %v", err)
	}

	got, err := s.GetQuotaRecord("maria")
	if err != nil {
		t.Fatalf("GetQuotaRecord: %v", err)
	}
	if got.Tier != "plus" || got.UsedToday != 42 {
		t.Errorf("got %+v", got)
	}
	if !got.WindowStart.Equal(rec.WindowStart) {
		t.Errorf("window start %v, want %v", got.WindowStart, rec.WindowStart)
	}
}

func TestDeleteQuotaRecordsBefore(t *testing.T) {
	s := openTestStore(t)

	old := QuotaRecord{UserID: "old", Tier: "free", WindowStart: time.Now().UTC().Add(-72 * time.Hour)}
	fresh := QuotaRecord{UserID: "fresh", Tier: "free", WindowStart: time.Now().UTC()}
	for _, rec := range []QuotaRecord{old, fresh} {
		if err := s.SaveQuotaRecord(rec); err != nil {
			t.Fatalf("SaveQuotaRecord: %v", err)
		}
	}

	n, err := s.DeleteQuotaRecordsBefore(time.Now().UTC().Add(-48 * time.Hour))
	if err != nil {
		t.Fatalf("DeleteQuotaRecordsBefore: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted %d rows, want 1", n)
	}

	if _, err := s.GetQuotaRecord("old"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected old record gone, got %v", err)
	}
	if _, err := s.GetQuotaRecord("fresh"); err != nil {
		t.Errorf("fresh record should survive: %v", err)
	}
}

// --- Conversation turns ---

func TestConversationTurns(t *testing.T) {
	s := openTestStore(t)

	turns := []ConversationTurn{
		{ID: "01A", UserID: "maria", Tier: "free", Question: "hola", ResponseChars: 120, Status: "admitted", CreatedAt: time.Now().UTC().Add(-48 * time.Hour)},
		{ID: "01B", UserID: "maria", Tier: "free", Question: "otra", ResponseChars: 0, Status: "engine_failed", CreatedAt: time.Now().UTC()},
		{ID: "01C", UserID: "john", Tier: "plus", Question: "hi", ResponseChars: 80, Status: "admitted", CreatedAt: time.Now().UTC()},
	}
	for _, turn := range turns {
		if err := s.SaveConversationTurn(turn); err != nil {
			t.Fatalf("SaveConversationTurn: %v", err)
		}
	}

	count, err := s.CountConversationTurns("maria")
	if err != nil {
		t.Fatalf("CountConversationTurns: %v", err)
	}
	if count != 2 {
		t.Errorf("count %d, want 2", count)
	}

	n, err := s.DeleteConversationTurnsBefore(time.Now().UTC().Add(-24 * time.Hour))
	if err != nil {
		t.Fatalf("DeleteConversationTurnsBefore: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted %d rows, want 1", n)
	}

	count, err = s.CountConversationTurns("maria")
	if err != nil {
		t.Fatalf("CountConversationTurns: %v", err)
	}
	if count != 1 {
		t.Errorf("count after prune %d, want 1", count)
	}
}
