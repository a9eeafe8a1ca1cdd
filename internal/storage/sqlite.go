package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database with methods for learner profiles, quota
// records, and conversation turn logs.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "theoagent.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Learner profiles ---

func (s *Store) GetLearnerProfile(userID string) (LearnerProfileRecord, error) {
	var rec LearnerProfileRecord
	var lastActive sql.NullString
	var updatedAt string
	err := s.db.QueryRow(`
		SELECT user_id, interests, query_count, complexity_level, last_active, updated_at
		FROM learner_profiles WHERE user_id = ?`, userID,
	).Scan(&rec.UserID, &rec.Interests, &rec.QueryCount, &rec.ComplexityLevel, &lastActive, &updatedAt)
	if err == sql.ErrNoRows {
		return LearnerProfileRecord{}, ErrNotFound
	}
	if err != nil {
		return LearnerProfileRecord{}, err
	}
	if lastActive.Valid && lastActive.String != "" {
		t, err := time.Parse(time.RFC3339, lastActive.String)
		if err != nil {
			return LearnerProfileRecord{}, fmt.Errorf("parsing last_active: %w", err)
		}
		rec.LastActive = t
	}
	t, err := time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return LearnerProfileRecord{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	rec.UpdatedAt = t
	return rec, nil
}

func (s *Store) SaveLearnerProfile(rec LearnerProfileRecord) error {
	interests := rec.Interests
	if interests == "" {
		interests = "{}"
	}
	var lastActive any
	if !rec.LastActive.IsZero() {
		lastActive = rec.LastActive.UTC().Format(time.RFC3339)
	}
	_, err := s.db.Exec(`
		INSERT INTO learner_profiles (user_id, interests, query_count, complexity_level, last_active, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			interests = excluded.interests,
			query_count = excluded.query_count,
			complexity_level = excluded.complexity_level,
			last_active = excluded.last_active,
			updated_at = excluded.updated_at`,
		rec.UserID, interests, rec.QueryCount, rec.ComplexityLevel, lastActive,
		time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) HasLearnerProfile(userID string) (bool, error) {
	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM learner_profiles WHERE user_id = ?", userID).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// --- Quota records ---

func (s *Store) GetQuotaRecord(userID string) (QuotaRecord, error) {
	var rec QuotaRecord
	var windowStart, updatedAt string
	err := s.db.QueryRow(`
		SELECT user_id, tier, used_today, window_start, updated_at
		FROM quota_records WHERE user_id = ?`, userID,
	).Scan(&rec.UserID, &rec.Tier, &rec.UsedToday, &windowStart, &updatedAt)
	if err == sql.ErrNoRows {
		return QuotaRecord{}, ErrNotFound
	}
	if err != nil {
		return QuotaRecord{}, err
	}
	t, err := time.Parse(time.RFC3339, windowStart)
	if err != nil {
		return QuotaRecord{}, fmt.Errorf("parsing window_start: %w", err)
	}
	rec.WindowStart = t
	if rec.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return QuotaRecord{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return rec, nil
}

func (s *Store) SaveQuotaRecord(rec QuotaRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO quota_records (user_id, tier, used_today, window_start, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			tier = excluded.tier,
			used_today = excluded.used_today,
			window_start = excluded.window_start,
			updated_at = excluded.updated_at`,
		rec.UserID, rec.Tier, rec.UsedToday,
		rec.WindowStart.UTC().Format(time.RFC3339),
		time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// DeleteQuotaRecordsBefore removes quota records whose accounting window
// started before cutoff. Expired records are recreated on the next check.
func (s *Store) DeleteQuotaRecordsBefore(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM quota_records WHERE window_start < ?`,
		cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- Conversation turns ---

func (s *Store) SaveConversationTurn(t ConversationTurn) error {
	_, err := s.db.Exec(`
		INSERT INTO conversation_turns (id, user_id, tier, question, response_chars, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, t.Tier, t.Question, t.ResponseChars, t.Status,
		t.CreatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) CountConversationTurns(userID string) (int, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM conversation_turns WHERE user_id = ?", userID).Scan(&count)
	return count, err
}

func (s *Store) DeleteConversationTurnsBefore(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM conversation_turns WHERE created_at < ?`,
		cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
