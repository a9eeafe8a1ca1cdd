// Package retention prunes aged records on a schedule.
package retention

import (
	"fmt"
	"log/slog"
	"time"
)

// Quota rows are safe to drop once their window is long gone; they are
// recreated with a fresh window on the user's next message.
const staleQuotaAge = 48 * time.Hour

// SweepStore defines the deletion operations the sweeper needs.
// Implemented by storage.Store.
type SweepStore interface {
	DeleteConversationTurnsBefore(cutoff time.Time) (int64, error)
	DeleteQuotaRecordsBefore(cutoff time.Time) (int64, error)
}

// Sweeper removes conversation turn logs older than maxTurnAge and quota
// records whose accounting window expired long ago.
type Sweeper struct {
	store      SweepStore
	maxTurnAge time.Duration
	logger     *slog.Logger
}

func NewSweeper(store SweepStore, maxTurnAge time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{store: store, maxTurnAge: maxTurnAge, logger: logger}
}

// RunOnce performs a single sweep. Partial failures stop the sweep; the
// next scheduled run picks up where this one left off.
func (s *Sweeper) RunOnce() error {
	now := time.Now().UTC()

	turns, err := s.store.DeleteConversationTurnsBefore(now.Add(-s.maxTurnAge))
	if err != nil {
		return fmt.Errorf("pruning conversation turns: %w", err)
	}

	quotas, err := s.store.DeleteQuotaRecordsBefore(now.Add(-staleQuotaAge))
	if err != nil {
		return fmt.Errorf("pruning quota records: %w", err)
	}

	if turns > 0 || quotas > 0 {
		s.logger.Info("retention sweep complete", "turns_deleted", turns, "quota_records_deleted", quotas)
	}
	return nil
}
