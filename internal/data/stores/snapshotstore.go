package stores

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hay-kot/pagewatch/internal/core/page"
	"github.com/hay-kot/pagewatch/internal/data/db"
)

const (
	busyRetries = 3
	busyWait    = 50 * time.Millisecond
)

// SnapshotStore implements page.SnapshotStore using SQLite.
type SnapshotStore struct {
	db *db.DB
}

var _ page.SnapshotStore = (*SnapshotStore)(nil)

// NewSnapshotStore creates a new SQLite-backed snapshot store.
func NewSnapshotStore(db *db.DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

// GetSnapshot returns the stored baseline for a database, if any.
func (s *SnapshotStore) GetSnapshot(ctx context.Context, databaseID string) (page.Snapshot, bool, error) {
	var (
		data    []byte
		takenAt int64
	)
	err := s.db.Conn().QueryRowContext(ctx,
		`SELECT pages, taken_at FROM snapshots WHERE database_id = ?`, databaseID,
	).Scan(&data, &takenAt)
	if IsNotFoundError(err) {
		return page.Snapshot{}, false, nil
	}
	if err != nil {
		return page.Snapshot{}, false, fmt.Errorf("failed to get snapshot: %w", err)
	}

	snap := page.Snapshot{DatabaseID: databaseID, TakenAt: time.Unix(0, takenAt)}
	if err := json.Unmarshal(data, &snap.Pages); err != nil {
		return page.Snapshot{}, false, fmt.Errorf("failed to decode snapshot %s: %w", databaseID, err)
	}
	if snap.Pages == nil {
		snap.Pages = []page.Page{}
	}

	return snap, true, nil
}

// SetSnapshot replaces the baseline for snap.DatabaseID. Writes that hit a
// busy database are retried briefly.
func (s *SnapshotStore) SetSnapshot(ctx context.Context, snap page.Snapshot) error {
	if snap.DatabaseID == "" {
		return fmt.Errorf("snapshot without database id")
	}

	pages := snap.Pages
	if pages == nil {
		pages = []page.Page{}
	}
	data, err := json.Marshal(pages)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	takenAt := snap.TakenAt
	if takenAt.IsZero() {
		takenAt = time.Now()
	}

	wait := busyWait
	for attempt := 0; ; attempt++ {
		_, err = s.db.Conn().ExecContext(ctx, `
			INSERT INTO snapshots (database_id, pages, page_count, taken_at, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(database_id) DO UPDATE SET
				pages      = excluded.pages,
				page_count = excluded.page_count,
				taken_at   = excluded.taken_at,
				updated_at = excluded.updated_at`,
			snap.DatabaseID, data, len(pages), takenAt.UnixNano(), time.Now().UnixNano(),
		)
		if err == nil {
			return nil
		}
		if !IsBusyError(err) || attempt >= busyRetries {
			return fmt.Errorf("failed to set snapshot: %w", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
			wait *= 2
		}
	}
}
