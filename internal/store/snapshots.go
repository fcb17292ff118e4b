package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// RecentSnapshots returns up to limit of a trend's latest snapshots, oldest
// first.
func (s *SQLiteStore) RecentSnapshots(ctx context.Context, trendID int64, limit int) ([]Snapshot, error) {
	if limit <= 0 {
		limit = 30
	}
	var snaps []Snapshot
	err := s.db.SelectContext(ctx, &snaps,
		"SELECT * FROM snapshots WHERE trend_id = ? ORDER BY date DESC LIMIT ?",
		trendID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent snapshots %d: %w", trendID, err)
	}
	for i, j := 0, len(snaps)-1; i < j; i, j = i+1, j-1 {
		snaps[i], snaps[j] = snaps[j], snaps[i]
	}
	return snaps, nil
}

// FirstSnapshotDate returns the date of a trend's first snapshot, or "" if it
// has none.
func (s *SQLiteStore) FirstSnapshotDate(ctx context.Context, trendID int64) (string, error) {
	var date sql.NullString
	err := s.db.GetContext(ctx, &date, "SELECT MIN(date) FROM snapshots WHERE trend_id = ?", trendID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("first snapshot %d: %w", trendID, err)
	}
	return date.String, nil
}
