package store

import (
	"context"
	"fmt"
	"time"
)

// AppendObservations inserts observations, skipping any whose
// (source, trend, metric, observed_at) key already exists. It returns how many
// rows were new.
func (s *SQLiteStore) AppendObservations(ctx context.Context, obs []Observation) (int, error) {
	if len(obs) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin observations tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, `
		INSERT INTO observations (trend_id, source, metric, value, unit, raw_keyword, observed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source, trend_id, metric, observed_at) DO NOTHING
	`)
	if err != nil {
		return 0, fmt.Errorf("prepare observation insert: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, o := range obs {
		res, err := stmt.ExecContext(ctx, o.TrendID, o.Source, o.Metric, o.Value, o.Unit, o.RawKeyword, o.ObservedAt.UTC())
		if err != nil {
			return 0, fmt.Errorf("insert observation %s/%d: %w", o.Source, o.TrendID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit observations: %w", err)
	}
	return inserted, nil
}

// ListObservations returns a trend's observations since a time, oldest first.
func (s *SQLiteStore) ListObservations(ctx context.Context, trendID int64, since time.Time) ([]Observation, error) {
	var obs []Observation
	err := s.db.SelectContext(ctx, &obs,
		"SELECT * FROM observations WHERE trend_id = ? AND observed_at >= ? ORDER BY observed_at, source, metric",
		trendID, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("list observations %d: %w", trendID, err)
	}
	return obs, nil
}
