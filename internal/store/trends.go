package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ResolveKeys returns every canonical key and alias known in a region and
// language, mapped to its trend id.
func (s *SQLiteStore) ResolveKeys(ctx context.Context, region, language string) (map[string]int64, error) {
	type row struct {
		Key     string `db:"k"`
		TrendID int64  `db:"trend_id"`
	}

	var rows []row
	err := s.db.SelectContext(ctx, &rows, `
		SELECT canonical_key AS k, id AS trend_id FROM trends WHERE region = ? AND language = ?
		UNION ALL
		SELECT alias_key AS k, trend_id FROM trend_aliases WHERE region = ? AND language = ?
	`, region, language, region, language)
	if err != nil {
		return nil, fmt.Errorf("resolve keys %s/%s: %w", region, language, err)
	}

	keys := make(map[string]int64, len(rows))
	for _, r := range rows {
		if _, ok := keys[r.Key]; !ok {
			keys[r.Key] = r.TrendID
		}
	}
	return keys, nil
}

// UpsertTrend inserts a trend if its canonical key is new in its region and
// language, and returns the id either way. An existing trend only picks up a
// category when it had none.
func (s *SQLiteStore) UpsertTrend(ctx context.Context, t *Trend) (int64, error) {
	now := time.Now().UTC()
	if t.FirstSeen.IsZero() {
		t.FirstSeen = now
	}
	if t.LastUpdated.IsZero() {
		t.LastUpdated = t.FirstSeen
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trends (canonical_key, keyword, category, region, language, first_seen, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(canonical_key, region, language) DO UPDATE SET
			category = CASE WHEN trends.category = '' THEN excluded.category ELSE trends.category END
	`, t.CanonicalKey, t.Keyword, t.Category, t.Region, t.Language, t.FirstSeen.UTC(), t.LastUpdated.UTC())
	if err != nil {
		return 0, fmt.Errorf("upsert trend %q: %w", t.CanonicalKey, err)
	}

	var id int64
	err = s.db.GetContext(ctx, &id,
		"SELECT id FROM trends WHERE canonical_key = ? AND region = ? AND language = ?",
		t.CanonicalKey, t.Region, t.Language)
	if err != nil {
		return 0, fmt.Errorf("lookup trend %q: %w", t.CanonicalKey, err)
	}
	t.ID = id
	return id, nil
}

func (s *SQLiteStore) AddAlias(ctx context.Context, aliasKey, region, language string, trendID int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trend_aliases (alias_key, region, language, trend_id, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(alias_key, region, language) DO NOTHING
	`, aliasKey, region, language, trendID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("add alias %q: %w", aliasKey, err)
	}
	return nil
}

func (s *SQLiteStore) GetTrend(ctx context.Context, id int64) (*Trend, error) {
	var t Trend
	err := s.db.GetContext(ctx, &t, "SELECT * FROM trends WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("trend %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get trend %d: %w", id, err)
	}
	t.decode()
	return &t, nil
}

func (s *SQLiteStore) ListTrends(ctx context.Context, opts TrendListOpts) ([]Trend, error) {
	query := "SELECT * FROM trends WHERE 1=1"
	var args []any

	if !opts.IncludeArchived {
		query += " AND archived = 0"
	}
	if opts.MinScore > 0 {
		query += " AND score >= ?"
		args = append(args, opts.MinScore)
	}
	if opts.Region != "" {
		query += " AND region = ?"
		args = append(args, opts.Region)
	}
	if opts.Category != "" {
		query += " AND category = ? COLLATE NOCASE"
		args = append(args, opts.Category)
	}

	query += " ORDER BY score DESC, id ASC"

	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	query += " LIMIT ?"
	args = append(args, limit)

	var trends []Trend
	if err := s.db.SelectContext(ctx, &trends, query, args...); err != nil {
		return nil, fmt.Errorf("list trends: %w", err)
	}
	for i := range trends {
		trends[i].decode()
	}
	return trends, nil
}

// ArchiveStale soft-archives trends not updated since before.
func (s *SQLiteStore) ArchiveStale(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE trends SET archived = 1, version = version + 1 WHERE archived = 0 AND last_updated < ?",
		before.UTC())
	if err != nil {
		return 0, fmt.Errorf("archive stale trends: %w", err)
	}
	return res.RowsAffected()
}

// SaveScore writes the day's snapshot and the new projection in one
// transaction. The projection update only applies if the trend's version is
// still ExpectedVersion; otherwise nothing is written and ErrConflict is
// returned.
func (s *SQLiteStore) SaveScore(ctx context.Context, u ScoreUpdate) error {
	t := u.Trend
	sparkJSON, err := json.Marshal(nonNilInts(t.Sparkline))
	if err != nil {
		return fmt.Errorf("marshal sparkline: %w", err)
	}
	relatedJSON, err := json.Marshal(nonNilStrings(t.Related))
	if err != nil {
		return fmt.Errorf("marshal related: %w", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin score tx %d: %w", t.ID, err)
	}
	defer tx.Rollback()

	snap := u.Snapshot
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now().UTC()
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO snapshots (trend_id, date, score, growth_rate, volume, volume_kind, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(trend_id, date) DO UPDATE SET
			score = excluded.score,
			growth_rate = excluded.growth_rate,
			volume = excluded.volume,
			volume_kind = excluded.volume_kind,
			created_at = excluded.created_at
	`, t.ID, snap.Date, snap.Score, snap.GrowthRate, snap.Volume, snap.VolumeKind, snap.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("upsert snapshot %d/%s: %w", t.ID, snap.Date, err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE trends SET
			keyword = ?, category = ?, score = ?, label = ?, growth_rate = ?, volume_tier = ?,
			direction = ?, sparkline = ?, related = ?, last_updated = ?, archived = 0,
			version = version + 1
		WHERE id = ? AND version = ?
	`, t.Keyword, t.Category, t.Score, t.Label, t.GrowthRate, t.VolumeTier,
		t.Direction, string(sparkJSON), string(relatedJSON), t.LastUpdated.UTC(),
		t.ID, u.ExpectedVersion)
	if err != nil {
		return fmt.Errorf("update trend %d: %w", t.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update trend %d: %w", t.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("trend %d at version %d: %w", t.ID, u.ExpectedVersion, ErrConflict)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit score tx %d: %w", t.ID, err)
	}
	t.Version = u.ExpectedVersion + 1
	return nil
}

func (t *Trend) decode() {
	json.Unmarshal([]byte(t.SparklineJSON), &t.Sparkline)
	json.Unmarshal([]byte(t.RelatedJSON), &t.Related)
	if t.Sparkline == nil {
		t.Sparkline = []int{}
	}
	if t.Related == nil {
		t.Related = []string{}
	}
}

func nonNilInts(v []int) []int {
	if v == nil {
		return []int{}
	}
	return v
}

func nonNilStrings(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
