package store

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// FlagMergeCandidate records a near-duplicate pair for later reconciliation.
// Keys are stored in sorted order so (a, b) and (b, a) are the same row.
func (s *SQLiteStore) FlagMergeCandidate(ctx context.Context, c MergeCandidate) error {
	if c.KeyB < c.KeyA {
		c.KeyA, c.KeyB = c.KeyB, c.KeyA
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO merge_candidates (key_a, key_b, region, language, similarity, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(key_a, key_b, region, language) DO NOTHING
	`, c.KeyA, c.KeyB, c.Region, c.Language, c.Similarity, c.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("flag merge candidate %q/%q: %w", c.KeyA, c.KeyB, err)
	}
	return nil
}

func (s *SQLiteStore) ListMergeCandidates(ctx context.Context, unresolvedOnly bool) ([]MergeCandidate, error) {
	query := "SELECT * FROM merge_candidates"
	if unresolvedOnly {
		query += " WHERE resolved = 0"
	}
	query += " ORDER BY similarity DESC, key_a, key_b"

	var out []MergeCandidate
	if err := s.db.SelectContext(ctx, &out, query); err != nil {
		return nil, fmt.Errorf("list merge candidates: %w", err)
	}
	return out, nil
}

// RelatedKeys returns the keys flagged as near-duplicates of key.
func (s *SQLiteStore) RelatedKeys(ctx context.Context, key, region, language string) ([]string, error) {
	var keys []string
	err := s.db.SelectContext(ctx, &keys, `
		SELECT key_b FROM merge_candidates WHERE key_a = ? AND region = ? AND language = ?
		UNION
		SELECT key_a FROM merge_candidates WHERE key_b = ? AND region = ? AND language = ?
	`, key, region, language, key, region, language)
	if err != nil {
		return nil, fmt.Errorf("related keys %q: %w", key, err)
	}
	sort.Strings(keys)
	return keys, nil
}
