package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

func (s *SQLiteStore) CreateAlert(ctx context.Context, a *Alert) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO alerts (user_id, type, keyword, niche, threshold, explosion_pct, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, a.UserID, a.Type, a.Keyword, a.Niche, a.Threshold, a.ExplosionPct, a.Active, a.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	a.ID, _ = res.LastInsertId()
	return nil
}

func (s *SQLiteStore) ListAlerts(ctx context.Context, activeOnly bool) ([]Alert, error) {
	query := "SELECT * FROM alerts"
	if activeOnly {
		query += " WHERE active = 1"
	}
	query += " ORDER BY id"

	var alerts []Alert
	if err := s.db.SelectContext(ctx, &alerts, query); err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	return alerts, nil
}

// GetAlertState returns the stored state, or a fresh active state if the
// alert has never been evaluated against the trend.
func (s *SQLiteStore) GetAlertState(ctx context.Context, alertID, trendID int64) (AlertState, error) {
	var st AlertState
	err := s.db.GetContext(ctx, &st,
		"SELECT * FROM alert_states WHERE alert_id = ? AND trend_id = ?", alertID, trendID)
	if errors.Is(err, sql.ErrNoRows) {
		return AlertState{AlertID: alertID, TrendID: trendID, Status: "active"}, nil
	}
	if err != nil {
		return AlertState{}, fmt.Errorf("get alert state %d/%d: %w", alertID, trendID, err)
	}
	return st, nil
}

func (s *SQLiteStore) SaveAlertState(ctx context.Context, st AlertState) error {
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = time.Now().UTC()
	}
	var until any
	if st.SuppressedUntil != nil {
		until = st.SuppressedUntil.UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alert_states (alert_id, trend_id, status, suppressed_until, last_condition, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(alert_id, trend_id) DO UPDATE SET
			status = excluded.status,
			suppressed_until = excluded.suppressed_until,
			last_condition = excluded.last_condition,
			updated_at = excluded.updated_at
	`, st.AlertID, st.TrendID, st.Status, until, st.LastCondition, st.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("save alert state %d/%d: %w", st.AlertID, st.TrendID, err)
	}
	return nil
}

// InsertAlertEvent records an event. It returns false without error when an
// event for the same alert, trend and window already exists.
func (s *SQLiteStore) InsertAlertEvent(ctx context.Context, ev *AlertEvent) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO alert_events (id, alert_id, trend_id, window_start, score, growth_rate, reason, triggered_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(alert_id, trend_id, window_start) DO NOTHING
	`, ev.ID, ev.AlertID, ev.TrendID, ev.WindowStart.UTC(), ev.Score, ev.GrowthRate, ev.Reason, ev.TriggeredAt.UTC())
	if err != nil {
		return false, fmt.Errorf("insert alert event %d/%d: %w", ev.AlertID, ev.TrendID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert alert event %d/%d: %w", ev.AlertID, ev.TrendID, err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) MarkTriggered(ctx context.Context, alertID int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx, "UPDATE alerts SET last_triggered_at = ? WHERE id = ?", at.UTC(), alertID)
	if err != nil {
		return fmt.Errorf("mark triggered %d: %w", alertID, err)
	}
	return nil
}

func (s *SQLiteStore) ListAlertEvents(ctx context.Context, since time.Time, limit int) ([]AlertEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	var events []AlertEvent
	err := s.db.SelectContext(ctx, &events,
		"SELECT * FROM alert_events WHERE triggered_at >= ? ORDER BY triggered_at DESC LIMIT ?",
		since.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("list alert events: %w", err)
	}
	return events, nil
}
