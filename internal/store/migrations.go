package store

import (
	"fmt"

	"github.com/jmoiron/sqlx"
)

const schema = `
CREATE TABLE IF NOT EXISTS trends (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    canonical_key  TEXT NOT NULL,
    keyword        TEXT NOT NULL,
    category       TEXT NOT NULL DEFAULT '',
    region         TEXT NOT NULL,
    language       TEXT NOT NULL,
    score          INTEGER NOT NULL DEFAULT 0,
    label          TEXT NOT NULL DEFAULT '',
    growth_rate    REAL NOT NULL DEFAULT 0,
    volume_tier    TEXT NOT NULL DEFAULT 'low',
    direction      TEXT NOT NULL DEFAULT 'stable',
    sparkline      TEXT NOT NULL DEFAULT '[]',
    related        TEXT NOT NULL DEFAULT '[]',
    first_seen     DATETIME NOT NULL,
    last_updated   DATETIME NOT NULL,
    archived       BOOLEAN NOT NULL DEFAULT 0,
    version        INTEGER NOT NULL DEFAULT 0,
    UNIQUE(canonical_key, region, language)
);

CREATE INDEX IF NOT EXISTS idx_trends_score ON trends(score);
CREATE INDEX IF NOT EXISTS idx_trends_updated ON trends(last_updated);

CREATE TABLE IF NOT EXISTS trend_aliases (
    alias_key  TEXT NOT NULL,
    region     TEXT NOT NULL,
    language   TEXT NOT NULL,
    trend_id   INTEGER NOT NULL REFERENCES trends(id),
    created_at DATETIME NOT NULL,
    PRIMARY KEY (alias_key, region, language)
);

CREATE TABLE IF NOT EXISTS observations (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    trend_id    INTEGER NOT NULL REFERENCES trends(id),
    source      TEXT NOT NULL,
    metric      TEXT NOT NULL,
    value       REAL NOT NULL,
    unit        TEXT NOT NULL DEFAULT '',
    raw_keyword TEXT NOT NULL DEFAULT '',
    observed_at DATETIME NOT NULL,
    UNIQUE(source, trend_id, metric, observed_at)
);

CREATE INDEX IF NOT EXISTS idx_observations_trend ON observations(trend_id, observed_at);

CREATE TABLE IF NOT EXISTS snapshots (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    trend_id    INTEGER NOT NULL REFERENCES trends(id),
    date        TEXT NOT NULL,
    score       INTEGER NOT NULL,
    growth_rate REAL NOT NULL DEFAULT 0,
    volume      REAL NOT NULL DEFAULT 0,
    volume_kind TEXT NOT NULL DEFAULT '',
    created_at  DATETIME NOT NULL,
    UNIQUE(trend_id, date)
);

CREATE TABLE IF NOT EXISTS alerts (
    id                INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id           TEXT NOT NULL DEFAULT '',
    type              TEXT NOT NULL,
    keyword           TEXT NOT NULL DEFAULT '',
    niche             TEXT NOT NULL DEFAULT '',
    threshold         INTEGER NOT NULL DEFAULT 0,
    explosion_pct     REAL NOT NULL DEFAULT 0,
    active            BOOLEAN NOT NULL DEFAULT 1,
    last_triggered_at DATETIME,
    created_at        DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS alert_states (
    alert_id         INTEGER NOT NULL REFERENCES alerts(id),
    trend_id         INTEGER NOT NULL REFERENCES trends(id),
    status           TEXT NOT NULL DEFAULT 'active',
    suppressed_until DATETIME,
    last_condition   BOOLEAN NOT NULL DEFAULT 0,
    updated_at       DATETIME NOT NULL,
    PRIMARY KEY (alert_id, trend_id)
);

CREATE TABLE IF NOT EXISTS alert_events (
    id           TEXT PRIMARY KEY,
    alert_id     INTEGER NOT NULL REFERENCES alerts(id),
    trend_id     INTEGER NOT NULL REFERENCES trends(id),
    window_start DATETIME NOT NULL,
    score        INTEGER NOT NULL,
    growth_rate  REAL NOT NULL DEFAULT 0,
    reason       TEXT NOT NULL DEFAULT '',
    triggered_at DATETIME NOT NULL,
    UNIQUE(alert_id, trend_id, window_start)
);

CREATE INDEX IF NOT EXISTS idx_alert_events_triggered ON alert_events(triggered_at);

CREATE TABLE IF NOT EXISTS merge_candidates (
    key_a      TEXT NOT NULL,
    key_b      TEXT NOT NULL,
    region     TEXT NOT NULL,
    language   TEXT NOT NULL,
    similarity REAL NOT NULL,
    resolved   BOOLEAN NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL,
    PRIMARY KEY (key_a, key_b, region, language)
);
`

// Columns added after a table was first released. CREATE TABLE IF NOT EXISTS
// leaves older databases without them.
var addedColumns = []struct {
	table, column, ddl string
}{
	{"snapshots", "volume_kind", "ALTER TABLE snapshots ADD COLUMN volume_kind TEXT NOT NULL DEFAULT ''"},
}

func addMissingColumns(db *sqlx.DB) error {
	for _, c := range addedColumns {
		var n int
		if err := db.Get(&n, "SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?", c.table, c.column); err != nil {
			return fmt.Errorf("inspect %s: %w", c.table, err)
		}
		if n > 0 {
			continue
		}
		if _, err := db.Exec(c.ddl); err != nil {
			return fmt.Errorf("add %s.%s: %w", c.table, c.column, err)
		}
	}
	return nil
}
