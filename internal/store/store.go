package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a trend changed since it was read.
	ErrConflict = errors.New("concurrent update")
)

// Trend is the mutable projection of a canonical topic.
type Trend struct {
	ID            int64     `db:"id" json:"id"`
	CanonicalKey  string    `db:"canonical_key" json:"canonical_key"`
	Keyword       string    `db:"keyword" json:"keyword"`
	Category      string    `db:"category" json:"category"`
	Region        string    `db:"region" json:"region"`
	Language      string    `db:"language" json:"language"`
	Score         int       `db:"score" json:"score"`
	Label         string    `db:"label" json:"label"`
	GrowthRate    float64   `db:"growth_rate" json:"growth_rate"`
	VolumeTier    string    `db:"volume_tier" json:"volume_tier"`
	Direction     string    `db:"direction" json:"direction"`
	SparklineJSON string    `db:"sparkline" json:"-"`
	Sparkline     []int     `db:"-" json:"sparkline"`
	RelatedJSON   string    `db:"related" json:"-"`
	Related       []string  `db:"-" json:"related"`
	FirstSeen     time.Time `db:"first_seen" json:"first_seen"`
	LastUpdated   time.Time `db:"last_updated" json:"last_updated"`
	Archived      bool      `db:"archived" json:"archived"`
	Version       int64     `db:"version" json:"-"`
}

// Observation is one source's immutable contribution to a trend.
type Observation struct {
	ID         int64     `db:"id" json:"id"`
	TrendID    int64     `db:"trend_id" json:"trend_id"`
	Source     string    `db:"source" json:"source"`
	Metric     string    `db:"metric" json:"metric"`
	Value      float64   `db:"value" json:"value"`
	Unit       string    `db:"unit" json:"unit"`
	RawKeyword string    `db:"raw_keyword" json:"raw_keyword"`
	ObservedAt time.Time `db:"observed_at" json:"observed_at"`
}

// Snapshot is the computed score of a trend on one date.
type Snapshot struct {
	ID         int64     `db:"id" json:"-"`
	TrendID    int64     `db:"trend_id" json:"trend_id"`
	Date       string    `db:"date" json:"date"`
	Score      int       `db:"score" json:"score"`
	GrowthRate float64   `db:"growth_rate" json:"growth_rate"`
	Volume     float64   `db:"volume" json:"volume"`
	VolumeKind string    `db:"volume_kind" json:"volume_kind,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// ScoreUpdate is everything a scoring pass writes for one trend.
type ScoreUpdate struct {
	Trend           *Trend
	ExpectedVersion int64
	Snapshot        Snapshot
}

// MergeCandidate is a pair of keys that looked alike but were not merged.
type MergeCandidate struct {
	KeyA       string    `db:"key_a" json:"key_a"`
	KeyB       string    `db:"key_b" json:"key_b"`
	Region     string    `db:"region" json:"region"`
	Language   string    `db:"language" json:"language"`
	Similarity float64   `db:"similarity" json:"similarity"`
	Resolved   bool      `db:"resolved" json:"resolved"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// Alert is a user-defined rule.
type Alert struct {
	ID              int64      `db:"id" json:"id"`
	UserID          string     `db:"user_id" json:"user_id"`
	Type            string     `db:"type" json:"type"`
	Keyword         string     `db:"keyword" json:"keyword,omitempty"`
	Niche           string     `db:"niche" json:"niche,omitempty"`
	Threshold       int        `db:"threshold" json:"threshold"`
	ExplosionPct    float64    `db:"explosion_pct" json:"explosion_pct,omitempty"`
	Active          bool       `db:"active" json:"active"`
	LastTriggeredAt *time.Time `db:"last_triggered_at" json:"last_triggered_at,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
}

// AlertState tracks one alert's firing state for one trend.
type AlertState struct {
	AlertID         int64      `db:"alert_id"`
	TrendID         int64      `db:"trend_id"`
	Status          string     `db:"status"`
	SuppressedUntil *time.Time `db:"suppressed_until"`
	LastCondition   bool       `db:"last_condition"`
	UpdatedAt       time.Time  `db:"updated_at"`
}

// AlertEvent records an alert firing against a trend.
type AlertEvent struct {
	ID          string    `db:"id" json:"id"`
	AlertID     int64     `db:"alert_id" json:"alert_id"`
	TrendID     int64     `db:"trend_id" json:"trend_id"`
	WindowStart time.Time `db:"window_start" json:"window_start"`
	Score       int       `db:"score" json:"score"`
	GrowthRate  float64   `db:"growth_rate" json:"growth_rate"`
	Reason      string    `db:"reason" json:"reason"`
	TriggeredAt time.Time `db:"triggered_at" json:"triggered_at"`
}

// TrendListOpts controls trend listing.
type TrendListOpts struct {
	MinScore        int
	Region          string
	Category        string
	Limit           int
	IncludeArchived bool
}

// Store is the persistence interface.
type Store interface {
	Ping(ctx context.Context) error

	ResolveKeys(ctx context.Context, region, language string) (map[string]int64, error)
	UpsertTrend(ctx context.Context, t *Trend) (int64, error)
	AddAlias(ctx context.Context, aliasKey, region, language string, trendID int64) error
	GetTrend(ctx context.Context, id int64) (*Trend, error)
	ListTrends(ctx context.Context, opts TrendListOpts) ([]Trend, error)
	ArchiveStale(ctx context.Context, before time.Time) (int64, error)

	AppendObservations(ctx context.Context, obs []Observation) (int, error)
	ListObservations(ctx context.Context, trendID int64, since time.Time) ([]Observation, error)

	RecentSnapshots(ctx context.Context, trendID int64, limit int) ([]Snapshot, error)
	FirstSnapshotDate(ctx context.Context, trendID int64) (string, error)
	SaveScore(ctx context.Context, u ScoreUpdate) error

	FlagMergeCandidate(ctx context.Context, c MergeCandidate) error
	ListMergeCandidates(ctx context.Context, unresolvedOnly bool) ([]MergeCandidate, error)
	RelatedKeys(ctx context.Context, key, region, language string) ([]string, error)

	CreateAlert(ctx context.Context, a *Alert) error
	ListAlerts(ctx context.Context, activeOnly bool) ([]Alert, error)
	GetAlertState(ctx context.Context, alertID, trendID int64) (AlertState, error)
	SaveAlertState(ctx context.Context, st AlertState) error
	InsertAlertEvent(ctx context.Context, ev *AlertEvent) (bool, error)
	MarkTriggered(ctx context.Context, alertID int64, at time.Time) error
	ListAlertEvents(ctx context.Context, since time.Time, limit int) ([]AlertEvent, error)

	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// New opens a SQLite database and runs migrations.
func New(path string) (*SQLiteStore, error) {
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// SQLite has a single writer; one connection keeps per-trend
	// transactions from tripping over each other's locks.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	if err := addMissingColumns(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping sqlite: %w", err)
	}
	return nil
}
