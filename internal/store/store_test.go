package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *SQLiteStore {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func mustTrend(t *testing.T, db *SQLiteStore, key string) *Trend {
	t.Helper()
	tr := &Trend{CanonicalKey: key, Keyword: key, Region: "US", Language: "en"}
	if _, err := db.UpsertTrend(context.Background(), tr); err != nil {
		t.Fatalf("UpsertTrend failed: %v", err)
	}
	return tr
}

func TestUpsertTrendIdempotent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	first := &Trend{CanonicalKey: "electric bikes", Keyword: "Electric Bikes", Region: "US", Language: "en"}
	id1, err := db.UpsertTrend(ctx, first)
	if err != nil {
		t.Fatalf("UpsertTrend failed: %v", err)
	}

	second := &Trend{CanonicalKey: "electric bikes", Keyword: "electric bikes", Category: "mobility", Region: "US", Language: "en"}
	id2, err := db.UpsertTrend(ctx, second)
	if err != nil {
		t.Fatalf("UpsertTrend failed: %v", err)
	}
	if id1 != id2 {
		t.Errorf("expected same id, got %d and %d", id1, id2)
	}

	got, err := db.GetTrend(ctx, id1)
	if err != nil {
		t.Fatalf("GetTrend failed: %v", err)
	}
	if got.Keyword != "Electric Bikes" {
		t.Errorf("expected original keyword kept, got %q", got.Keyword)
	}
	if got.Category != "mobility" {
		t.Errorf("expected empty category filled, got %q", got.Category)
	}
	if got.Sparkline == nil || got.Related == nil {
		t.Error("expected decoded slices to be non-nil")
	}

	other := &Trend{CanonicalKey: "electric bikes", Keyword: "electric bikes", Region: "GB", Language: "en"}
	id3, err := db.UpsertTrend(ctx, other)
	if err != nil {
		t.Fatalf("UpsertTrend failed: %v", err)
	}
	if id3 == id1 {
		t.Error("expected a separate trend per region")
	}
}

func TestGetTrendNotFound(t *testing.T) {
	db := openTestDB(t)
	_, err := db.GetTrend(context.Background(), 42)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestResolveKeysIncludesAliases(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	tr := mustTrend(t, db, "ai tool")

	if err := db.AddAlias(ctx, "ai tools", "US", "en", tr.ID); err != nil {
		t.Fatalf("AddAlias failed: %v", err)
	}
	if err := db.AddAlias(ctx, "ai tools", "US", "en", tr.ID); err != nil {
		t.Fatalf("repeated AddAlias failed: %v", err)
	}

	keys, err := db.ResolveKeys(ctx, "US", "en")
	if err != nil {
		t.Fatalf("ResolveKeys failed: %v", err)
	}
	if len(keys) != 2 || keys["ai tool"] != tr.ID || keys["ai tools"] != tr.ID {
		t.Errorf("unexpected keys: %v", keys)
	}

	other, err := db.ResolveKeys(ctx, "GB", "en")
	if err != nil {
		t.Fatalf("ResolveKeys failed: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("expected no keys in another region, got %v", other)
	}
}

func TestAppendObservationsDedup(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	tr := mustTrend(t, db, "electric bikes")
	at := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

	obs := []Observation{
		{TrendID: tr.ID, Source: "google_trends", Metric: "search_index", Value: 80, ObservedAt: at},
		{TrendID: tr.ID, Source: "youtube", Metric: "views", Value: 1000, ObservedAt: at},
	}
	n, err := db.AppendObservations(ctx, obs)
	if err != nil {
		t.Fatalf("AppendObservations failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 inserted, got %d", n)
	}

	obs[0].Value = 90
	n, err = db.AppendObservations(ctx, obs)
	if err != nil {
		t.Fatalf("AppendObservations failed: %v", err)
	}
	if n != 0 {
		t.Errorf("expected 0 inserted on replay, got %d", n)
	}

	got, err := db.ListObservations(ctx, tr.ID, at.Add(-time.Hour))
	if err != nil {
		t.Fatalf("ListObservations failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 observations, got %d", len(got))
	}
	if got[0].Source != "google_trends" || got[0].Value != 80 {
		t.Errorf("expected first write to win, got %+v", got[0])
	}

	got, err = db.ListObservations(ctx, tr.ID, at.Add(time.Hour))
	if err != nil {
		t.Fatalf("ListObservations failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected window to exclude older rows, got %d", len(got))
	}
}

func TestSaveScoreVersioning(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	tr := mustTrend(t, db, "electric bikes")
	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

	fresh, err := db.GetTrend(ctx, tr.ID)
	if err != nil {
		t.Fatalf("GetTrend failed: %v", err)
	}
	fresh.Score = 40
	fresh.Label = "Worth Watching"
	fresh.Sparkline = []int{40}
	fresh.LastUpdated = now
	err = db.SaveScore(ctx, ScoreUpdate{
		Trend:           fresh,
		ExpectedVersion: 0,
		Snapshot:        Snapshot{Date: "2026-10-15", Score: 40, Volume: 80, VolumeKind: "search_index"},
	})
	if err != nil {
		t.Fatalf("SaveScore failed: %v", err)
	}
	if fresh.Version != 1 {
		t.Errorf("expected version 1, got %d", fresh.Version)
	}

	stale := *fresh
	stale.Score = 99
	err = db.SaveScore(ctx, ScoreUpdate{
		Trend:           &stale,
		ExpectedVersion: 0,
		Snapshot:        Snapshot{Date: "2026-10-15", Score: 99},
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	got, err := db.GetTrend(ctx, tr.ID)
	if err != nil {
		t.Fatalf("GetTrend failed: %v", err)
	}
	if got.Score != 40 || len(got.Sparkline) != 1 || got.Sparkline[0] != 40 {
		t.Errorf("expected conflicting write discarded, got score %d sparkline %v", got.Score, got.Sparkline)
	}
	snaps, err := db.RecentSnapshots(ctx, tr.ID, 10)
	if err != nil {
		t.Fatalf("RecentSnapshots failed: %v", err)
	}
	if len(snaps) != 1 || snaps[0].Score != 40 {
		t.Errorf("expected snapshot rolled back with the conflict, got %+v", snaps)
	}
	if len(snaps) == 1 && (snaps[0].Volume != 80 || snaps[0].VolumeKind != "search_index") {
		t.Errorf("expected volume 80 of kind search_index, got %v %q", snaps[0].Volume, snaps[0].VolumeKind)
	}
}

func TestNewAddsVolumeKindToOlderDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")
	db, err := New(path)
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	if _, err := db.db.Exec("ALTER TABLE snapshots DROP COLUMN volume_kind"); err != nil {
		t.Fatalf("drop column: %v", err)
	}
	db.Close()

	db, err = New(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	tr := mustTrend(t, db, "electric bikes")
	err = db.SaveScore(ctx, ScoreUpdate{Trend: tr, Snapshot: Snapshot{Date: "2026-10-15", Score: 40, Volume: 12, VolumeKind: "posts"}})
	if err != nil {
		t.Fatalf("SaveScore failed: %v", err)
	}
	snaps, err := db.RecentSnapshots(ctx, tr.ID, 10)
	if err != nil {
		t.Fatalf("RecentSnapshots failed: %v", err)
	}
	if len(snaps) != 1 || snaps[0].VolumeKind != "posts" {
		t.Errorf("expected volume kind posts after migration, got %+v", snaps)
	}
}

func TestSnapshotsReplaceAndOrder(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	tr := mustTrend(t, db, "electric bikes")

	save := func(date string, score int) {
		t.Helper()
		cur, err := db.GetTrend(ctx, tr.ID)
		if err != nil {
			t.Fatalf("GetTrend failed: %v", err)
		}
		cur.Score = score
		err = db.SaveScore(ctx, ScoreUpdate{Trend: cur, ExpectedVersion: cur.Version, Snapshot: Snapshot{Date: date, Score: score}})
		if err != nil {
			t.Fatalf("SaveScore %s failed: %v", date, err)
		}
	}
	save("2026-10-14", 30)
	save("2026-10-12", 10)
	save("2026-10-13", 20)
	save("2026-10-14", 35)

	snaps, err := db.RecentSnapshots(ctx, tr.ID, 2)
	if err != nil {
		t.Fatalf("RecentSnapshots failed: %v", err)
	}
	if len(snaps) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(snaps))
	}
	if snaps[0].Date != "2026-10-13" || snaps[1].Date != "2026-10-14" || snaps[1].Score != 35 {
		t.Errorf("expected latest two oldest first with replacement, got %+v", snaps)
	}

	first, err := db.FirstSnapshotDate(ctx, tr.ID)
	if err != nil {
		t.Fatalf("FirstSnapshotDate failed: %v", err)
	}
	if first != "2026-10-12" {
		t.Errorf("expected first date 2026-10-12, got %q", first)
	}

	none, err := db.FirstSnapshotDate(ctx, tr.ID+100)
	if err != nil {
		t.Fatalf("FirstSnapshotDate failed: %v", err)
	}
	if none != "" {
		t.Errorf("expected empty first date without history, got %q", none)
	}
}

func TestListTrendsFilters(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	for _, tc := range []struct {
		key, category string
		score         int
	}{
		{"electric bikes", "Mobility", 70},
		{"sourdough", "Food", 30},
		{"ai tool", "Tech", 90},
	} {
		tr := &Trend{CanonicalKey: tc.key, Keyword: tc.key, Category: tc.category, Region: "US", Language: "en"}
		if _, err := db.UpsertTrend(ctx, tr); err != nil {
			t.Fatalf("UpsertTrend failed: %v", err)
		}
		tr.Score = tc.score
		tr.LastUpdated = time.Now()
		if err := db.SaveScore(ctx, ScoreUpdate{Trend: tr, Snapshot: Snapshot{Date: "2026-10-15", Score: tc.score}}); err != nil {
			t.Fatalf("SaveScore failed: %v", err)
		}
	}

	all, err := db.ListTrends(ctx, TrendListOpts{})
	if err != nil {
		t.Fatalf("ListTrends failed: %v", err)
	}
	if len(all) != 3 || all[0].CanonicalKey != "ai tool" {
		t.Errorf("expected 3 trends by score desc, got %+v", all)
	}

	hot, err := db.ListTrends(ctx, TrendListOpts{MinScore: 60})
	if err != nil {
		t.Fatalf("ListTrends failed: %v", err)
	}
	if len(hot) != 2 {
		t.Errorf("expected 2 trends at 60+, got %d", len(hot))
	}

	food, err := db.ListTrends(ctx, TrendListOpts{Category: "food"})
	if err != nil {
		t.Fatalf("ListTrends failed: %v", err)
	}
	if len(food) != 1 || food[0].CanonicalKey != "sourdough" {
		t.Errorf("expected case-insensitive category match, got %+v", food)
	}

	gb, err := db.ListTrends(ctx, TrendListOpts{Region: "GB"})
	if err != nil {
		t.Fatalf("ListTrends failed: %v", err)
	}
	if len(gb) != 0 {
		t.Errorf("expected no GB trends, got %d", len(gb))
	}
}

func TestArchiveStale(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	old := &Trend{CanonicalKey: "fidget spinner", Keyword: "fidget spinner", Region: "US", Language: "en",
		FirstSeen: time.Now().AddDate(-1, 0, 0)}
	if _, err := db.UpsertTrend(ctx, old); err != nil {
		t.Fatalf("UpsertTrend failed: %v", err)
	}
	mustTrend(t, db, "electric bikes")

	n, err := db.ArchiveStale(ctx, time.Now().AddDate(0, 0, -180))
	if err != nil {
		t.Fatalf("ArchiveStale failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 archived, got %d", n)
	}

	live, err := db.ListTrends(ctx, TrendListOpts{})
	if err != nil {
		t.Fatalf("ListTrends failed: %v", err)
	}
	if len(live) != 1 || live[0].CanonicalKey != "electric bikes" {
		t.Errorf("expected only the fresh trend listed, got %+v", live)
	}

	everything, err := db.ListTrends(ctx, TrendListOpts{IncludeArchived: true})
	if err != nil {
		t.Fatalf("ListTrends failed: %v", err)
	}
	if len(everything) != 2 {
		t.Errorf("expected archived trend kept, got %d", len(everything))
	}
}

func TestMergeCandidates(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	c := MergeCandidate{KeyA: "openai sora video", KeyB: "openai sora", Region: "US", Language: "en", Similarity: 0.67}
	if err := db.FlagMergeCandidate(ctx, c); err != nil {
		t.Fatalf("FlagMergeCandidate failed: %v", err)
	}
	c.KeyA, c.KeyB = c.KeyB, c.KeyA
	if err := db.FlagMergeCandidate(ctx, c); err != nil {
		t.Fatalf("FlagMergeCandidate failed: %v", err)
	}

	cands, err := db.ListMergeCandidates(ctx, true)
	if err != nil {
		t.Fatalf("ListMergeCandidates failed: %v", err)
	}
	if len(cands) != 1 {
		t.Fatalf("expected reversed pair stored once, got %d", len(cands))
	}
	if cands[0].KeyA != "openai sora" || cands[0].KeyB != "openai sora video" {
		t.Errorf("expected keys in sorted order, got %+v", cands[0])
	}

	related, err := db.RelatedKeys(ctx, "openai sora video", "US", "en")
	if err != nil {
		t.Fatalf("RelatedKeys failed: %v", err)
	}
	if len(related) != 1 || related[0] != "openai sora" {
		t.Errorf("expected related [openai sora], got %v", related)
	}

	none, err := db.RelatedKeys(ctx, "openai sora", "GB", "en")
	if err != nil {
		t.Fatalf("RelatedKeys failed: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("expected no related keys in another region, got %v", none)
	}
}

func TestAlertStateAndEvents(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	tr := mustTrend(t, db, "electric bikes")

	a := &Alert{UserID: "u1", Type: "threshold", Threshold: 70, Active: true}
	if err := db.CreateAlert(ctx, a); err != nil {
		t.Fatalf("CreateAlert failed: %v", err)
	}
	if a.ID == 0 {
		t.Fatal("expected alert id to be set")
	}

	st, err := db.GetAlertState(ctx, a.ID, tr.ID)
	if err != nil {
		t.Fatalf("GetAlertState failed: %v", err)
	}
	if st.Status != "active" || st.LastCondition {
		t.Errorf("expected fresh active state, got %+v", st)
	}

	until := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	st.Status = "suppressed"
	st.SuppressedUntil = &until
	st.LastCondition = true
	if err := db.SaveAlertState(ctx, st); err != nil {
		t.Fatalf("SaveAlertState failed: %v", err)
	}
	st, err = db.GetAlertState(ctx, a.ID, tr.ID)
	if err != nil {
		t.Fatalf("GetAlertState failed: %v", err)
	}
	if st.Status != "suppressed" || !st.LastCondition || st.SuppressedUntil == nil || !st.SuppressedUntil.Equal(until) {
		t.Errorf("unexpected saved state: %+v", st)
	}

	window := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	ev := &AlertEvent{ID: "ev-1", AlertID: a.ID, TrendID: tr.ID, WindowStart: window, Score: 75, TriggeredAt: window}
	inserted, err := db.InsertAlertEvent(ctx, ev)
	if err != nil {
		t.Fatalf("InsertAlertEvent failed: %v", err)
	}
	if !inserted {
		t.Error("expected first event inserted")
	}

	dup := *ev
	dup.ID = "ev-2"
	inserted, err = db.InsertAlertEvent(ctx, &dup)
	if err != nil {
		t.Fatalf("InsertAlertEvent failed: %v", err)
	}
	if inserted {
		t.Error("expected duplicate window to be skipped")
	}

	if err := db.MarkTriggered(ctx, a.ID, window); err != nil {
		t.Fatalf("MarkTriggered failed: %v", err)
	}
	alerts, err := db.ListAlerts(ctx, true)
	if err != nil {
		t.Fatalf("ListAlerts failed: %v", err)
	}
	if len(alerts) != 1 || alerts[0].LastTriggeredAt == nil {
		t.Errorf("expected triggered alert, got %+v", alerts)
	}

	events, err := db.ListAlertEvents(ctx, window.Add(-time.Hour), 0)
	if err != nil {
		t.Fatalf("ListAlertEvents failed: %v", err)
	}
	if len(events) != 1 || events[0].ID != "ev-1" {
		t.Errorf("expected one event ev-1, got %+v", events)
	}
}
