package alert

import (
	"context"
	"io"
	"log"
	"path/filepath"
	"testing"
	"time"

	"github.com/elonfeng/trendpulse/internal/store"
)

var base = time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

func thresholdAlert(threshold int) store.Alert {
	return store.Alert{ID: 1, Type: TypeThreshold, Threshold: threshold, Active: true}
}

func subject(score int) Subject {
	return Subject{TrendID: 7, CanonicalKey: "electric bikes", Keyword: "Electric Bikes", Category: "Mobility", Score: score}
}

func freshState() store.AlertState {
	return store.AlertState{AlertID: 1, TrendID: 7, Status: StateActive}
}

func TestEvaluateFiresOnRisingEdge(t *testing.T) {
	a := thresholdAlert(70)
	st := freshState()

	d := Evaluate(a, st, subject(60), base, 24*time.Hour)
	if d.Fire {
		t.Fatal("expected no fire below threshold")
	}
	if d.State.LastCondition {
		t.Error("expected condition false below threshold")
	}

	d = Evaluate(a, d.State, subject(75), base.Add(6*time.Hour), 24*time.Hour)
	if !d.Fire {
		t.Fatal("expected fire when crossing threshold")
	}
	if d.Reason == "" {
		t.Error("expected a reason on fire")
	}
	if d.State.Status != StateSuppressed || d.State.SuppressedUntil == nil {
		t.Errorf("expected suppressed state after firing, got %+v", d.State)
	}

	d = Evaluate(a, d.State, subject(80), base.Add(12*time.Hour), 24*time.Hour)
	if d.Fire {
		t.Error("expected no refire while condition stays true")
	}
}

func TestEvaluateRefiresAfterDrop(t *testing.T) {
	a := thresholdAlert(70)
	cooldown := 24 * time.Hour

	d := Evaluate(a, freshState(), subject(75), base, cooldown)
	if !d.Fire {
		t.Fatal("expected first fire")
	}

	d = Evaluate(a, d.State, subject(50), base.Add(6*time.Hour), cooldown)
	if d.Fire {
		t.Fatal("expected no fire below threshold")
	}
	if d.State.Status != StateActive || d.State.SuppressedUntil != nil {
		t.Errorf("expected drop to clear suppression, got %+v", d.State)
	}

	d = Evaluate(a, d.State, subject(72), base.Add(12*time.Hour), cooldown)
	if !d.Fire {
		t.Error("expected refire after condition cleared and rose again")
	}
}

func TestEvaluateCooldownExpiryAlone(t *testing.T) {
	a := thresholdAlert(70)
	cooldown := 24 * time.Hour

	d := Evaluate(a, freshState(), subject(75), base, cooldown)
	d = Evaluate(a, d.State, subject(90), base.Add(48*time.Hour), cooldown)
	if d.Fire {
		t.Error("expected no refire when condition never cleared")
	}
	if d.State.Status != StateActive {
		t.Errorf("expected active after cooldown, got %q", d.State.Status)
	}
}

func TestEvaluateInactiveAlert(t *testing.T) {
	a := thresholdAlert(10)
	a.Active = false

	d := Evaluate(a, freshState(), subject(90), base, time.Hour)
	if d.Fire {
		t.Error("expected inactive alert never to fire")
	}
	if d.State.Status != StateInactive {
		t.Errorf("expected status inactive, got %q", d.State.Status)
	}
}

func TestInScope(t *testing.T) {
	s := subject(50)
	tests := []struct {
		name  string
		alert store.Alert
		want  bool
	}{
		{"keyword substring", store.Alert{Type: TypeKeyword, Keyword: "Electric"}, true},
		{"keyword miss", store.Alert{Type: TypeKeyword, Keyword: "sourdough"}, false},
		{"keyword empty", store.Alert{Type: TypeKeyword}, false},
		{"niche case-insensitive", store.Alert{Type: TypeNiche, Niche: "mobility"}, true},
		{"niche miss", store.Alert{Type: TypeNiche, Niche: "food"}, false},
		{"threshold", store.Alert{Type: TypeThreshold}, true},
		{"explosion unscoped", store.Alert{Type: TypeExplosion}, true},
		{"explosion scoped miss", store.Alert{Type: TypeExplosion, Keyword: "sourdough"}, false},
		{"unknown type", store.Alert{Type: "sms"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := InScope(tt.alert, s); got != tt.want {
				t.Errorf("InScope = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExplosionCondition(t *testing.T) {
	a := store.Alert{ID: 2, Type: TypeExplosion, Active: true}
	s := subject(10)

	if ok, _ := Condition(a, s); ok {
		t.Error("expected no explosion without a previous-day snapshot")
	}

	s.Explosion, s.HasExplosion = 200, true
	if ok, _ := Condition(a, s); ok {
		t.Error("expected growth equal to the default limit not to count")
	}

	s.Explosion = 300
	if ok, reason := Condition(a, s); !ok || reason == "" {
		t.Errorf("expected explosion above 200%%, got %v %q", ok, reason)
	}

	a.ExplosionPct = 500
	if ok, _ := Condition(a, s); ok {
		t.Error("expected custom limit to apply")
	}
}

func TestMatchRecordsOncePerWindow(t *testing.T) {
	db, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	defer db.Close()
	ctx := context.Background()

	tr := &store.Trend{CanonicalKey: "electric bikes", Keyword: "Electric Bikes", Region: "US", Language: "en"}
	if _, err := db.UpsertTrend(ctx, tr); err != nil {
		t.Fatalf("UpsertTrend failed: %v", err)
	}
	a := &store.Alert{Type: TypeThreshold, Threshold: 50, Active: true}
	if err := db.CreateAlert(ctx, a); err != nil {
		t.Fatalf("CreateAlert failed: %v", err)
	}

	m := NewMatcher(db, 0, 6*time.Hour, 0, log.New(io.Discard, "", 0))
	s := Subject{TrendID: tr.ID, CanonicalKey: tr.CanonicalKey, Score: 60}

	events, err := m.Match(ctx, []store.Alert{*a}, s, base)
	if err != nil {
		t.Fatalf("Match failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if !events[0].WindowStart.Equal(base) {
		t.Errorf("expected window aligned to %v, got %v", base, events[0].WindowStart)
	}

	// Condition clears then returns within the same window: the state machine
	// fires again but the window key suppresses the duplicate.
	s.Score = 10
	if _, err := m.Match(ctx, []store.Alert{*a}, s, base.Add(time.Hour)); err != nil {
		t.Fatalf("Match failed: %v", err)
	}
	s.Score = 60
	events, err = m.Match(ctx, []store.Alert{*a}, s, base.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("Match failed: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("expected duplicate window suppressed, got %d events", len(events))
	}

	stored, err := db.ListAlertEvents(ctx, base.Add(-time.Hour), 10)
	if err != nil {
		t.Fatalf("ListAlertEvents failed: %v", err)
	}
	if len(stored) != 1 {
		t.Errorf("expected 1 stored event, got %d", len(stored))
	}

	st, err := db.GetAlertState(ctx, a.ID, tr.ID)
	if err != nil {
		t.Fatalf("GetAlertState failed: %v", err)
	}
	if !st.LastCondition {
		t.Error("expected state to record the latest condition")
	}
}

func TestMatchExplosionUsesConfiguredLimit(t *testing.T) {
	db, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	defer db.Close()
	ctx := context.Background()

	tr := &store.Trend{CanonicalKey: "electric bikes", Keyword: "Electric Bikes", Region: "US", Language: "en"}
	if _, err := db.UpsertTrend(ctx, tr); err != nil {
		t.Fatalf("UpsertTrend failed: %v", err)
	}
	global := &store.Alert{Type: TypeExplosion, Active: true}
	if err := db.CreateAlert(ctx, global); err != nil {
		t.Fatalf("CreateAlert failed: %v", err)
	}
	own := &store.Alert{Type: TypeExplosion, ExplosionPct: 250, Active: true}
	if err := db.CreateAlert(ctx, own); err != nil {
		t.Fatalf("CreateAlert failed: %v", err)
	}

	m := NewMatcher(db, 0, 6*time.Hour, 500, log.New(io.Discard, "", 0))
	s := Subject{TrendID: tr.ID, CanonicalKey: tr.CanonicalKey, Explosion: 300, HasExplosion: true}

	events, err := m.Match(ctx, []store.Alert{*global, *own}, s, base)
	if err != nil {
		t.Fatalf("Match failed: %v", err)
	}
	if len(events) != 1 || events[0].AlertID != own.ID {
		t.Fatalf("expected only the alert with its own 250%% limit to fire, got %+v", events)
	}

	s.Explosion = 600
	events, err = m.Match(ctx, []store.Alert{*global}, s, base.Add(6*time.Hour))
	if err != nil {
		t.Fatalf("Match failed: %v", err)
	}
	if len(events) != 1 || events[0].AlertID != global.ID {
		t.Errorf("expected the global alert to fire above the configured 500%%, got %+v", events)
	}
}
