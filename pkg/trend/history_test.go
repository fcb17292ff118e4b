package trend

import (
	"reflect"
	"testing"
	"time"

	"github.com/elonfeng/trendpulse/internal/store"
)

func TestSnapshotDate(t *testing.T) {
	loc := time.FixedZone("UTC+9", 9*60*60)
	ts := time.Date(2026, 10, 16, 3, 0, 0, 0, loc)
	if got := SnapshotDate(ts); got != "2026-10-15" {
		t.Errorf("SnapshotDate = %q, want 2026-10-15", got)
	}
}

func TestApply(t *testing.T) {
	history := []store.Snapshot{
		{Date: "2026-10-13", Score: 10},
		{Date: "2026-10-14", Score: 20},
	}

	got := Apply(history, store.Snapshot{Date: "2026-10-14", Score: 30}, 30)
	if scores := Sparkline(got); !reflect.DeepEqual(scores, []int{10, 30}) {
		t.Errorf("same-date replace: got %v, want [10 30]", scores)
	}

	got = Apply(history, store.Snapshot{Date: "2026-10-12", Score: 5}, 30)
	if scores := Sparkline(got); !reflect.DeepEqual(scores, []int{5, 10, 20}) {
		t.Errorf("out-of-order insert: got %v, want [5 10 20]", scores)
	}

	got = Apply(history, store.Snapshot{Date: "2026-10-15", Score: 40}, 2)
	if scores := Sparkline(got); !reflect.DeepEqual(scores, []int{20, 40}) {
		t.Errorf("trim: got %v, want [20 40]", scores)
	}

	if len(history) != 2 || history[1].Score != 20 {
		t.Errorf("Apply modified its input: %v", history)
	}
}

func TestDirectionOf(t *testing.T) {
	tests := []struct {
		name   string
		scores []int
		want   Direction
	}{
		{"empty", nil, DirectionStable},
		{"single", []int{50}, DirectionStable},
		{"two rising", []int{25, 69}, DirectionRising},
		{"flat", []int{50, 50, 50, 50}, DirectionStable},
		{"within margin", []int{50, 50, 50, 54, 54, 54}, DirectionStable},
		{"falling", []int{80, 80, 80, 40, 40, 40}, DirectionFalling},
		{"only last window counts", []int{0, 0, 0, 90, 90, 90, 90, 90, 90}, DirectionStable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DirectionOf(tt.scores, 3, 5); got != tt.want {
				t.Errorf("DirectionOf(%v) = %q, want %q", tt.scores, got, tt.want)
			}
		})
	}
}

func TestExplosionRate(t *testing.T) {
	snaps := []store.Snapshot{
		{Date: "2026-10-13", Volume: 50, VolumeKind: "search_index"},
		{Date: "2026-10-14", Volume: 100, VolumeKind: "search_index"},
	}
	today := store.Snapshot{Date: "2026-10-15", Volume: 400, VolumeKind: "search_index"}

	rate, ok := ExplosionRate(snaps, today)
	if !ok || rate != 300 {
		t.Errorf("expected 300%% from previous day, got %v (ok=%v)", rate, ok)
	}

	if _, ok := ExplosionRate(snaps[:1], today); ok {
		t.Error("expected no rate without a previous-day snapshot")
	}

	bad := today
	bad.Date = "not-a-date"
	if _, ok := ExplosionRate(snaps, bad); ok {
		t.Error("expected no rate for an invalid date")
	}

	posts := today
	posts.VolumeKind = "posts"
	if _, ok := ExplosionRate(snaps, posts); ok {
		t.Error("expected no rate across different metric kinds")
	}

	legacy := []store.Snapshot{{Date: "2026-10-14", Volume: 100}}
	if _, ok := ExplosionRate(legacy, today); ok {
		t.Error("expected no rate against a snapshot without a volume kind")
	}
}
