package trend

import (
	"testing"
	"time"

	"github.com/elonfeng/trendpulse/pkg/source"
)

func TestGrowthFactor(t *testing.T) {
	tests := []struct {
		name     string
		series   []float64
		want     int
		wantRate float64
	}{
		{"empty", nil, 0, 0},
		{"surge from zero", []float64{0, 50}, 100, 5000},
		{"flat", []float64{40, 40}, 0, 0},
		{"falling clamps to zero", []float64{20, 10}, 0, -50},
		{"doubling", []float64{10, 20}, 67, 100},
		{"uses first and last", []float64{10, 90, 20}, 67, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, rate := GrowthFactor(tt.series, 1000)
			if got != tt.want {
				t.Errorf("factor = %d, want %d", got, tt.want)
			}
			if rate != tt.wantRate {
				t.Errorf("rate = %v, want %v", rate, tt.wantRate)
			}
		})
	}
}

func TestGrowthFactorMonotonic(t *testing.T) {
	prev := -1
	for cur := 0.0; cur <= 1200; cur += 5 {
		got, rate := GrowthFactor([]float64{100, cur}, 1000)
		if rate < 0 && got != 0 {
			t.Errorf("rate %v: expected negative growth to floor at 0, got %d", rate, got)
		}
		if got < prev {
			t.Fatalf("rate %v: factor fell from %d to %d", rate, prev, got)
		}
		prev = got
	}
	if prev != 100 {
		t.Errorf("expected growth beyond the ceiling to score 100, got %d", prev)
	}
}

func TestVolumeFactor(t *testing.T) {
	n := NewNormalizer(nil)

	if got := VolumeFactor(n, nil); got != 0 {
		t.Errorf("no metrics = %d, want 0", got)
	}
	got := VolumeFactor(n, []source.Metric{
		{Kind: source.MetricSearchIndex, Value: 30},
		{Kind: source.MetricSearchIndex, Value: 80},
		{Kind: source.MetricViews, Value: 1e9},
	})
	if got != 80 {
		t.Errorf("best volume metric = %d, want 80 (views are not volume)", got)
	}
}

func TestConsistencyFactor(t *testing.T) {
	tests := []struct {
		name   string
		scores []int
		want   int
	}{
		{"no history", nil, ConsistencyNeutral},
		{"one snapshot", []int{70}, ConsistencyNeutral},
		{"flat", []int{60, 60, 60}, 100},
		{"std dev 10", []int{40, 60}, 60},
		{"wild swings", []int{0, 100}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ConsistencyFactor(tt.scores, 25); got != tt.want {
				t.Errorf("ConsistencyFactor(%v) = %d, want %d", tt.scores, got, tt.want)
			}
		})
	}
}

func TestMultiPlatformFactor(t *testing.T) {
	cases := map[int]int{0: 0, 1: 33, 2: 67, 3: 100, 4: 100}
	for n, want := range cases {
		if got := MultiPlatformFactor(n, 3); got != want {
			t.Errorf("MultiPlatformFactor(%d, 3) = %d, want %d", n, got, want)
		}
	}
	if got := MultiPlatformFactor(2, 0); got != 0 {
		t.Errorf("no known sources = %d, want 0", got)
	}
}

func TestFreshnessFactor(t *testing.T) {
	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		first string
		want  int
	}{
		{"no history", "", 100},
		{"first seen today", "2026-10-15", 100},
		{"45 days", "2026-08-31", 50},
		{"past horizon", "2026-01-01", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FreshnessFactor(tt.first, now, 90); got != tt.want {
				t.Errorf("FreshnessFactor(%q) = %d, want %d", tt.first, got, tt.want)
			}
		})
	}
}

func TestCountSources(t *testing.T) {
	obs := []source.Observation{
		{Source: source.SourceGoogleTrends, Metric: source.Metric{Value: 10}},
		{Source: source.SourceGoogleTrends, Metric: source.Metric{Value: 20}},
		{Source: source.SourceYouTube, Metric: source.Metric{Value: 0}},
		{Source: source.SourceReddit, Metric: source.Metric{Value: 3}},
	}
	if got := CountSources(obs); got != 2 {
		t.Errorf("CountSources = %d, want 2", got)
	}
}
