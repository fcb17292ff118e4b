package trend

import (
	"math"
	"testing"

	"github.com/elonfeng/trendpulse/pkg/source"
)

func TestNormalizeBoundaries(t *testing.T) {
	tests := []struct {
		name  string
		raw   float64
		min   float64
		max   float64
		scale Scale
		want  int
	}{
		{"at min", 0, 0, 100, ScaleLinear, 0},
		{"at max", 100, 0, 100, ScaleLinear, 100},
		{"below min", -5, 0, 100, ScaleLinear, 0},
		{"above max", 150, 0, 100, ScaleLinear, 100},
		{"midpoint", 50, 0, 100, ScaleLinear, 50},
		{"half rounds up", 12.5, 0, 100, ScaleLinear, 13},
		{"offset range", 15, 10, 20, ScaleLinear, 50},
		{"log at max", 1e6, 0, 1e6, ScaleLog, 100},
		{"log at min", 0, 0, 1e6, ScaleLog, 0},
		{"nan", math.NaN(), 0, 100, ScaleLinear, 0},
		{"positive inf", math.Inf(1), 0, 100, ScaleLog, 100},
		{"negative inf", math.Inf(-1), 0, 100, ScaleLog, 0},
		{"degenerate below", 5, 10, 10, ScaleLinear, 0},
		{"degenerate at max", 10, 10, 10, ScaleLinear, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.raw, tt.min, tt.max, tt.scale); got != tt.want {
				t.Errorf("Normalize(%v, %v, %v) = %d, want %d", tt.raw, tt.min, tt.max, got, tt.want)
			}
		})
	}
}

func TestNormalizeMonotonic(t *testing.T) {
	for _, scale := range []Scale{ScaleLinear, ScaleLog} {
		prev := -1
		for raw := -10.0; raw <= 1100; raw += 0.5 {
			got := Normalize(raw, 0, 1000, scale)
			if got < prev {
				t.Fatalf("scale %d: Normalize(%v) = %d after %d", scale, raw, got, prev)
			}
			if got < 0 || got > 100 {
				t.Fatalf("scale %d: Normalize(%v) = %d out of range", scale, raw, got)
			}
			prev = got
		}
	}
}

func TestNormalizerDispatch(t *testing.T) {
	n := NewNormalizer(map[source.MetricKind]float64{source.MetricPosts: 100})

	if got := n.Normalize(source.Metric{Kind: source.MetricSearchIndex, Value: 42}); got != 42 {
		t.Errorf("search_index 42 = %d, want 42", got)
	}
	if got := n.Normalize(source.Metric{Kind: source.MetricPosts, Value: 100}); got != 100 {
		t.Errorf("posts at overridden ceiling = %d, want 100", got)
	}
	if got := n.Normalize(source.Metric{Kind: source.MetricViews, Value: 10_000_000}); got != 100 {
		t.Errorf("views at default ceiling = %d, want 100", got)
	}
	if got := n.Normalize(source.Metric{Kind: "unknown", Value: 5}); got != 0 {
		t.Errorf("unknown kind = %d, want 0", got)
	}

	low := n.Normalize(source.Metric{Kind: source.MetricViews, Value: 1000})
	high := n.Normalize(source.Metric{Kind: source.MetricViews, Value: 100000})
	if !(low < high) {
		t.Errorf("views should grow with value: 1000 -> %d, 100000 -> %d", low, high)
	}
}
