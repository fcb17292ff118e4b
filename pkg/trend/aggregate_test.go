package trend

import (
	"math"
	"testing"
)

func TestAggregate(t *testing.T) {
	tests := []struct {
		name      string
		factors   Factors
		wantScore int
		wantLabel Label
	}{
		{"first sighting", Factors{Growth: 0, Volume: 0, Consistency: 50, MultiPlatform: 33, Freshness: 0}, 15, LabelLow},
		{"everything maxed", Factors{Growth: 100, Volume: 100, Consistency: 100, MultiPlatform: 100, Freshness: 100}, 100, LabelHot},
		{"nothing", Factors{}, 0, LabelLow},
		{"single batch", Factors{Growth: 0, Volume: 80, Consistency: 50, MultiPlatform: 33, Freshness: 100}, 40, LabelWatching},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, label := Aggregate(tt.factors, DefaultWeights, DefaultBands)
			if score != tt.wantScore {
				t.Errorf("score = %d, want %d", score, tt.wantScore)
			}
			if label != tt.wantLabel {
				t.Errorf("label = %q, want %q", label, tt.wantLabel)
			}
		})
	}
}

func TestAggregateMonotonic(t *testing.T) {
	setters := map[string]func(*Factors, int){
		"growth":         func(f *Factors, v int) { f.Growth = v },
		"volume":         func(f *Factors, v int) { f.Volume = v },
		"consistency":    func(f *Factors, v int) { f.Consistency = v },
		"multi_platform": func(f *Factors, v int) { f.MultiPlatform = v },
		"freshness":      func(f *Factors, v int) { f.Freshness = v },
	}
	weights := []Weights{
		DefaultWeights,
		{Growth: 1, Volume: 0.5, Consistency: 0.5, MultiPlatform: 0.25, Freshness: 0.25},
	}

	for name, set := range setters {
		for _, w := range weights {
			for _, held := range []int{0, 50, 100} {
				prev := -1
				for v := 0; v <= 100; v++ {
					f := Factors{Growth: held, Volume: held, Consistency: held, MultiPlatform: held, Freshness: held}
					set(&f, v)
					score, _ := Aggregate(f, w, DefaultBands)
					if score < 0 || score > 100 {
						t.Fatalf("%s=%d (others %d, weights %+v): score %d out of range", name, v, held, w, score)
					}
					if score < prev {
						t.Fatalf("%s=%d (others %d, weights %+v): score fell from %d to %d", name, v, held, w, prev, score)
					}
					prev = score
				}
			}
		}
	}
}

func TestLabelForBandEdges(t *testing.T) {
	cases := map[int]Label{
		100: LabelHot, 80: LabelHot, 79: LabelStrong,
		60: LabelStrong, 59: LabelWatching,
		40: LabelWatching, 39: LabelEarly,
		20: LabelEarly, 19: LabelLow, 0: LabelLow,
	}
	for score, want := range cases {
		if got := DefaultBands.LabelFor(score); got != want {
			t.Errorf("LabelFor(%d) = %q, want %q", score, got, want)
		}
	}
}

func TestWeightsValidate(t *testing.T) {
	if err := DefaultWeights.Validate(); err != nil {
		t.Fatalf("default weights: %v", err)
	}

	bad := []Weights{
		{},
		{Growth: -0.1, Volume: 1},
		{Growth: math.NaN()},
		{Volume: math.Inf(1)},
	}
	for _, w := range bad {
		if err := w.Validate(); err == nil {
			t.Errorf("expected error for weights %+v", w)
		}
	}
}

func TestBandsValidate(t *testing.T) {
	if err := DefaultBands.Validate(); err != nil {
		t.Fatalf("default bands: %v", err)
	}

	bad := []Bands{
		{Hot: 80, Strong: 80, Watching: 40, Early: 20},
		{Hot: 120, Strong: 60, Watching: 40, Early: 20},
		{Hot: 80, Strong: 60, Watching: 40, Early: -1},
		{Hot: 20, Strong: 40, Watching: 60, Early: 80},
	}
	for _, b := range bad {
		if err := b.Validate(); err == nil {
			t.Errorf("expected error for bands %+v", b)
		}
	}
}

func TestVolumeTier(t *testing.T) {
	cases := map[int]string{0: "low", 24: "low", 25: "medium", 50: "high", 74: "high", 75: "very_high", 100: "very_high"}
	for v, want := range cases {
		if got := VolumeTier(v); got != want {
			t.Errorf("VolumeTier(%d) = %q, want %q", v, got, want)
		}
	}
}
