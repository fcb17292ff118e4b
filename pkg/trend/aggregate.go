package trend

import (
	"fmt"
	"math"
)

// Label is the opportunity band a score falls into.
type Label string

const (
	LabelHot      Label = "Hot Opportunity"
	LabelStrong   Label = "Strong Potential"
	LabelWatching Label = "Worth Watching"
	LabelEarly    Label = "Early Signal"
	LabelLow      Label = "Low Priority"
)

// Weights are the per-factor multipliers of the aggregate score.
type Weights struct {
	Growth        float64 `yaml:"growth" json:"growth"`
	Volume        float64 `yaml:"volume" json:"volume"`
	Consistency   float64 `yaml:"consistency" json:"consistency"`
	MultiPlatform float64 `yaml:"multi_platform" json:"multi_platform"`
	Freshness     float64 `yaml:"freshness" json:"freshness"`
}

// DefaultWeights sum to 1.
var DefaultWeights = Weights{
	Growth:        0.35,
	Volume:        0.25,
	Consistency:   0.20,
	MultiPlatform: 0.15,
	Freshness:     0.05,
}

// Validate rejects negative weights and weights that are all zero.
func (w Weights) Validate() error {
	all := []float64{w.Growth, w.Volume, w.Consistency, w.MultiPlatform, w.Freshness}
	var sum float64
	for _, v := range all {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("weights must be finite and non-negative, got %v", w)
		}
		sum += v
	}
	if sum == 0 {
		return fmt.Errorf("weights must not all be zero")
	}
	return nil
}

// Bands are the inclusive lower bounds of each label above Low Priority.
type Bands struct {
	Hot      int `yaml:"hot" json:"hot"`
	Strong   int `yaml:"strong" json:"strong"`
	Watching int `yaml:"watching" json:"watching"`
	Early    int `yaml:"early" json:"early"`
}

var DefaultBands = Bands{Hot: 80, Strong: 60, Watching: 40, Early: 20}

// Validate requires strictly descending bounds within [0,100].
func (b Bands) Validate() error {
	if b.Hot > 100 || b.Early < 0 {
		return fmt.Errorf("bands must lie within 0-100, got %+v", b)
	}
	if !(b.Hot > b.Strong && b.Strong > b.Watching && b.Watching > b.Early) {
		return fmt.Errorf("bands must be strictly descending, got %+v", b)
	}
	return nil
}

// LabelFor maps a score to its band.
func (b Bands) LabelFor(score int) Label {
	switch {
	case score >= b.Hot:
		return LabelHot
	case score >= b.Strong:
		return LabelStrong
	case score >= b.Watching:
		return LabelWatching
	case score >= b.Early:
		return LabelEarly
	default:
		return LabelLow
	}
}

// Aggregate combines factors into a 0-100 score and its label.
func Aggregate(f Factors, w Weights, b Bands) (int, Label) {
	raw := float64(f.Growth)*w.Growth +
		float64(f.Volume)*w.Volume +
		float64(f.Consistency)*w.Consistency +
		float64(f.MultiPlatform)*w.MultiPlatform +
		float64(f.Freshness)*w.Freshness
	score := clamp(roundHalfUp(raw), 0, 100)
	return score, b.LabelFor(score)
}

// VolumeTier buckets the volume factor for display.
func VolumeTier(volume int) string {
	switch {
	case volume < 25:
		return "low"
	case volume < 50:
		return "medium"
	case volume < 75:
		return "high"
	default:
		return "very_high"
	}
}
