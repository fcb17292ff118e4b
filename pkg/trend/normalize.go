package trend

import (
	"math"

	"github.com/elonfeng/trendpulse/pkg/source"
)

// Scale selects how a raw value is spread over 0-100.
type Scale int

const (
	// ScaleLinear is min-max scaling.
	ScaleLinear Scale = iota
	// ScaleLog is logarithmic scaling anchored at a reference ceiling, for
	// unbounded counts where a few outliers would flatten everything else.
	ScaleLog
)

// Normalize maps raw into [0,100]. Values at or below min give exactly 0,
// values at or above max give exactly 100, and the result never decreases as
// raw grows. NaN is treated as absent signal and gives 0.
func Normalize(raw, min, max float64, scale Scale) int {
	if math.IsNaN(raw) {
		return 0
	}
	if raw >= max {
		return 100
	}
	if raw <= min {
		return 0
	}

	var ratio float64
	switch scale {
	case ScaleLog:
		ratio = math.Log1p(raw-min) / math.Log1p(max-min)
	default:
		ratio = (raw - min) / (max - min)
	}
	return clamp(roundHalfUp(ratio*100), 0, 100)
}

// Bounds is how one metric kind is scaled.
type Bounds struct {
	Min   float64
	Max   float64
	Scale Scale
}

// Normalizer scales tagged metrics by kind.
type Normalizer struct {
	bounds map[source.MetricKind]Bounds
}

// DefaultCeilings are the reference ceilings for unbounded count metrics.
var DefaultCeilings = map[source.MetricKind]float64{
	source.MetricSearchTraffic: 1_000_000,
	source.MetricViews:         10_000_000,
	source.MetricEngagement:    500_000,
	source.MetricPosts:         1_000,
	source.MetricComments:      50_000,
}

// NewNormalizer builds a normalizer. Relative metrics (search index,
// percentages) are always linear over [0,100]; count metrics use a log scale
// up to the ceiling given for their kind, falling back to DefaultCeilings.
func NewNormalizer(ceilings map[source.MetricKind]float64) *Normalizer {
	b := map[source.MetricKind]Bounds{
		source.MetricSearchIndex: {Min: 0, Max: 100, Scale: ScaleLinear},
		source.MetricPercentage:  {Min: 0, Max: 100, Scale: ScaleLinear},
	}
	for kind, ceiling := range DefaultCeilings {
		if c, ok := ceilings[kind]; ok && c > 0 {
			ceiling = c
		}
		b[kind] = Bounds{Min: 0, Max: ceiling, Scale: ScaleLog}
	}
	return &Normalizer{bounds: b}
}

// Normalize scales m by its kind. Unknown kinds give 0.
func (n *Normalizer) Normalize(m source.Metric) int {
	b, ok := n.bounds[m.Kind]
	if !ok {
		return 0
	}
	return Normalize(m.Value, b.Min, b.Max, b.Scale)
}

// roundHalfUp rounds to the nearest integer with .5 going up. The small
// epsilon absorbs float error such as 14.949999999 for an exact 14.95.
func roundHalfUp(x float64) int {
	return int(math.Floor(x + 0.5 + 1e-9))
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
