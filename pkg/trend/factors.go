package trend

import (
	"math"
	"time"

	"github.com/elonfeng/trendpulse/pkg/source"
)

// Factors are the five normalized sub-scores of a trend, each in [0,100].
type Factors struct {
	Growth        int `json:"growth"`
	Volume        int `json:"volume"`
	Consistency   int `json:"consistency"`
	MultiPlatform int `json:"multi_platform"`
	Freshness     int `json:"freshness"`
}

// FactorConfig holds the horizons the factor calculators scale against.
type FactorConfig struct {
	GrowthCeilingPct     float64
	ConsistencyMaxStdDev float64
	FreshnessHorizonDays float64
	KnownSources         int
}

// ConsistencyNeutral is returned when there is too little history to judge.
const ConsistencyNeutral = 50

// DefaultFactorConfig returns the stock horizons.
func DefaultFactorConfig() FactorConfig {
	return FactorConfig{
		GrowthCeilingPct:     1000,
		ConsistencyMaxStdDev: 25,
		FreshnessHorizonDays: 90,
		KnownSources:         len(source.AllSourceTypes()),
	}
}

// volumeKinds are the metrics that measure how much a topic is searched or
// discussed right now.
var volumeKinds = map[source.MetricKind]bool{
	source.MetricSearchIndex:   true,
	source.MetricSearchTraffic: true,
	source.MetricPosts:         true,
}

// GrowthRate is the signed percentage change from old to new, with old
// floored at 1 so a zero baseline cannot divide by zero.
func GrowthRate(old, new float64) float64 {
	return (new - old) / math.Max(old, 1) * 100
}

// GrowthFactor scores a search-interest series ordered oldest first. It
// returns the factor and the raw growth rate. A series that starts at zero and
// ends above it is a new surge and scores the maximum.
func GrowthFactor(series []float64, ceilingPct float64) (int, float64) {
	if len(series) == 0 {
		return 0, 0
	}
	old, cur := series[0], series[len(series)-1]
	rate := GrowthRate(old, cur)
	if old == 0 && cur > 0 {
		return 100, rate
	}
	return Normalize(rate, 0, ceilingPct, ScaleLog), rate
}

// VolumeFactor is the strongest current volume signal across sources.
// No volume data at all scores 0.
func VolumeFactor(n *Normalizer, current []source.Metric) int {
	best := 0
	for _, m := range current {
		if !volumeKinds[m.Kind] {
			continue
		}
		if v := n.Normalize(m); v > best {
			best = v
		}
	}
	return best
}

// ConsistencyFactor inverts the standard deviation of recent scores: a flat
// history scores near 100. Fewer than two scores give ConsistencyNeutral.
func ConsistencyFactor(scores []int, maxStdDev float64) int {
	if len(scores) < 2 {
		return ConsistencyNeutral
	}
	return 100 - Normalize(stdDev(scores), 0, maxStdDev, ScaleLinear)
}

// MultiPlatformFactor scales the number of sources reporting a non-zero value
// against the number of sources that exist.
func MultiPlatformFactor(sources, known int) int {
	if known <= 0 {
		return 0
	}
	return Normalize(float64(sources), 0, float64(known), ScaleLinear)
}

// FreshnessFactor decays from 100 on the first day to 0 at the horizon.
// An empty firstDate means the trend has no history yet.
func FreshnessFactor(firstDate string, now time.Time, horizonDays float64) int {
	if firstDate == "" {
		return 100
	}
	first, err := time.Parse(DateLayout, firstDate)
	if err != nil {
		return 100
	}
	days := now.UTC().Sub(first).Hours() / 24
	if days < 0 {
		days = 0
	}
	return 100 - Normalize(math.Floor(days), 0, horizonDays, ScaleLinear)
}

// CountSources counts distinct sources with a non-zero value.
func CountSources(obs []source.Observation) int {
	seen := make(map[source.SourceType]bool)
	for _, o := range obs {
		if o.Metric.Value > 0 {
			seen[o.Source] = true
		}
	}
	return len(seen)
}

func stdDev(values []int) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += float64(v)
	}
	mean := sum / float64(len(values))

	var sq float64
	for _, v := range values {
		d := float64(v) - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(values)))
}
