package trend

import (
	"sort"
	"time"

	"github.com/elonfeng/trendpulse/internal/store"
)

// DateLayout is the snapshot date format. Snapshot dates are UTC.
const DateLayout = "2006-01-02"

// Direction is where a trend's score has been heading.
type Direction string

const (
	DirectionRising  Direction = "rising"
	DirectionFalling Direction = "falling"
	DirectionStable  Direction = "stable"
)

// HistoryConfig controls the sparkline and direction calculations.
type HistoryConfig struct {
	SparklineLen    int     `yaml:"sparkline_len"`
	DirectionWindow int     `yaml:"direction_window"`
	DirectionMargin float64 `yaml:"direction_margin"`
}

func DefaultHistoryConfig() HistoryConfig {
	return HistoryConfig{SparklineLen: 30, DirectionWindow: 3, DirectionMargin: 5}
}

// SnapshotDate is the UTC date a snapshot taken at t belongs to.
func SnapshotDate(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// Apply folds next into a date-ordered snapshot history. A snapshot for a
// date already present replaces it. The result is oldest first and holds at
// most k entries.
func Apply(history []store.Snapshot, next store.Snapshot, k int) []store.Snapshot {
	out := make([]store.Snapshot, 0, len(history)+1)
	for _, s := range history {
		if s.Date != next.Date {
			out = append(out, s)
		}
	}
	out = append(out, next)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date < out[j].Date })

	if k > 0 && len(out) > k {
		out = out[len(out)-k:]
	}
	return out
}

// Sparkline returns the scores of snapshots, oldest first.
func Sparkline(snaps []store.Snapshot) []int {
	scores := make([]int, len(snaps))
	for i, s := range snaps {
		scores[i] = s.Score
	}
	return scores
}

// DirectionOf compares the average of the last window scores with the window
// before it. Fewer than two scores is always stable.
func DirectionOf(scores []int, window int, margin float64) Direction {
	if len(scores) < 2 {
		return DirectionStable
	}
	if window < 1 {
		window = 1
	}
	recentN := min(window, len(scores)-1)
	recent := scores[len(scores)-recentN:]
	rest := scores[:len(scores)-recentN]
	prior := rest[max(0, len(rest)-window):]

	delta := mean(recent) - mean(prior)
	switch {
	case delta > margin:
		return DirectionRising
	case delta < -margin:
		return DirectionFalling
	default:
		return DirectionStable
	}
}

// ExplosionRate compares today's volume with the volume of the snapshot dated
// the day before. ok is false when there is no such snapshot or when the two
// volumes were measured in different metric kinds.
func ExplosionRate(prior []store.Snapshot, today store.Snapshot) (rate float64, ok bool) {
	if today.VolumeKind == "" {
		return 0, false
	}
	day, err := time.Parse(DateLayout, today.Date)
	if err != nil {
		return 0, false
	}
	prev := day.AddDate(0, 0, -1).Format(DateLayout)
	for _, s := range prior {
		if s.Date == prev {
			if s.VolumeKind != today.VolumeKind {
				return 0, false
			}
			return GrowthRate(s.Volume, today.Volume), true
		}
	}
	return 0, false
}

func mean(v []int) float64 {
	if len(v) == 0 {
		return 0
	}
	var sum float64
	for _, x := range v {
		sum += float64(x)
	}
	return sum / float64(len(v))
}
