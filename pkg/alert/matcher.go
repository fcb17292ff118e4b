package alert

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/elonfeng/trendpulse/internal/store"
)

// Alert types.
const (
	TypeKeyword   = "keyword"
	TypeNiche     = "niche"
	TypeThreshold = "threshold"
	TypeExplosion = "explosion"
)

// Per-trend alert states.
const (
	StateActive     = "active"
	StateSuppressed = "suppressed"
	StateInactive   = "inactive"
)

// DefaultExplosionPct is the 24h volume growth an explosion alert needs when
// neither the alert nor the matcher sets one.
const DefaultExplosionPct = 200.0

// ValidType reports whether t is a known alert type.
func ValidType(t string) bool {
	switch t {
	case TypeKeyword, TypeNiche, TypeThreshold, TypeExplosion:
		return true
	}
	return false
}

// Subject is the freshly scored trend an alert is checked against.
type Subject struct {
	TrendID      int64
	CanonicalKey string
	Keyword      string
	Region       string
	Category     string
	Score        int
	Label        string
	GrowthRate   float64
	Direction    string
	// Explosion is the day-over-day volume growth in percent. HasExplosion is
	// false when there was no previous-day snapshot to compare with.
	Explosion    float64
	HasExplosion bool
}

// InScope reports whether the alert watches this trend at all.
func InScope(a store.Alert, s Subject) bool {
	switch a.Type {
	case TypeKeyword:
		kw := strings.ToLower(strings.TrimSpace(a.Keyword))
		return kw != "" && strings.Contains(s.CanonicalKey, kw)
	case TypeNiche:
		return a.Niche != "" && strings.EqualFold(strings.TrimSpace(a.Niche), s.Category)
	case TypeThreshold:
		return true
	case TypeExplosion:
		kw := strings.ToLower(strings.TrimSpace(a.Keyword))
		return kw == "" || strings.Contains(s.CanonicalKey, kw)
	}
	return false
}

// Condition reports whether the alert's firing condition holds, with a short
// human-readable reason when it does.
func Condition(a store.Alert, s Subject) (bool, string) {
	if !InScope(a, s) {
		return false, ""
	}
	if a.Type == TypeExplosion {
		pct := a.ExplosionPct
		if pct <= 0 {
			pct = DefaultExplosionPct
		}
		if s.HasExplosion && s.Explosion > pct {
			return true, fmt.Sprintf("volume up %.0f%% in 24h (limit %.0f%%)", s.Explosion, pct)
		}
		return false, ""
	}
	if s.Score >= a.Threshold {
		return true, fmt.Sprintf("score %d reached threshold %d", s.Score, a.Threshold)
	}
	return false, ""
}

// Decision is the result of evaluating one alert against one trend.
type Decision struct {
	Fire   bool
	Reason string
	State  store.AlertState
}

// Evaluate advances the alert's state machine for a trend. An alert fires
// only on a false to true transition of its condition while active; firing
// suppresses it until the cool-down has passed or the condition clears.
func Evaluate(a store.Alert, st store.AlertState, s Subject, now time.Time, cooldown time.Duration) Decision {
	next := st
	next.AlertID, next.TrendID = a.ID, s.TrendID
	next.UpdatedAt = now.UTC()

	if !a.Active {
		next.Status = StateInactive
		next.SuppressedUntil = nil
		next.LastCondition = false
		return Decision{State: next}
	}

	cond, reason := Condition(a, s)

	switch next.Status {
	case StateSuppressed:
		if !cond || next.SuppressedUntil == nil || !now.Before(*next.SuppressedUntil) {
			next.Status = StateActive
			next.SuppressedUntil = nil
		}
	case StateActive:
	default:
		next.Status = StateActive
		next.SuppressedUntil = nil
	}

	fire := cond && !st.LastCondition && next.Status == StateActive
	if fire {
		until := now.Add(cooldown).UTC()
		next.Status = StateSuppressed
		next.SuppressedUntil = &until
	}
	next.LastCondition = cond

	if !fire {
		reason = ""
	}
	return Decision{Fire: fire, Reason: reason, State: next}
}

// Matcher runs the alert state machine against the store and records events.
type Matcher struct {
	store        store.Store
	cooldown     time.Duration
	window       time.Duration
	explosionPct float64
	logger       *log.Logger
}

// NewMatcher creates a matcher. window is the cycle interval event windows are
// aligned to. explosionPct is the threshold for explosion alerts that do not
// set their own; zero means DefaultExplosionPct.
func NewMatcher(s store.Store, cooldown, window time.Duration, explosionPct float64, logger *log.Logger) *Matcher {
	if window <= 0 {
		window = time.Hour
	}
	if explosionPct <= 0 {
		explosionPct = DefaultExplosionPct
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Matcher{store: s, cooldown: cooldown, window: window, explosionPct: explosionPct, logger: logger}
}

// Match evaluates alerts against one trend and returns the events that were
// newly recorded. An event already stored for the same alert, trend and
// window is not returned again.
func (m *Matcher) Match(ctx context.Context, alerts []store.Alert, s Subject, now time.Time) ([]store.AlertEvent, error) {
	var events []store.AlertEvent
	windowStart := now.UTC().Truncate(m.window)

	for _, a := range alerts {
		st, err := m.store.GetAlertState(ctx, a.ID, s.TrendID)
		if err != nil {
			return events, err
		}

		if a.Type == TypeExplosion && a.ExplosionPct <= 0 {
			a.ExplosionPct = m.explosionPct
		}
		d := Evaluate(a, st, s, now, m.cooldown)
		if d.Fire {
			ev := store.AlertEvent{
				ID:          uuid.NewString(),
				AlertID:     a.ID,
				TrendID:     s.TrendID,
				WindowStart: windowStart,
				Score:       s.Score,
				GrowthRate:  s.GrowthRate,
				Reason:      d.Reason,
				TriggeredAt: now.UTC(),
			}
			inserted, err := m.store.InsertAlertEvent(ctx, &ev)
			if err != nil {
				return events, err
			}
			if inserted {
				if err := m.store.MarkTriggered(ctx, a.ID, now); err != nil {
					return events, err
				}
				events = append(events, ev)
			} else {
				m.logger.Printf("alert: %d already fired for trend %d in window %s", a.ID, s.TrendID, windowStart.Format(time.RFC3339))
			}
		}

		if err := m.store.SaveAlertState(ctx, d.State); err != nil {
			return events, err
		}
	}
	return events, nil
}
