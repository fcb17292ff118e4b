package alert

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/elonfeng/trendpulse/internal/store"
)

// Notification is the data sent to alert destinations.
type Notification struct {
	EventID     string    `json:"event_id"`
	AlertID     int64     `json:"alert_id"`
	AlertType   string    `json:"alert_type"`
	UserID      string    `json:"user_id"`
	TrendID     int64     `json:"trend_id"`
	Keyword     string    `json:"keyword"`
	Region      string    `json:"region"`
	Score       int       `json:"score"`
	Label       string    `json:"label"`
	GrowthRate  float64   `json:"growth_rate"`
	Direction   string    `json:"direction"`
	Reason      string    `json:"reason"`
	TriggeredAt time.Time `json:"triggered_at"`
}

// NewNotification describes an alert event for a scored trend.
func NewNotification(a store.Alert, ev store.AlertEvent, s Subject) *Notification {
	return &Notification{
		EventID:     ev.ID,
		AlertID:     a.ID,
		AlertType:   a.Type,
		UserID:      a.UserID,
		TrendID:     s.TrendID,
		Keyword:     s.Keyword,
		Region:      s.Region,
		Score:       ev.Score,
		Label:       s.Label,
		GrowthRate:  ev.GrowthRate,
		Direction:   s.Direction,
		Reason:      ev.Reason,
		TriggeredAt: ev.TriggeredAt,
	}
}

// Title is a one-line summary used by chat notifiers.
func (n *Notification) Title() string {
	return fmt.Sprintf("%s: %s (%d)", n.AlertType, n.Keyword, n.Score)
}

// Notifier delivers alerts to a specific destination.
type Notifier interface {
	Name() string
	Send(ctx context.Context, n *Notification) error
}

// Manager broadcasts notifications to all registered notifiers.
type Manager struct {
	notifiers []Notifier
}

func NewManager(notifiers []Notifier) *Manager {
	return &Manager{notifiers: notifiers}
}

// HasNotifiers returns true if at least one notifier is configured.
func (m *Manager) HasNotifiers() bool {
	return m != nil && len(m.notifiers) > 0
}

// Broadcast sends a notification to every notifier. One failing destination
// does not stop the others; all failures are joined.
func (m *Manager) Broadcast(ctx context.Context, n *Notification) error {
	if m == nil {
		return nil
	}
	var errs []error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", notifier.Name(), err))
		}
	}
	return errors.Join(errs...)
}
