package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
)

// Projection is the public view of a scored trend published after each cycle.
type Projection struct {
	TrendID    int64     `json:"trend_id"`
	Keyword    string    `json:"keyword"`
	Region     string    `json:"region"`
	Language   string    `json:"language"`
	Score      int       `json:"score"`
	Label      string    `json:"label"`
	GrowthRate float64   `json:"growth_rate"`
	VolumeTier string    `json:"volume_tier"`
	Direction  string    `json:"direction"`
	Sparkline  []int     `json:"sparkline"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Publisher exports trend projections to downstream consumers.
type Publisher interface {
	PublishProjection(ctx context.Context, p Projection) error
}

// NATSOptions configures the NATS connection.
type NATSOptions struct {
	URL            string
	SubjectPrefix  string
	MaxReconnects  int
	ReconnectWait  time.Duration
	ConnectTimeout time.Duration
}

// conn is the part of *nats.Conn the publisher needs.
type conn interface {
	Publish(subject string, data []byte) error
	FlushTimeout(timeout time.Duration) error
	Drain() error
}

// NATS publishes alert notifications and trend projections as JSON messages
// on "<prefix>.alerts" and "<prefix>.trends.<region>".
type NATS struct {
	conn   conn
	prefix string
}

// ConnectNATS dials the server with reconnect handling that logs state
// changes.
func ConnectNATS(opts NATSOptions, logger *log.Logger) (*NATS, error) {
	if logger == nil {
		logger = log.Default()
	}
	options := []nats.Option{
		nats.Name("trendpulse"),
		nats.MaxReconnects(opts.MaxReconnects),
		nats.ReconnectWait(opts.ReconnectWait),
		nats.Timeout(opts.ConnectTimeout),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Printf("nats: disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Printf("nats: reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Printf("nats: connection closed")
		}),
	}

	nc, err := nats.Connect(opts.URL, options...)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", opts.URL, err)
	}
	return newNATS(nc, opts.SubjectPrefix), nil
}

func newNATS(c conn, prefix string) *NATS {
	if prefix == "" {
		prefix = "trendpulse"
	}
	return &NATS{conn: c, prefix: prefix}
}

func (n *NATS) Name() string { return "nats" }

// Send publishes an alert notification.
func (n *NATS) Send(ctx context.Context, note *Notification) error {
	return n.publish(ctx, n.prefix+".alerts", note)
}

func (n *NATS) PublishProjection(ctx context.Context, p Projection) error {
	return n.publish(ctx, fmt.Sprintf("%s.trends.%s", n.prefix, p.Region), p)
}

func (n *NATS) publish(ctx context.Context, subject string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s message: %w", subject, err)
	}
	if err := n.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Close flushes pending messages and drains the connection.
func (n *NATS) Close() error {
	if err := n.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("flush nats: %w", err)
	}
	return n.conn.Drain()
}
