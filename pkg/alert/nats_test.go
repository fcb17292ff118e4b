package alert

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

type fakeConn struct {
	subjects []string
	payloads [][]byte
	flushed  bool
	drained  bool
}

func (c *fakeConn) Publish(subject string, data []byte) error {
	c.subjects = append(c.subjects, subject)
	c.payloads = append(c.payloads, data)
	return nil
}

func (c *fakeConn) FlushTimeout(time.Duration) error {
	c.flushed = true
	return nil
}

func (c *fakeConn) Drain() error {
	c.drained = true
	return nil
}

func TestNATSSubjects(t *testing.T) {
	fc := &fakeConn{}
	n := newNATS(fc, "")
	ctx := context.Background()

	if err := n.Send(ctx, testNotification()); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if err := n.PublishProjection(ctx, Projection{TrendID: 7, Region: "GB", Score: 55, Sparkline: []int{40, 55}}); err != nil {
		t.Fatalf("PublishProjection failed: %v", err)
	}

	want := []string{"trendpulse.alerts", "trendpulse.trends.GB"}
	if len(fc.subjects) != 2 || fc.subjects[0] != want[0] || fc.subjects[1] != want[1] {
		t.Fatalf("expected subjects %v, got %v", want, fc.subjects)
	}

	var p Projection
	if err := json.Unmarshal(fc.payloads[1], &p); err != nil {
		t.Fatalf("bad projection payload: %v", err)
	}
	if p.TrendID != 7 || p.Score != 55 || len(p.Sparkline) != 2 {
		t.Errorf("unexpected projection %+v", p)
	}

	if err := n.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !fc.flushed || !fc.drained {
		t.Error("expected flush and drain on close")
	}
}

func TestNATSCancelled(t *testing.T) {
	fc := &fakeConn{}
	n := newNATS(fc, "custom")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := n.Send(ctx, testNotification()); err == nil {
		t.Error("expected error for cancelled context")
	}
	if len(fc.subjects) != 0 {
		t.Errorf("expected nothing published, got %v", fc.subjects)
	}
}
