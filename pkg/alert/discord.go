package alert

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// Discord sends notifications via Discord webhook.
type Discord struct {
	client     *resty.Client
	webhookURL string
}

func NewDiscord(webhookURL string) *Discord {
	return &Discord{
		client:     resty.New().SetTimeout(10 * time.Second),
		webhookURL: webhookURL,
	}
}

func (d *Discord) Name() string { return "discord" }

func (d *Discord) Send(ctx context.Context, n *Notification) error {
	color := 0x999999
	switch n.Direction {
	case "rising":
		color = 0xFF6600
	case "falling":
		color = 0x3366FF
	}

	desc := fmt.Sprintf("**%s** | **Growth:** %+.0f%% | **Direction:** %s\n\n%s",
		n.Label, n.GrowthRate, n.Direction, n.Reason)
	embed := map[string]any{
		"title":       n.Title(),
		"description": desc,
		"color":       color,
		"timestamp":   n.TriggeredAt.UTC().Format(time.RFC3339),
		"footer":      map[string]any{"text": fmt.Sprintf("region %s · alert #%d", n.Region, n.AlertID)},
	}

	return postJSON(ctx, d.client, d.webhookURL, map[string]any{
		"embeds": []map[string]any{embed},
	}, nil)
}
