package alert

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// Slack sends notifications via Slack incoming webhook.
type Slack struct {
	client     *resty.Client
	webhookURL string
}

func NewSlack(webhookURL string) *Slack {
	return &Slack{
		client:     resty.New().SetTimeout(10 * time.Second),
		webhookURL: webhookURL,
	}
}

func (s *Slack) Name() string { return "slack" }

func (s *Slack) Send(ctx context.Context, n *Notification) error {
	blocks := []map[string]any{
		{
			"type": "header",
			"text": map[string]any{
				"type": "plain_text",
				"text": n.Title(),
			},
		},
		{
			"type": "section",
			"text": map[string]any{
				"type": "mrkdwn",
				"text": fmt.Sprintf("*%s* | *Growth:* %+.0f%% | *Direction:* %s\n%s",
					n.Label, n.GrowthRate, n.Direction, n.Reason),
			},
		},
		{
			"type": "context",
			"elements": []map[string]any{
				{"type": "mrkdwn", "text": fmt.Sprintf("region %s · alert #%d · %s", n.Region, n.AlertID, n.EventID)},
			},
		},
	}

	return postJSON(ctx, s.client, s.webhookURL, map[string]any{"blocks": blocks}, nil)
}

// postJSON posts body as JSON and treats any non-2xx status as an error.
func postJSON(ctx context.Context, client *resty.Client, url string, body any, headers map[string]string) error {
	resp, err := client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeaders(headers).
		SetBody(body).
		Post(url)
	if err != nil {
		return fmt.Errorf("post %s: %w", url, err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("post %s: status %d", url, resp.StatusCode())
	}
	return nil
}
