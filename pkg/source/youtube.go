package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const youtubeBaseURL = "https://www.googleapis.com/youtube/v3"

// YouTube collects video counts and engagement for tracked keywords from the
// YouTube Data API.
type YouTube struct {
	client     *resty.Client
	apiKey     string
	maxResults int
}

// NewYouTube creates a new YouTube collector.
func NewYouTube(apiKey string, maxResults int) *YouTube {
	if maxResults <= 0 || maxResults > 50 {
		maxResults = 25
	}
	return &YouTube{
		client:     resty.New().SetTimeout(30 * time.Second).SetBaseURL(youtubeBaseURL),
		apiKey:     apiKey,
		maxResults: maxResults,
	}
}

// WithBaseURL overrides the API endpoint.
func (y *YouTube) WithBaseURL(u string) *YouTube {
	y.client.SetBaseURL(u)
	return y
}

func (y *YouTube) Name() SourceType { return SourceYouTube }

func (y *YouTube) Collect(ctx context.Context, keywords []Keyword) ([]RawObservation, error) {
	if y.apiKey == "" {
		return nil, Permanent(fmt.Errorf("youtube: API key required (set YOUTUBE_API_KEY)"))
	}

	var out []RawObservation
	for _, kw := range keywords {
		ids, err := y.search(ctx, kw)
		if err != nil {
			if IsPermanent(err) {
				return nil, err
			}
			fmt.Printf("  youtube query %q error: %v\n", kw.Keyword, err)
			continue
		}

		now := time.Now().UTC()
		base := RawObservation{
			Source:     SourceYouTube,
			Keyword:    kw.Keyword,
			Region:     kw.Region,
			Language:   kw.Language,
			Category:   kw.Category,
			ObservedAt: now,
		}

		if len(ids) == 0 {
			views := base
			views.Metric, views.Value, views.Unit = MetricViews, "0", "views"
			out = append(out, views)
			continue
		}

		stats, err := y.statistics(ctx, ids)
		if err != nil {
			if IsPermanent(err) {
				return nil, err
			}
			fmt.Printf("  youtube stats %q error: %v\n", kw.Keyword, err)
			continue
		}

		views := base
		views.Metric, views.Value, views.Unit = MetricViews, strconv.FormatInt(stats.views, 10), "views"
		engagement := base
		engagement.Metric, engagement.Value, engagement.Unit = MetricEngagement, strconv.FormatInt(stats.likes+stats.comments, 10), "interactions"
		out = append(out, views, engagement)
	}

	return out, nil
}

func (y *YouTube) search(ctx context.Context, kw Keyword) ([]string, error) {
	params := map[string]string{
		"part":           "snippet",
		"q":              kw.Keyword,
		"type":           "video",
		"order":          "viewCount",
		"publishedAfter": time.Now().Add(-24 * time.Hour).UTC().Format(time.RFC3339),
		"maxResults":     strconv.Itoa(y.maxResults),
		"key":            y.apiKey,
	}
	if kw.Region != "" {
		params["regionCode"] = kw.Region
	}
	if kw.Language != "" {
		params["relevanceLanguage"] = kw.Language
	}

	resp, err := y.client.R().SetContext(ctx).SetQueryParams(params).Get("/search")
	if err != nil {
		return nil, fmt.Errorf("fetch youtube search: %w", err)
	}
	if err := youtubeStatus(resp); err != nil {
		return nil, err
	}

	var result ytSearchResult
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return nil, fmt.Errorf("decode youtube search: %w", err)
	}

	var ids []string
	for _, item := range result.Items {
		if item.ID.VideoID != "" {
			ids = append(ids, item.ID.VideoID)
		}
	}
	return ids, nil
}

type videoTotals struct {
	views    int64
	likes    int64
	comments int64
}

func (y *YouTube) statistics(ctx context.Context, ids []string) (videoTotals, error) {
	var totals videoTotals

	resp, err := y.client.R().SetContext(ctx).SetQueryParams(map[string]string{
		"part": "statistics",
		"id":   strings.Join(ids, ","),
		"key":  y.apiKey,
	}).Get("/videos")
	if err != nil {
		return totals, fmt.Errorf("fetch youtube statistics: %w", err)
	}
	if err := youtubeStatus(resp); err != nil {
		return totals, err
	}

	var result ytVideoResult
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return totals, fmt.Errorf("decode youtube statistics: %w", err)
	}

	for _, video := range result.Items {
		totals.views += video.Statistics.ViewCount
		totals.likes += video.Statistics.LikeCount
		totals.comments += video.Statistics.CommentCount
	}
	return totals, nil
}

// youtubeStatus maps quota and key failures to permanent errors.
func youtubeStatus(resp *resty.Response) error {
	switch resp.StatusCode() {
	case http.StatusOK:
		return nil
	case http.StatusForbidden, http.StatusUnauthorized:
		return Permanent(fmt.Errorf("youtube status %d (quota or key)", resp.StatusCode()))
	default:
		return fmt.Errorf("youtube status %d", resp.StatusCode())
	}
}

type ytSearchResult struct {
	Items []struct {
		ID struct {
			VideoID string `json:"videoId"`
		} `json:"id"`
	} `json:"items"`
}

type ytVideoResult struct {
	Items []struct {
		ID         string `json:"id"`
		Statistics struct {
			ViewCount    int64 `json:"viewCount,string"`
			LikeCount    int64 `json:"likeCount,string"`
			CommentCount int64 `json:"commentCount,string"`
		} `json:"statistics"`
	} `json:"items"`
}
