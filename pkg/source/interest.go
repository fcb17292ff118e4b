package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
)

const googleTrendsAPIURL = "https://trends.google.com/trends/api"

// DefaultInterestTimeframe asks for daily points over the last month.
const DefaultInterestTimeframe = "today 1-m"

// Google prefixes JSON responses with an anti-XSSI guard.
var xssiPrefixes = [][]byte{[]byte(")]}',"), []byte(")]}'")}

// GoogleTrendsInterest collects interest over time (0-100) for each tracked
// keyword. Every point of the series is emitted as a dated search_index
// observation, which is what the growth factor reads.
type GoogleTrendsInterest struct {
	client    *resty.Client
	timeframe string
}

// NewGoogleTrendsInterest creates a keyword interest collector.
func NewGoogleTrendsInterest(timeframe string) *GoogleTrendsInterest {
	if timeframe == "" {
		timeframe = DefaultInterestTimeframe
	}
	client := resty.New().
		SetTimeout(30*time.Second).
		SetBaseURL(googleTrendsAPIURL).
		SetHeader("User-Agent", "trendpulse/1.0").
		SetQueryParams(map[string]string{"hl": "en-US", "tz": "0"})
	return &GoogleTrendsInterest{client: client, timeframe: timeframe}
}

// WithBaseURL overrides the API endpoint.
func (g *GoogleTrendsInterest) WithBaseURL(u string) *GoogleTrendsInterest {
	g.client.SetBaseURL(u)
	return g
}

func (g *GoogleTrendsInterest) Name() SourceType { return SourceGoogleTrends }

func (g *GoogleTrendsInterest) Collect(ctx context.Context, keywords []Keyword) ([]RawObservation, error) {
	var (
		out    []RawObservation
		failed int
	)
	for _, kw := range keywords {
		points, err := g.interest(ctx, kw)
		if err != nil {
			if IsPermanent(err) {
				return nil, err
			}
			fmt.Printf("  google trends interest %q error: %v\n", kw.Keyword, err)
			failed++
			continue
		}
		for _, p := range points {
			out = append(out, RawObservation{
				Source:     SourceGoogleTrends,
				Keyword:    kw.Keyword,
				Region:     kw.Region,
				Language:   kw.Language,
				Category:   kw.Category,
				Metric:     MetricSearchIndex,
				Value:      strconv.Itoa(p.value),
				Unit:       "index",
				ObservedAt: p.at,
			})
		}
	}

	if failed > 0 && failed == len(keywords) {
		return nil, fmt.Errorf("google trends interest: all %d keywords failed", failed)
	}
	return out, nil
}

type interestPoint struct {
	at    time.Time
	value int
}

// interest resolves the keyword's time-series widget, then fetches its data.
func (g *GoogleTrendsInterest) interest(ctx context.Context, kw Keyword) ([]interestPoint, error) {
	explore := gtExploreRequest{
		ComparisonItem: []gtComparisonItem{{Keyword: kw.Keyword, Geo: kw.Region, Time: g.timeframe}},
	}
	reqJSON, err := json.Marshal(explore)
	if err != nil {
		return nil, fmt.Errorf("encode explore request: %w", err)
	}

	resp, err := g.client.R().SetContext(ctx).SetQueryParam("req", string(reqJSON)).Get("/explore")
	if err != nil {
		return nil, fmt.Errorf("fetch trends explore: %w", err)
	}
	if err := trendsAPIStatus(resp); err != nil {
		return nil, err
	}

	var widgets gtExploreResult
	if err := json.Unmarshal(stripXSSI(resp.Body()), &widgets); err != nil {
		return nil, fmt.Errorf("decode trends explore: %w", err)
	}
	var series *gtWidget
	for i := range widgets.Widgets {
		if widgets.Widgets[i].ID == "TIMESERIES" {
			series = &widgets.Widgets[i]
			break
		}
	}
	if series == nil || series.Token == "" {
		return nil, fmt.Errorf("trends explore: no time series widget for %q", kw.Keyword)
	}

	resp, err = g.client.R().SetContext(ctx).SetQueryParams(map[string]string{
		"req":   string(series.Request),
		"token": series.Token,
	}).Get("/widgetdata/multiline")
	if err != nil {
		return nil, fmt.Errorf("fetch trends timeline: %w", err)
	}
	if err := trendsAPIStatus(resp); err != nil {
		return nil, err
	}

	var data gtTimelineResult
	if err := json.Unmarshal(stripXSSI(resp.Body()), &data); err != nil {
		return nil, fmt.Errorf("decode trends timeline: %w", err)
	}

	var points []interestPoint
	for _, row := range data.Default.TimelineData {
		// The newest bucket is still filling up and reads low.
		if row.IsPartial || len(row.Value) == 0 {
			continue
		}
		sec, err := strconv.ParseInt(row.Time, 10, 64)
		if err != nil {
			continue
		}
		points = append(points, interestPoint{at: time.Unix(sec, 0).UTC(), value: row.Value[0]})
	}
	return points, nil
}

// trendsAPIStatus treats rate limiting as retryable and auth failures as
// permanent.
func trendsAPIStatus(resp *resty.Response) error {
	switch resp.StatusCode() {
	case http.StatusOK:
		return nil
	case http.StatusTooManyRequests:
		return fmt.Errorf("trends api rate limited")
	case http.StatusUnauthorized, http.StatusForbidden:
		return Permanent(fmt.Errorf("trends api status %d", resp.StatusCode()))
	default:
		return fmt.Errorf("trends api status %d", resp.StatusCode())
	}
}

func stripXSSI(body []byte) []byte {
	body = bytes.TrimSpace(body)
	for _, p := range xssiPrefixes {
		if bytes.HasPrefix(body, p) {
			return body[len(p):]
		}
	}
	return body
}

type gtExploreRequest struct {
	ComparisonItem []gtComparisonItem `json:"comparisonItem"`
	Category       int                `json:"category"`
	Property       string             `json:"property"`
}

type gtComparisonItem struct {
	Keyword string `json:"keyword"`
	Geo     string `json:"geo"`
	Time    string `json:"time"`
}

type gtWidget struct {
	ID      string          `json:"id"`
	Token   string          `json:"token"`
	Request json.RawMessage `json:"request"`
}

type gtExploreResult struct {
	Widgets []gtWidget `json:"widgets"`
}

type gtTimelineResult struct {
	Default struct {
		TimelineData []struct {
			Time      string `json:"time"`
			Value     []int  `json:"value"`
			IsPartial bool   `json:"isPartial"`
		} `json:"timelineData"`
	} `json:"default"`
}
