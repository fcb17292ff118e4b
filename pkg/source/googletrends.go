package source

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/mmcdole/gofeed"
)

const googleTrendsFeedURL = "https://trends.google.com/trending/rss"

// GoogleTrends collects trending searches and their approximate traffic from
// the Google Trends RSS feed, one feed per region.
type GoogleTrends struct {
	client  *resty.Client
	parser  *gofeed.Parser
	feedURL string
	regions []string
	filter  *Filter
}

// NewGoogleTrends creates a new Google Trends collector. regions are fetched in
// addition to the regions of the tracked keywords.
func NewGoogleTrends(regions []string, filter *Filter) *GoogleTrends {
	return &GoogleTrends{
		client:  resty.New().SetTimeout(30*time.Second).SetHeader("User-Agent", "trendpulse/1.0"),
		parser:  gofeed.NewParser(),
		feedURL: googleTrendsFeedURL,
		regions: regions,
		filter:  filter,
	}
}

// WithFeedURL overrides the feed endpoint.
func (g *GoogleTrends) WithFeedURL(u string) *GoogleTrends {
	g.feedURL = u
	return g
}

func (g *GoogleTrends) Name() SourceType { return SourceGoogleTrends }

func (g *GoogleTrends) Collect(ctx context.Context, keywords []Keyword) ([]RawObservation, error) {
	tracked := make(map[string]Keyword)
	regionSet := make(map[string]bool)
	for _, r := range g.regions {
		regionSet[strings.ToUpper(r)] = true
	}
	for _, kw := range keywords {
		region := strings.ToUpper(kw.Region)
		if region == "" {
			region = DefaultRegion
		}
		regionSet[region] = true
		tracked[region+"|"+strings.ToLower(kw.Keyword)] = kw
	}

	regions := make([]string, 0, len(regionSet))
	for r := range regionSet {
		regions = append(regions, r)
	}
	sort.Strings(regions)

	var (
		all    []RawObservation
		failed int
	)
	for _, region := range regions {
		obs, err := g.collectRegion(ctx, region, tracked)
		if err != nil {
			if IsPermanent(err) {
				return nil, err
			}
			fmt.Printf("  google trends %s error: %v\n", region, err)
			failed++
			continue
		}
		all = append(all, obs...)
	}

	if failed > 0 && failed == len(regions) {
		return nil, fmt.Errorf("google trends: all %d region feeds failed", failed)
	}
	return all, nil
}

func (g *GoogleTrends) collectRegion(ctx context.Context, region string, tracked map[string]Keyword) ([]RawObservation, error) {
	resp, err := g.client.R().
		SetContext(ctx).
		SetQueryParam("geo", region).
		Get(g.feedURL)
	if err != nil {
		return nil, fmt.Errorf("fetch trends feed %s: %w", region, err)
	}
	switch {
	case resp.StatusCode() == http.StatusTooManyRequests:
		return nil, fmt.Errorf("trends feed %s rate limited", region)
	case resp.StatusCode() == http.StatusForbidden:
		return nil, Permanent(fmt.Errorf("trends feed %s forbidden", region))
	case resp.StatusCode() != http.StatusOK:
		return nil, fmt.Errorf("trends feed %s status %d", region, resp.StatusCode())
	}

	parsed, err := g.parser.Parse(bytes.NewReader(resp.Body()))
	if err != nil {
		return nil, fmt.Errorf("parse trends feed %s: %w", region, err)
	}

	var out []RawObservation
	for _, entry := range parsed.Items {
		title := strings.TrimSpace(entry.Title)
		if title == "" {
			continue
		}

		kw, isTracked := tracked[region+"|"+strings.ToLower(title)]
		if !isTracked && !g.filter.Match(title) {
			continue
		}

		observed := time.Now().UTC()
		if entry.PublishedParsed != nil {
			observed = entry.PublishedParsed.UTC()
		}

		out = append(out, RawObservation{
			Source:     SourceGoogleTrends,
			Keyword:    title,
			Region:     region,
			Language:   kw.Language,
			Category:   kw.Category,
			Metric:     MetricSearchTraffic,
			Value:      approxTraffic(entry),
			Unit:       "searches",
			ObservedAt: observed,
		})
	}
	return out, nil
}

// approxTraffic reads the ht:approx_traffic extension ("20K+").
func approxTraffic(entry *gofeed.Item) string {
	for _, ns := range []string{"ht", "trends"} {
		ext, ok := entry.Extensions[ns]
		if !ok {
			continue
		}
		if vals := ext["approx_traffic"]; len(vals) > 0 {
			return vals[0].Value
		}
	}
	return ""
}
