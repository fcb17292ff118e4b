package source

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

// Reddit counts recent posts and comments mentioning tracked keywords.
type Reddit struct {
	client       *resty.Client
	authURL      string
	apiURL       string
	clientID     string
	clientSecret string
	mu           sync.Mutex
	token        string
	tokenExpiry  time.Time
}

// NewReddit creates a new Reddit collector.
func NewReddit(clientID, clientSecret string) *Reddit {
	return &Reddit{
		client:       resty.New().SetTimeout(30*time.Second).SetHeader("User-Agent", "trendpulse/1.0"),
		authURL:      "https://www.reddit.com/api/v1/access_token",
		apiURL:       "https://oauth.reddit.com",
		clientID:     clientID,
		clientSecret: clientSecret,
	}
}

// WithEndpoints overrides the token and API endpoints.
func (r *Reddit) WithEndpoints(authURL, apiURL string) *Reddit {
	r.authURL, r.apiURL = authURL, apiURL
	return r
}

func (r *Reddit) Name() SourceType { return SourceReddit }

func (r *Reddit) Collect(ctx context.Context, keywords []Keyword) ([]RawObservation, error) {
	if err := r.authenticate(ctx); err != nil {
		return nil, fmt.Errorf("reddit auth: %w", err)
	}

	var out []RawObservation
	for _, kw := range keywords {
		posts, comments, err := r.search(ctx, kw.Keyword)
		if err != nil {
			fmt.Printf("  reddit %q error: %v\n", kw.Keyword, err)
			continue
		}

		now := time.Now().UTC()
		out = append(out,
			RawObservation{
				Source: SourceReddit, Keyword: kw.Keyword, Region: kw.Region, Language: kw.Language,
				Category: kw.Category, Metric: MetricPosts, Value: strconv.Itoa(posts), Unit: "posts",
				ObservedAt: now,
			},
			RawObservation{
				Source: SourceReddit, Keyword: kw.Keyword, Region: kw.Region, Language: kw.Language,
				Category: kw.Category, Metric: MetricComments, Value: strconv.Itoa(comments), Unit: "comments",
				ObservedAt: now,
			},
		)
	}

	return out, nil
}

func (r *Reddit) authenticate(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.token != "" && time.Now().Before(r.tokenExpiry) {
		return nil
	}
	if r.clientID == "" || r.clientSecret == "" {
		return Permanent(fmt.Errorf("client credentials required (set REDDIT_CLIENT_ID/REDDIT_CLIENT_SECRET)"))
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	resp, err := r.client.R().
		SetContext(ctx).
		SetBasicAuth(r.clientID, r.clientSecret).
		SetFormData(map[string]string{"grant_type": "client_credentials"}).
		SetResult(&tokenResp).
		Post(r.authURL)
	if err != nil {
		return fmt.Errorf("reddit token request: %w", err)
	}

	switch resp.StatusCode() {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return Permanent(fmt.Errorf("reddit auth status %d", resp.StatusCode()))
	default:
		return fmt.Errorf("reddit auth status %d", resp.StatusCode())
	}

	r.token = tokenResp.AccessToken
	r.tokenExpiry = time.Now().Add(time.Duration(tokenResp.ExpiresIn-60) * time.Second)
	return nil
}

// search returns the number of posts from the last day matching query and the
// sum of their comment counts.
func (r *Reddit) search(ctx context.Context, query string) (int, int, error) {
	r.mu.Lock()
	token := r.token
	r.mu.Unlock()

	var listing redditListing
	resp, err := r.client.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetQueryParams(map[string]string{
			"q":     query,
			"sort":  "new",
			"t":     "day",
			"limit": "100",
		}).
		SetResult(&listing).
		Get(r.apiURL + "/search")
	if err != nil {
		return 0, 0, fmt.Errorf("fetch search %q: %w", query, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return 0, 0, fmt.Errorf("reddit search status %d", resp.StatusCode())
	}

	posts, comments := 0, 0
	for _, child := range listing.Data.Children {
		if child.Data.Stickied {
			continue
		}
		posts++
		comments += child.Data.NumComments
	}
	return posts, comments, nil
}

type redditListing struct {
	Data struct {
		Children []struct {
			Data redditPost `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type redditPost struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	NumComments int    `json:"num_comments"`
	Stickied    bool   `json:"stickied"`
}
