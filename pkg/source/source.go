package source

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// SourceType identifies which platform an observation came from.
type SourceType string

const (
	SourceGoogleTrends SourceType = "google_trends" // search-index platform
	SourceYouTube      SourceType = "youtube"       // video platform
	SourceReddit       SourceType = "reddit"        // discussion platform
)

// MetricKind tells the normalizer which scaling strategy a value needs.
type MetricKind string

const (
	MetricSearchIndex   MetricKind = "search_index"   // relative interest 0-100
	MetricSearchTraffic MetricKind = "search_traffic" // approximate searches
	MetricViews         MetricKind = "views"
	MetricEngagement    MetricKind = "engagement" // likes + comments
	MetricPosts         MetricKind = "posts"
	MetricComments      MetricKind = "comments"
	MetricPercentage    MetricKind = "percentage"
)

// Default region and language applied when a collector leaves them empty.
const (
	DefaultRegion   = "US"
	DefaultLanguage = "en"
)

// ErrMalformed marks an observation that cannot be scored.
var ErrMalformed = errors.New("malformed observation")

// ValidationError describes why a raw observation was rejected.
type ValidationError struct {
	Field  string
	Reason string
	Value  any
}

func (e *ValidationError) Error() string {
	if e.Value != nil {
		return fmt.Sprintf("invalid %s: %s (value: %v)", e.Field, e.Reason, e.Value)
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrMalformed }

// RawObservation is one tuple exactly as a collector produced it. Value is kept
// as text so that non-numeric garbage can be rejected at ingestion.
type RawObservation struct {
	Source     SourceType `json:"source" yaml:"source"`
	Keyword    string     `json:"keyword" yaml:"keyword"`
	Region     string     `json:"region,omitempty" yaml:"region"`
	Language   string     `json:"language,omitempty" yaml:"language"`
	Category   string     `json:"category,omitempty" yaml:"category"`
	Metric     MetricKind `json:"metric" yaml:"metric"`
	Value      string     `json:"value" yaml:"value"`
	Unit       string     `json:"unit,omitempty" yaml:"unit"`
	ObservedAt time.Time  `json:"observed_at" yaml:"observed_at"`
}

// Metric is the tagged numeric value of an observation.
type Metric struct {
	Kind  MetricKind `json:"kind"`
	Value float64    `json:"value"`
	Unit  string     `json:"unit,omitempty"`
}

// Observation is a validated observation ready for canonicalization.
type Observation struct {
	Source     SourceType
	Keyword    string
	Region     string
	Language   string
	Category   string
	Metric     Metric
	ObservedAt time.Time
}

// Source is the interface every collector must implement.
type Source interface {
	Name() SourceType
	Collect(ctx context.Context, keywords []Keyword) ([]RawObservation, error)
}

// Keyword is a tracked topic handed to collectors.
type Keyword struct {
	Keyword  string
	Region   string
	Language string
	Category string
}

// AllSourceTypes returns all known source types.
func AllSourceTypes() []SourceType {
	return []SourceType{
		SourceGoogleTrends,
		SourceYouTube,
		SourceReddit,
	}
}

// IsKnown reports whether st is one of AllSourceTypes.
func (st SourceType) IsKnown() bool {
	for _, known := range AllSourceTypes() {
		if st == known {
			return true
		}
	}
	return false
}

// IsKnown reports whether k is a metric kind the normalizer can scale.
func (k MetricKind) IsKnown() bool {
	switch k {
	case MetricSearchIndex, MetricSearchTraffic, MetricViews, MetricEngagement,
		MetricPosts, MetricComments, MetricPercentage:
		return true
	}
	return false
}

// Validate turns a raw tuple into an Observation. Missing region, language and
// timestamp are filled from defaults; everything else missing is an error.
func (r RawObservation) Validate(now time.Time) (Observation, error) {
	if !r.Source.IsKnown() {
		return Observation{}, &ValidationError{Field: "source", Reason: "unknown source", Value: r.Source}
	}
	keyword := strings.TrimSpace(r.Keyword)
	if keyword == "" {
		return Observation{}, &ValidationError{Field: "keyword", Reason: "empty"}
	}
	if !r.Metric.IsKnown() {
		return Observation{}, &ValidationError{Field: "metric", Reason: "unknown metric kind", Value: r.Metric}
	}

	value, err := ParseValue(r.Value)
	if err != nil {
		return Observation{}, err
	}
	if r.Metric == MetricSearchIndex || r.Metric == MetricPercentage {
		if value > 100 {
			return Observation{}, &ValidationError{Field: "value", Reason: "relative value above 100", Value: r.Value}
		}
	}

	region := strings.ToUpper(strings.TrimSpace(r.Region))
	if region == "" {
		region = DefaultRegion
	}
	language := strings.ToLower(strings.TrimSpace(r.Language))
	if language == "" {
		language = DefaultLanguage
	}
	observedAt := r.ObservedAt
	if observedAt.IsZero() {
		observedAt = now
	}

	return Observation{
		Source:     r.Source,
		Keyword:    keyword,
		Region:     region,
		Language:   language,
		Category:   strings.TrimSpace(r.Category),
		Metric:     Metric{Kind: r.Metric, Value: value, Unit: r.Unit},
		ObservedAt: observedAt.UTC(),
	}, nil
}

// ParseValue parses a raw metric value. Thousands separators and a trailing
// "+" (as in "20K+") are accepted, as are K/M suffixes.
func ParseValue(raw string) (float64, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, &ValidationError{Field: "value", Reason: "empty"}
	}
	s = strings.TrimSuffix(strings.ReplaceAll(s, ",", ""), "+")

	mult := 1.0
	switch {
	case strings.HasSuffix(s, "K") || strings.HasSuffix(s, "k"):
		mult, s = 1e3, s[:len(s)-1]
	case strings.HasSuffix(s, "M") || strings.HasSuffix(s, "m"):
		mult, s = 1e6, s[:len(s)-1]
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, &ValidationError{Field: "value", Reason: "not numeric", Value: raw}
	}
	v *= mult
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, &ValidationError{Field: "value", Reason: "not finite", Value: raw}
	}
	if v < 0 {
		return 0, &ValidationError{Field: "value", Reason: "negative", Value: raw}
	}
	return v, nil
}
