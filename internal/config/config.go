package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/elonfeng/trendpulse/pkg/source"
	"github.com/elonfeng/trendpulse/pkg/trend"
)

// Config is the root configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Keywords []KeywordEntry `yaml:"keywords"`
	Sources  SourcesConfig  `yaml:"sources"`
	Scoring  ScoringConfig  `yaml:"scoring"`
	Alerts   AlertsConfig   `yaml:"alerts"`
	Cache    CacheConfig    `yaml:"cache"`
	NATS     NATSConfig     `yaml:"nats"`
	Server   ServerConfig   `yaml:"server"`
	Filter   FilterConfig   `yaml:"filter"`
}

// DatabaseConfig configures SQLite storage.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ScheduleConfig configures the collection cycle.
type ScheduleConfig struct {
	CycleInterval     string      `yaml:"cycle_interval"`
	Workers           int         `yaml:"workers"`
	MaxWriteRetries   int         `yaml:"max_write_retries"`
	MaxTrendsPerCycle int         `yaml:"max_trends_per_cycle"`
	RetentionDays     int         `yaml:"retention_days"`
	Retry             RetryConfig `yaml:"retry"`
}

// ParseCycleInterval returns the cycle interval, falling back to 6h.
func (s ScheduleConfig) ParseCycleInterval() time.Duration {
	d, err := time.ParseDuration(s.CycleInterval)
	if err != nil || d <= 0 {
		return 6 * time.Hour
	}
	return d
}

// RetryConfig configures collector retries.
type RetryConfig struct {
	MaxAttempts int    `yaml:"max_attempts"`
	Backoff     string `yaml:"backoff"`
	MaxBackoff  string `yaml:"max_backoff"`
}

// Policy converts the retry settings, falling back to the defaults for
// anything unset or unparsable.
func (r RetryConfig) Policy() source.RetryPolicy {
	p := source.DefaultRetryPolicy()
	if r.MaxAttempts > 0 {
		p.MaxAttempts = r.MaxAttempts
	}
	if d, err := time.ParseDuration(r.Backoff); err == nil && d > 0 {
		p.Backoff = d
	}
	if d, err := time.ParseDuration(r.MaxBackoff); err == nil && d > 0 {
		p.MaxBackoff = d
	}
	return p
}

// KeywordEntry is a tracked keyword.
type KeywordEntry struct {
	Keyword  string `yaml:"keyword"`
	Region   string `yaml:"region"`
	Language string `yaml:"language"`
	Category string `yaml:"category"`
}

// SourcesConfig holds configuration for all data sources.
type SourcesConfig struct {
	GoogleTrends GoogleTrendsConfig `yaml:"google_trends"`
	YouTube      YouTubeConfig      `yaml:"youtube"`
	Reddit       RedditConfig       `yaml:"reddit"`
}

// GoogleTrendsConfig for the Google Trends collectors. The daily RSS feed
// discovers topics; Interest fetches interest over time for tracked keywords.
type GoogleTrendsConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Regions   []string `yaml:"regions"`
	Interest  bool     `yaml:"interest"`
	Timeframe string   `yaml:"timeframe"`
}

// YouTubeConfig for the YouTube Data API collector.
type YouTubeConfig struct {
	Enabled    bool   `yaml:"enabled"`
	APIKey     string `yaml:"api_key"`
	MaxResults int    `yaml:"max_results"`
}

// RedditConfig for the Reddit search collector.
type RedditConfig struct {
	Enabled      bool   `yaml:"enabled"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
}

// ScoringConfig configures the scoring engine.
type ScoringConfig struct {
	Weights              trend.Weights       `yaml:"weights"`
	Bands                trend.Bands         `yaml:"bands"`
	History              trend.HistoryConfig `yaml:"history"`
	Merge                trend.MergePolicy   `yaml:"merge"`
	WindowDays           int                 `yaml:"window_days"`
	ConsistencySnapshots int                 `yaml:"consistency_snapshots"`
	ConsistencyMaxStdDev float64             `yaml:"consistency_max_stddev"`
	FreshnessHorizonDays float64             `yaml:"freshness_horizon_days"`
	GrowthCeilingPct     float64             `yaml:"growth_ceiling_pct"`
	Ceilings             map[string]float64  `yaml:"ceilings"`
}

// AlertsConfig configures alert evaluation and destinations.
type AlertsConfig struct {
	Cooldown     string        `yaml:"cooldown"`
	// ExplosionPct is the 24h volume growth that fires explosion alerts
	// without a limit of their own.
	ExplosionPct float64       `yaml:"explosion_pct"`
	Slack        SlackConfig   `yaml:"slack"`
	Discord      DiscordConfig `yaml:"discord"`
	Webhook      WebhookConfig `yaml:"webhook"`
}

// ParseCooldown returns the alert cool-down, falling back to 24h.
func (a AlertsConfig) ParseCooldown() time.Duration {
	d, err := time.ParseDuration(a.Cooldown)
	if err != nil || d < 0 {
		return 24 * time.Hour
	}
	return d
}

// SlackConfig for Slack webhook alerts.
type SlackConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// DiscordConfig for Discord webhook alerts.
type DiscordConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// WebhookConfig for generic webhook alerts.
type WebhookConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Secret  string `yaml:"secret"`
}

// CacheConfig configures the Redis projection cache. An empty URL disables it.
type CacheConfig struct {
	RedisURL string `yaml:"redis_url"`
	TTL      string `yaml:"ttl"`
}

// ParseTTL returns the cache TTL, falling back to 6h.
func (c CacheConfig) ParseTTL() time.Duration {
	d, err := time.ParseDuration(c.TTL)
	if err != nil || d <= 0 {
		return 6 * time.Hour
	}
	return d
}

// NATSConfig configures projection and alert publishing. An empty URL
// disables it.
type NATSConfig struct {
	URL            string `yaml:"url"`
	SubjectPrefix  string `yaml:"subject_prefix"`
	MaxReconnects  int    `yaml:"max_reconnects"`
	ReconnectWait  string `yaml:"reconnect_wait"`
	ConnectTimeout string `yaml:"connect_timeout"`
}

func parseDurationOr(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// ParseReconnectWait returns the reconnect wait, falling back to 2s.
func (n NATSConfig) ParseReconnectWait() time.Duration {
	return parseDurationOr(n.ReconnectWait, 2*time.Second)
}

// ParseConnectTimeout returns the connect timeout, falling back to 5s.
func (n NATSConfig) ParseConnectTimeout() time.Duration {
	return parseDurationOr(n.ConnectTimeout, 5*time.Second)
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// FilterConfig limits which Google Trends topics are kept.
type FilterConfig struct {
	IncludeKeywords []string `yaml:"include_keywords"`
	ExcludeKeywords []string `yaml:"exclude_keywords"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	def := trend.DefaultConfig()
	return &Config{
		Database: DatabaseConfig{Path: "./trendpulse.db"},
		Schedule: ScheduleConfig{
			CycleInterval:     "6h",
			Workers:           def.Workers,
			MaxWriteRetries:   def.MaxWriteRetries,
			MaxTrendsPerCycle: def.MaxTrendsPerCycle,
			RetentionDays:     180,
			Retry: RetryConfig{
				MaxAttempts: 3,
				Backoff:     "2s",
				MaxBackoff:  "30s",
			},
		},
		Sources: SourcesConfig{
			GoogleTrends: GoogleTrendsConfig{
				Enabled:   true,
				Regions:   []string{source.DefaultRegion},
				Interest:  true,
				Timeframe: source.DefaultInterestTimeframe,
			},
			YouTube:      YouTubeConfig{Enabled: false, MaxResults: 25},
			Reddit:       RedditConfig{Enabled: false},
		},
		Scoring: ScoringConfig{
			Weights:              def.Weights,
			Bands:                def.Bands,
			History:              def.History,
			Merge:                def.Merge,
			WindowDays:           def.WindowDays,
			ConsistencySnapshots: def.ConsistencySnapshots,
			ConsistencyMaxStdDev: def.Factors.ConsistencyMaxStdDev,
			FreshnessHorizonDays: def.Factors.FreshnessHorizonDays,
			GrowthCeilingPct:     def.Factors.GrowthCeilingPct,
		},
		Alerts: AlertsConfig{Cooldown: "24h", ExplosionPct: def.ExplosionPct},
		Cache:  CacheConfig{TTL: "6h"},
		NATS: NATSConfig{
			SubjectPrefix:  "trendpulse",
			MaxReconnects:  10,
			ReconnectWait:  "2s",
			ConnectTimeout: "5s",
		},
		Server: ServerConfig{Port: 8080},
	}
}

// Load reads an optional .env file, then configuration from a YAML file, and
// applies env var overrides on top.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides overrides config values with environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TRENDPULSE_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("TRENDPULSE_CYCLE_INTERVAL"); v != "" {
		cfg.Schedule.CycleInterval = v
	}
	if v := os.Getenv("TRENDPULSE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("YOUTUBE_API_KEY"); v != "" {
		cfg.Sources.YouTube.APIKey = v
		cfg.Sources.YouTube.Enabled = true
	}
	if v := os.Getenv("REDDIT_CLIENT_ID"); v != "" {
		cfg.Sources.Reddit.ClientID = v
	}
	if v := os.Getenv("REDDIT_CLIENT_SECRET"); v != "" {
		cfg.Sources.Reddit.ClientSecret = v
	}
	if cfg.Sources.Reddit.ClientID != "" && cfg.Sources.Reddit.ClientSecret != "" {
		cfg.Sources.Reddit.Enabled = true
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Cache.RedisURL = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("SLACK_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Slack.WebhookURL = v
		cfg.Alerts.Slack.Enabled = true
	}
	if v := os.Getenv("DISCORD_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Discord.WebhookURL = v
		cfg.Alerts.Discord.Enabled = true
	}
	if v := os.Getenv("WEBHOOK_SECRET"); v != "" {
		cfg.Alerts.Webhook.Secret = v
	}
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	if err := c.Scoring.Weights.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("scoring.weights: %w", err))
	}
	if err := c.Scoring.Bands.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("scoring.bands: %w", err))
	}
	m := c.Scoring.Merge
	if m.AutoMergeSimilarity <= 0 || m.AutoMergeSimilarity > 1 {
		errs = append(errs, fmt.Errorf("scoring.merge.auto_merge_similarity must be in (0,1], got %v", m.AutoMergeSimilarity))
	}
	if m.ReviewSimilarity <= 0 || m.ReviewSimilarity > 1 {
		errs = append(errs, fmt.Errorf("scoring.merge.review_similarity must be in (0,1], got %v", m.ReviewSimilarity))
	}
	for kind, v := range c.Scoring.Ceilings {
		if !source.MetricKind(kind).IsKnown() {
			errs = append(errs, fmt.Errorf("scoring.ceilings: unknown metric %q", kind))
		} else if v <= 0 {
			errs = append(errs, fmt.Errorf("scoring.ceilings.%s must be positive", kind))
		}
	}
	if c.Schedule.Workers < 0 || c.Schedule.MaxWriteRetries < 0 || c.Schedule.MaxTrendsPerCycle < 0 {
		errs = append(errs, errors.New("schedule limits must not be negative"))
	}
	if c.Sources.Reddit.Enabled && (c.Sources.Reddit.ClientID == "" || c.Sources.Reddit.ClientSecret == "") {
		errs = append(errs, errors.New("sources.reddit requires client_id and client_secret"))
	}
	if c.Alerts.ExplosionPct <= 0 {
		errs = append(errs, fmt.Errorf("alerts.explosion_pct must be positive, got %v", c.Alerts.ExplosionPct))
	}
	if c.Alerts.Webhook.Enabled && c.Alerts.Webhook.URL == "" {
		errs = append(errs, errors.New("alerts.webhook requires url"))
	}
	return errors.Join(errs...)
}

// TrackedKeywords returns the configured keywords with region and language
// defaults filled in.
func (c *Config) TrackedKeywords() []source.Keyword {
	out := make([]source.Keyword, 0, len(c.Keywords))
	for _, k := range c.Keywords {
		kw := source.Keyword{Keyword: k.Keyword, Region: k.Region, Language: k.Language, Category: k.Category}
		if kw.Region == "" {
			kw.Region = source.DefaultRegion
		}
		if kw.Language == "" {
			kw.Language = source.DefaultLanguage
		}
		out = append(out, kw)
	}
	return out
}

// Engine converts the scoring and schedule settings into an engine config.
func (c *Config) Engine() trend.Config {
	ec := trend.DefaultConfig()
	s := c.Scoring
	ec.Weights = s.Weights
	ec.Bands = s.Bands
	ec.History = s.History
	ec.Merge = s.Merge
	ec.WindowDays = s.WindowDays
	ec.ConsistencySnapshots = s.ConsistencySnapshots
	if s.ConsistencyMaxStdDev > 0 {
		ec.Factors.ConsistencyMaxStdDev = s.ConsistencyMaxStdDev
	}
	if s.FreshnessHorizonDays > 0 {
		ec.Factors.FreshnessHorizonDays = s.FreshnessHorizonDays
	}
	if s.GrowthCeilingPct > 0 {
		ec.Factors.GrowthCeilingPct = s.GrowthCeilingPct
	}
	if len(s.Ceilings) > 0 {
		ec.Ceilings = make(map[source.MetricKind]float64, len(s.Ceilings))
		for k, v := range s.Ceilings {
			ec.Ceilings[source.MetricKind(k)] = v
		}
	}
	ec.Workers = c.Schedule.Workers
	ec.MaxWriteRetries = c.Schedule.MaxWriteRetries
	ec.MaxTrendsPerCycle = c.Schedule.MaxTrendsPerCycle
	ec.AlertCooldown = c.Alerts.ParseCooldown()
	ec.ExplosionPct = c.Alerts.ExplosionPct
	ec.CycleInterval = c.Schedule.ParseCycleInterval()
	return ec
}
