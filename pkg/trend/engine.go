package trend

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/elonfeng/trendpulse/internal/store"
	"github.com/elonfeng/trendpulse/pkg/alert"
	"github.com/elonfeng/trendpulse/pkg/source"
)

// Config tunes a collection cycle.
type Config struct {
	Weights  Weights
	Bands    Bands
	Factors  FactorConfig
	History  HistoryConfig
	Merge    MergePolicy
	Ceilings map[source.MetricKind]float64

	// WindowDays is how far back observations feed the growth factor.
	WindowDays int
	// ConsistencySnapshots is how many prior snapshots feed the consistency
	// factor.
	ConsistencySnapshots int

	Workers           int
	MaxWriteRetries   int
	MaxTrendsPerCycle int

	AlertCooldown time.Duration
	CycleInterval time.Duration
	// ExplosionPct is the default 24h volume growth for explosion alerts.
	ExplosionPct  float64
}

func DefaultConfig() Config {
	return Config{
		Weights:              DefaultWeights,
		Bands:                DefaultBands,
		Factors:              DefaultFactorConfig(),
		History:              DefaultHistoryConfig(),
		Merge:                DefaultMergePolicy(),
		WindowDays:           30,
		ConsistencySnapshots: 14,
		Workers:              8,
		MaxWriteRetries:      3,
		MaxTrendsPerCycle:    500,
		AlertCooldown:        24 * time.Hour,
		CycleInterval:        6 * time.Hour,
		ExplosionPct:         alert.DefaultExplosionPct,
	}
}

// Engine turns raw observations into scored trends.
type Engine struct {
	store     store.Store
	cfg       Config
	norm      *Normalizer
	matcher   *alert.Matcher
	notifier  *alert.Manager
	publisher alert.Publisher
	cache     invalidator
	logger    *log.Logger
}

type invalidator interface {
	Invalidate(ctx context.Context) error
}

// Option configures optional engine collaborators.
type Option func(*Engine)

// WithNotifier sends alert events through m.
func WithNotifier(m *alert.Manager) Option {
	return func(e *Engine) { e.notifier = m }
}

// WithPublisher exports every scored trend through p.
func WithPublisher(p alert.Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// WithCache invalidates c after each cycle that scored anything.
func WithCache(c invalidator) Option {
	return func(e *Engine) { e.cache = c }
}

// WithLogger replaces the default stderr logger.
func WithLogger(l *log.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates an engine. Zero-valued limits in cfg fall back to
// DefaultConfig.
func NewEngine(s store.Store, cfg Config, opts ...Option) *Engine {
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.MaxWriteRetries <= 0 {
		cfg.MaxWriteRetries = def.MaxWriteRetries
	}
	if cfg.WindowDays <= 0 {
		cfg.WindowDays = def.WindowDays
	}
	if cfg.ConsistencySnapshots <= 0 {
		cfg.ConsistencySnapshots = def.ConsistencySnapshots
	}
	if cfg.History.SparklineLen <= 0 {
		cfg.History.SparklineLen = def.History.SparklineLen
	}
	if cfg.CycleInterval <= 0 {
		cfg.CycleInterval = def.CycleInterval
	}
	if cfg.Factors.KnownSources <= 0 {
		cfg.Factors = def.Factors
	}

	e := &Engine{
		store:  s,
		cfg:    cfg,
		norm:   NewNormalizer(cfg.Ceilings),
		logger: log.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.matcher = alert.NewMatcher(s, cfg.AlertCooldown, cfg.CycleInterval, cfg.ExplosionPct, e.logger)
	return e
}

// CycleReport summarizes one collection cycle.
type CycleReport struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Received   int       `json:"received"`
	Malformed  int       `json:"malformed"`
	Capped     int       `json:"capped"`
	Inserted   int       `json:"inserted"`
	Duplicates int       `json:"duplicates"`
	Trends     int       `json:"trends"`
	Scored     int       `json:"scored"`
	Merged     int       `json:"merged"`
	Candidates int       `json:"candidates"`
	Alerts     int       `json:"alerts"`
	Failures   []string  `json:"failures,omitempty"`

	errs []error
}

// Err joins the per-trend failures of the cycle.
func (r *CycleReport) Err() error {
	return errors.Join(r.errs...)
}

type scope struct {
	region   string
	language string
}

type keyed struct {
	obs source.Observation
	key string
}

// Cycle validates, merges, stores and scores one batch of raw observations.
// It returns an error only when the cycle could not run at all; individual
// trend failures are collected in the report.
func (e *Engine) Cycle(ctx context.Context, raw []source.RawObservation, now time.Time) (*CycleReport, error) {
	now = now.UTC()
	rep := &CycleReport{ID: uuid.NewString(), StartedAt: now, Received: len(raw)}

	if err := e.store.Ping(ctx); err != nil {
		return rep, fmt.Errorf("cycle %s: %w", rep.ID, err)
	}

	valid := e.validate(raw, now, rep)
	valid = e.capTrends(valid, rep)

	ids, err := e.resolve(ctx, valid, rep)
	if err != nil {
		return rep, fmt.Errorf("cycle %s: %w", rep.ID, err)
	}

	rows := dedupe(valid, ids)
	byTrend := make(map[int64][]store.Observation)
	for _, o := range rows {
		byTrend[o.TrendID] = append(byTrend[o.TrendID], o)
	}
	inserted, err := e.store.AppendObservations(ctx, rows)
	if err != nil {
		return rep, fmt.Errorf("cycle %s: %w", rep.ID, err)
	}
	rep.Inserted = inserted
	rep.Duplicates = len(rows) - inserted
	rep.Trends = len(byTrend)

	alerts, err := e.store.ListAlerts(ctx, false)
	if err != nil {
		return rep, fmt.Errorf("cycle %s: %w", rep.ID, err)
	}

	trendIDs := make([]int64, 0, len(byTrend))
	for id := range byTrend {
		trendIDs = append(trendIDs, id)
	}
	sort.Slice(trendIDs, func(i, j int) bool { return trendIDs[i] < trendIDs[j] })

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)
	for _, id := range trendIDs {
		id := id
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			fired, err := e.scoreTrend(gctx, id, byTrend[id], alerts, now)
			mu.Lock()
			defer mu.Unlock()
			rep.Alerts += fired
			if err != nil {
				rep.errs = append(rep.errs, err)
				rep.Failures = append(rep.Failures, err.Error())
				return nil
			}
			rep.Scored++
			return nil
		})
	}
	g.Wait()
	sort.Strings(rep.Failures)

	if rep.Scored > 0 && e.cache != nil {
		if err := e.cache.Invalidate(ctx); err != nil {
			e.logger.Printf("engine: cache invalidate: %v", err)
		}
	}

	rep.FinishedAt = time.Now().UTC()
	e.logger.Printf("engine: cycle %s: %d received, %d malformed, %d new observations, %d/%d trends scored, %d alerts",
		rep.ID, rep.Received, rep.Malformed, rep.Inserted, rep.Scored, rep.Trends, rep.Alerts)

	if err := ctx.Err(); err != nil {
		return rep, fmt.Errorf("cycle %s: %w", rep.ID, err)
	}
	return rep, nil
}

func (e *Engine) validate(raw []source.RawObservation, now time.Time, rep *CycleReport) []keyed {
	var out []keyed
	for _, r := range raw {
		o, err := r.Validate(now)
		if err == nil {
			if key := CanonicalKey(o.Keyword); key != "" {
				out = append(out, keyed{obs: o, key: key})
				continue
			}
			err = &source.ValidationError{Field: "keyword", Reason: "no letters or digits", Value: r.Keyword}
		}
		rep.Malformed++
		e.logger.Printf("engine: drop observation: %v", err)
	}
	return out
}

// capTrends keeps at most MaxTrendsPerCycle distinct topics, preferring the
// ones with the most observations.
func (e *Engine) capTrends(obs []keyed, rep *CycleReport) []keyed {
	limit := e.cfg.MaxTrendsPerCycle
	if limit <= 0 {
		return obs
	}

	type topic struct {
		scope
		key string
	}
	counts := make(map[topic]int)
	for _, o := range obs {
		counts[topic{scope{o.obs.Region, o.obs.Language}, o.key}]++
	}
	if len(counts) <= limit {
		return obs
	}

	topics := make([]topic, 0, len(counts))
	for t := range counts {
		topics = append(topics, t)
	}
	sort.Slice(topics, func(i, j int) bool {
		a, b := topics[i], topics[j]
		if counts[a] != counts[b] {
			return counts[a] > counts[b]
		}
		if a.key != b.key {
			return a.key < b.key
		}
		if a.region != b.region {
			return a.region < b.region
		}
		return a.language < b.language
	})

	keep := make(map[topic]bool, limit)
	for _, t := range topics[:limit] {
		keep[t] = true
	}
	var out []keyed
	for _, o := range obs {
		if keep[topic{scope{o.obs.Region, o.obs.Language}, o.key}] {
			out = append(out, o)
		} else {
			rep.Capped++
		}
	}
	e.logger.Printf("engine: capped %d topics to %d", len(topics), limit)
	return out
}

// resolve maps every observation's key to a trend id, creating trends,
// aliases and merge candidates as needed. The returned map is keyed by scope
// and canonical key.
func (e *Engine) resolve(ctx context.Context, obs []keyed, rep *CycleReport) (map[scope]map[string]int64, error) {
	groups := make(map[scope][]keyed)
	for _, o := range obs {
		s := scope{o.obs.Region, o.obs.Language}
		groups[s] = append(groups[s], o)
	}

	scopes := make([]scope, 0, len(groups))
	for s := range groups {
		scopes = append(scopes, s)
	}
	sort.Slice(scopes, func(i, j int) bool {
		if scopes[i].region != scopes[j].region {
			return scopes[i].region < scopes[j].region
		}
		return scopes[i].language < scopes[j].language
	})

	out := make(map[scope]map[string]int64, len(groups))
	for _, s := range scopes {
		group := groups[s]
		known, err := e.store.ResolveKeys(ctx, s.region, s.language)
		if err != nil {
			return nil, err
		}
		existing := make([]string, 0, len(known))
		for k := range known {
			existing = append(existing, k)
		}
		incoming := make([]string, 0, len(group))
		for _, o := range group {
			incoming = append(incoming, o.key)
		}

		res := e.cfg.Merge.Resolve(existing, incoming)
		ids := make(map[string]int64, len(res.Target))

		// Trends first, so aliases of new keys have an id to point at.
		targets := sortedUnique(mapValues(res.Target))
		for _, target := range targets {
			if id, ok := known[target]; ok {
				ids[target] = id
				continue
			}
			t := &store.Trend{
				CanonicalKey: target,
				Keyword:      displayKeyword(group, target),
				Category:     firstCategory(group, res.Target, target),
				Region:       s.region,
				Language:     s.language,
			}
			id, err := e.store.UpsertTrend(ctx, t)
			if err != nil {
				return nil, err
			}
			ids[target] = id
		}

		for _, k := range sortedUnique(incoming) {
			ids[k] = ids[res.Target[k]]
		}

		for _, alias := range sortedUnique(mapKeys(res.Aliases)) {
			if err := e.store.AddAlias(ctx, alias, s.region, s.language, ids[alias]); err != nil {
				return nil, err
			}
			rep.Merged++
		}
		for _, c := range res.Candidates {
			err := e.store.FlagMergeCandidate(ctx, store.MergeCandidate{
				KeyA:       c.KeyA,
				KeyB:       c.KeyB,
				Region:     s.region,
				Language:   s.language,
				Similarity: c.Similarity,
			})
			if err != nil {
				return nil, err
			}
			rep.Candidates++
		}
		out[s] = ids
	}
	return out, nil
}

// dedupe converts observations to rows and keeps one row per
// (source, trend, metric, observed_at), the highest value winning.
func dedupe(obs []keyed, ids map[scope]map[string]int64) []store.Observation {
	rows := make([]store.Observation, 0, len(obs))
	for _, o := range obs {
		rows = append(rows, store.Observation{
			TrendID:    ids[scope{o.obs.Region, o.obs.Language}][o.key],
			Source:     string(o.obs.Source),
			Metric:     string(o.obs.Metric.Kind),
			Value:      o.obs.Metric.Value,
			Unit:       o.obs.Metric.Unit,
			RawKeyword: o.obs.Keyword,
			ObservedAt: o.obs.ObservedAt,
		})
	}

	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		switch {
		case a.TrendID != b.TrendID:
			return a.TrendID < b.TrendID
		case a.Source != b.Source:
			return a.Source < b.Source
		case a.Metric != b.Metric:
			return a.Metric < b.Metric
		case !a.ObservedAt.Equal(b.ObservedAt):
			return a.ObservedAt.Before(b.ObservedAt)
		case a.Value != b.Value:
			return a.Value > b.Value
		default:
			return a.RawKeyword < b.RawKeyword
		}
	})

	out := rows[:0]
	for i, r := range rows {
		if i > 0 {
			p := out[len(out)-1]
			if p.TrendID == r.TrendID && p.Source == r.Source && p.Metric == r.Metric && p.ObservedAt.Equal(r.ObservedAt) {
				continue
			}
		}
		out = append(out, r)
	}
	return out
}

// scoreTrend recomputes one trend and saves it, retrying on write conflicts
// with a fresh read. It returns how many alert events fired.
func (e *Engine) scoreTrend(ctx context.Context, id int64, current []store.Observation, alerts []store.Alert, now time.Time) (int, error) {
	var (
		t     *store.Trend
		prior []store.Snapshot
		snap  store.Snapshot
		err   error
	)
	for attempt := 1; ; attempt++ {
		t, prior, snap, err = e.computeAndSave(ctx, id, current, now)
		if err == nil {
			break
		}
		if errors.Is(err, store.ErrConflict) && attempt < e.cfg.MaxWriteRetries {
			e.logger.Printf("engine: trend %d: write conflict, retry %d", id, attempt)
			continue
		}
		return 0, fmt.Errorf("score trend %d: %w", id, err)
	}

	subject := alert.Subject{
		TrendID:      t.ID,
		CanonicalKey: t.CanonicalKey,
		Keyword:      t.Keyword,
		Region:       t.Region,
		Category:     t.Category,
		Score:        t.Score,
		Label:        t.Label,
		GrowthRate:   t.GrowthRate,
		Direction:    t.Direction,
	}
	subject.Explosion, subject.HasExplosion = ExplosionRate(prior, snap)

	events, err := e.matcher.Match(ctx, alerts, subject, now)
	if err != nil {
		return len(events), fmt.Errorf("match alerts for trend %d: %w", id, err)
	}
	for _, ev := range events {
		a := findAlert(alerts, ev.AlertID)
		if err := e.notifier.Broadcast(ctx, alert.NewNotification(a, ev, subject)); err != nil {
			e.logger.Printf("engine: notify alert %d: %v", ev.AlertID, err)
		}
	}

	if e.publisher != nil {
		p := alert.Projection{
			TrendID:    t.ID,
			Keyword:    t.Keyword,
			Region:     t.Region,
			Language:   t.Language,
			Score:      t.Score,
			Label:      t.Label,
			GrowthRate: t.GrowthRate,
			VolumeTier: t.VolumeTier,
			Direction:  t.Direction,
			Sparkline:  t.Sparkline,
			UpdatedAt:  t.LastUpdated,
		}
		if err := e.publisher.PublishProjection(ctx, p); err != nil {
			e.logger.Printf("engine: publish trend %d: %v", id, err)
		}
	}
	return len(events), nil
}

// computeAndSave reads a trend's history, scores it, and writes the snapshot
// and projection in one transaction. It also returns the prior snapshots and
// the saved snapshot for explosion checks.
func (e *Engine) computeAndSave(ctx context.Context, id int64, current []store.Observation, now time.Time) (*store.Trend, []store.Snapshot, store.Snapshot, error) {
	var none store.Snapshot
	t, err := e.store.GetTrend(ctx, id)
	if err != nil {
		return nil, nil, none, err
	}
	expected := t.Version

	window, err := e.store.ListObservations(ctx, id, now.AddDate(0, 0, -e.cfg.WindowDays))
	if err != nil {
		return nil, nil, none, err
	}
	limit := max(e.cfg.History.SparklineLen, e.cfg.ConsistencySnapshots) + 1
	snaps, err := e.store.RecentSnapshots(ctx, id, limit)
	if err != nil {
		return nil, nil, none, err
	}
	firstDate, err := e.store.FirstSnapshotDate(ctx, id)
	if err != nil {
		return nil, nil, none, err
	}

	today := SnapshotDate(now)
	var prior []store.Snapshot
	for _, s := range snaps {
		if s.Date != today {
			prior = append(prior, s)
		}
	}

	f, rate, vol, kind := e.factors(window, current, prior, firstDate, now)
	score, label := Aggregate(f, e.cfg.Weights, e.cfg.Bands)

	snap := store.Snapshot{
		TrendID:    id,
		Date:       today,
		Score:      score,
		GrowthRate: rate,
		Volume:     vol,
		VolumeKind: string(kind),
		CreatedAt:  now,
	}
	history := Apply(prior, snap, e.cfg.History.SparklineLen)
	spark := Sparkline(history)

	related, err := e.store.RelatedKeys(ctx, t.CanonicalKey, t.Region, t.Language)
	if err != nil {
		return nil, nil, none, err
	}

	t.Score = score
	t.Label = string(label)
	t.GrowthRate = rate
	t.VolumeTier = VolumeTier(f.Volume)
	t.Direction = string(DirectionOf(spark, e.cfg.History.DirectionWindow, e.cfg.History.DirectionMargin))
	t.Sparkline = spark
	t.Related = related
	t.LastUpdated = now
	t.Archived = false

	if err := e.store.SaveScore(ctx, store.ScoreUpdate{Trend: t, ExpectedVersion: expected, Snapshot: snap}); err != nil {
		return nil, nil, none, err
	}
	return t, prior, snap, nil
}

// factors computes the five factors. It also returns the growth rate and the
// raw value and kind of the strongest current volume metric.
func (e *Engine) factors(window, current []store.Observation, prior []store.Snapshot, firstDate string, now time.Time) (Factors, float64, float64, source.MetricKind) {
	var f Factors

	series := metricSeries(window, source.MetricSearchIndex)
	if len(series) == 0 {
		series = metricSeries(window, source.MetricSearchTraffic)
	}
	var rate float64
	f.Growth, rate = GrowthFactor(series, e.cfg.Factors.GrowthCeilingPct)

	latest := latestPerMetric(current)
	metrics := make([]source.Metric, 0, len(latest))
	sources := make(map[string]bool)
	var (
		vol  float64
		kind source.MetricKind
	)
	best := -1
	for _, o := range latest {
		m := source.Metric{Kind: source.MetricKind(o.Metric), Value: o.Value, Unit: o.Unit}
		metrics = append(metrics, m)
		if o.Value > 0 {
			sources[o.Source] = true
		}
		if volumeKinds[m.Kind] {
			if n := e.norm.Normalize(m); n > best || (n == best && m.Value > vol) {
				best, vol, kind = n, m.Value, m.Kind
			}
		}
	}
	f.Volume = VolumeFactor(e.norm, metrics)

	n := e.cfg.ConsistencySnapshots
	scores := Sparkline(prior[max(0, len(prior)-n):])
	f.Consistency = ConsistencyFactor(scores, e.cfg.Factors.ConsistencyMaxStdDev)

	f.MultiPlatform = MultiPlatformFactor(len(sources), e.cfg.Factors.KnownSources)
	f.Freshness = FreshnessFactor(firstDate, now, e.cfg.Factors.FreshnessHorizonDays)
	return f, rate, vol, kind
}

// latestPerMetric keeps the newest observation of each (source, metric) pair.
// A batch may carry a dated series, of which only the last point is current.
func latestPerMetric(obs []store.Observation) []store.Observation {
	type pair struct{ source, metric string }
	idx := make(map[pair]int)
	var out []store.Observation
	for _, o := range obs {
		k := pair{o.Source, o.Metric}
		i, ok := idx[k]
		switch {
		case !ok:
			idx[k] = len(out)
			out = append(out, o)
		case o.ObservedAt.After(out[i].ObservedAt):
			out[i] = o
		}
	}
	return out
}

// metricSeries returns the values of one metric kind, oldest first.
func metricSeries(obs []store.Observation, kind source.MetricKind) []float64 {
	var series []float64
	for _, o := range obs {
		if o.Metric == string(kind) {
			series = append(series, o.Value)
		}
	}
	return series
}

func displayKeyword(group []keyed, target string) string {
	var exact []string
	for _, o := range group {
		if o.key == target {
			exact = append(exact, strings.Join(strings.Fields(o.obs.Keyword), " "))
		}
	}
	if len(exact) == 0 {
		return target
	}
	sort.Strings(exact)
	return exact[0]
}

func firstCategory(group []keyed, targets map[string]string, target string) string {
	var cats []string
	for _, o := range group {
		if targets[o.key] == target && o.obs.Category != "" {
			cats = append(cats, o.obs.Category)
		}
	}
	if len(cats) == 0 {
		return ""
	}
	sort.Strings(cats)
	return cats[0]
}

func findAlert(alerts []store.Alert, id int64) store.Alert {
	for _, a := range alerts {
		if a.ID == id {
			return a
		}
	}
	return store.Alert{ID: id}
}

func mapValues(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}

func mapKeys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
