package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/elonfeng/trendpulse/internal/cache"
	"github.com/elonfeng/trendpulse/internal/config"
	"github.com/elonfeng/trendpulse/internal/scheduler"
	"github.com/elonfeng/trendpulse/internal/store"
	"github.com/elonfeng/trendpulse/pkg/alert"
	"github.com/elonfeng/trendpulse/pkg/server"
	"github.com/elonfeng/trendpulse/pkg/source"
	"github.com/elonfeng/trendpulse/pkg/trend"
)

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	return config.Load(path)
}

// app holds everything a command needs, wired from config.
type app struct {
	cfg    *config.Config
	db     *store.SQLiteStore
	cache  cache.Cache
	nats   *alert.NATS
	engine *trend.Engine
	logger *log.Logger
}

func openApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	a := &app{
		cfg:    cfg,
		db:     db,
		cache:  cache.Nop{},
		logger: log.New(os.Stderr, "", log.LstdFlags),
	}

	if cfg.Cache.RedisURL != "" {
		rc, err := cache.NewRedis(ctx, cfg.Cache.RedisURL, cfg.Cache.ParseTTL())
		if err != nil {
			a.logger.Printf("cache disabled: %v", err)
		} else {
			a.cache = rc
		}
	}

	if cfg.NATS.URL != "" {
		nc, err := alert.ConnectNATS(alert.NATSOptions{
			URL:            cfg.NATS.URL,
			SubjectPrefix:  cfg.NATS.SubjectPrefix,
			MaxReconnects:  cfg.NATS.MaxReconnects,
			ReconnectWait:  cfg.NATS.ParseReconnectWait(),
			ConnectTimeout: cfg.NATS.ParseConnectTimeout(),
		}, a.logger)
		if err != nil {
			a.logger.Printf("nats disabled: %v", err)
		} else {
			a.nats = nc
		}
	}

	opts := []trend.Option{
		trend.WithLogger(a.logger),
		trend.WithCache(a.cache),
		trend.WithNotifier(a.alertManager()),
	}
	if a.nats != nil {
		opts = append(opts, trend.WithPublisher(a.nats))
	}
	a.engine = trend.NewEngine(db, cfg.Engine(), opts...)
	return a, nil
}

func (a *app) Close() {
	if a.nats != nil {
		if err := a.nats.Close(); err != nil {
			a.logger.Printf("close nats: %v", err)
		}
	}
	a.cache.Close()
	a.db.Close()
}

func (a *app) alertManager() *alert.Manager {
	cfg := a.cfg
	var notifiers []alert.Notifier

	if cfg.Alerts.Slack.Enabled && cfg.Alerts.Slack.WebhookURL != "" {
		notifiers = append(notifiers, alert.NewSlack(cfg.Alerts.Slack.WebhookURL))
	}
	if cfg.Alerts.Discord.Enabled && cfg.Alerts.Discord.WebhookURL != "" {
		notifiers = append(notifiers, alert.NewDiscord(cfg.Alerts.Discord.WebhookURL))
	}
	if cfg.Alerts.Webhook.Enabled && cfg.Alerts.Webhook.URL != "" {
		notifiers = append(notifiers, alert.NewWebhook(cfg.Alerts.Webhook.URL, cfg.Alerts.Webhook.Secret))
	}
	if a.nats != nil {
		notifiers = append(notifiers, a.nats)
	}

	return alert.NewManager(notifiers)
}

func (a *app) sources() []source.Source {
	cfg := a.cfg
	var sources []source.Source

	if cfg.Sources.GoogleTrends.Enabled {
		filter := source.NewFilter(cfg.Filter.IncludeKeywords, cfg.Filter.ExcludeKeywords)
		sources = append(sources, source.NewGoogleTrends(cfg.Sources.GoogleTrends.Regions, filter))
		if cfg.Sources.GoogleTrends.Interest {
			sources = append(sources, source.NewGoogleTrendsInterest(cfg.Sources.GoogleTrends.Timeframe))
		}
	}
	if cfg.Sources.YouTube.Enabled {
		sources = append(sources, source.NewYouTube(cfg.Sources.YouTube.APIKey, cfg.Sources.YouTube.MaxResults))
	}
	if cfg.Sources.Reddit.Enabled {
		sources = append(sources, source.NewReddit(cfg.Sources.Reddit.ClientID, cfg.Sources.Reddit.ClientSecret))
	}
	return sources
}

func (a *app) scheduler(sources []source.Source) *scheduler.Scheduler {
	return scheduler.New(a.db, sources, a.engine, scheduler.Options{
		Keywords:      a.cfg.TrackedKeywords(),
		Retry:         a.cfg.Schedule.Retry.Policy(),
		Interval:      a.cfg.Schedule.ParseCycleInterval(),
		RetentionDays: a.cfg.Schedule.RetentionDays,
		Logger:        a.logger,
	})
}

func runCycle(ctx context.Context, only []string, jsonOutput bool) error {
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	sources := a.sources()
	if len(only) > 0 {
		wanted := make(map[string]bool)
		for _, s := range only {
			wanted[strings.ToLower(strings.TrimSpace(s))] = true
		}
		var picked []source.Source
		for _, s := range sources {
			if wanted[string(s.Name())] {
				picked = append(picked, s)
			}
		}
		if len(picked) == 0 {
			return fmt.Errorf("no enabled sources match: %s", strings.Join(only, ", "))
		}
		sources = picked
	}
	if len(sources) == 0 {
		return fmt.Errorf("no sources enabled; check the sources section of your config")
	}

	rep, err := a.scheduler(sources).RunOnce(ctx)
	if err != nil {
		return err
	}
	return printReport(rep, jsonOutput)
}

func runIngest(ctx context.Context, paths []string, jsonOutput bool) error {
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	var raw []source.RawObservation
	for _, p := range paths {
		obs, err := source.NewFile(p).Collect(ctx, nil)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "%s: %d observations\n", p, len(obs))
		raw = append(raw, obs...)
	}

	rep, err := a.engine.Cycle(ctx, raw, time.Now())
	if err != nil {
		return err
	}
	return printReport(rep, jsonOutput)
}

func printReport(rep *trend.CycleReport, jsonOutput bool) error {
	if jsonOutput {
		return printJSON(rep)
	}
	fmt.Printf("cycle %s\n", rep.ID)
	fmt.Printf("  observations: %d received, %d malformed, %d capped, %d new, %d duplicate\n",
		rep.Received, rep.Malformed, rep.Capped, rep.Inserted, rep.Duplicates)
	fmt.Printf("  trends: %d scored of %d, %d merged, %d merge candidates\n",
		rep.Scored, rep.Trends, rep.Merged, rep.Candidates)
	fmt.Printf("  alerts: %d fired\n", rep.Alerts)
	for _, f := range rep.Failures {
		fmt.Printf("  failed: %s\n", f)
	}
	return nil
}

type listFlags struct {
	minScore int
	region   string
	category string
	limit    int
	archived bool
}

func runTrends(ctx context.Context, f listFlags, jsonOutput bool) error {
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	trends, err := a.db.ListTrends(ctx, store.TrendListOpts{
		MinScore:        f.minScore,
		Region:          strings.ToUpper(f.region),
		Category:        f.category,
		Limit:           f.limit,
		IncludeArchived: f.archived,
	})
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(trends)
	}
	if len(trends) == 0 {
		fmt.Println("no trends found (try: trendpulse cycle)")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSCORE\tLABEL\tGROWTH\tVOLUME\tDIRECTION\tREGION\tKEYWORD")
	for _, t := range trends {
		fmt.Fprintf(w, "%d\t%d\t%s\t%+.0f%%\t%s\t%s\t%s\t%s\n",
			t.ID, t.Score, t.Label, t.GrowthRate, t.VolumeTier, t.Direction, t.Region, t.Keyword)
	}
	return w.Flush()
}

func runSnapshots(ctx context.Context, idArg string, limit int, jsonOutput bool) error {
	id, err := strconv.ParseInt(idArg, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid trend id %q", idArg)
	}

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	t, err := a.db.GetTrend(ctx, id)
	if err != nil {
		return err
	}
	snaps, err := a.db.RecentSnapshots(ctx, id, limit)
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(map[string]any{"trend": t, "snapshots": snaps})
	}

	fmt.Printf("%s (%s/%s): %d %s, %s\n", t.Keyword, t.Region, t.Language, t.Score, t.Label, t.Direction)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DATE\tSCORE\tGROWTH\tVOLUME")
	for _, s := range snaps {
		fmt.Fprintf(w, "%s\t%d\t%+.0f%%\t%.0f\n", s.Date, s.Score, s.GrowthRate, s.Volume)
	}
	return w.Flush()
}

type alertFlags struct {
	user         string
	kind         string
	keyword      string
	niche        string
	threshold    int
	explosionPct float64
}

func runAlertAdd(ctx context.Context, f alertFlags) error {
	if !alert.ValidType(f.kind) {
		return fmt.Errorf("unknown alert type %q", f.kind)
	}
	if f.kind == alert.TypeKeyword && trend.CanonicalKey(f.keyword) == "" {
		return fmt.Errorf("keyword alerts need --keyword")
	}
	if f.kind == alert.TypeNiche && strings.TrimSpace(f.niche) == "" {
		return fmt.Errorf("niche alerts need --niche")
	}
	if f.threshold < 0 || f.threshold > 100 {
		return fmt.Errorf("threshold must be between 0 and 100")
	}

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	rule := &store.Alert{
		UserID:       f.user,
		Type:         f.kind,
		Keyword:      trend.CanonicalKey(f.keyword),
		Niche:        strings.TrimSpace(f.niche),
		Threshold:    f.threshold,
		ExplosionPct: f.explosionPct,
		Active:       true,
	}
	if err := a.db.CreateAlert(ctx, rule); err != nil {
		return err
	}
	fmt.Printf("created alert %d (%s)\n", rule.ID, rule.Type)
	return nil
}

func runAlertList(ctx context.Context) error {
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	alerts, err := a.db.ListAlerts(ctx, false)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tUSER\tTYPE\tSCOPE\tTHRESHOLD\tACTIVE\tLAST TRIGGERED")
	for _, r := range alerts {
		scope := r.Keyword
		if r.Type == alert.TypeNiche {
			scope = r.Niche
		}
		last := "-"
		if r.LastTriggeredAt != nil {
			last = r.LastTriggeredAt.Format(time.RFC3339)
		}
		threshold := strconv.Itoa(r.Threshold)
		if r.Type == alert.TypeExplosion {
			pct := r.ExplosionPct
			if pct <= 0 {
				pct = alert.DefaultExplosionPct
			}
			threshold = fmt.Sprintf("%.0f%%", pct)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%t\t%s\n", r.ID, r.UserID, r.Type, scope, threshold, r.Active, last)
	}
	return w.Flush()
}

func runAlertEvents(ctx context.Context, since time.Duration) error {
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	events, err := a.db.ListAlertEvents(ctx, time.Now().Add(-since), 100)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TRIGGERED\tALERT\tTREND\tSCORE\tREASON")
	for _, ev := range events {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%s\n", ev.TriggeredAt.Format(time.RFC3339), ev.AlertID, ev.TrendID, ev.Score, ev.Reason)
	}
	return w.Flush()
}

func runMerges(ctx context.Context, all bool) error {
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	cands, err := a.db.ListMergeCandidates(ctx, !all)
	if err != nil {
		return err
	}
	if len(cands) == 0 {
		fmt.Println("no merge candidates")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SIMILARITY\tREGION\tKEY A\tKEY B")
	for _, c := range cands {
		fmt.Fprintf(w, "%.2f\t%s/%s\t%s\t%s\n", c.Similarity, c.Region, c.Language, c.KeyA, c.KeyB)
	}
	return w.Flush()
}

func runServe(ctx context.Context, port int) error {
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if port == 0 {
		port = a.cfg.Server.Port
	}
	srv := server.New(a.db, a.cache, a.scheduler(a.sources()), port, a.logger)
	return srv.ListenAndServe(ctx)
}

func runDaemon(ctx context.Context, port int) error {
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if port == 0 {
		port = a.cfg.Server.Port
	}

	sched := a.scheduler(a.sources())
	a.logger.Printf("scheduler: %s", sched.Describe())

	go func() {
		if err := sched.Run(ctx); err != nil && ctx.Err() == nil {
			a.logger.Printf("scheduler error: %v", err)
		}
	}()

	srv := server.New(a.db, a.cache, sched, port, a.logger)
	err = srv.ListenAndServe(ctx)
	a.logger.Println("shutting down...")
	return err
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
