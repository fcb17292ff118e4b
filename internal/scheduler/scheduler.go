package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/elonfeng/trendpulse/internal/store"
	"github.com/elonfeng/trendpulse/pkg/source"
	"github.com/elonfeng/trendpulse/pkg/trend"
)

// ErrBusy is returned when a cycle is requested while one is running.
var ErrBusy = errors.New("cycle already running")

// Scheduler runs periodic collection cycles.
type Scheduler struct {
	store     store.Store
	sources   []source.Source
	engine    *trend.Engine
	keywords  []source.Keyword
	retry     source.RetryPolicy
	interval  time.Duration
	retention time.Duration
	logger    *log.Logger

	running sync.Mutex
}

// Options holds the scheduler's tunables.
type Options struct {
	Keywords      []source.Keyword
	Retry         source.RetryPolicy
	Interval      time.Duration
	RetentionDays int
	Logger        *log.Logger
}

// New creates a new scheduler.
func New(s store.Store, sources []source.Source, engine *trend.Engine, opts Options) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = 6 * time.Hour
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = source.DefaultRetryPolicy()
	}
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "", log.LstdFlags)
	}
	return &Scheduler{
		store:     s,
		sources:   sources,
		engine:    engine,
		keywords:  opts.Keywords,
		retry:     opts.Retry,
		interval:  opts.Interval,
		retention: time.Duration(opts.RetentionDays) * 24 * time.Hour,
		logger:    opts.Logger,
	}
}

// Run starts the scheduler loop. Blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Println("scheduler: initial cycle...")
	s.tick(ctx)
	s.logger.Printf("scheduler: running (cycle every %s)", s.interval)

	for {
		select {
		case <-ctx.Done():
			s.logger.Println("scheduler: stopped")
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	rep, err := s.RunOnce(ctx)
	if err != nil {
		s.logger.Printf("scheduler: cycle error: %v", err)
		return
	}
	if rep.Err() != nil {
		s.logger.Printf("scheduler: %d trend(s) failed: %v", len(rep.Failures), rep.Err())
	}
}

// RunOnce collects from every source, scores the batch, and archives stale
// trends. It returns ErrBusy if another cycle is in progress.
func (s *Scheduler) RunOnce(ctx context.Context) (*trend.CycleReport, error) {
	if !s.running.TryLock() {
		return nil, ErrBusy
	}
	defer s.running.Unlock()

	raw := s.Collect(ctx)
	rep, err := s.engine.Cycle(ctx, raw, time.Now())
	if err != nil {
		return rep, err
	}

	if s.retention > 0 {
		n, err := s.store.ArchiveStale(ctx, time.Now().Add(-s.retention))
		if err != nil {
			s.logger.Printf("scheduler: archive: %v", err)
		} else if n > 0 {
			s.logger.Printf("scheduler: archived %d stale trend(s)", n)
		}
	}
	return rep, nil
}

// Collect runs every source concurrently under the retry policy. A source
// that still fails is logged and contributes nothing.
func (s *Scheduler) Collect(ctx context.Context) []source.RawObservation {
	results := make([][]source.RawObservation, len(s.sources))

	var g errgroup.Group
	for i, src := range s.sources {
		i, src := i, src
		g.Go(func() error {
			obs, err := s.retry.Collect(ctx, src, s.keywords)
			if err != nil {
				s.logger.Printf("scheduler: %s error: %v", src.Name(), err)
				return nil
			}
			s.logger.Printf("scheduler: %s: %d observations", src.Name(), len(obs))
			results[i] = obs
			return nil
		})
	}
	g.Wait()

	var all []source.RawObservation
	for _, r := range results {
		all = append(all, r...)
	}
	s.logger.Printf("scheduler: total: %d observations", len(all))
	return all
}

// Describe lists the configured sources for status output.
func (s *Scheduler) Describe() string {
	names := make([]string, 0, len(s.sources))
	for _, src := range s.sources {
		names = append(names, string(src.Name()))
	}
	return fmt.Sprintf("%d source(s) %v, %d keyword(s), every %s", len(s.sources), names, len(s.keywords), s.interval)
}
