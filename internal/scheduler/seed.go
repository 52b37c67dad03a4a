package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"backfeed/internal/core"
	"backfeed/internal/queue"
	"backfeed/internal/types"
)

const DefaultSchedule = "@every 10m"

var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

type SourceLister interface {
	List(ctx context.Context) ([]*types.Source, error)
}

type FeedPruner interface {
	DeleteOlderThan(ctx context.Context, age time.Duration) error
}

type Config struct {
	Schedule string
	// FeedRetention > 0 prunes feed entries older than it on every run.
	FeedRetention time.Duration
}

// Seeder restores broken poll chains. For each source it enqueues the poll
// task named by the source's current watermark; a chain that is intact
// already owns that name, so the add is absorbed as a duplicate.
type Seeder struct {
	sources SourceLister
	queue   queue.Queue
	feed    FeedPruner
	config  Config
	cron    *cron.Cron

	mu     sync.Mutex
	cancel context.CancelFunc
}

func New(sources SourceLister, q queue.Queue, feed FeedPruner, config Config) (*Seeder, error) {
	if config.Schedule == "" {
		config.Schedule = DefaultSchedule
	}
	if _, err := parser.Parse(config.Schedule); err != nil {
		return nil, fmt.Errorf("invalid seed schedule %q: %w", config.Schedule, err)
	}

	logger := cronLogger{}
	return &Seeder{
		sources: sources,
		queue:   q,
		feed:    feed,
		config:  config,
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
	}, nil
}

// Seed enqueues a poll task for every source and reports how many were new.
func (s *Seeder) Seed(ctx context.Context) (int, error) {
	sources, err := s.sources.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list sources: %w", err)
	}

	created := 0
	var errs []error
	for _, src := range sources {
		name := core.MakePollTaskName(src)
		err := s.queue.Add(ctx, name, core.PollQueue, 0)
		switch {
		case err == nil:
			created++
			slog.Info("Seeded poll task", "source", src.ID, "task", name)
		case errors.Is(err, queue.ErrTaskExists):
			slog.Debug("Poll chain intact", "source", src.ID, "task", name)
		default:
			errs = append(errs, fmt.Errorf("seed %s: %w", src.ID, err))
		}
	}
	return created, errors.Join(errs...)
}

func (s *Seeder) run(ctx context.Context) {
	if _, err := s.Seed(ctx); err != nil {
		slog.Error("Seeding failed", "error", err)
	}

	if s.feed != nil && s.config.FeedRetention > 0 {
		if err := s.feed.DeleteOlderThan(ctx, s.config.FeedRetention); err != nil {
			slog.Error("Feed pruning failed", "error", err)
		}
	}
}

// Start seeds once synchronously, then on every tick of the schedule.
func (s *Seeder) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return fmt.Errorf("seeder already started")
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if _, err := s.cron.AddFunc(s.config.Schedule, func() { s.run(runCtx) }); err != nil {
		cancel()
		return fmt.Errorf("failed to schedule seeding: %w", err)
	}
	s.cancel = cancel

	s.run(runCtx)
	s.cron.Start()

	slog.Info("Seeder started", "schedule", s.config.Schedule)
	return nil
}

// Stop halts the schedule and waits for a running job, bounded by ctx.
func (s *Seeder) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	done := s.cron.Stop()
	defer cancel()

	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("seeder stop: %w", ctx.Err())
	}
}

type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	slog.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
