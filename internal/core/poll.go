package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"backfeed/internal/cache"
	"backfeed/internal/matcher"
	"backfeed/internal/queue"
	"backfeed/internal/storage"
	"backfeed/internal/types"
	"backfeed/internal/utils"
)

const DefaultPollCountdown = time.Hour

type PollerConfig struct {
	// DestinationKinds lists every destination collection to enumerate.
	DestinationKinds []string
	Countdown        time.Duration
	CacheTTL         time.Duration
	Duplicates       queue.DuplicatePolicy
	Now              func() time.Time
}

type PollResult struct {
	Stale   bool
	Created int
	Next    string
}

// Poller runs one poll cycle per delivery and re-arms the next one.
type Poller struct {
	store     storage.StorageInterface
	queue     queue.Queue
	platforms map[string]types.SourcePlatform
	cfg       PollerConfig
	dests     *cache.Cache[string, []*types.Destination]
	now       func() time.Time
}

func NewPoller(store storage.StorageInterface, q queue.Queue, platforms map[string]types.SourcePlatform, cfg PollerConfig) *Poller {
	if cfg.Countdown <= 0 {
		cfg.Countdown = DefaultPollCountdown
	}
	if cfg.Duplicates == "" {
		cfg.Duplicates = queue.DuplicateIgnore
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Poller{
		store:     store,
		queue:     q,
		platforms: platforms,
		cfg:       cfg,
		dests:     cache.NewCache[string, []*types.Destination](cache.CacheConfig{TTL: cfg.CacheTTL}, func(k string) string { return k }),
		now:       now,
	}
}

func (p *Poller) Poll(ctx context.Context, taskName string) (*PollResult, error) {
	sourceID, watermark, err := ParsePollTaskName(taskName)
	if err != nil {
		return nil, err
	}

	src, err := p.store.Sources().Get(ctx, sourceID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, types.NewTaskError(types.KindMissingEntity, sourceID, "source not found")
	}
	if err != nil {
		return nil, err
	}

	if current := FormatWatermark(src.LastPolled); current != watermark {
		slog.Warn("Dropping stale poll", "task", taskName, "source", sourceID, "current", current)
		return &PollResult{Stale: true}, nil
	}

	platform, ok := p.platforms[sourceID]
	if !ok {
		return nil, types.NewTaskError(types.KindMissingEntity, sourceID, "no platform configured for source")
	}

	slog.Info("Polling source", "source", sourceID, "since", watermark)

	// The next watermark is taken before fetching, so comments published
	// while this poll runs are still after the next poll's since.
	polled := p.now().UTC().Truncate(time.Second)

	created, err := p.discover(ctx, src, platform)
	if err != nil {
		return nil, fmt.Errorf("poll %s: %w", sourceID, err)
	}

	next := PollTaskName(src.ID, polled)

	if err := p.cfg.Duplicates.Apply(p.queue.Add(ctx, next, PollQueue, p.cfg.Countdown)); err != nil {
		return nil, fmt.Errorf("enqueue next poll %s: %w", next, err)
	}
	if err := p.store.Sources().UpdateLastPolled(ctx, src.ID, polled); err != nil {
		return nil, fmt.Errorf("persist watermark for %s: %w", src.ID, err)
	}

	slog.Info("Poll complete", "source", sourceID, "created", created, "next", next)
	return &PollResult{Created: created, Next: next}, nil
}

// discover matches posts, lists their new comments and creates each one at
// most once, enqueueing propagation for newly created comments and for
// stored comments that are still new.
func (p *Poller) discover(ctx context.Context, src *types.Source, platform types.SourcePlatform) (int, error) {
	dests, err := p.destinations(ctx)
	if err != nil {
		return 0, err
	}

	posts, err := platform.ListPosts(ctx)
	if err != nil {
		return 0, fmt.Errorf("list posts: %w", err)
	}

	pairs, err := matcher.Pair(posts, dests)
	if err != nil {
		return 0, err
	}
	if len(pairs) == 0 {
		return 0, nil
	}

	comments, err := platform.ListNewComments(ctx, src.LastPolled, pairs)
	if err != nil {
		return 0, fmt.Errorf("list new comments: %w", err)
	}
	comments = utils.FilterArray(comments, func(c *types.Comment) bool {
		return c != nil && c.RemoteID != "" && c.DestinationID != ""
	})

	created := 0
	for _, c := range comments {
		c.SourceID = src.ID
		c.ID = types.CommentID(c.SourceID, c.PostID, c.RemoteID)
		c.Status = types.StatusNew
		c.LeasedUntil = nil

		inserted, err := p.store.Comments().CreateIfAbsent(ctx, c)
		if err != nil {
			return created, err
		}
		if !inserted {
			if err := p.requeueIfNew(ctx, c.ID); err != nil {
				return created, err
			}
			continue
		}

		if err := p.cfg.Duplicates.Apply(p.queue.Add(ctx, c.ID, PropagateQueue, 0)); err != nil {
			return created, fmt.Errorf("enqueue propagate %s: %w", c.ID, err)
		}
		created++
	}

	return created, nil
}

// requeueIfNew re-adds the propagate task of a comment that exists but was
// never propagated, e.g. because an earlier poll stored it and then failed
// to enqueue. An outstanding or tombstoned task name means it is in hand.
func (p *Poller) requeueIfNew(ctx context.Context, id string) error {
	existing, err := p.store.Comments().Get(ctx, id)
	if err != nil {
		return fmt.Errorf("load comment %s: %w", id, err)
	}
	if existing.Status != types.StatusNew {
		return nil
	}

	err = p.queue.Add(ctx, id, PropagateQueue, 0)
	if errors.Is(err, queue.ErrTaskExists) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueue propagate %s: %w", id, err)
	}
	slog.Warn("Re-enqueued propagation for stored comment", "comment", id)
	return nil
}

func (p *Poller) destinations(ctx context.Context) ([]*types.Destination, error) {
	var all []*types.Destination
	for _, kind := range p.cfg.DestinationKinds {
		dests, err := p.dests.GetOrLoad(kind, func() ([]*types.Destination, error) {
			return p.store.Destinations().ListByKind(ctx, kind)
		})
		if err != nil {
			return nil, fmt.Errorf("list %s destinations: %w", kind, err)
		}
		all = append(all, dests...)
	}
	return all, nil
}

func (r *PollResult) String() string {
	if r.Stale {
		return "stale"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "created=%d", r.Created)
	if r.Next != "" {
		fmt.Fprintf(&b, " next=%s", r.Next)
	}
	return b.String()
}
