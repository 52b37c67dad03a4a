package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"backfeed/internal/storage"
	"backfeed/internal/types"
)

// DefaultLease exceeds the host's maximum single-invocation runtime.
const DefaultLease = 12 * time.Minute

type PropagatorConfig struct {
	Lease time.Duration
	Now   func() time.Time
}

// Propagator drives one comment through new -> processing -> complete.
// All mutual exclusion comes from the lease stored on the comment.
type Propagator struct {
	comments   storage.CommentStore
	dests      storage.DestinationStore
	publishers map[string]types.Publisher
	lease      time.Duration
	now        func() time.Time
}

func NewPropagator(store storage.StorageInterface, publishers []types.Publisher, cfg PropagatorConfig) *Propagator {
	if cfg.Lease <= 0 {
		cfg.Lease = DefaultLease
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	byKind := make(map[string]types.Publisher, len(publishers))
	for _, pub := range publishers {
		byKind[pub.Kind()] = pub
	}

	return &Propagator{
		comments:   store.Comments(),
		dests:      store.Destinations(),
		publishers: byKind,
		lease:      cfg.Lease,
		now:        now,
	}
}

// Lease claims the comment for this delivery. It returns nil, nil when the
// comment is already complete.
func (p *Propagator) Lease(ctx context.Context, id string, now time.Time) (*types.Comment, error) {
	var leased *types.Comment
	err := p.comments.Transact(ctx, id, func(c *types.Comment) (bool, error) {
		if c == nil {
			return false, types.NewTaskError(types.KindMissingEntity, id, "comment not found")
		}

		switch c.Status {
		case types.StatusComplete:
			return false, nil
		case types.StatusProcessing:
			if c.LeasedUntil != nil && now.Before(*c.LeasedUntil) {
				return false, types.NewTaskError(types.KindLeaseHeld, id,
					fmt.Sprintf("leased until %s", c.LeasedUntil.UTC().Format(time.RFC3339)))
			}
			slog.Warn("Stealing expired lease", "comment", id)
		}

		until := now.Add(p.lease)
		c.Status = types.StatusProcessing
		c.LeasedUntil = &until
		leased = c
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return leased, nil
}

// Complete marks a leased comment done. It reports false when another
// delivery completed it first.
func (p *Propagator) Complete(ctx context.Context, id string) (bool, error) {
	completed := false
	err := p.comments.Transact(ctx, id, func(c *types.Comment) (bool, error) {
		if c == nil {
			return false, types.NewTaskError(types.KindMissingEntity, id, "comment disappeared before completion")
		}

		switch c.Status {
		case types.StatusComplete:
			slog.Warn("Comment already complete", "comment", id)
			return false, nil
		case types.StatusNew:
			return false, types.NewTaskError(types.KindInvalidTransition, id, "status is new, expected processing")
		}

		c.Status = types.StatusComplete
		c.LeasedUntil = nil
		completed = true
		return true, nil
	})
	return completed, err
}

// Release returns a processing comment to new. When token is non-zero it
// only releases a lease that still expires at token, so a delivery whose
// lease was stolen cannot reset the new holder's claim.
func (p *Propagator) Release(ctx context.Context, id string, token time.Time) error {
	return p.comments.Transact(ctx, id, func(c *types.Comment) (bool, error) {
		if c == nil || c.Status != types.StatusProcessing {
			return false, nil
		}
		if !token.IsZero() && (c.LeasedUntil == nil || !c.LeasedUntil.Equal(token)) {
			slog.Warn("Not releasing lease held by another delivery", "comment", id)
			return false, nil
		}

		c.Status = types.StatusNew
		c.LeasedUntil = nil
		return true, nil
	})
}

// Propagate runs Lease, publish and Complete for one delivery. Any failure
// after the lease was taken releases it before being returned.
func (p *Propagator) Propagate(ctx context.Context, id string) (err error) {
	c, err := p.Lease(ctx, id, p.now())
	if err != nil {
		if types.IsKind(err, types.KindLeaseHeld) {
			slog.Warn("Lease held by another delivery", "comment", id)
		} else if types.IsTaskError(err) {
			slog.Error("Lease failed", "comment", id, "error", err)
		}
		return err
	}
	if c == nil {
		slog.Info("Comment already propagated", "comment", id)
		return nil
	}

	token := *c.LeasedUntil
	defer func() {
		if err == nil {
			return
		}
		// Release uses a fresh context so a cancelled delivery still gives
		// the lease back.
		relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if relErr := p.Release(relCtx, id, token); relErr != nil {
			slog.Error("Failed to release lease", "comment", id, "error", relErr)
		}
	}()

	if err := p.publish(ctx, c); err != nil {
		return err
	}

	completed, err := p.Complete(ctx, id)
	if err != nil {
		slog.Error("Complete failed", "comment", id, "error", err)
		return err
	}
	if completed {
		slog.Info("Comment propagated", "comment", id, "destination", c.DestinationID)
	}
	return nil
}

func (p *Propagator) publish(ctx context.Context, c *types.Comment) error {
	dest, err := p.dests.Get(ctx, c.DestinationID)
	if errors.Is(err, storage.ErrNotFound) {
		return types.NewTaskError(types.KindMissingEntity, c.DestinationID, "destination not found")
	}
	if err != nil {
		return err
	}

	pub, ok := p.publishers[dest.Kind]
	if !ok {
		return fmt.Errorf("no publisher registered for destination kind %q", dest.Kind)
	}

	if err := pub.Publish(ctx, dest, c); err != nil {
		slog.Error("Publish failed", "comment", c.ID, "destination", dest.ID, "error", err)
		return fmt.Errorf("publish %s to %s: %w", c.ID, dest.ID, err)
	}
	return nil
}
