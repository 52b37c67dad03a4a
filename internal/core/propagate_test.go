package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"backfeed/internal/types"
)

func seedComment(t *testing.T, e *env) string {
	t.Helper()
	ctx := context.Background()
	if err := e.store.Destinations().Ensure(ctx, &types.Destination{ID: "blog", Kind: "discord", URL: "https://blog.example/"}); err != nil {
		t.Fatalf("Ensure destination: %v", err)
	}
	c := &types.Comment{
		ID:            types.CommentID("srcA", "p1", "r1"),
		SourceID:      "srcA",
		PostID:        "p1",
		RemoteID:      "r1",
		DestinationID: "blog",
		Content:       "hello",
	}
	if _, err := e.store.Comments().CreateIfAbsent(ctx, c); err != nil {
		t.Fatalf("CreateIfAbsent: %v", err)
	}
	return c.ID
}

func newTestPropagator(e *env, pub types.Publisher) *Propagator {
	return NewPropagator(e.store, []types.Publisher{pub}, PropagatorConfig{Lease: 12 * time.Minute, Now: e.clock.Now})
}

func status(t *testing.T, e *env, id string) types.Status {
	t.Helper()
	c, err := e.store.Comments().Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	return c.Status
}

func TestLeaseTransitions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t)
	id := seedComment(t, e)
	p := newTestPropagator(e, &fakePublisher{})
	now := e.clock.Now()

	c, err := p.Lease(ctx, id, now)
	if err != nil || c == nil {
		t.Fatalf("Lease = %v, %v", c, err)
	}
	if c.Status != types.StatusProcessing || !c.LeasedUntil.Equal(now.Add(12*time.Minute)) {
		t.Fatalf("leased comment = %+v", c)
	}

	before, _ := e.store.Comments().Get(ctx, id)
	if _, err := p.Lease(ctx, id, now.Add(11*time.Minute)); !types.IsKind(err, types.KindLeaseHeld) {
		t.Fatalf("second Lease = %v, want LeaseHeld", err)
	}
	after, _ := e.store.Comments().Get(ctx, id)
	if !after.UpdatedAt.Equal(before.UpdatedAt) || !after.LeasedUntil.Equal(*before.LeasedUntil) {
		t.Fatal("LeaseHeld mutated the comment")
	}

	if _, err := p.Lease(ctx, "missing", now); !types.IsKind(err, types.KindMissingEntity) {
		t.Fatalf("Lease(missing) = %v, want MissingEntity", err)
	}

	done, err := p.Complete(ctx, id)
	if err != nil || !done {
		t.Fatalf("Complete = %v, %v", done, err)
	}

	c, err = p.Lease(ctx, id, now.Add(time.Hour))
	if err != nil || c != nil {
		t.Fatalf("Lease on complete = %v, %v; want nil, nil", c, err)
	}
	if done, err := p.Complete(ctx, id); err != nil || done {
		t.Fatalf("second Complete = %v, %v; want benign no-op", done, err)
	}
	if err := p.Release(ctx, id, time.Time{}); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if s := status(t, e, id); s != types.StatusComplete {
		t.Fatalf("status = %s after release of complete comment", s)
	}
}

func TestCompleteRequiresLease(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t)
	id := seedComment(t, e)
	p := newTestPropagator(e, &fakePublisher{})

	if _, err := p.Complete(ctx, id); !types.IsKind(err, types.KindInvalidTransition) {
		t.Fatalf("Complete(new) = %v, want InvalidTransition", err)
	}
	if s := status(t, e, id); s != types.StatusNew {
		t.Fatalf("status = %s, want new", s)
	}
	if _, err := p.Complete(ctx, "missing"); !types.IsKind(err, types.KindMissingEntity) {
		t.Fatalf("Complete(missing) = %v, want MissingEntity", err)
	}
	if err := p.Release(ctx, "missing", time.Time{}); err != nil {
		t.Fatalf("Release(missing) = %v, want nil", err)
	}
}

func TestExpiredLeaseCanBeStolen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t)
	id := seedComment(t, e)
	pub := &fakePublisher{}
	p := newTestPropagator(e, pub)

	start := e.clock.Now()
	first, err := p.Lease(ctx, id, start)
	if err != nil || first == nil {
		t.Fatalf("Lease = %v, %v", first, err)
	}

	// The first holder never comes back.
	e.clock.Set(start.Add(13 * time.Minute))
	if err := p.Propagate(ctx, id); err != nil {
		t.Fatalf("Propagate after expiry: %v", err)
	}
	if s := status(t, e, id); s != types.StatusComplete {
		t.Fatalf("status = %s, want complete", s)
	}
	if pub.count() != 1 {
		t.Fatalf("published %d times, want 1", pub.count())
	}

	// The original holder's late release must not undo the new state.
	if err := p.Release(ctx, id, *first.LeasedUntil); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if s := status(t, e, id); s != types.StatusComplete {
		t.Fatalf("status = %s after stale release", s)
	}
}

func TestReleaseIsFenced(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t)
	id := seedComment(t, e)
	p := newTestPropagator(e, &fakePublisher{})

	start := e.clock.Now()
	first, _ := p.Lease(ctx, id, start)
	second, err := p.Lease(ctx, id, start.Add(13*time.Minute))
	if err != nil || second == nil {
		t.Fatalf("steal = %v, %v", second, err)
	}

	if err := p.Release(ctx, id, *first.LeasedUntil); err != nil {
		t.Fatalf("Release(stale token): %v", err)
	}
	if s := status(t, e, id); s != types.StatusProcessing {
		t.Fatalf("stale token released the new holder's lease: %s", s)
	}

	if err := p.Release(ctx, id, *second.LeasedUntil); err != nil {
		t.Fatalf("Release(owner token): %v", err)
	}
	c, _ := e.store.Comments().Get(ctx, id)
	if c.Status != types.StatusNew || c.LeasedUntil != nil {
		t.Fatalf("after release = %+v", c)
	}
}

func TestPublishFailureReleasesThenRedeliverySucceeds(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t)
	id := seedComment(t, e)
	pub := &fakePublisher{fail: errors.New("discord unavailable")}
	p := newTestPropagator(e, pub)

	err := p.Propagate(ctx, id)
	if err == nil || types.IsTaskError(err) {
		t.Fatalf("Propagate = %v, want retryable error", err)
	}
	c, _ := e.store.Comments().Get(ctx, id)
	if c.Status != types.StatusNew || c.LeasedUntil != nil {
		t.Fatalf("after failed publish = %+v, want released", c)
	}

	pub.mu.Lock()
	pub.fail = nil
	pub.mu.Unlock()

	e.clock.Advance(time.Minute)
	if err := p.Propagate(ctx, id); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if s := status(t, e, id); s != types.StatusComplete {
		t.Fatalf("status = %s, want complete", s)
	}

	// A duplicate delivery after completion is a harmless success.
	if err := p.Propagate(ctx, id); err != nil {
		t.Fatalf("duplicate delivery: %v", err)
	}
	if pub.count() != 1 {
		t.Fatalf("published %d times, want 1", pub.count())
	}
}

func TestPropagateUnknownDestination(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t)
	c := &types.Comment{ID: "orphan", SourceID: "s", PostID: "p", RemoteID: "r", DestinationID: "gone"}
	if _, err := e.store.Comments().CreateIfAbsent(ctx, c); err != nil {
		t.Fatalf("CreateIfAbsent: %v", err)
	}
	p := newTestPropagator(e, &fakePublisher{})

	if err := p.Propagate(ctx, "orphan"); !types.IsKind(err, types.KindMissingEntity) {
		t.Fatalf("Propagate = %v, want MissingEntity", err)
	}
	if s := status(t, e, "orphan"); s != types.StatusNew {
		t.Fatalf("status = %s, want released back to new", s)
	}
}

func TestConcurrentDeliveriesLeaseOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t)
	id := seedComment(t, e)
	pub := &fakePublisher{block: make(chan struct{})}
	p := newTestPropagator(e, pub)

	const deliveries = 8
	errs := make(chan error, deliveries)
	var wg sync.WaitGroup
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- p.Propagate(ctx, id)
		}()
	}

	// Every loser returns without publishing; the winner blocks in Publish.
	held := 0
	for held < deliveries-1 {
		err := <-errs
		if !types.IsKind(err, types.KindLeaseHeld) {
			t.Fatalf("losing delivery = %v, want LeaseHeld", err)
		}
		held++
	}
	close(pub.block)
	wg.Wait()

	if err := <-errs; err != nil {
		t.Fatalf("winning delivery = %v", err)
	}
	if pub.count() != 1 {
		t.Fatalf("published %d times, want 1", pub.count())
	}
	if s := status(t, e, id); s != types.StatusComplete {
		t.Fatalf("status = %s, want complete", s)
	}
}
