package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"backfeed/internal/storage"
	"backfeed/internal/types"
)

func newTestStorage(t *testing.T) storage.StorageInterface {
	t.Helper()
	st, err := New(filepath.Join(t.TempDir(), "backfeed.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { st.Close(context.Background()) })
	return st
}

func TestSourceEnsureKeepsWatermark(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := newTestStorage(t)

	first := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := st.Sources().Ensure(ctx, &types.Source{ID: "blog", Kind: "rss", LastPolled: first}); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if err := st.Sources().Ensure(ctx, &types.Source{ID: "blog", Kind: "rss"}); err != nil {
		t.Fatalf("Ensure again: %v", err)
	}

	src, err := st.Sources().Get(ctx, "blog")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !src.LastPolled.Equal(first) {
		t.Fatalf("last_polled = %v, want %v", src.LastPolled, first)
	}

	next := first.Add(time.Hour)
	if err := st.Sources().UpdateLastPolled(ctx, "blog", next); err != nil {
		t.Fatalf("UpdateLastPolled: %v", err)
	}
	src, _ = st.Sources().Get(ctx, "blog")
	if !src.LastPolled.Equal(next) {
		t.Fatalf("last_polled = %v, want %v", src.LastPolled, next)
	}

	if err := st.Sources().UpdateLastPolled(ctx, "missing", next); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("UpdateLastPolled(missing) = %v, want ErrNotFound", err)
	}
	if _, err := st.Sources().Get(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Get(missing) = %v, want ErrNotFound", err)
	}
}

func TestDestinationsByKind(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := newTestStorage(t)

	dests := []*types.Destination{
		{ID: "a", Kind: "discord", URL: "https://a.example/"},
		{ID: "b", Kind: "bluesky", URL: "https://b.example/"},
		{ID: "c", Kind: "discord", URL: "https://c.example/"},
	}
	for _, d := range dests {
		if err := st.Destinations().Ensure(ctx, d); err != nil {
			t.Fatalf("Ensure(%s): %v", d.ID, err)
		}
	}

	got, err := st.Destinations().ListByKind(ctx, "discord")
	if err != nil {
		t.Fatalf("ListByKind: %v", err)
	}
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "c" {
		t.Fatalf("ListByKind(discord) = %+v", got)
	}

	if err := st.Destinations().Ensure(ctx, &types.Destination{ID: "a", Kind: "discord", URL: "https://new.example/"}); err != nil {
		t.Fatalf("Ensure refresh: %v", err)
	}
	d, err := st.Destinations().Get(ctx, "a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if d.URL != "https://new.example/" {
		t.Fatalf("url = %q, want refreshed", d.URL)
	}
}

func TestCommentCreateIfAbsent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := newTestStorage(t)

	c := &types.Comment{
		ID:            types.CommentID("blog", "p1", "r1"),
		SourceID:      "blog",
		PostID:        "p1",
		RemoteID:      "r1",
		DestinationID: "a",
		Author:        "alice",
		Content:       "hi",
		Published:     time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	created, err := st.Comments().CreateIfAbsent(ctx, c)
	if err != nil || !created {
		t.Fatalf("CreateIfAbsent = %v, %v; want true, nil", created, err)
	}

	dup := *c
	dup.Content = "changed"
	created, err = st.Comments().CreateIfAbsent(ctx, &dup)
	if err != nil || created {
		t.Fatalf("second CreateIfAbsent = %v, %v; want false, nil", created, err)
	}

	got, err := st.Comments().Get(ctx, c.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Content != "hi" || got.Status != types.StatusNew || got.LeasedUntil != nil {
		t.Fatalf("unexpected comment %+v", got)
	}
	if !got.Published.Equal(c.Published) {
		t.Fatalf("published = %v, want %v", got.Published, c.Published)
	}
}

func TestCommentTransact(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := newTestStorage(t)

	id := "c1"
	if _, err := st.Comments().CreateIfAbsent(ctx, &types.Comment{ID: id, SourceID: "s", PostID: "p", RemoteID: "r", DestinationID: "d"}); err != nil {
		t.Fatalf("CreateIfAbsent: %v", err)
	}

	until := time.Date(2024, 3, 1, 12, 12, 0, 123456789, time.UTC)
	err := st.Comments().Transact(ctx, id, func(c *types.Comment) (bool, error) {
		c.Status = types.StatusProcessing
		c.LeasedUntil = &until
		return true, nil
	})
	if err != nil {
		t.Fatalf("Transact: %v", err)
	}

	got, _ := st.Comments().Get(ctx, id)
	if got.Status != types.StatusProcessing || got.LeasedUntil == nil || !got.LeasedUntil.Equal(until) {
		t.Fatalf("after write: %+v", got)
	}

	// fn returning false must leave the row untouched.
	err = st.Comments().Transact(ctx, id, func(c *types.Comment) (bool, error) {
		c.Status = types.StatusComplete
		return false, nil
	})
	if err != nil {
		t.Fatalf("Transact(no write): %v", err)
	}
	got, _ = st.Comments().Get(ctx, id)
	if got.Status != types.StatusProcessing {
		t.Fatalf("status = %s, want processing", got.Status)
	}

	sentinel := errors.New("boom")
	err = st.Comments().Transact(ctx, id, func(c *types.Comment) (bool, error) {
		c.Status = types.StatusComplete
		return true, sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("Transact error = %v, want sentinel", err)
	}

	var sawNil bool
	err = st.Comments().Transact(ctx, "absent", func(c *types.Comment) (bool, error) {
		sawNil = c == nil
		return true, nil
	})
	if err != nil || !sawNil {
		t.Fatalf("Transact(absent) err=%v sawNil=%v", err, sawNil)
	}

	counts, err := st.Comments().CountByStatus(ctx)
	if err != nil {
		t.Fatalf("CountByStatus: %v", err)
	}
	if counts[types.StatusProcessing] != 1 || counts[types.StatusNew] != 0 || counts[types.StatusComplete] != 0 {
		t.Fatalf("counts = %v", counts)
	}
}

func TestFeedEntries(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := newTestStorage(t)

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"e1", "e2", "e1"} {
		entry := storage.FeedEntry{
			ID:            id,
			DestinationID: "feed",
			Title:         "title " + id,
			CreatedAt:     base.Add(time.Duration(i) * time.Minute),
		}
		if err := st.Feed().InsertEntry(ctx, entry); err != nil {
			t.Fatalf("InsertEntry(%s): %v", id, err)
		}
	}
	if err := st.Feed().InsertEntry(ctx, storage.FeedEntry{ID: "e1", DestinationID: "other", CreatedAt: base}); err != nil {
		t.Fatalf("InsertEntry(other): %v", err)
	}

	entries, err := st.Feed().ListRecentEntries(ctx, "feed", 10)
	if err != nil {
		t.Fatalf("ListRecentEntries: %v", err)
	}
	if len(entries) != 2 || entries[0].ID != "e2" || entries[1].ID != "e1" {
		t.Fatalf("entries = %+v", entries)
	}

	if err := st.Feed().DeleteOlderThan(ctx, time.Hour); err != nil {
		t.Fatalf("DeleteOlderThan: %v", err)
	}
	entries, _ = st.Feed().ListRecentEntries(ctx, "feed", 10)
	if len(entries) != 0 {
		t.Fatalf("expected old entries deleted, got %d", len(entries))
	}
}
