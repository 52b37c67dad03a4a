package destinations

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"backfeed/internal/storage"
	"backfeed/internal/types"
)

const KindFeed = "feed"

// FeedInvalidator drops rendered copies of a destination's feed.
type FeedInvalidator interface {
	Invalidate(destination string)
}

// Feed records comments in the feed store, from which the feed server
// renders RSS, Atom and JSON feeds per destination. Inserting the same
// comment twice is a no-op.
type Feed struct {
	store       storage.FeedStore
	invalidator FeedInvalidator
	now         func() time.Time
}

// NewFeed accepts a nil invalidator when nothing caches rendered feeds.
func NewFeed(store storage.FeedStore, invalidator FeedInvalidator) *Feed {
	return &Feed{
		store:       store,
		invalidator: invalidator,
		now:         time.Now,
	}
}

func (f *Feed) Kind() string {
	return KindFeed
}

func (f *Feed) Publish(ctx context.Context, dest *types.Destination, c *types.Comment) error {
	author := c.Author
	if author == "" {
		author = "someone"
	}

	publishedAt := c.Published
	if publishedAt.IsZero() {
		publishedAt = f.now()
	}

	entry := storage.FeedEntry{
		ID:            c.ID,
		DestinationID: dest.ID,
		Title:         fmt.Sprintf("Comment by %s", author),
		Link:          c.URL,
		Content:       c.Content,
		Author:        c.Author,
		PublishedAt:   publishedAt.UTC(),
		CreatedAt:     f.now().UTC(),
	}

	if err := f.store.InsertEntry(ctx, entry); err != nil {
		return fmt.Errorf("failed to insert feed entry: %w", err)
	}
	if f.invalidator != nil {
		f.invalidator.Invalidate(dest.ID)
	}

	slog.Debug("Feed destination inserted entry", "destination", dest.ID, "comment", c.ID)
	return nil
}
