package sources

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"

	"backfeed/internal/types"
)

type RSSSettings struct {
	FeedURL  string
	MaxItems int
}

// RSSSource treats feed items as posts and reads comments from each item's
// wfw:commentRss feed.
type RSSSource struct {
	name     string
	feedURL  string
	parser   *gofeed.Parser
	maxItems int

	mu          sync.Mutex
	commentFeed map[string]string
}

func NewRSSSource(name string, settings RSSSettings, client *http.Client) (*RSSSource, error) {
	if settings.FeedURL == "" {
		return nil, fmt.Errorf("feed_url is required for RSS source")
	}
	if settings.MaxItems == 0 {
		settings.MaxItems = 50
	}

	parser := gofeed.NewParser()
	parser.UserAgent = "backfeed/1.0"
	if client != nil {
		parser.Client = client
	}

	return &RSSSource{
		name:        name,
		feedURL:     settings.FeedURL,
		parser:      parser,
		maxItems:    settings.MaxItems,
		commentFeed: make(map[string]string),
	}, nil
}

func (r *RSSSource) ListPosts(ctx context.Context) ([]types.Post, error) {
	feed, err := r.parser.ParseURLWithContext(r.feedURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed: %w", err)
	}

	limit := min(r.maxItems, len(feed.Items))
	posts := make([]types.Post, 0, limit)

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, item := range feed.Items[:limit] {
		if item.Link == "" {
			continue
		}
		id := item.GUID
		if id == "" {
			id = item.Link
		}

		posts = append(posts, types.Post{ID: id, URL: item.Link})
		if commentsURL := commentFeedURL(item); commentsURL != "" {
			r.commentFeed[id] = commentsURL
		}
	}

	slog.Debug("RSS source listed posts", "source", r.name, "count", len(posts))
	return posts, nil
}

func (r *RSSSource) ListNewComments(ctx context.Context, since time.Time, pairs []types.PostDestination) ([]*types.Comment, error) {
	var comments []*types.Comment

	for _, pair := range pairs {
		r.mu.Lock()
		commentsURL := r.commentFeed[pair.Post.ID]
		r.mu.Unlock()

		if commentsURL == "" {
			continue
		}

		feed, err := r.parser.ParseURLWithContext(commentsURL, ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to parse comment feed %s: %w", commentsURL, err)
		}

		for _, item := range feed.Items {
			published := itemTime(item)
			if !published.IsZero() && !published.After(since) {
				continue
			}

			remoteID := item.GUID
			if remoteID == "" {
				remoteID = item.Link
			}
			if remoteID == "" {
				continue
			}

			content := item.Content
			if content == "" {
				content = item.Description
			}

			comments = append(comments, &types.Comment{
				PostID:        pair.Post.ID,
				RemoteID:      remoteID,
				DestinationID: pair.Destination.ID,
				Author:        itemAuthor(item),
				Content:       plainText(content),
				URL:           item.Link,
				Published:     published,
			})
		}
	}

	slog.Debug("RSS source listed comments", "source", r.name, "count", len(comments))
	return comments, nil
}

func commentFeedURL(item *gofeed.Item) string {
	wfw, ok := item.Extensions["wfw"]
	if !ok {
		return ""
	}
	if values := wfw["commentRss"]; len(values) > 0 {
		return values[0].Value
	}
	return ""
}

func itemTime(item *gofeed.Item) time.Time {
	if item.PublishedParsed != nil {
		return item.PublishedParsed.UTC()
	}
	if item.UpdatedParsed != nil {
		return item.UpdatedParsed.UTC()
	}
	return time.Time{}
}

func itemAuthor(item *gofeed.Item) string {
	if item.Author != nil {
		if item.Author.Name != "" {
			return item.Author.Name
		}
		return item.Author.Email
	}
	if len(item.Authors) > 0 && item.Authors[0] != nil {
		return item.Authors[0].Name
	}
	if dc := item.DublinCoreExt; dc != nil && len(dc.Creator) > 0 {
		return dc.Creator[0]
	}
	return ""
}
