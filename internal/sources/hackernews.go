package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"backfeed/internal/types"
)

const (
	DefaultHackerNewsAPI  = "https://hacker-news.firebaseio.com/v0"
	hackerNewsItemURLBase = "https://news.ycombinator.com/item?id="
)

type HackerNewsSettings struct {
	User     string
	MaxItems int
	APIURL   string
}

// HackerNewsSource tracks the stories a user submitted. Their direct replies
// are the comments.
type HackerNewsSource struct {
	name       string
	user       string
	apiURL     string
	httpClient *http.Client
	maxItems   int
}

type HNItem struct {
	ID      int64   `json:"id"`
	Type    string  `json:"type"`
	By      string  `json:"by"`
	Time    int64   `json:"time"`
	Text    string  `json:"text"`
	URL     string  `json:"url"`
	Title   string  `json:"title"`
	Kids    []int64 `json:"kids"`
	Parent  int64   `json:"parent"`
	Deleted bool    `json:"deleted"`
	Dead    bool    `json:"dead"`
}

type hnUser struct {
	ID        string  `json:"id"`
	Submitted []int64 `json:"submitted"`
}

func NewHackerNewsSource(name string, settings HackerNewsSettings, client *http.Client) (*HackerNewsSource, error) {
	if settings.User == "" {
		return nil, fmt.Errorf("user is required for hackernews source")
	}
	if settings.MaxItems == 0 {
		settings.MaxItems = 30
	}
	if settings.APIURL == "" {
		settings.APIURL = DefaultHackerNewsAPI
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	return &HackerNewsSource{
		name:       name,
		user:       settings.User,
		apiURL:     settings.APIURL,
		httpClient: client,
		maxItems:   settings.MaxItems,
	}, nil
}

func (h *HackerNewsSource) ListPosts(ctx context.Context) ([]types.Post, error) {
	var user hnUser
	if err := h.getJSON(ctx, fmt.Sprintf("%s/user/%s.json", h.apiURL, h.user), &user); err != nil {
		return nil, fmt.Errorf("failed to fetch user %s: %w", h.user, err)
	}

	var posts []types.Post
	for _, id := range user.Submitted {
		if len(posts) >= h.maxItems {
			break
		}

		story, err := h.fetchItem(ctx, id)
		if err != nil {
			return nil, err
		}
		if story == nil || story.Type != "story" || story.URL == "" || story.Deleted || story.Dead {
			continue
		}
		posts = append(posts, types.Post{ID: strconv.FormatInt(story.ID, 10), URL: story.URL})
	}

	slog.Debug("HackerNews source listed posts", "source", h.name, "user", h.user, "count", len(posts))
	return posts, nil
}

func (h *HackerNewsSource) ListNewComments(ctx context.Context, since time.Time, pairs []types.PostDestination) ([]*types.Comment, error) {
	var comments []*types.Comment

	for _, pair := range pairs {
		storyID, err := strconv.ParseInt(pair.Post.ID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid hackernews post id %q: %w", pair.Post.ID, err)
		}

		story, err := h.fetchItem(ctx, storyID)
		if err != nil {
			return nil, err
		}
		if story == nil {
			continue
		}

		for _, kid := range story.Kids {
			item, err := h.fetchItem(ctx, kid)
			if err != nil {
				return nil, err
			}
			if item == nil || item.Deleted || item.Dead || item.Type != "comment" {
				continue
			}

			published := time.Unix(item.Time, 0).UTC()
			if !published.After(since) {
				continue
			}

			comments = append(comments, &types.Comment{
				PostID:        pair.Post.ID,
				RemoteID:      strconv.FormatInt(item.ID, 10),
				DestinationID: pair.Destination.ID,
				Author:        item.By,
				Content:       plainText(item.Text),
				URL:           hackerNewsItemURLBase + strconv.FormatInt(item.ID, 10),
				Published:     published,
			})
		}
	}

	slog.Debug("HackerNews source listed comments", "source", h.name, "count", len(comments))
	return comments, nil
}

// fetchItem returns nil for items the API reports as null.
func (h *HackerNewsSource) fetchItem(ctx context.Context, id int64) (*HNItem, error) {
	var item *HNItem
	if err := h.getJSON(ctx, fmt.Sprintf("%s/item/%d.json", h.apiURL, id), &item); err != nil {
		return nil, fmt.Errorf("failed to fetch item %d: %w", id, err)
	}
	return item, nil
}

func (h *HackerNewsSource) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
