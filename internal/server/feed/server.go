package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/feeds"

	"backfeed/internal/cache"
	"backfeed/internal/storage"
	"backfeed/internal/types"
)

// DestinationKind is the destination kind whose comments are served here.
const DestinationKind = "feed"

type Config struct {
	Title    string
	MaxItems int
	CacheTTL time.Duration
}

type DestinationGetter interface {
	Get(ctx context.Context, id string) (*types.Destination, error)
}

// Handler serves /feeds/{destination}.rss|.atom|.json for feed destinations.
type Handler struct {
	config    Config
	dests     DestinationGetter
	feedStore storage.FeedStore
	cache     *cache.Cache[CacheKey, string]
	now       func() time.Time
}

func New(config Config, dests DestinationGetter, feedStore storage.FeedStore) *Handler {
	if config.MaxItems <= 0 {
		config.MaxItems = 50
	}
	if config.Title == "" {
		config.Title = "Comments"
	}
	if config.CacheTTL == 0 {
		config.CacheTTL = time.Minute
	}

	return &Handler{
		config:    config,
		dests:     dests,
		feedStore: feedStore,
		cache:     NewCache(cache.CacheConfig{TTL: config.CacheTTL}),
		now:       time.Now,
	}
}

// Invalidate drops every rendered format of a destination's feed.
func (h *Handler) Invalidate(destination string) {
	for feedType := range contentTypes {
		h.cache.Invalidate(NewCacheKey(destination, feedType))
	}
}

func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /feeds/{file}", h.handleFeed)
}

var contentTypes = map[string]string{
	TypeRSS:  "application/rss+xml; charset=utf-8",
	TypeAtom: "application/atom+xml; charset=utf-8",
	TypeJSON: "application/feed+json; charset=utf-8",
}

func (h *Handler) handleFeed(w http.ResponseWriter, r *http.Request) {
	file := r.PathValue("file")
	dot := strings.LastIndexByte(file, '.')
	if dot <= 0 {
		http.NotFound(w, r)
		return
	}
	destID, feedType := file[:dot], file[dot+1:]

	contentType, ok := contentTypes[feedType]
	if !ok {
		http.NotFound(w, r)
		return
	}

	body, err := h.cache.GetOrLoad(NewCacheKey(destID, feedType), func() (string, error) {
		return h.render(r.Context(), destID, feedType)
	})
	if errors.Is(err, storage.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		slog.Error("Failed to render feed", "destination", destID, "type", feedType, "error", err)
		http.Error(w, "failed to render feed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", int(h.config.CacheTTL.Seconds())))
	fmt.Fprint(w, body)
}

func (h *Handler) render(ctx context.Context, destID, feedType string) (string, error) {
	dest, err := h.dests.Get(ctx, destID)
	if err != nil {
		return "", err
	}
	if dest.Kind != DestinationKind {
		return "", storage.ErrNotFound
	}

	entries, err := h.feedStore.ListRecentEntries(ctx, destID, h.config.MaxItems)
	if err != nil {
		return "", fmt.Errorf("failed to list entries: %w", err)
	}

	feed := h.buildFeed(dest, entries)
	switch feedType {
	case TypeRSS:
		return feed.ToRss()
	case TypeAtom:
		return feed.ToAtom()
	default:
		return feed.ToJSON()
	}
}

func (h *Handler) buildFeed(dest *types.Destination, entries []storage.FeedEntry) *feeds.Feed {
	items := make([]*feeds.Item, 0, len(entries))
	for _, entry := range entries {
		items = append(items, &feeds.Item{
			Id:          entry.ID,
			Title:       entry.Title,
			Link:        &feeds.Link{Href: entry.Link},
			Description: entry.Content,
			Author:      &feeds.Author{Name: entry.Author},
			Created:     entry.PublishedAt,
		})
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].Created.After(items[j].Created)
	})

	updated := h.now().UTC()
	if len(items) > 0 {
		updated = items[0].Created
	}

	return &feeds.Feed{
		Title:       fmt.Sprintf("%s (%s)", h.config.Title, dest.ID),
		Link:        &feeds.Link{Href: dest.URL},
		Description: fmt.Sprintf("Comments on %s", dest.URL),
		Id:          dest.URL,
		Created:     updated,
		Updated:     updated,
		Items:       items,
	}
}
