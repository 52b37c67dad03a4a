package destinations

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bluesky-social/indigo/api/bsky"

	"backfeed/internal/types"
)

const (
	KindBluesky = "bluesky"

	blueskyPostMax  = 300
	blueskyLinkText = "Original comment"
)

// Poster is the part of platforms.BlueskyPlatform the destination uses.
type Poster interface {
	CreatePost(ctx context.Context, post *bsky.FeedPost) (string, error)
}

// Bluesky posts each comment from the configured account, with a link facet
// pointing back at the comment.
type Bluesky struct {
	poster    Poster
	languages []string
	now       func() time.Time
}

func NewBluesky(poster Poster, languages []string) *Bluesky {
	return &Bluesky{
		poster:    poster,
		languages: languages,
		now:       time.Now,
	}
}

func (b *Bluesky) Kind() string {
	return KindBluesky
}

func (b *Bluesky) Publish(ctx context.Context, dest *types.Destination, c *types.Comment) error {
	post := b.buildPost(c)

	uri, err := b.poster.CreatePost(ctx, post)
	if err != nil {
		return err
	}

	slog.Debug("Bluesky destination posted comment", "destination", dest.ID, "comment", c.ID, "uri", uri)
	return nil
}

type segment struct {
	text string
	uri  string
}

func (b *Bluesky) buildPost(c *types.Comment) *bsky.FeedPost {
	var tail []segment
	if c.URL != "" {
		tail = []segment{{text: "\n\n"}, {text: blueskyLinkText, uri: c.URL}}
	}

	budget := blueskyPostMax
	for _, seg := range tail {
		budget -= len([]rune(seg.text))
	}

	body := c.Content
	if c.Author != "" {
		body = fmt.Sprintf("%s: %s", c.Author, c.Content)
	}

	text, facets := richText(append([]segment{{text: truncate(body, budget)}}, tail...))

	return &bsky.FeedPost{
		CreatedAt: b.now().UTC().Format(time.RFC3339),
		Langs:     b.languages,
		Text:      text,
		Facets:    facets,
	}
}

// richText joins segments and emits a link facet, indexed in bytes, for each
// segment with a uri.
func richText(segments []segment) (string, []*bsky.RichtextFacet) {
	var text string
	var facets []*bsky.RichtextFacet

	for _, seg := range segments {
		if seg.text == "" {
			continue
		}

		start := int64(len(text))
		text += seg.text
		end := int64(len(text))

		if seg.uri != "" {
			facets = append(facets, &bsky.RichtextFacet{
				Index: &bsky.RichtextFacet_ByteSlice{
					ByteStart: start,
					ByteEnd:   end,
				},
				Features: []*bsky.RichtextFacet_Features_Elem{
					{
						RichtextFacet_Link: &bsky.RichtextFacet_Link{
							Uri: seg.uri,
						},
					},
				},
			})
		}
	}

	return text, facets
}
