package destinations

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/bluesky-social/indigo/api/bsky"
	"github.com/bwmarrin/discordgo"

	"backfeed/internal/storage/sqlite"
	"backfeed/internal/types"
)

type fakeSender struct {
	channel string
	embed   *discordgo.MessageEmbed
	err     error
}

func (f *fakeSender) SendEmbed(ctx context.Context, channelID string, embed *discordgo.MessageEmbed) (*discordgo.Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.channel = channelID
	f.embed = embed
	return &discordgo.Message{ID: "m1"}, nil
}

type fakePoster struct {
	post *bsky.FeedPost
	err  error
}

func (f *fakePoster) CreatePost(ctx context.Context, post *bsky.FeedPost) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.post = post
	return "at://did:plc:x/app.bsky.feed.post/1", nil
}

func testComment() *types.Comment {
	return &types.Comment{
		ID:        "c_1",
		SourceID:  "blog-hn",
		PostID:    "42",
		RemoteID:  "43",
		Author:    "bob",
		Content:   "Great post",
		URL:       "https://news.ycombinator.com/item?id=43",
		Published: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestDiscordPublish(t *testing.T) {
	t.Parallel()
	sender := &fakeSender{}
	d := NewDiscord(sender, map[string]string{"blog": "1234"})
	dest := &types.Destination{ID: "blog", Kind: KindDiscord}

	if err := d.Publish(context.Background(), dest, testComment()); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if sender.channel != "1234" {
		t.Errorf("channel = %q, want 1234", sender.channel)
	}
	if sender.embed.Title != "New comment from bob" || sender.embed.Description != "Great post" {
		t.Errorf("embed = %+v", sender.embed)
	}
	if sender.embed.Timestamp != "2024-05-01T12:00:00Z" {
		t.Errorf("timestamp = %q", sender.embed.Timestamp)
	}
}

func TestDiscordPublishErrors(t *testing.T) {
	t.Parallel()
	dest := &types.Destination{ID: "other", Kind: KindDiscord}

	d := NewDiscord(&fakeSender{}, map[string]string{"blog": "1234"})
	err := d.Publish(context.Background(), dest, testComment())
	if !types.IsKind(err, types.KindMissingEntity) {
		t.Fatalf("unconfigured channel err = %v, want missing entity", err)
	}

	boom := errors.New("discord down")
	d = NewDiscord(&fakeSender{err: boom}, map[string]string{"other": "1"})
	err = d.Publish(context.Background(), dest, testComment())
	if !errors.Is(err, boom) || types.IsTaskError(err) {
		t.Fatalf("send failure err = %v, want retryable", err)
	}
}

func TestBlueskyPublish(t *testing.T) {
	t.Parallel()
	poster := &fakePoster{}
	b := NewBluesky(poster, []string{"en"})
	dest := &types.Destination{ID: "blog", Kind: KindBluesky}

	if err := b.Publish(context.Background(), dest, testComment()); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	post := poster.post
	want := "bob: Great post\n\nOriginal comment"
	if post.Text != want {
		t.Fatalf("text = %q, want %q", post.Text, want)
	}
	if len(post.Facets) != 1 {
		t.Fatalf("got %d facets, want 1", len(post.Facets))
	}
	facet := post.Facets[0]
	if got := post.Text[facet.Index.ByteStart:facet.Index.ByteEnd]; got != "Original comment" {
		t.Errorf("facet covers %q", got)
	}
	if facet.Features[0].RichtextFacet_Link.Uri != testComment().URL {
		t.Errorf("facet uri = %q", facet.Features[0].RichtextFacet_Link.Uri)
	}
}

func TestBlueskyPostLength(t *testing.T) {
	t.Parallel()
	poster := &fakePoster{}
	b := NewBluesky(poster, nil)

	c := testComment()
	c.Content = strings.Repeat("é", 1000)
	if err := b.Publish(context.Background(), &types.Destination{ID: "blog"}, c); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if n := utf8.RuneCountInString(poster.post.Text); n > blueskyPostMax {
		t.Fatalf("post has %d runes, limit %d", n, blueskyPostMax)
	}
	facet := poster.post.Facets[0]
	if got := poster.post.Text[facet.Index.ByteStart:facet.Index.ByteEnd]; got != blueskyLinkText {
		t.Errorf("facet covers %q after truncation", got)
	}
}

func TestFeedPublishIdempotent(t *testing.T) {
	t.Parallel()
	store, err := sqlite.New(filepath.Join(t.TempDir(), "feed.db"))
	if err != nil {
		t.Fatalf("sqlite.New: %v", err)
	}
	defer store.Close(context.Background())

	ctx := context.Background()
	inv := &recordingInvalidator{}
	f := NewFeed(store.Feed(), inv)
	dest := &types.Destination{ID: "site", Kind: KindFeed}

	for i := 0; i < 2; i++ {
		if err := f.Publish(ctx, dest, testComment()); err != nil {
			t.Fatalf("Publish #%d: %v", i+1, err)
		}
	}

	entries, err := store.Feed().ListRecentEntries(ctx, "site", 10)
	if err != nil {
		t.Fatalf("ListRecentEntries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0].Title != "Comment by bob" || entries[0].Link != testComment().URL {
		t.Errorf("entry = %+v", entries[0])
	}
	if len(inv.destinations) != 2 || inv.destinations[0] != "site" {
		t.Errorf("invalidated = %v", inv.destinations)
	}
}

type recordingInvalidator struct {
	destinations []string
}

func (r *recordingInvalidator) Invalidate(destination string) {
	r.destinations = append(r.destinations, destination)
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"exactly", 7, "exactly"},
		{"toolong", 4, "too…"},
		{"héllo", 3, "hé…"},
		{"x", 0, ""},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.max); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}
