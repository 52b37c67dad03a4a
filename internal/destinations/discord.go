package destinations

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"

	"backfeed/internal/types"
)

const (
	KindDiscord = "discord"

	discordEmbedColor     = 3447003
	discordDescriptionMax = 4096
	discordTitleMax       = 256
)

// EmbedSender is the part of platforms.DiscordPlatform the destination uses.
type EmbedSender interface {
	SendEmbed(ctx context.Context, channelID string, embed *discordgo.MessageEmbed) (*discordgo.Message, error)
}

// Discord posts each comment as an embed in the channel configured for its
// destination.
type Discord struct {
	sender   EmbedSender
	channels map[string]string
}

// NewDiscord maps destination ids to channel ids.
func NewDiscord(sender EmbedSender, channels map[string]string) *Discord {
	return &Discord{
		sender:   sender,
		channels: channels,
	}
}

func (d *Discord) Kind() string {
	return KindDiscord
}

func (d *Discord) Publish(ctx context.Context, dest *types.Destination, c *types.Comment) error {
	channelID, ok := d.channels[dest.ID]
	if !ok || channelID == "" {
		return types.NewTaskError(types.KindMissingEntity, dest.ID, "no discord channel configured for destination")
	}

	msg, err := d.sender.SendEmbed(ctx, channelID, buildEmbed(c))
	if err != nil {
		return err
	}

	slog.Debug("Discord destination sent comment", "destination", dest.ID, "comment", c.ID, "message_id", msg.ID)
	return nil
}

func buildEmbed(c *types.Comment) *discordgo.MessageEmbed {
	author := c.Author
	if author == "" {
		author = "someone"
	}

	embed := &discordgo.MessageEmbed{
		Title:       truncate(fmt.Sprintf("New comment from %s", author), discordTitleMax),
		Description: truncate(c.Content, discordDescriptionMax),
		URL:         c.URL,
		Color:       discordEmbedColor,
		Footer: &discordgo.MessageEmbedFooter{
			Text: fmt.Sprintf("Source: %s", c.SourceID),
		},
	}
	if !c.Published.IsZero() {
		embed.Timestamp = c.Published.UTC().Format(time.RFC3339)
	}
	return embed
}

// truncate shortens s to at most max runes, marking the cut with an ellipsis.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max <= 0 {
		return ""
	}
	return string(runes[:max-1]) + "…"
}
