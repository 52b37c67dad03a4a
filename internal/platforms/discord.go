package platforms

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
)

type DiscordSettings struct {
	BotToken string
}

// DiscordPlatform owns the REST session shared by every discord destination
// and spaces consecutive sends by sleep.
type DiscordPlatform struct {
	botToken string
	sleep    time.Duration
	session  *discordgo.Session

	mu       sync.Mutex
	lastSend time.Time
}

func NewDiscordPlatform(settings DiscordSettings, sleep time.Duration) (*DiscordPlatform, error) {
	if settings.BotToken == "" {
		return nil, fmt.Errorf("discord platform: bot_token is required")
	}
	if sleep < 0 {
		sleep = 0
	}

	return &DiscordPlatform{
		botToken: settings.BotToken,
		sleep:    sleep,
	}, nil
}

func (p *DiscordPlatform) Validate() error {
	return nil
}

// Initialize creates the session. Only the REST API is used, so no gateway
// connection is opened.
func (p *DiscordPlatform) Initialize(ctx context.Context) error {
	session, err := discordgo.New("Bot " + p.botToken)
	if err != nil {
		return fmt.Errorf("failed to create discord session: %w", err)
	}

	p.session = session
	return nil
}

func (p *DiscordPlatform) Close(ctx context.Context) error {
	if p.session != nil {
		return p.session.Close()
	}
	return nil
}

func (p *DiscordPlatform) Session() *discordgo.Session {
	return p.session
}

func (p *DiscordPlatform) SendEmbed(ctx context.Context, channelID string, embed *discordgo.MessageEmbed) (*discordgo.Message, error) {
	if p.session == nil {
		return nil, fmt.Errorf("discord platform not initialized")
	}
	if err := p.pace(ctx); err != nil {
		return nil, err
	}

	msg, err := p.session.ChannelMessageSendEmbed(channelID, embed, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to send discord message to %s: %w", channelID, err)
	}
	return msg, nil
}

func (p *DiscordPlatform) pace(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if wait := p.sleep - time.Since(p.lastSend); !p.lastSend.IsZero() && wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	p.lastSend = time.Now()
	return nil
}
