package components

import (
	"context"
	"fmt"
	"time"

	"backfeed/internal/platforms"
)

type PlatformConfig struct {
	Discord      *platforms.DiscordSettings
	DiscordSleep time.Duration
	Bluesky      *platforms.BlueskySettings
}

// PlatformComponent owns the authenticated sessions shared by destinations.
// A nil settings pointer leaves that platform disabled.
type PlatformComponent struct {
	config          PlatformConfig
	discordPlatform *platforms.DiscordPlatform
	blueskyPlatform *platforms.BlueskyPlatform
}

func NewPlatformComponent(config PlatformConfig) *PlatformComponent {
	return &PlatformComponent{
		config: config,
	}
}

func (c *PlatformComponent) Name() string {
	return PlatformComponentName
}

func (c *PlatformComponent) Dependencies() []string {
	return []string{}
}

func (c *PlatformComponent) Validate() error {
	return nil
}

func (c *PlatformComponent) Initialize(ctx context.Context) error {
	if c.config.Discord != nil {
		discord, err := platforms.NewDiscordPlatform(*c.config.Discord, c.config.DiscordSleep)
		if err != nil {
			return fmt.Errorf("failed to create discord platform: %w", err)
		}
		if err := discord.Validate(); err != nil {
			return fmt.Errorf("discord platform validation failed: %w", err)
		}
		if err := discord.Initialize(ctx); err != nil {
			return fmt.Errorf("discord platform initialization failed: %w", err)
		}
		c.discordPlatform = discord
	}

	if c.config.Bluesky != nil {
		bluesky, err := platforms.NewBlueskyPlatform(*c.config.Bluesky)
		if err != nil {
			return fmt.Errorf("failed to create bluesky platform: %w", err)
		}
		if err := bluesky.Validate(); err != nil {
			return fmt.Errorf("bluesky platform validation failed: %w", err)
		}
		if err := bluesky.Initialize(ctx); err != nil {
			return fmt.Errorf("bluesky platform initialization failed: %w", err)
		}
		c.blueskyPlatform = bluesky
	}
	return nil
}

func (c *PlatformComponent) Close(ctx context.Context) error {
	if c.discordPlatform != nil {
		c.discordPlatform.Close(ctx)
	}
	if c.blueskyPlatform != nil {
		c.blueskyPlatform.Close(ctx)
	}
	return nil
}

func (c *PlatformComponent) Discord() *platforms.DiscordPlatform {
	return c.discordPlatform
}

func (c *PlatformComponent) Bluesky() *platforms.BlueskyPlatform {
	return c.blueskyPlatform
}
