package config

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"backfeed/internal/app"
	"backfeed/internal/components"
	"backfeed/internal/core"
	"backfeed/internal/destinations"
	"backfeed/internal/platforms"
	"backfeed/internal/queue"
	redisqueue "backfeed/internal/queue/redis"
	"backfeed/internal/scheduler"
	"backfeed/internal/server"
	"backfeed/internal/server/feed"
	"backfeed/internal/server/tasks"
	"backfeed/internal/sources"
	"backfeed/internal/storage"
	"backfeed/internal/types"
	"backfeed/internal/utils"
)

type Loader struct {
	config       *Config
	registry     *components.Registry
	storageComp  *components.StorageComponent
	queueComp    *components.QueueComponent
	platformComp *components.PlatformComponent
	httpClient   *http.Client
	closers      []io.Closer
}

func NewLoader(cfg *Config) *Loader {
	return &Loader{
		config:     cfg,
		registry:   components.NewRegistry(),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Initialize brings up storage, queue and platforms, syncs configured
// sources and destinations into the store, starts the HTTP server and
// returns the app whose Start launches the seeder and dispatcher.
func (l *Loader) Initialize(ctx context.Context) (a *app.App, err error) {
	defer func() {
		if err != nil {
			l.registry.CloseAll(ctx)
			for _, c := range l.closers {
				c.Close()
			}
		}
	}()

	if err := l.initializeComponents(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}

	store := l.storageComp.Store()
	if err := l.syncEntities(ctx, store); err != nil {
		return nil, err
	}

	platformsBySource, err := l.buildSources()
	if err != nil {
		return nil, err
	}

	cfg := l.config
	feedHandler := feed.New(feed.Config{
		Title:    cfg.Feed.Title,
		MaxItems: cfg.Feed.MaxItems,
		CacheTTL: Duration(cfg.Feed.CacheTTL),
	}, store.Destinations(), store.Feed())

	publishers, err := l.buildPublishers(store, feedHandler)
	if err != nil {
		return nil, err
	}

	duplicates, err := queue.ParseDuplicatePolicy(cfg.Queue.OnDuplicate)
	if err != nil {
		return nil, err
	}
	q := l.queueComp.Queue()

	poller := core.NewPoller(store, q, platformsBySource, core.PollerConfig{
		DestinationKinds: cfg.DestinationKinds(),
		Countdown:        Duration(cfg.Poll.Countdown),
		CacheTTL:         Duration(cfg.Poll.DestinationCacheTTL),
		Duplicates:       duplicates,
	})
	propagator := core.NewPropagator(store, publishers, core.PropagatorConfig{
		Lease: Duration(cfg.Propagate.Lease),
	})

	deadline := Duration(cfg.Server.TaskDeadline)
	serverComp := components.NewServerComponent(cfg.App.Name, server.Config{
		Port:         cfg.Server.Port,
		WriteTimeout: deadline + 30*time.Second,
	},
		tasks.New(poller, propagator, store.Comments(), deadline),
		feedHandler,
	)
	if err := l.registry.Register(serverComp); err != nil {
		return nil, err
	}
	if err := l.registry.InitializeAll(ctx); err != nil {
		return nil, fmt.Errorf("failed to start server: %w", err)
	}

	var runners []app.Runner
	if cfg.Seed.Enabled {
		seeder, err := scheduler.New(configuredSources{store: store.Sources(), names: l.enabledSources()}, q, store.Feed(), scheduler.Config{
			Schedule:      cfg.Seed.Schedule,
			FeedRetention: Duration(cfg.Feed.Retention),
		})
		if err != nil {
			return nil, err
		}
		runners = append(runners, seeder)
	}

	runners = append(runners, queue.NewDispatcher(q, queue.DispatcherConfig{
		BaseURL:          cfg.Queue.BaseURL,
		Queues:           []string{core.PollQueue, core.PropagateQueue},
		Workers:          cfg.Queue.Workers,
		Rate:             cfg.Queue.Rate,
		PollInterval:     Duration(cfg.Queue.PollInterval),
		Visibility:       Duration(cfg.Queue.Visibility),
		TaskDeadline:     deadline,
		RetryMax:         cfg.Queue.RetryMax,
		TerminalRetryMax: cfg.Queue.TerminalRetryMax,
		RetryBase:        Duration(cfg.Queue.RetryBase),
		RetryMaxDelay:    Duration(cfg.Queue.RetryMaxDelay),
	}, nil))

	slog.Info("Loader initialized",
		"sources", len(platformsBySource),
		"destinations", len(cfg.Destinations),
		"publishers", len(publishers),
		"queue", cfg.Queue.Backend)

	return app.New(app.Config{
		Name:     cfg.App.Name,
		Registry: l.registry,
		Runners:  runners,
		Closers:  l.closers,
	}), nil
}

func (l *Loader) initializeComponents(ctx context.Context) error {
	cfg := l.config

	l.storageComp = components.NewStorageComponent(storage.Config{
		Type: cfg.Storage.Type,
		Path: cfg.Storage.Path,
	})

	l.queueComp = components.NewQueueComponent(components.QueueConfig{
		Backend: cfg.Queue.Backend,
		Options: queue.Options{DedupWindow: Duration(cfg.Queue.DedupWindow)},
		Redis: redisqueue.Config{
			Addr:     cfg.Queue.Redis.Addr,
			Password: cfg.Queue.Redis.Password,
			DB:       cfg.Queue.Redis.DB,
			Prefix:   cfg.Queue.Redis.Prefix,
		},
	}, l.storageComp)

	platformCfg, err := l.platformConfig()
	if err != nil {
		return err
	}
	l.platformComp = components.NewPlatformComponent(platformCfg)

	for _, c := range []components.IComponent{l.storageComp, l.queueComp, l.platformComp} {
		if err := l.registry.Register(c); err != nil {
			return err
		}
	}
	return l.registry.InitializeAll(ctx)
}

func (l *Loader) platformConfig() (components.PlatformConfig, error) {
	var out components.PlatformConfig

	if discordCfg, ok := l.config.Platforms["discord"]; ok && discordCfg.Enabled {
		out.Discord = &platforms.DiscordSettings{
			BotToken: GetString(discordCfg.Settings, "bot_token", ""),
		}
		sleep, err := optionalDuration(discordCfg.Sleep, time.Second)
		if err != nil {
			return out, fmt.Errorf("invalid platforms.discord.sleep: %w", err)
		}
		out.DiscordSleep = sleep
	}

	if blueskyCfg, ok := l.config.Platforms["bluesky"]; ok && blueskyCfg.Enabled {
		out.Bluesky = &platforms.BlueskySettings{
			Identifier: GetString(blueskyCfg.Settings, "identifier", ""),
			Password:   GetString(blueskyCfg.Settings, "password", ""),
			Host:       GetString(blueskyCfg.Settings, "host", platforms.DefaultBlueskyHost),
		}
	}

	return out, nil
}

// syncEntities upserts configured sources and destinations. Existing
// sources keep their watermark.
func (l *Loader) syncEntities(ctx context.Context, store storage.StorageInterface) error {
	for _, name := range sortedKeys(l.config.Sources) {
		srcCfg := l.config.Sources[name]
		if !srcCfg.IsEnabled() {
			continue
		}
		if err := store.Sources().Ensure(ctx, &types.Source{ID: name, Kind: srcCfg.Type}); err != nil {
			return err
		}
	}

	for _, name := range sortedKeys(l.config.Destinations) {
		destCfg := l.config.Destinations[name]
		dest := &types.Destination{ID: name, Kind: destCfg.Type, URL: destCfg.URL}
		if err := store.Destinations().Ensure(ctx, dest); err != nil {
			return err
		}
	}
	return nil
}

func (l *Loader) enabledSources() map[string]bool {
	names := make(map[string]bool, len(l.config.Sources))
	for name, srcCfg := range l.config.Sources {
		if srcCfg.IsEnabled() {
			names[name] = true
		}
	}
	return names
}

func (l *Loader) buildSources() (map[string]types.SourcePlatform, error) {
	out := make(map[string]types.SourcePlatform)

	for _, name := range sortedKeys(l.config.Sources) {
		srcCfg := l.config.Sources[name]
		if !srcCfg.IsEnabled() {
			slog.Info("Source disabled", "source", name)
			continue
		}

		platform, err := l.buildSource(name, srcCfg)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", name, err)
		}
		out[name] = platform
	}
	return out, nil
}

func (l *Loader) buildSource(name string, srcCfg SourceConfig) (types.SourcePlatform, error) {
	settings := srcCfg.Settings
	client := l.httpClient
	if timeout := GetDuration(settings, "timeout", 0); timeout > 0 {
		client = &http.Client{Timeout: timeout}
	}

	switch srcCfg.Type {
	case "rss":
		return sources.NewRSSSource(name, sources.RSSSettings{
			FeedURL:  GetString(settings, "feed_url", ""),
			MaxItems: GetInt(settings, "max_items", 50),
		}, client)
	case "hackernews":
		return sources.NewHackerNewsSource(name, sources.HackerNewsSettings{
			User:     GetString(settings, "user", ""),
			MaxItems: GetInt(settings, "max_items", 30),
			APIURL:   GetString(settings, "api_url", sources.DefaultHackerNewsAPI),
		}, client)
	case "script":
		src, err := sources.NewScriptSource(name, sources.ScriptSettings{
			ScriptType: GetString(settings, "script_type", "internal"),
			ScriptName: GetString(settings, "script_name", ""),
			ScriptPath: GetString(settings, "script_path", ""),
			Config:     GetMap(settings, "config"),
		}, client, slog.Default())
		if err != nil {
			return nil, err
		}
		l.closers = append(l.closers, src)
		return src, nil
	default:
		return nil, fmt.Errorf("unsupported source type: %s", srcCfg.Type)
	}
}

func (l *Loader) buildPublishers(store storage.StorageInterface, feeds destinations.FeedInvalidator) ([]types.Publisher, error) {
	var publishers []types.Publisher
	kinds := l.config.DestinationKinds()

	for _, kind := range kinds {
		switch kind {
		case destinations.KindDiscord:
			discord := l.platformComp.Discord()
			if discord == nil {
				return nil, fmt.Errorf("discord destinations need platforms.discord enabled")
			}
			channels := make(map[string]string)
			for name, destCfg := range l.config.Destinations {
				if destCfg.Type != destinations.KindDiscord {
					continue
				}
				channelID := GetString(destCfg.Settings, "channel_id", "")
				if channelID == "" {
					return nil, fmt.Errorf("destination %s: channel_id is required", name)
				}
				channels[name] = channelID
			}
			publishers = append(publishers, destinations.NewDiscord(discord, channels))

		case destinations.KindBluesky:
			bluesky := l.platformComp.Bluesky()
			if bluesky == nil {
				return nil, fmt.Errorf("bluesky destinations need platforms.bluesky enabled")
			}
			languages := GetStringSlice(l.config.Platforms["bluesky"].Settings, "languages")
			publishers = append(publishers, destinations.NewBluesky(bluesky, languages))

		case destinations.KindFeed:
			publishers = append(publishers, destinations.NewFeed(store.Feed(), feeds))
		}
	}

	slog.Debug("Publishers built", "kinds", utils.MapArray(publishers, types.Publisher.Kind))
	return publishers, nil
}

// configuredSources limits seeding to sources enabled in the configuration,
// so removed or disabled sources left in the store are not polled.
type configuredSources struct {
	store storage.SourceStore
	names map[string]bool
}

func (c configuredSources) List(ctx context.Context) ([]*types.Source, error) {
	all, err := c.store.List(ctx)
	if err != nil {
		return nil, err
	}
	return utils.FilterArray(all, func(s *types.Source) bool { return c.names[s.ID] }), nil
}

func optionalDuration(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	return time.ParseDuration(s)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
