package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	App          AppConfig                    `toml:"app"`
	Server       ServerConfig                 `toml:"server"`
	Storage      StorageConfig                `toml:"storage"`
	Queue        QueueConfig                  `toml:"queue"`
	Poll         PollConfig                   `toml:"poll"`
	Propagate    PropagateConfig              `toml:"propagate"`
	Seed         SeedConfig                   `toml:"seed"`
	Feed         FeedConfig                   `toml:"feed"`
	Platforms    map[string]PlatformConfig    `toml:"platforms"`
	Sources      map[string]SourceConfig      `toml:"sources"`
	Destinations map[string]DestinationConfig `toml:"destinations"`
}

type AppConfig struct {
	Name      string `toml:"name"`
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

type ServerConfig struct {
	Port         string `toml:"port"`
	TaskDeadline string `toml:"task_deadline"`
}

type StorageConfig struct {
	Type string `toml:"type"`
	Path string `toml:"path"`
}

type QueueConfig struct {
	Backend          string      `toml:"backend"`
	BaseURL          string      `toml:"base_url"`
	Workers          int         `toml:"workers"`
	Rate             float64     `toml:"rate"`
	PollInterval     string      `toml:"poll_interval"`
	Visibility       string      `toml:"visibility"`
	RetryMax         int         `toml:"retry_max"`
	TerminalRetryMax int         `toml:"terminal_retry_max"`
	RetryBase        string      `toml:"retry_base"`
	RetryMaxDelay    string      `toml:"retry_max_delay"`
	DedupWindow      string      `toml:"dedup_window"`
	OnDuplicate      string      `toml:"on_duplicate"`
	Redis            RedisConfig `toml:"redis"`
}

type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
	Prefix   string `toml:"prefix"`
}

type PollConfig struct {
	Countdown           string `toml:"countdown"`
	DestinationCacheTTL string `toml:"destination_cache_ttl"`
}

type PropagateConfig struct {
	Lease string `toml:"lease"`
}

type SeedConfig struct {
	Enabled  bool   `toml:"enabled"`
	Schedule string `toml:"schedule"`
}

type FeedConfig struct {
	Title     string `toml:"title"`
	MaxItems  int    `toml:"max_items"`
	Retention string `toml:"retention"`
	CacheTTL  string `toml:"cache_ttl"`
}

type PlatformConfig struct {
	Enabled  bool                   `toml:"enabled"`
	Sleep    string                 `toml:"sleep"`
	Settings map[string]interface{} `toml:"settings"`
}

type SourceConfig struct {
	Type     string                 `toml:"type"`
	Enabled  *bool                  `toml:"enabled"`
	Settings map[string]interface{} `toml:"settings"`
}

// IsEnabled treats a missing enabled key as true.
func (s SourceConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

type DestinationConfig struct {
	Type     string                 `toml:"type"`
	URL      string                 `toml:"url"`
	Settings map[string]interface{} `toml:"settings"`
}

var (
	sourceTypes      = map[string]bool{"rss": true, "hackernews": true, "script": true}
	destinationTypes = map[string]bool{"discord": true, "bluesky": true, "feed": true}
)

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	config := Config{Seed: SeedConfig{Enabled: true}}
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

func validateConfig(config *Config) error {
	if config.App.Name == "" {
		config.App.Name = "backfeed"
	}
	if config.App.LogLevel == "" {
		config.App.LogLevel = "info"
	}
	if config.App.LogFormat == "" {
		config.App.LogFormat = "text"
	}

	if config.Server.Port == "" {
		config.Server.Port = "8080"
	}

	if config.Storage.Type == "" {
		config.Storage.Type = "sqlite"
	}
	if config.Storage.Path == "" {
		config.Storage.Path = "./backfeed.db"
	}

	q := &config.Queue
	if q.Backend == "" {
		q.Backend = "sqlite"
	}
	if q.Backend != "sqlite" && q.Backend != "redis" {
		return fmt.Errorf("unsupported queue backend: %s", q.Backend)
	}
	if q.Backend == "redis" && q.Redis.Addr == "" {
		q.Redis.Addr = "localhost:6379"
	}
	if q.BaseURL == "" {
		q.BaseURL = "http://localhost:" + config.Server.Port
	}
	if q.Workers <= 0 {
		q.Workers = 4
	}
	if q.RetryMax == 0 {
		q.RetryMax = 10
	}
	if q.TerminalRetryMax == 0 {
		q.TerminalRetryMax = 3
	}
	if q.OnDuplicate == "" {
		q.OnDuplicate = "ignore"
	}
	if q.OnDuplicate != "ignore" && q.OnDuplicate != "fail" {
		return fmt.Errorf("invalid on_duplicate policy: %s", q.OnDuplicate)
	}

	durations := []struct {
		field *string
		name  string
		def   string
	}{
		{&config.Server.TaskDeadline, "server.task_deadline", "10m"},
		{&q.PollInterval, "queue.poll_interval", "1s"},
		{&q.Visibility, "queue.visibility", "15m"},
		{&q.RetryBase, "queue.retry_base", "2s"},
		{&q.RetryMaxDelay, "queue.retry_max_delay", "1h"},
		{&q.DedupWindow, "queue.dedup_window", "168h"},
		{&config.Poll.Countdown, "poll.countdown", "1h"},
		{&config.Poll.DestinationCacheTTL, "poll.destination_cache_ttl", "1m"},
		{&config.Propagate.Lease, "propagate.lease", "12m"},
		{&config.Feed.Retention, "feed.retention", "720h"},
		{&config.Feed.CacheTTL, "feed.cache_ttl", "1m"},
	}
	for _, d := range durations {
		if *d.field == "" {
			*d.field = d.def
		}
		if _, err := time.ParseDuration(*d.field); err != nil {
			return fmt.Errorf("invalid %s: %w", d.name, err)
		}
	}

	// A lease must outlive one delivery.
	if Duration(config.Propagate.Lease) <= Duration(config.Server.TaskDeadline) {
		return fmt.Errorf("propagate.lease (%s) must exceed server.task_deadline (%s)",
			config.Propagate.Lease, config.Server.TaskDeadline)
	}

	if config.Seed.Schedule == "" {
		config.Seed.Schedule = "@every 10m"
	}

	if config.Feed.Title == "" {
		config.Feed.Title = config.App.Name + " comments"
	}
	if config.Feed.MaxItems <= 0 {
		config.Feed.MaxItems = 50
	}

	for name, src := range config.Sources {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("source name must not be empty")
		}
		if !sourceTypes[src.Type] {
			return fmt.Errorf("source %s: unsupported type %q", name, src.Type)
		}
	}

	for name, dest := range config.Destinations {
		if !destinationTypes[dest.Type] {
			return fmt.Errorf("destination %s: unsupported type %q", name, dest.Type)
		}
		if dest.URL == "" {
			return fmt.Errorf("destination %s: url is required", name)
		}
	}

	return nil
}

// Duration parses a duration already checked by validateConfig.
func Duration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}

// DestinationKinds lists the destination types in use, sorted.
func (c *Config) DestinationKinds() []string {
	seen := make(map[string]bool)
	for _, dest := range c.Destinations {
		seen[dest.Type] = true
	}
	kinds := make([]string, 0, len(seen))
	for kind := range seen {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

func GetString(settings map[string]interface{}, key string, defaultValue string) string {
	if val, ok := settings[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return defaultValue
}

func GetInt(settings map[string]interface{}, key string, defaultValue int) int {
	if val, ok := settings[key]; ok {
		if i, ok := val.(int64); ok {
			return int(i)
		}
		if i, ok := val.(int); ok {
			return i
		}
	}
	return defaultValue
}

func GetStringSlice(settings map[string]interface{}, key string) []string {
	if val, ok := settings[key]; ok {
		if arr, ok := val.([]interface{}); ok {
			result := make([]string, 0, len(arr))
			for _, item := range arr {
				if str, ok := item.(string); ok {
					result = append(result, str)
				}
			}
			return result
		}
	}
	return []string{}
}

func GetMap(settings map[string]interface{}, key string) map[string]interface{} {
	if val, ok := settings[key]; ok {
		if m, ok := val.(map[string]interface{}); ok {
			return m
		}
	}
	return map[string]interface{}{}
}

func GetDuration(settings map[string]interface{}, key string, defaultValue time.Duration) time.Duration {
	if val, ok := settings[key]; ok {
		if str, ok := val.(string); ok {
			if d, err := time.ParseDuration(str); err == nil {
				return d
			}
		}
	}
	return defaultValue
}
