package components

import (
	"context"
	"fmt"
	"log/slog"

	"backfeed/internal/queue"
	redisqueue "backfeed/internal/queue/redis"
	sqlitequeue "backfeed/internal/queue/sqlite"
)

const (
	QueueBackendSQLite = "sqlite"
	QueueBackendRedis  = "redis"
)

type QueueConfig struct {
	Backend string
	Options queue.Options
	Redis   redisqueue.Config
}

// QueueComponent opens the durable task queue. The sqlite backend shares the
// entity store's database.
type QueueComponent struct {
	config  QueueConfig
	storage *StorageComponent
	queue   queue.Queue
}

func NewQueueComponent(config QueueConfig, storage *StorageComponent) *QueueComponent {
	if config.Backend == "" {
		config.Backend = QueueBackendSQLite
	}
	return &QueueComponent{
		config:  config,
		storage: storage,
	}
}

func (c *QueueComponent) Name() string {
	return QueueComponentName
}

func (c *QueueComponent) Dependencies() []string {
	if c.config.Backend == QueueBackendSQLite {
		return []string{StorageComponentName}
	}
	return []string{}
}

func (c *QueueComponent) Validate() error {
	switch c.config.Backend {
	case QueueBackendSQLite:
		if c.storage == nil {
			return fmt.Errorf("queue: sqlite backend needs the storage component")
		}
	case QueueBackendRedis:
		if c.config.Redis.Addr == "" {
			return fmt.Errorf("queue: redis addr is required")
		}
	default:
		return fmt.Errorf("queue: unsupported backend %q", c.config.Backend)
	}
	return nil
}

func (c *QueueComponent) Initialize(ctx context.Context) error {
	switch c.config.Backend {
	case QueueBackendRedis:
		q, err := redisqueue.Dial(ctx, c.config.Redis, c.config.Options)
		if err != nil {
			return fmt.Errorf("queue: %w", err)
		}
		c.queue = q
	default:
		c.queue = sqlitequeue.New(c.storage.Store().GetConnection(), c.config.Options)
	}

	slog.Info("Queue ready", "backend", c.config.Backend, "dedup_window", c.config.Options.DedupWindow)
	return nil
}

func (c *QueueComponent) Close(ctx context.Context) error {
	if c.queue == nil {
		return nil
	}
	return c.queue.Close()
}

func (c *QueueComponent) Queue() queue.Queue {
	return c.queue
}
