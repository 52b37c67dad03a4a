package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"backfeed/internal/types"
)

var ErrNotFound = errors.New("entity not found")

type StorageInterface interface {
	GetConnection() *sql.DB
	Sources() SourceStore
	Destinations() DestinationStore
	Comments() CommentStore
	Feed() FeedStore
	Close(ctx context.Context) error
}

type SourceStore interface {
	Get(ctx context.Context, id string) (*types.Source, error)
	List(ctx context.Context) ([]*types.Source, error)
	// Ensure inserts the source if absent. An existing watermark is kept.
	Ensure(ctx context.Context, src *types.Source) error
	UpdateLastPolled(ctx context.Context, id string, lastPolled time.Time) error
}

type DestinationStore interface {
	Get(ctx context.Context, id string) (*types.Destination, error)
	ListByKind(ctx context.Context, kind string) ([]*types.Destination, error)
	Ensure(ctx context.Context, dest *types.Destination) error
}

// TxFunc receives the current comment, or nil when it does not exist, and
// reports whether the (possibly mutated) comment must be written back.
type TxFunc func(c *types.Comment) (write bool, err error)

type CommentStore interface {
	Get(ctx context.Context, id string) (*types.Comment, error)
	// CreateIfAbsent inserts the comment unless one with the same id exists.
	// It reports whether a row was inserted.
	CreateIfAbsent(ctx context.Context, c *types.Comment) (bool, error)
	// Transact runs fn as one atomic read-modify-write on a single comment.
	Transact(ctx context.Context, id string, fn TxFunc) error
	CountByStatus(ctx context.Context) (map[types.Status]int, error)
}

type FeedEntry struct {
	ID            string
	DestinationID string
	Title         string
	Link          string
	Content       string
	Author        string
	PublishedAt   time.Time
	CreatedAt     time.Time
}

type FeedStore interface {
	InsertEntry(ctx context.Context, entry FeedEntry) error
	ListRecentEntries(ctx context.Context, destinationID string, limit int) ([]FeedEntry, error)
	DeleteOlderThan(ctx context.Context, age time.Duration) error
}
