package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"backfeed/internal/storage"
)

type feedStore struct {
	db *sql.DB
}

func newFeedStore(db *sql.DB) storage.FeedStore {
	return &feedStore{db: db}
}

func (s *feedStore) InsertEntry(ctx context.Context, entry storage.FeedEntry) error {
	query := `
		INSERT INTO feed_entries (id, destination_id, title, link, content, author, published_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(destination_id, id) DO NOTHING
	`

	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, query,
		entry.ID,
		entry.DestinationID,
		entry.Title,
		entry.Link,
		entry.Content,
		entry.Author,
		formatTime(entry.PublishedAt),
		formatTime(createdAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert feed entry: %w", err)
	}

	return nil
}

func (s *feedStore) ListRecentEntries(ctx context.Context, destinationID string, limit int) ([]storage.FeedEntry, error) {
	query := `
		SELECT id, destination_id, title, link, content, author, published_at, created_at
		FROM feed_entries
		WHERE destination_id = ?
		ORDER BY published_at DESC, created_at DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, destinationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	entries := make([]storage.FeedEntry, 0, limit)
	for rows.Next() {
		var entry storage.FeedEntry
		var publishedAt, createdAt string

		err := rows.Scan(
			&entry.ID,
			&entry.DestinationID,
			&entry.Title,
			&entry.Link,
			&entry.Content,
			&entry.Author,
			&publishedAt,
			&createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}

		if entry.PublishedAt, err = parseTime(publishedAt); err != nil {
			return nil, err
		}
		if entry.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}

		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entries: %w", err)
	}

	return entries, nil
}

func (s *feedStore) DeleteOlderThan(ctx context.Context, age time.Duration) error {
	cutoff := formatTime(time.Now().Add(-age))
	_, err := s.db.ExecContext(ctx, `DELETE FROM feed_entries WHERE created_at < ?`, cutoff)
	if err != nil {
		return fmt.Errorf("failed to delete old entries: %w", err)
	}
	return nil
}
