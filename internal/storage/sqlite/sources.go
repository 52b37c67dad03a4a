package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"backfeed/internal/storage"
	"backfeed/internal/types"
)

type sourceStore struct {
	db *sql.DB
}

func newSourceStore(db *sql.DB) storage.SourceStore {
	return &sourceStore{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSource(row rowScanner) (*types.Source, error) {
	var src types.Source
	var lastPolled, createdAt string
	if err := row.Scan(&src.ID, &src.Kind, &lastPolled, &createdAt); err != nil {
		return nil, err
	}

	var err error
	if src.LastPolled, err = parseTime(lastPolled); err != nil {
		return nil, err
	}
	if src.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &src, nil
}

func (s *sourceStore) Get(ctx context.Context, id string) (*types.Source, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, kind, last_polled, created_at FROM sources WHERE id = ?`, id)
	src, err := scanSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get source %s: %w", id, err)
	}
	return src, nil
}

func (s *sourceStore) List(ctx context.Context) ([]*types.Source, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, kind, last_polled, created_at FROM sources ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	defer rows.Close()

	var sources []*types.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan source: %w", err)
		}
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

func (s *sourceStore) Ensure(ctx context.Context, src *types.Source) error {
	createdAt := src.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	query := `
		INSERT INTO sources (id, kind, last_polled, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET kind = excluded.kind
	`
	_, err := s.db.ExecContext(ctx, query, src.ID, src.Kind, formatTime(src.LastPolled), formatTime(createdAt))
	if err != nil {
		return fmt.Errorf("failed to ensure source %s: %w", src.ID, err)
	}
	return nil
}

func (s *sourceStore) UpdateLastPolled(ctx context.Context, id string, lastPolled time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE sources SET last_polled = ? WHERE id = ?`, formatTime(lastPolled), id)
	if err != nil {
		return fmt.Errorf("failed to update source %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update source %s: %w", id, err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}
