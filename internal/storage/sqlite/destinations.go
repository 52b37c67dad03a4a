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

type destinationStore struct {
	db *sql.DB
}

func newDestinationStore(db *sql.DB) storage.DestinationStore {
	return &destinationStore{db: db}
}

func scanDestination(row rowScanner) (*types.Destination, error) {
	var dest types.Destination
	var createdAt string
	if err := row.Scan(&dest.ID, &dest.Kind, &dest.URL, &createdAt); err != nil {
		return nil, err
	}
	t, err := parseTime(createdAt)
	if err != nil {
		return nil, err
	}
	dest.CreatedAt = t
	return &dest, nil
}

func (s *destinationStore) Get(ctx context.Context, id string) (*types.Destination, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, kind, url, created_at FROM destinations WHERE id = ?`, id)
	dest, err := scanDestination(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get destination %s: %w", id, err)
	}
	return dest, nil
}

func (s *destinationStore) ListByKind(ctx context.Context, kind string) ([]*types.Destination, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, kind, url, created_at FROM destinations WHERE kind = ? ORDER BY id`, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s destinations: %w", kind, err)
	}
	defer rows.Close()

	var dests []*types.Destination
	for rows.Next() {
		dest, err := scanDestination(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan destination: %w", err)
		}
		dests = append(dests, dest)
	}
	return dests, rows.Err()
}

func (s *destinationStore) Ensure(ctx context.Context, dest *types.Destination) error {
	createdAt := dest.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	query := `
		INSERT INTO destinations (id, kind, url, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET kind = excluded.kind, url = excluded.url
	`
	if _, err := s.db.ExecContext(ctx, query, dest.ID, dest.Kind, dest.URL, formatTime(createdAt)); err != nil {
		return fmt.Errorf("failed to ensure destination %s: %w", dest.ID, err)
	}
	return nil
}
