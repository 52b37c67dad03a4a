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

type commentStore struct {
	db *sql.DB
}

func newCommentStore(db *sql.DB) storage.CommentStore {
	return &commentStore{db: db}
}

const commentColumns = `id, source_id, post_id, remote_id, destination_id, author, content, url,
	published, status, leased_until, created_at, updated_at`

func scanComment(row rowScanner) (*types.Comment, error) {
	var c types.Comment
	var status, published, createdAt, updatedAt string
	var leasedUntil sql.NullString

	err := row.Scan(
		&c.ID,
		&c.SourceID,
		&c.PostID,
		&c.RemoteID,
		&c.DestinationID,
		&c.Author,
		&c.Content,
		&c.URL,
		&published,
		&status,
		&leasedUntil,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.Status = types.Status(status)
	if c.Published, err = parseTime(published); err != nil {
		return nil, err
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if leasedUntil.Valid && leasedUntil.String != "" {
		t, err := parseTime(leasedUntil.String)
		if err != nil {
			return nil, err
		}
		c.LeasedUntil = &t
	}
	return &c, nil
}

func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func (s *commentStore) Get(ctx context.Context, id string) (*types.Comment, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+commentColumns+` FROM comments WHERE id = ?`, id)
	c, err := scanComment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get comment %s: %w", id, err)
	}
	return c, nil
}

func (s *commentStore) CreateIfAbsent(ctx context.Context, c *types.Comment) (bool, error) {
	now := time.Now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}
	if c.Status == "" {
		c.Status = types.StatusNew
	}
	if !c.Status.Valid() {
		return false, fmt.Errorf("invalid comment status %q", c.Status)
	}

	query := `
		INSERT INTO comments (` + commentColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`
	res, err := s.db.ExecContext(ctx, query,
		c.ID,
		c.SourceID,
		c.PostID,
		c.RemoteID,
		c.DestinationID,
		c.Author,
		c.Content,
		c.URL,
		formatTime(c.Published),
		string(c.Status),
		nullableTime(c.LeasedUntil),
		formatTime(c.CreatedAt),
		formatTime(c.UpdatedAt),
	)
	if err != nil {
		return false, fmt.Errorf("failed to create comment %s: %w", c.ID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}

func (s *commentStore) Transact(ctx context.Context, id string, fn storage.TxFunc) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+commentColumns+` FROM comments WHERE id = ?`, id)
	c, err := scanComment(row)
	if errors.Is(err, sql.ErrNoRows) {
		c, err = nil, nil
	}
	if err != nil {
		return fmt.Errorf("failed to read comment %s: %w", id, err)
	}

	write, err := fn(c)
	if err != nil {
		return err
	}
	if !write || c == nil {
		return tx.Commit()
	}
	if !c.Status.Valid() {
		return fmt.Errorf("invalid comment status %q", c.Status)
	}

	c.UpdatedAt = time.Now()
	_, err = tx.ExecContext(ctx,
		`UPDATE comments SET status = ?, leased_until = ?, updated_at = ? WHERE id = ?`,
		string(c.Status), nullableTime(c.LeasedUntil), formatTime(c.UpdatedAt), id)
	if err != nil {
		return fmt.Errorf("failed to update comment %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit comment %s: %w", id, err)
	}
	return nil
}

func (s *commentStore) CountByStatus(ctx context.Context) (map[types.Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM comments GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count comments: %w", err)
	}
	defer rows.Close()

	counts := map[types.Status]int{
		types.StatusNew:        0,
		types.StatusProcessing: 0,
		types.StatusComplete:   0,
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[types.Status(status)] = n
	}
	return counts, rows.Err()
}
