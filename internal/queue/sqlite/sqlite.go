package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"backfeed/internal/queue"
)

// Queue stores tasks in the queue_tasks table of the entity database.
type Queue struct {
	db     *sql.DB
	window time.Duration
	now    func() time.Time
}

func New(db *sql.DB, opts queue.Options) *Queue {
	return &Queue{db: db, window: opts.DedupWindow, now: opts.Clock()}
}

func (q *Queue) Add(ctx context.Context, name, queueName string, countdown time.Duration) error {
	now := q.now()
	eta := now.Add(countdown)

	// A done or dead row is replaced only once its dedup window has passed.
	query := `
		INSERT INTO queue_tasks (name, queue, eta_ms, attempts, state, created_ms, last_error)
		VALUES (?, ?, ?, 0, 'pending', ?, '')
		ON CONFLICT(name) DO UPDATE SET
			queue = excluded.queue,
			eta_ms = excluded.eta_ms,
			attempts = 0,
			state = 'pending',
			created_ms = excluded.created_ms,
			last_error = ''
		WHERE queue_tasks.state != 'pending' AND queue_tasks.created_ms <= ?
	`
	res, err := q.db.ExecContext(ctx, query, name, queueName, eta.UnixMilli(), now.UnixMilli(), now.Add(-q.window).UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to add task %s: %w", name, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", queue.ErrTaskExists, name)
	}
	return nil
}

func (q *Queue) Claim(ctx context.Context, queueName string, visibility time.Duration) (*queue.Task, error) {
	now := q.now()

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim: %w", err)
	}
	defer tx.Rollback()

	var task queue.Task
	var createdMs int64
	row := tx.QueryRowContext(ctx, `
		SELECT name, queue, attempts, created_ms, last_error
		FROM queue_tasks
		WHERE queue = ? AND state = 'pending' AND eta_ms <= ?
		ORDER BY eta_ms, created_ms
		LIMIT 1
	`, queueName, now.UnixMilli())
	err = row.Scan(&task.Name, &task.Queue, &task.Attempts, &createdMs, &task.LastError)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select task: %w", err)
	}

	task.Attempts++
	task.ETA = now.Add(visibility)
	task.CreatedAt = time.UnixMilli(createdMs).UTC()

	_, err = tx.ExecContext(ctx, `UPDATE queue_tasks SET eta_ms = ?, attempts = ? WHERE name = ?`,
		task.ETA.UnixMilli(), task.Attempts, task.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to claim task %s: %w", task.Name, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}
	return &task, nil
}

func (q *Queue) Ack(ctx context.Context, name string) error {
	return q.update(ctx, name, `UPDATE queue_tasks SET state = 'done' WHERE name = ? AND state = 'pending'`)
}

func (q *Queue) Retry(ctx context.Context, name string, eta time.Time, reason string) error {
	return q.update(ctx, name, `UPDATE queue_tasks SET eta_ms = ?, last_error = ? WHERE name = ? AND state = 'pending'`,
		eta.UnixMilli(), reason)
}

func (q *Queue) DeadLetter(ctx context.Context, name string, reason string) error {
	return q.update(ctx, name, `UPDATE queue_tasks SET state = 'dead', last_error = ? WHERE name = ? AND state = 'pending'`,
		reason)
}

func (q *Queue) update(ctx context.Context, name, query string, args ...any) error {
	args = append(args, name)
	res, err := q.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update task %s: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update task %s: %w", name, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", queue.ErrNotFound, name)
	}
	return nil
}

// Close is a no-op; the connection belongs to the entity store.
func (q *Queue) Close() error {
	return nil
}
