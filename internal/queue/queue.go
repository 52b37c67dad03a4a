package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrTaskExists is returned by Add when the name is outstanding or was
	// used within the dedup window.
	ErrTaskExists = errors.New("task name already exists")
	ErrStopped    = errors.New("queue stopped")
	ErrNotFound   = errors.New("task not found")
)

type Task struct {
	Name      string
	Queue     string
	ETA       time.Time
	Attempts  int
	CreatedAt time.Time
	LastError string
}

// RetryCount is the number of earlier deliveries of this task.
func (t *Task) RetryCount() int {
	if t.Attempts <= 1 {
		return 0
	}
	return t.Attempts - 1
}

// Queue is an at-least-once store of named, delayed tasks.
type Queue interface {
	Add(ctx context.Context, name, queue string, countdown time.Duration) error
	// Claim returns the next due task of queue and hides it for visibility,
	// after which it is delivered again unless acked. It returns nil, nil when
	// nothing is due.
	Claim(ctx context.Context, queue string, visibility time.Duration) (*Task, error)
	Ack(ctx context.Context, name string) error
	Retry(ctx context.Context, name string, eta time.Time, reason string) error
	DeadLetter(ctx context.Context, name string, reason string) error
	Close() error
}

type Options struct {
	// DedupWindow is how long a created task name stays reserved, counted
	// from creation. After it passes and the task is no longer pending the
	// name may be recreated.
	DedupWindow time.Duration
	Now         func() time.Time
}

func (o Options) Clock() func() time.Time {
	if o.Now != nil {
		return o.Now
	}
	return time.Now
}

type DuplicatePolicy string

const (
	DuplicateIgnore DuplicatePolicy = "ignore"
	DuplicateFail   DuplicatePolicy = "fail"
)

func ParseDuplicatePolicy(s string) (DuplicatePolicy, error) {
	switch DuplicatePolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", DuplicateIgnore:
		return DuplicateIgnore, nil
	case DuplicateFail:
		return DuplicateFail, nil
	}
	return "", fmt.Errorf("unknown duplicate policy %q", s)
}

// Apply maps the result of Add under the policy. Under DuplicateIgnore an
// ErrTaskExists is absorbed.
func (p DuplicatePolicy) Apply(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrTaskExists) && p != DuplicateFail {
		return nil
	}
	return err
}
