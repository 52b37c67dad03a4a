package queue

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	HeaderTaskName       = "X-Queue-TaskName"
	HeaderTaskRetryCount = "X-Queue-TaskRetryCount"
	// HeaderTaskTerminal on a failed response marks an outcome that
	// redelivery is not expected to fix.
	HeaderTaskTerminal = "X-Queue-Terminal"
)

type DispatcherConfig struct {
	BaseURL      string
	Queues       []string
	Workers      int
	Rate         float64
	PollInterval time.Duration
	Visibility   time.Duration
	TaskDeadline time.Duration
	RetryMax     int
	// TerminalRetryMax caps attempts for responses flagged terminal.
	TerminalRetryMax int
	RetryBase        time.Duration
	RetryMaxDelay    time.Duration
	Now              func() time.Time
}

// Dispatcher claims due tasks and delivers each as an HTTP POST to
// <base_url>/_queue/<queue>.
type Dispatcher struct {
	q       Queue
	cfg     DispatcherConfig
	client  *http.Client
	limiter *rate.Limiter
	now     func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewDispatcher(q Queue, cfg DispatcherConfig, client *http.Client) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.Visibility <= 0 {
		cfg.Visibility = 15 * time.Minute
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 2 * time.Second
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = time.Hour
	}
	if client == nil {
		client = &http.Client{}
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.Rate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Rate), max(1, int(math.Ceil(cfg.Rate))))
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Dispatcher{
		q:       q,
		cfg:     cfg,
		client:  client,
		limiter: limiter,
		now:     now,
	}
}

func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return fmt.Errorf("dispatcher already started")
	}

	runCtx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel

	for _, queueName := range d.cfg.Queues {
		for i := 0; i < d.cfg.Workers; i++ {
			d.wg.Add(1)
			go d.worker(runCtx, queueName)
		}
	}

	slog.Info("Dispatcher started", "queues", d.cfg.Queues, "workers", d.cfg.Workers)
	return nil
}

// Stop cancels the workers and waits for in-flight deliveries, bounded by ctx.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	cancel := d.cancel
	d.cancel = nil
	d.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("Dispatcher stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("dispatcher stop: %w", ctx.Err())
	}
}

func (d *Dispatcher) worker(ctx context.Context, queueName string) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		// Drain everything that is due before sleeping again.
		for {
			worked, err := d.RunOnce(ctx, queueName)
			if err != nil && ctx.Err() == nil {
				slog.Error("Dispatch failed", "queue", queueName, "error", err)
			}
			if !worked || err != nil {
				break
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce claims and delivers at most one task. It reports whether a task
// was claimed.
func (d *Dispatcher) RunOnce(ctx context.Context, queueName string) (bool, error) {
	task, err := d.q.Claim(ctx, queueName, d.cfg.Visibility)
	if err != nil {
		return false, err
	}
	if task == nil {
		return false, nil
	}

	if err := d.limiter.Wait(ctx); err != nil {
		// The claim expires after the visibility timeout and the task is redelivered.
		return true, err
	}

	status, body, terminal, err := d.deliver(ctx, task)
	if err == nil && status >= 200 && status < 300 {
		slog.Debug("Task delivered", "queue", queueName, "task", task.Name, "attempt", task.Attempts)
		return true, d.q.Ack(ctx, task.Name)
	}

	var reason string
	if err != nil {
		reason = err.Error()
	} else {
		reason = fmt.Sprintf("status %d: %s", status, body)
	}

	if d.cfg.RetryMax > 0 && task.Attempts >= d.cfg.RetryMax {
		slog.Error("Task exhausted retries", "queue", queueName, "task", task.Name, "attempts", task.Attempts, "reason", reason)
		return true, d.q.DeadLetter(ctx, task.Name, reason)
	}
	if terminal && d.cfg.TerminalRetryMax > 0 && task.Attempts >= d.cfg.TerminalRetryMax {
		slog.Error("Task failed terminally", "queue", queueName, "task", task.Name, "attempts", task.Attempts, "reason", reason)
		return true, d.q.DeadLetter(ctx, task.Name, reason)
	}

	delay := d.Backoff(task.Attempts)
	slog.Warn("Task delivery failed, retrying", "queue", queueName, "task", task.Name, "attempt", task.Attempts, "delay", delay, "reason", reason)
	return true, d.q.Retry(ctx, task.Name, d.now().Add(delay), reason)
}

// Backoff returns retry_base * 2^(attempts-1), capped at retry_max_delay.
func (d *Dispatcher) Backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	delay := time.Duration(float64(d.cfg.RetryBase) * math.Pow(2, float64(attempts-1)))
	if delay <= 0 || delay > d.cfg.RetryMaxDelay {
		return d.cfg.RetryMaxDelay
	}
	return delay
}

// deliver reports the response status, a body excerpt and whether the
// handler flagged the failure terminal.
func (d *Dispatcher) deliver(ctx context.Context, task *Task) (int, string, bool, error) {
	if d.cfg.TaskDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.TaskDeadline)
		defer cancel()
	}

	url := strings.TrimRight(d.cfg.BaseURL, "/") + "/_queue/" + task.Queue
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return 0, "", false, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set(HeaderTaskName, task.Name)
	req.Header.Set(HeaderTaskRetryCount, strconv.Itoa(task.RetryCount()))

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, "", false, fmt.Errorf("delivery request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	terminal := resp.Header.Get(HeaderTaskTerminal) == "true"
	return resp.StatusCode, strings.TrimSpace(string(body)), terminal, nil
}
