package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"backfeed/internal/components"
)

// Runner is a background loop with an explicit start and a bounded stop.
type Runner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type Config struct {
	Name     string
	Registry *components.Registry
	// Runners start in order and stop in reverse, before the registry closes.
	Runners []Runner
	Closers []io.Closer
}

// App owns the process lifecycle: background runners on top of the
// initialized component registry.
type App struct {
	name     string
	registry *components.Registry
	runners  []Runner
	closers  []io.Closer

	mu      sync.Mutex
	running bool
	stopped bool
	started int
}

func New(config Config) *App {
	if config.Registry == nil {
		config.Registry = components.NewRegistry()
	}
	return &App{
		name:     config.Name,
		registry: config.Registry,
		runners:  config.Runners,
		closers:  config.Closers,
	}
}

func (a *App) Name() string {
	return a.name
}

func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running || a.stopped {
		return fmt.Errorf("app %s already started", a.name)
	}

	for i, r := range a.runners {
		if err := r.Start(ctx); err != nil {
			a.started = i
			a.running = true
			return fmt.Errorf("failed to start %T: %w", r, err)
		}
	}
	a.started = len(a.runners)
	a.running = true

	slog.Info("App started", "name", a.name)
	return nil
}

// Stop halts runners, then closes components and sources. It is safe to call
// after a partial Start or without Start; later calls are no-ops.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return nil
	}
	a.running = false
	a.stopped = true

	var errs []error
	for i := a.started - 1; i >= 0; i-- {
		if err := a.runners[i].Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	if err := a.registry.CloseAll(ctx); err != nil {
		errs = append(errs, err)
	}

	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}
	slog.Info("App stopped", "name", a.name)
	return nil
}

func (a *App) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}
