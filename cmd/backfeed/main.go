package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"backfeed/internal/app"
	"backfeed/internal/config"
)

var (
	configPath = flag.String("config", "config.toml", "Path to configuration file")
)

func main() {
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if _, err := app.SetupLogger(os.Stderr, cfg.App.LogLevel, cfg.App.LogFormat); err != nil {
		return err
	}
	slog.Info("Configuration loaded", "path", *configPath)

	a, err := config.NewLoader(cfg).Initialize(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}

	if err := a.Start(ctx); err != nil {
		shutdown(a)
		return err
	}

	<-ctx.Done()
	slog.Info("Shutting down gracefully")
	return shutdown(a)
}

func shutdown(a *app.App) error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := a.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	slog.Info("Stopped", "name", a.Name())
	return nil
}
