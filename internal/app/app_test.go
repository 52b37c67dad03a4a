package app

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"strings"
	"testing"
)

type fakeRunner struct {
	name     string
	events   *[]string
	startErr error
}

func (f *fakeRunner) Start(ctx context.Context) error {
	*f.events = append(*f.events, "start "+f.name)
	return f.startErr
}

func (f *fakeRunner) Stop(ctx context.Context) error {
	*f.events = append(*f.events, "stop "+f.name)
	return nil
}

type fakeCloser struct {
	events *[]string
}

func (f fakeCloser) Close() error {
	*f.events = append(*f.events, "close source")
	return nil
}

func TestAppLifecycleOrder(t *testing.T) {
	ctx := context.Background()
	var events []string
	a := New(Config{
		Name:    "test",
		Runners: []Runner{&fakeRunner{name: "seeder", events: &events}, &fakeRunner{name: "dispatcher", events: &events}},
		Closers: []io.Closer{fakeCloser{events: &events}},
	})

	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !a.IsRunning() {
		t.Fatal("expected running")
	}
	if err := a.Start(ctx); err == nil {
		t.Fatal("second Start should fail")
	}
	if err := a.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := a.Stop(ctx); err != nil {
		t.Fatalf("second Stop: %v", err)
	}

	want := []string{"start seeder", "start dispatcher", "stop dispatcher", "stop seeder", "close source"}
	if !reflect.DeepEqual(events, want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
}

func TestAppPartialStart(t *testing.T) {
	ctx := context.Background()
	var events []string
	a := New(Config{
		Name: "test",
		Runners: []Runner{
			&fakeRunner{name: "seeder", events: &events},
			&fakeRunner{name: "dispatcher", events: &events, startErr: errors.New("boom")},
		},
	})

	if err := a.Start(ctx); err == nil {
		t.Fatal("expected Start error")
	}
	a.Stop(ctx)

	want := []string{"start seeder", "start dispatcher", "stop seeder"}
	if !reflect.DeepEqual(events, want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
}

func TestSetupLogger(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	logger, err := SetupLogger(&buf, "warn", "json")
	if err != nil {
		t.Fatalf("SetupLogger: %v", err)
	}
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")

	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, `"msg":"shown"`) {
		t.Fatalf("output = %q", out)
	}

	for _, tt := range []struct{ level, format string }{{"loud", "text"}, {"info", "xml"}} {
		if _, err := SetupLogger(&buf, tt.level, tt.format); err == nil {
			t.Errorf("SetupLogger(%q, %q) should fail", tt.level, tt.format)
		}
	}
}
