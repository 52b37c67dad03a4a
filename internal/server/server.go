package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// Router is implemented by handler groups that mount their routes on the
// shared mux.
type Router interface {
	Routes(mux *http.ServeMux)
}

type Config struct {
	Port string
	// WriteTimeout bounds one request, so it must cover the longest task.
	WriteTimeout time.Duration
}

type Server struct {
	name   string
	config Config
	mux    *http.ServeMux
	server *http.Server
	addr   string
}

func New(name string, config Config, routers ...Router) *Server {
	if config.Port == "" {
		config.Port = "8080"
	}

	mux := http.NewServeMux()
	for _, r := range routers {
		r.Routes(mux)
	}

	return &Server{
		name:   name,
		config: config,
		mux:    mux,
	}
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

// Addr is the bound address once Start has returned.
func (s *Server) Addr() string {
	return s.addr
}

// Start binds the listener synchronously and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", ":"+s.config.Port)
	if err != nil {
		return fmt.Errorf("server %s: failed to listen on port %s: %w", s.name, s.config.Port, err)
	}
	s.addr = ln.Addr().String()

	s.server = &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.config.WriteTimeout,
	}

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server stopped", "name", s.name, "error", err)
		}
	}()

	slog.Info("Server listening", "name", s.name, "addr", s.addr)
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server shutdown error", "name", s.name, "error", err)
		return err
	}
	return nil
}
