package components

import (
	"context"
	"fmt"

	"backfeed/internal/server"
)

// ServerComponent starts the HTTP server that receives task deliveries and
// serves feeds. It is registered once its routers exist, after storage and
// queue are up.
type ServerComponent struct {
	name    string
	config  server.Config
	routers []server.Router
	server  *server.Server
}

func NewServerComponent(name string, config server.Config, routers ...server.Router) *ServerComponent {
	return &ServerComponent{
		name:    name,
		config:  config,
		routers: routers,
	}
}

func (c *ServerComponent) Name() string {
	return ServerComponentName
}

func (c *ServerComponent) Dependencies() []string {
	return []string{StorageComponentName, QueueComponentName}
}

func (c *ServerComponent) Validate() error {
	if len(c.routers) == 0 {
		return fmt.Errorf("server: no routes registered")
	}
	return nil
}

func (c *ServerComponent) Initialize(ctx context.Context) error {
	srv := server.New(c.name, c.config, c.routers...)
	if err := srv.Start(ctx); err != nil {
		return err
	}
	c.server = srv
	return nil
}

func (c *ServerComponent) Close(ctx context.Context) error {
	if c.server == nil {
		return nil
	}
	return c.server.Shutdown(ctx)
}

func (c *ServerComponent) Server() *server.Server {
	return c.server
}
