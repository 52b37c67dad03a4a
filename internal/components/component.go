package components

import (
	"context"
	"fmt"
	"log/slog"

	"backfeed/internal/graph"
)

const (
	StorageComponentName  = "storage"
	QueueComponentName    = "queue"
	PlatformComponentName = "platforms"
	ServerComponentName   = "server"
)

type IComponent interface {
	Name() string
	Dependencies() []string
	Validate() error
	Initialize(ctx context.Context) error
	Close(ctx context.Context) error
}

// Registry initializes components in dependency order and closes them in
// reverse. Components may be registered in stages: each InitializeAll call
// only initializes the ones not yet initialized.
type Registry struct {
	components  map[string]IComponent
	initialized map[string]bool
	order       []string
}

func NewRegistry() *Registry {
	return &Registry{
		components:  make(map[string]IComponent),
		initialized: make(map[string]bool),
		order:       make([]string, 0),
	}
}

func (r *Registry) Register(component IComponent) error {
	name := component.Name()
	if _, exists := r.components[name]; exists {
		return fmt.Errorf("component %s already registered", name)
	}
	r.components[name] = component
	return nil
}

func (r *Registry) Get(name string) IComponent {
	comp, exists := r.components[name]
	if !exists {
		panic(fmt.Sprintf("component %s not found", name))
	}
	return comp
}

func (r *Registry) InitializeAll(ctx context.Context) error {
	nodes := make(map[string]graph.Node)
	for name, comp := range r.components {
		nodes[name] = &componentNode{comp: comp}
	}

	order, err := graph.TopologicalSort(nodes)
	if err != nil {
		return err
	}

	for _, name := range order {
		if r.initialized[name] {
			continue
		}
		if err := r.components[name].Validate(); err != nil {
			return fmt.Errorf("component %s validation failed: %w", name, err)
		}
	}

	for _, name := range order {
		if r.initialized[name] {
			continue
		}
		if err := r.components[name].Initialize(ctx); err != nil {
			return fmt.Errorf("component %s initialization failed: %w", name, err)
		}
		r.initialized[name] = true
		r.order = append(r.order, name)
		slog.Debug("Component initialized", "component", name)
	}

	return nil
}

type componentNode struct {
	comp IComponent
}

func (cn *componentNode) GetName() string {
	return cn.comp.Name()
}

func (cn *componentNode) GetDependencies() []string {
	return cn.comp.Dependencies()
}

func (r *Registry) CloseAll(ctx context.Context) error {
	for i := len(r.order) - 1; i >= 0; i-- {
		name := r.order[i]
		if err := r.components[name].Close(ctx); err != nil {
			slog.Error("Error closing component", "component", name, "error", err)
		}
		delete(r.initialized, name)
	}
	r.order = r.order[:0]
	return nil
}
