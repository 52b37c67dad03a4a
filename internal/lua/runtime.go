package lua

import (
	"context"
	"fmt"
	"sync"

	lua "github.com/yuin/gopher-lua"
)

// Runtime owns one Lua state. An LState is not goroutine safe, so every
// call into the state holds mu.
type Runtime struct {
	mu      sync.Mutex
	state   *lua.LState
	secure  bool
	loader  Loader
	modules []Module
}

type RuntimeOption func(*Runtime)

func WithLoader(loader Loader) RuntimeOption {
	return func(r *Runtime) {
		r.loader = loader
	}
}

func WithSecureMode(secure bool) RuntimeOption {
	return func(r *Runtime) {
		r.secure = secure
	}
}

func WithModules(modules ...Module) RuntimeOption {
	return func(r *Runtime) {
		r.modules = append(r.modules, modules...)
	}
}

// insecureGlobals reach the host filesystem or process.
var insecureGlobals = []string{"os", "io", "debug", "dofile", "loadfile"}

func NewRuntime(options ...RuntimeOption) (*Runtime, error) {
	r := &Runtime{secure: true}
	for _, opt := range options {
		opt(r)
	}

	r.state = lua.NewState()
	if r.secure {
		for _, name := range insecureGlobals {
			r.state.SetGlobal(name, lua.LNil)
		}
	}

	for _, m := range r.modules {
		if err := m.Register(r.state); err != nil {
			r.state.Close()
			return nil, fmt.Errorf("failed to register lua module %s: %w", m.Name(), err)
		}
	}

	if r.loader != nil {
		SetupRequire(r.state, r.loader)
	}
	return r, nil
}

func (r *Runtime) LoadScript(scriptContent string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.state.DoString(scriptContent); err != nil {
		return fmt.Errorf("failed to load script: %w", err)
	}
	return nil
}

// HasFunction reports whether the loaded script defines a global function.
func (r *Runtime) HasFunction(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.state.GetGlobal(name).(*lua.LFunction)
	return ok
}

// Require fails naming the first global function the script does not define.
func (r *Runtime) Require(names ...string) error {
	for _, name := range names {
		if !r.HasFunction(name) {
			return fmt.Errorf("script does not define %s", name)
		}
	}
	return nil
}

// Execute calls a global function with Go arguments and returns its results
// converted back to Go values. Cancelling ctx aborts the running script.
func (r *Runtime) Execute(ctx context.Context, functionName string, args ...interface{}) ([]interface{}, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == nil {
		return nil, fmt.Errorf("lua runtime is closed")
	}

	luaFn, ok := r.state.GetGlobal(functionName).(*lua.LFunction)
	if !ok {
		return nil, fmt.Errorf("function %s not found", functionName)
	}

	r.state.SetContext(ctx)
	defer r.state.RemoveContext()

	r.state.Push(luaFn)
	for _, arg := range args {
		r.state.Push(ToLuaValue(r.state, arg))
	}

	if err := r.state.PCall(len(args), lua.MultRet, nil); err != nil {
		r.state.SetTop(0)
		return nil, fmt.Errorf("lua execution error in %s: %w", functionName, err)
	}

	results := make([]interface{}, r.state.GetTop())
	for i := range results {
		results[i] = ToGoValue(r.state.Get(i + 1))
	}
	r.state.SetTop(0)

	return results, nil
}

// Records calls a function expected to return a list of tables. Scripts
// report failure the Lua way, returning nil and a message.
func (r *Runtime) Records(ctx context.Context, functionName string, args ...interface{}) ([]map[string]interface{}, error) {
	results, err := r.Execute(ctx, functionName, args...)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}

	if results[0] == nil && len(results) > 1 {
		if msg, ok := results[1].(string); ok && msg != "" {
			return nil, fmt.Errorf("%s: %s", functionName, msg)
		}
	}

	records, err := ToGoMaps(results[0])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", functionName, err)
	}
	return records, nil
}

func (r *Runtime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != nil {
		r.state.Close()
		r.state = nil
	}
	return nil
}
