package frames

import (
	"context"
	"sync"
)

// Module holds package-level bindings that every frame entered under it can
// see, the way a function sees its package's variables.
type Module struct {
	name string
	mu   sync.RWMutex
	vars map[string]any
}

// NewModule creates an empty module.
func NewModule(name string) *Module {
	return &Module{name: name, vars: make(map[string]any)}
}

// Name returns the module name.
func (m *Module) Name() string { return m.name }

// Set binds a module-level name.
func (m *Module) Set(name string, value any) *Module {
	m.mu.Lock()
	m.vars[name] = value
	m.mu.Unlock()
	return m
}

// Get returns a module-level binding.
func (m *Module) Get(name string) (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.vars[name]
	return v, ok
}

// Enter is Enter with m attached to the returned context.
func (m *Module) Enter(ctx context.Context, fn string, kv ...any) (context.Context, *Frame) {
	return Enter(WithModule(ctx, m), fn, kv...)
}

func (m *Module) copyInto(dst map[string]any) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for k, v := range m.vars {
		dst[k] = v
	}
}

// WithModule attaches m to ctx. Frames entered from the returned context (and
// contexts derived from it) see m's bindings.
func WithModule(ctx context.Context, m *Module) context.Context {
	return context.WithValue(ctx, moduleKey, m)
}
