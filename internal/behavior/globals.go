package behavior

import (
	"fmt"
	"sort"
	"sync"
)

// GlobalTable holds variables shared across tree instances. Unlike slot
// binding, every access names the variable explicitly, so lookups fail with
// ErrNotFound or ErrTypeMismatch instead of falling back.
type GlobalTable struct {
	mu   sync.RWMutex
	vars map[string]Variable
}

func NewGlobalTable() *GlobalTable {
	return &GlobalTable{
		vars: make(map[string]Variable),
	}
}

// Declare adds v to the table. Names are unique.
func (g *GlobalTable) Declare(v Variable) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.vars == nil {
		g.vars = make(map[string]Variable)
	}
	if _, ok := g.vars[v.Name()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateVariable, v.Name())
	}
	g.vars[v.Name()] = v
	return nil
}

func (g *GlobalTable) Get(name string) (any, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	v, ok := g.vars[name]
	if !ok {
		return nil, notFound("get", name)
	}
	return v.Value(), nil
}

// Set writes an existing variable. Undeclared names are not created.
func (g *GlobalTable) Set(name string, value any) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	v, ok := g.vars[name]
	if !ok {
		return notFound("set", name)
	}
	return v.SetValue(value)
}

func (g *GlobalTable) Has(name string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.vars[name]
	return ok
}

// Names returns the declared names in sorted order.
func (g *GlobalTable) Names() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	names := make([]string, 0, len(g.vars))
	for name := range g.vars {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (g *GlobalTable) Snapshot() map[string]any {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make(map[string]any, len(g.vars))
	for name, v := range g.vars {
		out[name] = v.Value()
	}
	return out
}

// Reset drops every declared variable.
func (g *GlobalTable) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.vars = make(map[string]Variable)
}

// GetAs reads name as a T.
func GetAs[T any](g *GlobalTable, name string) (T, error) {
	var zero T
	g.mu.RLock()
	v, ok := g.vars[name]
	var val any
	if ok {
		val = v.Value()
	}
	g.mu.RUnlock()
	if !ok {
		return zero, notFound("get", name)
	}
	t, ok := val.(T)
	if !ok {
		return zero, mismatch("get", name, typeName[T](), v.TypeName())
	}
	return t, nil
}
