package behavior

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mitchellh/mapstructure"
)

// Factory builds a behavior from the loosely typed params of a definition.
type Factory func(params map[string]any) (Behavior, error)

// Registry maps node type names to factories.
type Registry struct {
	mu    sync.RWMutex
	types map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{types: make(map[string]Factory)}
}

func (r *Registry) Register(name string, f Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.types[name]; ok {
		return fmt.Errorf("node type %q already registered", name)
	}
	r.types[name] = f
	return nil
}

func (r *Registry) MustRegister(name string, f Factory) {
	if err := r.Register(name, f); err != nil {
		panic(err)
	}
}

func (r *Registry) New(name string, params map[string]any) (Behavior, error) {
	r.mu.RLock()
	f, ok := r.types[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, name)
	}
	b, err := f(params)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return b, nil
}

func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.types[name]
	return ok
}

func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Stateless returns a factory for behaviors without params.
func Stateless(newFn func() Behavior) Factory {
	return func(params map[string]any) (Behavior, error) {
		if len(params) > 0 {
			return nil, fmt.Errorf("takes no params, got %d", len(params))
		}
		return newFn(), nil
	}
}

// DecodeParams decodes definition params into out. Duration strings such as
// "1.5s" are accepted and unknown keys are rejected.
func DecodeParams(params map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(params); err != nil {
		return fmt.Errorf("decode params: %w", err)
	}
	return nil
}

// RegisterBuiltins adds the composite and decorator types.
func RegisterBuiltins(r *Registry) {
	r.MustRegister("sequencer", Stateless(func() Behavior { return &Sequencer{} }))
	r.MustRegister("selector", Stateless(func() Behavior { return &Selector{} }))
	r.MustRegister("interrupt_selector", Stateless(func() Behavior { return &InterruptSelector{} }))
	r.MustRegister("random_selector", Stateless(func() Behavior { return &RandomSelector{} }))
	r.MustRegister("parallel", Stateless(func() Behavior { return &Parallel{} }))
	r.MustRegister("inverter", Stateless(func() Behavior { return &Inverter{} }))
	r.MustRegister("failure", Stateless(func() Behavior { return &Failure{} }))
	r.MustRegister("succeed", Stateless(func() Behavior { return &Succeed{} }))
	r.MustRegister("repeat", func(params map[string]any) (Behavior, error) {
		d := &Repeat{Forever: true}
		if err := DecodeParams(params, d); err != nil {
			return nil, err
		}
		if _, ok := params["count"]; ok {
			if _, set := params["forever"]; !set {
				d.Forever = false
			}
		}
		return d, nil
	})
	r.MustRegister("timeout", func(params map[string]any) (Behavior, error) {
		d := &Timeout{Duration: time.Second}
		if err := DecodeParams(params, d); err != nil {
			return nil, err
		}
		if d.Duration <= 0 {
			return nil, fmt.Errorf("duration must be positive, got %s", d.Duration)
		}
		return d, nil
	})
}
