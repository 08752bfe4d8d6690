package behavior

import (
	"fmt"
	"math"
	"reflect"
	"time"
)

// Variable is a named, typed, boxed value cell held by a SharedData store or
// a GlobalTable.
type Variable interface {
	Name() string
	TypeName() string
	Value() any
	SetValue(value any) error
	CloneVariable() Variable
}

// Slot is a node-side variable reference that can be re-pointed at a store
// entry of the same name and type.
type Slot interface {
	Name() string
	TypeName() string
	Bind(store *SharedData) bool
	IsShared() bool
}

// Slotted is the explicit slot registration of a behavior type. Binding
// walks the returned slots instead of inspecting struct fields.
type Slotted interface {
	Slots() []Slot
}

type cell[T any] struct {
	value T
}

// Var is a typed variable. Until bound it owns a private cell; after a
// successful Bind it aliases the store's cell, so writes through any slot
// sharing the name are visible to all of them.
type Var[T any] struct {
	name   string
	cell   *cell[T]
	shared bool
}

func NewVar[T any](name string, value T) *Var[T] {
	return &Var[T]{name: name, cell: &cell[T]{value: value}}
}

func NewInt(name string, value int) *Var[int] { return NewVar(name, value) }

func NewFloat(name string, value float64) *Var[float64] { return NewVar(name, value) }

func NewString(name string, value string) *Var[string] { return NewVar(name, value) }

func NewBool(name string, value bool) *Var[bool] { return NewVar(name, value) }

func NewDuration(name string, value time.Duration) *Var[time.Duration] {
	return NewVar(name, value)
}

func (v *Var[T]) Name() string {
	if v == nil {
		return ""
	}
	return v.name
}

func (v *Var[T]) TypeName() string { return typeName[T]() }

func (v *Var[T]) Get() T {
	if v == nil || v.cell == nil {
		var zero T
		return zero
	}
	return v.cell.value
}

func (v *Var[T]) Set(value T) {
	if v.cell == nil {
		v.cell = &cell[T]{}
	}
	v.cell.value = value
}

func (v *Var[T]) Value() any { return v.Get() }

func (v *Var[T]) SetValue(value any) error {
	t, ok := coerce[T](value)
	if !ok {
		return mismatch("set", v.name, v.TypeName(), fmt.Sprintf("%T", value))
	}
	v.Set(t)
	return nil
}

// Bind aliases v to the store entry with the same name and type. It returns
// false and leaves v private when the name is empty, absent, or typed
// differently.
func (v *Var[T]) Bind(store *SharedData) bool {
	if v == nil || v.name == "" || store == nil {
		return false
	}
	entry, ok := store.Lookup(v.name)
	if !ok {
		return false
	}
	other, ok := entry.(*Var[T])
	if !ok {
		return false
	}
	if other.cell == nil {
		other.cell = &cell[T]{}
	}
	v.cell = other.cell
	v.shared = true
	return true
}

func (v *Var[T]) IsShared() bool { return v != nil && v.shared }

// Clone copies the current value into a new private cell.
func (v *Var[T]) Clone() *Var[T] {
	if v == nil {
		return nil
	}
	return NewVar(v.name, v.Get())
}

func (v *Var[T]) CloneVariable() Variable { return v.Clone() }

func (v *Var[T]) String() string {
	return fmt.Sprintf("%s:%s=%v", v.name, v.TypeName(), v.Get())
}

// SharedData is the ordered variable store of one tree.
type SharedData struct {
	vars  []Variable
	index map[string]int
}

func NewSharedData(vars ...Variable) (*SharedData, error) {
	s := &SharedData{index: make(map[string]int)}
	for _, v := range vars {
		if err := s.Add(v); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *SharedData) Add(v Variable) error {
	if s.index == nil {
		s.index = make(map[string]int)
	}
	if _, ok := s.index[v.Name()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateVariable, v.Name())
	}
	s.index[v.Name()] = len(s.vars)
	s.vars = append(s.vars, v)
	return nil
}

func (s *SharedData) Lookup(name string) (Variable, bool) {
	if s == nil {
		return nil, false
	}
	i, ok := s.index[name]
	if !ok {
		return nil, false
	}
	return s.vars[i], true
}

func (s *SharedData) Value(name string) (any, bool) {
	v, ok := s.Lookup(name)
	if !ok {
		return nil, false
	}
	return v.Value(), true
}

func (s *SharedData) SetValue(name string, value any) error {
	v, ok := s.Lookup(name)
	if !ok {
		return notFound("set", name)
	}
	return v.SetValue(value)
}

func (s *SharedData) Variables() []Variable {
	if s == nil {
		return nil
	}
	out := make([]Variable, len(s.vars))
	copy(out, s.vars)
	return out
}

func (s *SharedData) Len() int {
	if s == nil {
		return 0
	}
	return len(s.vars)
}

// Snapshot returns the current values keyed by name.
func (s *SharedData) Snapshot() map[string]any {
	out := make(map[string]any, s.Len())
	if s == nil {
		return out
	}
	for _, v := range s.vars {
		out[v.Name()] = v.Value()
	}
	return out
}

// Clone deep-copies every entry into a new store with the same order.
func (s *SharedData) Clone() *SharedData {
	c := &SharedData{index: make(map[string]int, s.Len())}
	if s == nil {
		return c
	}
	for i, v := range s.vars {
		c.vars = append(c.vars, v.CloneVariable())
		c.index[v.Name()] = i
	}
	return c
}

// LookupVar returns the typed store entry for name.
func LookupVar[T any](s *SharedData, name string) (*Var[T], bool) {
	v, ok := s.Lookup(name)
	if !ok {
		return nil, false
	}
	t, ok := v.(*Var[T])
	return t, ok
}

// NewVariable builds a boxed variable from a declared type name, as used by
// tree definitions and agent config.
func NewVariable(name, typ string, value any) (Variable, error) {
	var v Variable
	switch typ {
	case "int":
		v = NewInt(name, 0)
	case "float":
		v = NewFloat(name, 0)
	case "string":
		v = NewString(name, "")
	case "bool":
		v = NewBool(name, false)
	case "duration":
		v = NewDuration(name, 0)
	default:
		return nil, fmt.Errorf("variable %q: unsupported type %q", name, typ)
	}
	if value == nil {
		return v, nil
	}
	if err := v.SetValue(value); err != nil {
		return nil, err
	}
	return v, nil
}

func typeName[T any]() string {
	var zero T
	switch any(zero).(type) {
	case int:
		return "int"
	case float64:
		return "float"
	case string:
		return "string"
	case bool:
		return "bool"
	case time.Duration:
		return "duration"
	}
	return reflect.TypeFor[T]().String()
}

// coerce converts wire-format values (YAML/JSON numbers, duration strings)
// into T where the conversion is lossless.
func coerce[T any](value any) (T, bool) {
	if t, ok := value.(T); ok {
		return t, true
	}
	var zero T
	var out any
	switch any(zero).(type) {
	case int:
		switch x := value.(type) {
		case int64:
			out = int(x)
		case int32:
			out = int(x)
		case uint64:
			if x <= math.MaxInt64 {
				out = int(x)
			}
		case float64:
			// float64(math.MaxInt64) rounds up to 2^63, which int cannot hold.
			if x == math.Trunc(x) && x >= math.MinInt64 && x < math.MaxInt64 {
				out = int(x)
			}
		}
	case float64:
		switch x := value.(type) {
		case int:
			out = float64(x)
		case int64:
			out = float64(x)
		case uint64:
			out = float64(x)
		case float32:
			out = float64(x)
		}
	case time.Duration:
		switch x := value.(type) {
		case string:
			if d, err := time.ParseDuration(x); err == nil {
				out = d
			}
		case int:
			out = time.Duration(x) * time.Second
		case float64:
			out = time.Duration(x * float64(time.Second))
		}
	}
	if out == nil {
		return zero, false
	}
	return out.(T), true
}
