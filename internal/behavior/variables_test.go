package behavior_test

import (
	"errors"
	"math"
	"testing"
	"time"

	"example.com/treefleet/internal/behavior"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSharedData_RejectsDuplicateNames(t *testing.T) {
	t.Parallel()

	_, err := behavior.NewSharedData(behavior.NewInt("x", 1), behavior.NewString("x", "a"))
	require.ErrorIs(t, err, behavior.ErrDuplicateVariable)
}

func TestSharedData_KeepsDeclarationOrder(t *testing.T) {
	t.Parallel()

	s := sharedWith(t, behavior.NewString("zone", "dock"), behavior.NewInt("battery", 80), behavior.NewBool("armed", false))

	var names []string
	for _, v := range s.Variables() {
		names = append(names, v.Name())
	}
	require.Equal(t, []string{"zone", "battery", "armed"}, names)
	require.Equal(t, map[string]any{"zone": "dock", "battery": 80, "armed": false}, s.Snapshot())
}

func TestSharedData_SetValue(t *testing.T) {
	t.Parallel()

	s := sharedWith(t,
		behavior.NewInt("count", 0),
		behavior.NewFloat("speed", 0),
		behavior.NewDuration("wait", 0),
	)

	tests := []struct {
		name  string
		key   string
		value any
		want  any
		err   error
	}{
		{name: "int exact", key: "count", value: 3, want: 3},
		{name: "int from yaml float", key: "count", value: float64(4), want: 4},
		{name: "int from int64", key: "count", value: int64(5), want: 5},
		{name: "int rejects fraction", key: "count", value: 1.5, err: behavior.ErrTypeMismatch},
		{name: "int rejects float beyond range", key: "count", value: 1e20, err: behavior.ErrTypeMismatch},
		{name: "int rejects float at 2^63", key: "count", value: float64(math.MaxInt64), err: behavior.ErrTypeMismatch},
		{name: "int rejects negative float beyond range", key: "count", value: -1e20, err: behavior.ErrTypeMismatch},
		{name: "int from uint64", key: "count", value: uint64(7), want: 7},
		{name: "int rejects large uint64", key: "count", value: uint64(math.MaxUint64), err: behavior.ErrTypeMismatch},
		{name: "float from uint64", key: "speed", value: uint64(3), want: 3.0},
		{name: "float from int", key: "speed", value: 2, want: 2.0},
		{name: "duration string", key: "wait", value: "1.5s", want: 1500 * time.Millisecond},
		{name: "duration seconds", key: "wait", value: 2, want: 2 * time.Second},
		{name: "wrong type", key: "speed", value: "fast", err: behavior.ErrTypeMismatch},
		{name: "missing", key: "nope", value: 1, err: behavior.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.SetValue(tt.key, tt.value)
			if tt.err != nil {
				require.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			got, ok := s.Value(tt.key)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSharedData_CloneIsDeep(t *testing.T) {
	t.Parallel()

	s := sharedWith(t, behavior.NewInt("x", 1))
	c := s.Clone()
	require.NoError(t, c.SetValue("x", 2))

	got, _ := s.Value("x")
	assert.Equal(t, 1, got)
	got, _ = c.Value("x")
	assert.Equal(t, 2, got)
}

func TestLookupVar(t *testing.T) {
	t.Parallel()

	s := sharedWith(t, behavior.NewInt("x", 1))

	v, ok := behavior.LookupVar[int](s, "x")
	require.True(t, ok)
	v.Set(9)
	got, _ := s.Value("x")
	assert.Equal(t, 9, got)

	_, ok = behavior.LookupVar[string](s, "x")
	assert.False(t, ok)
	_, ok = behavior.LookupVar[int](s, "y")
	assert.False(t, ok)
}

func TestNewVariable(t *testing.T) {
	t.Parallel()

	v, err := behavior.NewVariable("wait", "duration", "250ms")
	require.NoError(t, err)
	assert.Equal(t, "duration", v.TypeName())
	assert.Equal(t, 250*time.Millisecond, v.Value())

	v, err = behavior.NewVariable("flag", "bool", nil)
	require.NoError(t, err)
	assert.Equal(t, false, v.Value())

	_, err = behavior.NewVariable("pos", "vector3", nil)
	require.Error(t, err)

	_, err = behavior.NewVariable("n", "int", "seven")
	require.ErrorIs(t, err, behavior.ErrTypeMismatch)
}

func TestVar_BindRequiresMatchingType(t *testing.T) {
	t.Parallel()

	s := sharedWith(t, behavior.NewFloat("speed", 1.5))

	private := behavior.NewInt("speed", 3)
	require.False(t, private.Bind(s))
	require.False(t, private.IsShared())
	require.Equal(t, 3, private.Get())

	bound := behavior.NewFloat("speed", 0)
	require.True(t, bound.Bind(s))
	require.Equal(t, 1.5, bound.Get(), "binding adopts the store's value")

	clone := bound.Clone()
	require.False(t, clone.IsShared())
	clone.Set(7)
	require.Equal(t, 1.5, bound.Get())
}

func TestLookupError(t *testing.T) {
	t.Parallel()

	s := sharedWith(t, behavior.NewInt("x", 1))
	err := s.SetValue("x", "one")

	var lerr *behavior.LookupError
	require.True(t, errors.As(err, &lerr))
	assert.Equal(t, "x", lerr.Name)
	assert.Equal(t, "int", lerr.Want)
	assert.Equal(t, "string", lerr.Got)
	assert.Contains(t, err.Error(), `"x"`)
}
