package behavior_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"example.com/treefleet/internal/behavior"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGlobalTable_ExplicitErrors(t *testing.T) {
	t.Parallel()

	g := behavior.NewGlobalTable()
	require.NoError(t, g.Declare(behavior.NewInt("alarm_level", 0)))
	require.ErrorIs(t, g.Declare(behavior.NewString("alarm_level", "")), behavior.ErrDuplicateVariable)

	_, err := g.Get("missing")
	require.ErrorIs(t, err, behavior.ErrNotFound)

	require.ErrorIs(t, g.Set("missing", 1), behavior.ErrNotFound)
	require.False(t, g.Has("missing"), "set never creates variables")

	require.ErrorIs(t, g.Set("alarm_level", "high"), behavior.ErrTypeMismatch)

	_, err = behavior.GetAs[string](g, "alarm_level")
	require.ErrorIs(t, err, behavior.ErrTypeMismatch)
	_, err = behavior.GetAs[int](g, "missing")
	require.ErrorIs(t, err, behavior.ErrNotFound)
}

func TestGlobalTable_SetAndGet(t *testing.T) {
	t.Parallel()

	g := behavior.NewGlobalTable()
	require.NoError(t, g.Declare(behavior.NewInt("alarm_level", 0)))
	require.NoError(t, g.Declare(behavior.NewString("mode", "idle")))

	require.NoError(t, g.Set("alarm_level", float64(2)))
	level, err := behavior.GetAs[int](g, "alarm_level")
	require.NoError(t, err)
	assert.Equal(t, 2, level)

	mode, err := g.Get("mode")
	require.NoError(t, err)
	assert.Equal(t, "idle", mode)

	assert.Equal(t, []string{"alarm_level", "mode"}, g.Names())
	assert.Equal(t, map[string]any{"alarm_level": 2, "mode": "idle"}, g.Snapshot())

	g.Reset()
	assert.Empty(t, g.Names())
}

func TestGlobalTable_VisibleAcrossInstances(t *testing.T) {
	t.Parallel()

	g := behavior.NewGlobalTable()
	require.NoError(t, g.Declare(behavior.NewBool("halt", false)))

	def := behavior.NewTree("halt", nil)
	_, err := def.AddChild(def.Root(), "halt?", &behavior.Condition{Fn: func(_ context.Context, n *behavior.Node) bool {
		halt, err := behavior.GetAs[bool](n.Globals(), "halt")
		return err == nil && halt
	}})
	require.NoError(t, err)

	a := instance(t, def, behavior.WithGlobals(g))
	b := instance(t, def, behavior.WithGlobals(g))
	require.Equal(t, failure, tick(t, a))

	require.NoError(t, g.Set("halt", true))
	require.Equal(t, success, tick(t, a))
	require.Equal(t, success, tick(t, b))
}

func TestGlobalTable_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	g := behavior.NewGlobalTable()
	for i := range 4 {
		require.NoError(t, g.Declare(behavior.NewInt(fmt.Sprintf("v%d", i), 0)))
	}

	var wg sync.WaitGroup
	for w := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			name := fmt.Sprintf("v%d", w%4)
			for i := range 100 {
				_ = g.Set(name, i)
				_, _ = g.Get(name)
				_ = g.Snapshot()
			}
		}()
	}
	wg.Wait()

	for _, name := range g.Names() {
		v, err := behavior.GetAs[int](g, name)
		require.NoError(t, err)
		assert.Equal(t, 99, v)
	}
}
