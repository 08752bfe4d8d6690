package behavior_test

import (
	"testing"
	"time"

	"example.com/treefleet/internal/behavior"
	"github.com/stretchr/testify/require"
)

func TestResultDecorators(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		decorator func() behavior.Behavior
		child     behavior.Status
		want      behavior.Status
	}{
		{"inverter success", func() behavior.Behavior { return &behavior.Inverter{} }, success, failure},
		{"inverter failure", func() behavior.Behavior { return &behavior.Inverter{} }, failure, success},
		{"inverter running", func() behavior.Behavior { return &behavior.Inverter{} }, running, running},
		{"failure success", func() behavior.Behavior { return &behavior.Failure{} }, success, failure},
		{"failure failure", func() behavior.Behavior { return &behavior.Failure{} }, failure, failure},
		{"failure running", func() behavior.Behavior { return &behavior.Failure{} }, running, running},
		{"succeed failure", func() behavior.Behavior { return &behavior.Succeed{} }, failure, success},
		{"succeed success", func() behavior.Behavior { return &behavior.Succeed{} }, success, success},
		{"succeed running", func() behavior.Behavior { return &behavior.Succeed{} }, running, running},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			inst := instance(t, build(t, tt.decorator(), script(tt.child)))
			require.Equal(t, tt.want, tick(t, inst))
		})
	}
}

func TestRepeat_CountedSucceedsOnLastResolution(t *testing.T) {
	t.Parallel()

	child := script(success)
	inst := instance(t, build(t, &behavior.Repeat{Count: 3}, child))

	require.Equal(t, running, tick(t, inst))
	require.Equal(t, running, tick(t, inst))
	require.Equal(t, success, tick(t, inst))
	require.Equal(t, 3, child.starts, "each resolution starts a fresh child activation")
	require.Equal(t, 3, child.ends)
}

func TestRepeat_CountsFailuresToo(t *testing.T) {
	t.Parallel()

	inst := instance(t, build(t, &behavior.Repeat{Count: 2}, script(failure)))

	require.Equal(t, running, tick(t, inst))
	require.Equal(t, success, tick(t, inst))
}

func TestRepeat_RunningChildDoesNotCount(t *testing.T) {
	t.Parallel()

	inst := instance(t, build(t, &behavior.Repeat{Count: 1}, script(running, running, success)))

	require.Equal(t, running, tick(t, inst))
	require.Equal(t, running, tick(t, inst))
	require.Equal(t, success, tick(t, inst))
}

func TestRepeat_ForeverNeverTerminates(t *testing.T) {
	t.Parallel()

	child := script(success)
	inst := instance(t, build(t, &behavior.Repeat{Forever: true, Count: 2}, child))

	for range 10 {
		require.Equal(t, running, tick(t, inst))
	}
	require.Equal(t, 10, child.ends)
}

func TestRepeat_CounterResetsPerActivation(t *testing.T) {
	t.Parallel()

	inst := instance(t, build(t, &behavior.Repeat{Count: 2}, script(success)))

	require.Equal(t, running, tick(t, inst))
	require.Equal(t, success, tick(t, inst))
	require.Equal(t, running, tick(t, inst))
	require.Equal(t, success, tick(t, inst))
}

func TestTimeout_FailsWithoutTickingChild(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	child := script(running)
	def := build(t, &behavior.Timeout{Duration: time.Second}, child)
	inst := instance(t, def, behavior.WithClock(clock.Now))

	require.Equal(t, running, tick(t, inst))
	clock.Advance(500 * time.Millisecond)
	require.Equal(t, running, tick(t, inst))
	require.Equal(t, 2, child.updates)

	clock.Advance(600 * time.Millisecond)
	require.Equal(t, failure, tick(t, inst))
	require.Equal(t, 2, child.updates, "the child is not ticked on the tick the timeout fires")
	require.Equal(t, 1, child.ends, "the running child is aborted")
	require.False(t, inst.Root().Child(0).Child(0).Started())
}

func TestTimeout_TimerResetsAfterFiring(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	child := script(running)
	inst := instance(t, build(t, &behavior.Timeout{Duration: time.Second}, child), behavior.WithClock(clock.Now))

	require.Equal(t, running, tick(t, inst))
	clock.Advance(1500 * time.Millisecond)
	require.Equal(t, failure, tick(t, inst))

	clock.Advance(900 * time.Millisecond)
	require.Equal(t, running, tick(t, inst), "a fresh window starts after the timeout fired")
	require.Equal(t, 2, child.starts)
}

func TestTimeout_PassesChildResultThrough(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	inst := instance(t, build(t, &behavior.Timeout{Duration: time.Second}, script(running, success)), behavior.WithClock(clock.Now))

	require.Equal(t, running, tick(t, inst))
	clock.Advance(time.Second)
	require.Equal(t, success, tick(t, inst), "elapsed must exceed the duration to fire")
}

func TestDecorator_RejectsSecondChild(t *testing.T) {
	t.Parallel()

	def := behavior.NewTree("test", nil)
	inv, err := def.AddChild(def.Root(), "inverter", &behavior.Inverter{})
	require.NoError(t, err)
	_, err = def.AddChild(inv, "probe", &probe{rec: script(success)})
	require.NoError(t, err)
	_, err = def.AddChild(inv, "probe", &probe{rec: script(success)})
	require.ErrorIs(t, err, behavior.ErrChildLimit)

	_, err = def.AddChild(def.Root(), "probe", &probe{rec: script(success)})
	require.ErrorIs(t, err, behavior.ErrChildLimit, "root holds a single child")
}
