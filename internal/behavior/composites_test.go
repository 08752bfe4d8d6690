package behavior_test

import (
	"math/rand/v2"
	"testing"

	"example.com/treefleet/internal/behavior"
	"github.com/stretchr/testify/require"
)

func TestSequencer_FailureShortCircuits(t *testing.T) {
	t.Parallel()

	a, b, c := script(success), script(failure), script(success)
	inst := instance(t, build(t, &behavior.Sequencer{}, a, b, c))

	require.Equal(t, failure, tick(t, inst))
	require.Equal(t, 1, a.updates)
	require.Equal(t, 1, b.updates)
	require.Equal(t, 0, c.updates, "children after a failure must not be ticked")
}

func TestSequencer_SucceedsWhenAllSucceed(t *testing.T) {
	t.Parallel()

	a, b := script(success), script(success)
	inst := instance(t, build(t, &behavior.Sequencer{}, a, b))

	require.Equal(t, success, tick(t, inst))
	require.Equal(t, 1, a.ends)
	require.Equal(t, 1, b.ends)
}

func TestSequencer_ResumesRunningChild(t *testing.T) {
	t.Parallel()

	a, b := script(success), script(running, running, success)
	inst := instance(t, build(t, &behavior.Sequencer{}, a, b))

	require.Equal(t, running, tick(t, inst))
	require.Equal(t, running, tick(t, inst))
	require.Equal(t, success, tick(t, inst))

	require.Equal(t, 1, a.updates, "first child must not be re-run while the second is running")
	require.Equal(t, 3, b.updates)
	require.Equal(t, 1, b.starts, "resumed child keeps its activation")
	require.Equal(t, 1, b.ends)
}

func TestSequencer_FreshActivationRestartsCursor(t *testing.T) {
	t.Parallel()

	a, b := script(success), script(failure)
	inst := instance(t, build(t, &behavior.Sequencer{}, a, b))

	require.Equal(t, failure, tick(t, inst))
	require.Equal(t, failure, tick(t, inst))
	require.Equal(t, 2, a.updates)
	require.Equal(t, 2, b.updates)
}

func TestSelector_SuccessShortCircuits(t *testing.T) {
	t.Parallel()

	a, b, c := script(failure), script(success), script(success)
	inst := instance(t, build(t, &behavior.Selector{}, a, b, c))

	require.Equal(t, success, tick(t, inst))
	require.Equal(t, 1, a.updates)
	require.Equal(t, 1, b.updates)
	require.Equal(t, 0, c.updates)
}

func TestSelector_FailsOnlyWhenAllFail(t *testing.T) {
	t.Parallel()

	a, b := script(failure), script(failure)
	inst := instance(t, build(t, &behavior.Selector{}, a, b))

	require.Equal(t, failure, tick(t, inst))
	require.Equal(t, 1, a.updates)
	require.Equal(t, 1, b.updates)
}

func TestSelector_ResumesRunningChild(t *testing.T) {
	t.Parallel()

	a, b := script(failure), script(running, success)
	inst := instance(t, build(t, &behavior.Selector{}, a, b))

	require.Equal(t, running, tick(t, inst))
	require.Equal(t, success, tick(t, inst))
	require.Equal(t, 1, a.updates)
	require.Equal(t, 2, b.updates)
}

func TestParallel_FailureAbortsRunningSiblings(t *testing.T) {
	t.Parallel()

	a, b, c := script(running), script(failure), script(running)
	def := build(t, &behavior.Parallel{}, a, b, c)
	inst := instance(t, def)

	require.Equal(t, failure, tick(t, inst))

	children := inst.Root().Child(0).Children()
	require.Equal(t, 1, a.ends, "running sibling must be aborted in the same tick")
	require.False(t, children[0].Started())
	require.Equal(t, running, children[0].Result())
	require.Equal(t, 0, c.updates)
	require.Equal(t, 0, c.ends, "a sibling that never started has nothing to end")
	require.False(t, children[2].Started())
}

func TestParallel_AbortsSiblingsRunningFromEarlierTicks(t *testing.T) {
	t.Parallel()

	a, b := script(running, failure), script(running)
	inst := instance(t, build(t, &behavior.Parallel{}, a, b))

	require.Equal(t, running, tick(t, inst))
	require.Equal(t, failure, tick(t, inst))
	require.Equal(t, 1, b.updates, "the failing child is first, so b is not ticked again")
	require.Equal(t, 1, b.ends)
	require.False(t, inst.Root().Child(0).Child(1).Started())
}

func TestParallel_AllSucceed(t *testing.T) {
	t.Parallel()

	inst := instance(t, build(t, &behavior.Parallel{}, script(success), script(success)))
	require.Equal(t, success, tick(t, inst))
}

func TestParallel_RunningUntilEveryChildResolves(t *testing.T) {
	t.Parallel()

	a, b := script(running, running, success), script(success)
	inst := instance(t, build(t, &behavior.Parallel{}, a, b))

	require.Equal(t, running, tick(t, inst))
	require.Equal(t, running, tick(t, inst))
	require.Equal(t, success, tick(t, inst))
	require.Equal(t, 1, b.updates, "resolved children are not ticked again in the same activation")
}

func TestInterruptSelector_HigherPriorityAbortsRunningBranch(t *testing.T) {
	t.Parallel()

	high, low := script(failure, running), script(running)
	inst := instance(t, build(t, &behavior.InterruptSelector{}, high, low))

	require.Equal(t, running, tick(t, inst))
	require.Equal(t, 1, low.starts)
	lowNode := inst.Root().Child(0).Child(1)
	require.True(t, lowNode.Started())

	require.Equal(t, running, tick(t, inst))
	require.Equal(t, 2, high.updates, "priority is re-checked from the first child every tick")
	require.Equal(t, 1, low.updates, "low branch is not ticked once high wins")
	require.Equal(t, 1, low.ends, "pre-empted branch is aborted")
	require.False(t, lowNode.Started())
}

func TestInterruptSelector_SameWinnerIsNotAborted(t *testing.T) {
	t.Parallel()

	high, low := script(failure), script(running)
	inst := instance(t, build(t, &behavior.InterruptSelector{}, high, low))

	for range 3 {
		require.Equal(t, running, tick(t, inst))
	}
	require.Equal(t, 3, high.updates)
	require.Equal(t, 3, low.updates)
	require.Equal(t, 1, low.starts)
	require.Equal(t, 0, low.ends)
}

func TestRandomSelector_EvaluatesOnlyPickedChild(t *testing.T) {
	t.Parallel()

	a, b := script(running, success), script(running, success)
	def := build(t, &behavior.RandomSelector{}, a, b)
	inst := instance(t, def, behavior.WithRand(rand.New(rand.NewPCG(1, 2))))

	require.Equal(t, running, tick(t, inst))
	require.Equal(t, success, tick(t, inst))
	require.Equal(t, 2, a.updates+b.updates)
	require.True(t, a.updates == 0 || b.updates == 0, "only one child runs per activation")
}

func TestRandomSelector_PicksEveryChildEventually(t *testing.T) {
	t.Parallel()

	a, b := script(success), script(success)
	inst := instance(t, build(t, &behavior.RandomSelector{}, a, b), behavior.WithRand(rand.New(rand.NewPCG(7, 7))))

	for range 64 {
		require.Equal(t, success, tick(t, inst))
	}
	require.Equal(t, 64, a.updates+b.updates)
	require.NotZero(t, a.updates)
	require.NotZero(t, b.updates)
}

func TestRandomSelector_EmptyFails(t *testing.T) {
	t.Parallel()

	inst := instance(t, build(t, &behavior.RandomSelector{}))
	require.Equal(t, failure, tick(t, inst))
}
