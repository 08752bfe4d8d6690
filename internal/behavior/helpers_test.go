package behavior_test

import (
	"context"
	"testing"
	"time"

	"example.com/treefleet/internal/behavior"
	"github.com/stretchr/testify/require"
)

// record is shared by every clone of a probe so tests can observe what an
// instance did.
type record struct {
	script  []behavior.Status
	err     error
	starts  int
	updates int
	ends    int
	awakes  int
}

func (r *record) next() behavior.Status {
	if len(r.script) == 0 {
		return behavior.StatusSuccess
	}
	i := r.updates - 1
	if i >= len(r.script) {
		i = len(r.script) - 1
	}
	return r.script[i]
}

type probe struct {
	rec *record
}

func (p *probe) OnAwake(*behavior.Node) error {
	p.rec.awakes++
	return nil
}

func (p *probe) OnStart(context.Context, *behavior.Node) error {
	p.rec.starts++
	return nil
}

func (p *probe) OnUpdate(context.Context, *behavior.Node) (behavior.Status, error) {
	p.rec.updates++
	if p.rec.err != nil {
		return behavior.StatusFailure, p.rec.err
	}
	return p.rec.next(), nil
}

func (p *probe) OnEnd(context.Context, *behavior.Node) error {
	p.rec.ends++
	return nil
}

func (p *probe) Clone() behavior.Behavior { return &probe{rec: p.rec} }

func script(results ...behavior.Status) *record {
	return &record{script: results}
}

const (
	running = behavior.StatusRunning
	success = behavior.StatusSuccess
	failure = behavior.StatusFailure
)

// build creates a definition whose root holds parent and parent holds one
// probe per record.
func build(t *testing.T, parent behavior.Behavior, recs ...*record) *behavior.Tree {
	t.Helper()
	def := behavior.NewTree("test", nil)
	p, err := def.AddChild(def.Root(), "parent", parent)
	require.NoError(t, err)
	for _, rec := range recs {
		_, err := def.AddChild(p, "probe", &probe{rec: rec})
		require.NoError(t, err)
	}
	return def
}

func instance(t *testing.T, def *behavior.Tree, opts ...behavior.Option) *behavior.Tree {
	t.Helper()
	inst, err := def.Clone(nil, opts...)
	require.NoError(t, err)
	return inst
}

func tick(t *testing.T, inst *behavior.Tree) behavior.Status {
	t.Helper()
	status, err := inst.Update(context.Background())
	require.NoError(t, err)
	return status
}

type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }
