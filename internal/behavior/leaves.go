package behavior

import "context"

// Leaf provides no-op start and end hooks for leaf behaviors to embed.
type Leaf struct{ noopHooks }

// Action is a helper for simple function-based leaves. The function is
// shared between clones, so it must keep per-instance state on the node's
// actor or variables rather than in captured locals.
type Action struct {
	Leaf
	Fn func(ctx context.Context, n *Node) (Status, error)
}

func (a *Action) OnUpdate(ctx context.Context, n *Node) (Status, error) {
	return a.Fn(ctx, n)
}

func (a *Action) Clone() Behavior { return &Action{Fn: a.Fn} }

// Condition is a helper for simple boolean checks.
type Condition struct {
	Leaf
	Fn func(ctx context.Context, n *Node) bool
}

func (c *Condition) OnUpdate(ctx context.Context, n *Node) (Status, error) {
	if c.Fn(ctx, n) {
		return StatusSuccess, nil
	}
	return StatusFailure, nil
}

func (c *Condition) Clone() Behavior { return &Condition{Fn: c.Fn} }
