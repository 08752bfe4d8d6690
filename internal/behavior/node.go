package behavior

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Behavior is the per-type logic of a node. Composites and decorators drive
// their children from OnUpdate; leaves do the agent-specific work there.
type Behavior interface {
	OnStart(ctx context.Context, n *Node) error
	OnUpdate(ctx context.Context, n *Node) (Status, error)
	OnEnd(ctx context.Context, n *Node) error
	// Clone returns an independent copy carrying the same configuration.
	// Variable slots must be cloned too, never shared.
	Clone() Behavior
}

// Awaker is implemented by behaviors that need one-time setup after a tree
// instance has been cloned and bound, before the first tick.
type Awaker interface {
	OnAwake(n *Node) error
}

// Kinded lets a behavior declare its node kind. Behaviors that do not
// implement it are leaves.
type Kinded interface {
	Kind() Kind
}

// Drawer is the debug hook used by Tree.Dump.
type Drawer interface {
	Describe() string
}

// Node is one vertex of a tree. Children are held by arena index into the
// owning tree.
type Node struct {
	ID       uuid.UUID
	Type     string
	Name     string
	Kind     Kind
	Behavior Behavior

	index    int
	parent   int
	children []int
	result   Status
	started  bool
	actor    any
	tree     *Tree
}

// Update runs one tick of the node's activation.
func (n *Node) Update(ctx context.Context) (Status, error) {
	if !n.started {
		if err := n.Behavior.OnStart(ctx, n); err != nil {
			return StatusFailure, err
		}
		n.started = true
	}

	status, err := n.Behavior.OnUpdate(ctx, n)
	if err != nil {
		return StatusFailure, err
	}
	n.result = status

	if status != StatusRunning {
		n.started = false
		if err := n.Behavior.OnEnd(ctx, n); err != nil {
			return status, err
		}
	}
	return status, nil
}

// Abort cancels the activation of n and its whole subtree. Every visited node
// is reset to not-started/Running and OnEnd runs once for each node that was
// mid-activation. Nodes that already resolved this activation, or never
// started, get no OnEnd from Abort: theirs ran when they resolved, or there
// is no activation to close. All nodes are visited even when an OnEnd fails.
func (n *Node) Abort(ctx context.Context) error {
	var errs []error
	Traverse(n, func(node *Node) {
		wasStarted := node.started
		node.started = false
		node.result = StatusRunning
		if !wasStarted {
			return
		}
		if err := node.Behavior.OnEnd(ctx, node); err != nil {
			errs = append(errs, err)
		}
	})
	return errors.Join(errs...)
}

func (n *Node) Result() Status { return n.result }

func (n *Node) Started() bool { return n.started }

func (n *Node) Tree() *Tree { return n.tree }

// Actor returns the execution context assigned at clone time.
func (n *Node) Actor() any { return n.actor }

func (n *Node) Shared() *SharedData { return n.tree.shared }

func (n *Node) Globals() *GlobalTable { return n.tree.globals }

func (n *Node) Now() time.Time { return n.tree.now() }

func (n *Node) Logger() *zerolog.Logger { return &n.tree.log }

func (n *Node) NumChildren() int { return len(n.children) }

// Child returns the i-th child, or nil when out of range.
func (n *Node) Child(i int) *Node {
	if i < 0 || i >= len(n.children) {
		return nil
	}
	return n.tree.nodes[n.children[i]]
}

func (n *Node) Children() []*Node {
	out := make([]*Node, 0, len(n.children))
	for _, idx := range n.children {
		out = append(out, n.tree.nodes[idx])
	}
	return out
}

// Parent returns nil for the root.
func (n *Node) Parent() *Node {
	if n.parent < 0 {
		return nil
	}
	return n.tree.nodes[n.parent]
}

// Label is the name when set, otherwise the type.
func (n *Node) Label() string {
	if n.Name != "" {
		return n.Name
	}
	return n.Type
}

func kindOf(b Behavior) Kind {
	if k, ok := b.(Kinded); ok {
		return k.Kind()
	}
	return KindLeaf
}
