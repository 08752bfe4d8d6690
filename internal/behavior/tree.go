package behavior

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Tree is a node graph reachable from a single root, plus its variable
// store. A tree built with NewTree is a definition; Clone turns it into an
// independent instance that can be ticked.
type Tree struct {
	ID   uuid.UUID
	Name string

	nodes    []*Node
	shared   *SharedData
	globals  *GlobalTable
	actor    any
	instance bool

	clock func() time.Time
	rng   *rand.Rand
	log   zerolog.Logger
}

// Option configures a tree at construction or clone time.
type Option func(*Tree)

// WithGlobals attaches the global variable table nodes can reach.
func WithGlobals(g *GlobalTable) Option {
	return func(t *Tree) { t.globals = g }
}

// WithClock replaces the wall clock sampled by time-based nodes.
func WithClock(now func() time.Time) Option {
	return func(t *Tree) { t.clock = now }
}

// WithRand sets the random source used by RandomSelector.
func WithRand(r *rand.Rand) Option {
	return func(t *Tree) { t.rng = r }
}

func WithLogger(l zerolog.Logger) Option {
	return func(t *Tree) { t.log = l }
}

// NewTree creates a definition holding only a root node.
func NewTree(name string, shared *SharedData, opts ...Option) *Tree {
	if shared == nil {
		shared, _ = NewSharedData()
	}
	t := &Tree{
		ID:     uuid.New(),
		Name:   name,
		shared: shared,
		clock:  time.Now,
		log:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.nodes = []*Node{{
		ID:       uuid.New(),
		Type:     "root",
		Kind:     KindRoot,
		Behavior: &Root{},
		parent:   -1,
		result:   StatusRunning,
		tree:     t,
	}}
	return t
}

func (t *Tree) Root() *Node { return t.nodes[0] }

// Nodes returns every node in pre-order.
func (t *Tree) Nodes() []*Node {
	out := make([]*Node, len(t.nodes))
	copy(out, t.nodes)
	return out
}

func (t *Tree) Len() int { return len(t.nodes) }

func (t *Tree) Node(id uuid.UUID) (*Node, bool) {
	for _, n := range t.nodes {
		if n.ID == id {
			return n, true
		}
	}
	return nil, false
}

func (t *Tree) Shared() *SharedData { return t.shared }

func (t *Tree) Globals() *GlobalTable { return t.globals }

func (t *Tree) Actor() any { return t.actor }

func (t *Tree) IsInstance() bool { return t.instance }

func (t *Tree) Logger() zerolog.Logger { return t.log }

func (t *Tree) now() time.Time {
	if t.clock == nil {
		return time.Now()
	}
	return t.clock()
}

// IntN returns a pseudo-random index in [0, n).
func (t *Tree) IntN(n int) int {
	if t.rng == nil {
		return rand.IntN(n)
	}
	return t.rng.IntN(n)
}

// Update ticks the instance once from the root.
func (t *Tree) Update(ctx context.Context) (Status, error) {
	if !t.instance {
		return StatusFailure, ErrNotInstance
	}
	return t.Root().Update(ctx)
}

// Abort cancels whatever activation is in progress.
func (t *Tree) Abort(ctx context.Context) error {
	return t.Root().Abort(ctx)
}

// AddChild creates a node for b and appends it to parent's children. Only
// definitions can be edited.
func (t *Tree) AddChild(parent *Node, typeName string, b Behavior) (*Node, error) {
	if t.instance {
		return nil, ErrInstanceImmutable
	}
	if parent == nil || parent.tree != t {
		return nil, ErrNotInTree
	}
	if limit := parent.Kind.MaxChildren(); limit >= 0 && len(parent.children) >= limit {
		return nil, fmt.Errorf("%w: %s %q holds %d", ErrChildLimit, parent.Kind, parent.Label(), limit)
	}
	n := &Node{
		ID:       uuid.New(),
		Type:     typeName,
		Kind:     kindOf(b),
		Behavior: b,
		index:    len(t.nodes),
		parent:   parent.index,
		result:   StatusRunning,
		tree:     t,
	}
	t.nodes = append(t.nodes, n)
	parent.children = append(parent.children, n.index)
	t.compact()
	return n, nil
}

// RemoveChild detaches child and its subtree from parent.
func (t *Tree) RemoveChild(parent, child *Node) error {
	if t.instance {
		return ErrInstanceImmutable
	}
	if parent == nil || child == nil || parent.tree != t || child.tree != t {
		return ErrNotInTree
	}
	for i, idx := range parent.children {
		if idx == child.index {
			parent.children = append(parent.children[:i:i], parent.children[i+1:]...)
			child.parent = -1
			t.compact()
			return nil
		}
	}
	return fmt.Errorf("%w: %q is not a child of %q", ErrNotInTree, child.Label(), parent.Label())
}

// compact rebuilds the arena in pre-order from the root, dropping
// unreachable nodes and renumbering indices.
func (t *Tree) compact() {
	order := make([]*Node, 0, len(t.nodes))
	remap := make(map[int]int, len(t.nodes))
	var walk func(idx int)
	walk = func(idx int) {
		n := t.nodes[idx]
		remap[idx] = len(order)
		order = append(order, n)
		for _, c := range n.children {
			walk(c)
		}
	}
	walk(0)
	for _, n := range order {
		n.index = remap[n.index]
		if n.parent >= 0 {
			n.parent = remap[n.parent]
		}
		for i, c := range n.children {
			n.children[i] = remap[c]
		}
	}
	t.nodes = order
}

// Clone produces an instance: a deep copy of every node reachable from the
// root with fresh identities, a deep copy of the variable store, every slot
// re-bound against the new store, actor assigned to every node, and OnAwake
// run once per node.
func (t *Tree) Clone(actor any, opts ...Option) (*Tree, error) {
	c := &Tree{
		ID:       uuid.New(),
		Name:     t.Name,
		shared:   t.shared.Clone(),
		globals:  t.globals,
		actor:    actor,
		instance: true,
		clock:    t.clock,
		log:      t.log,
		nodes:    make([]*Node, 0, len(t.nodes)),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.rng == nil {
		c.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	c.log = c.log.With().Str("tree", c.Name).Str("instance", c.ID.String()).Logger()

	var copyNode func(src *Node, parent int) int
	copyNode = func(src *Node, parent int) int {
		dst := &Node{
			ID:       uuid.New(),
			Type:     src.Type,
			Name:     src.Name,
			Kind:     src.Kind,
			Behavior: src.Behavior.Clone(),
			index:    len(c.nodes),
			parent:   parent,
			result:   StatusRunning,
			tree:     c,
		}
		c.nodes = append(c.nodes, dst)
		for _, idx := range src.children {
			dst.children = append(dst.children, copyNode(t.nodes[idx], dst.index))
		}
		return dst.index
	}
	copyNode(t.Root(), -1)

	Traverse(c.Root(), func(n *Node) {
		n.actor = actor
		c.bind(n)
	})
	for _, n := range c.nodes {
		a, ok := n.Behavior.(Awaker)
		if !ok {
			continue
		}
		if err := a.OnAwake(n); err != nil {
			return nil, fmt.Errorf("awake %s %q: %w", n.Type, n.Label(), err)
		}
	}
	c.log.Debug().Int("nodes", len(c.nodes)).Int("variables", c.shared.Len()).Msg("tree instance cloned")
	return c, nil
}

func (t *Tree) bind(n *Node) {
	s, ok := n.Behavior.(Slotted)
	if !ok {
		return
	}
	for _, slot := range s.Slots() {
		if slot == nil || slot.Name() == "" {
			continue
		}
		if !slot.Bind(t.shared) {
			t.log.Debug().
				Str("node", n.Label()).
				Str("slot", slot.Name()).
				Str("type", slot.TypeName()).
				Msg("slot kept private value")
		}
	}
}

// Dump renders the tree one node per line, indented by depth.
func (t *Tree) Dump() string {
	var b strings.Builder
	var walk func(n *Node, depth int)
	walk = func(n *Node, depth int) {
		fmt.Fprintf(&b, "%s%s (%s) %s", strings.Repeat("  ", depth), n.Label(), n.Type, n.result)
		if n.started {
			b.WriteString(" started")
		}
		if d, ok := n.Behavior.(Drawer); ok {
			fmt.Fprintf(&b, " %s", d.Describe())
		}
		b.WriteByte('\n')
		for _, c := range n.Children() {
			walk(c, depth+1)
		}
	}
	walk(t.Root(), 0)
	return b.String()
}

// Traverse visits n and then its descendants in pre-order.
func Traverse(n *Node, visit func(*Node)) {
	if n == nil {
		return
	}
	visit(n)
	for _, idx := range n.children {
		Traverse(n.tree.nodes[idx], visit)
	}
}
