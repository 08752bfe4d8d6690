package behavior

import (
	"context"
	"errors"
	"fmt"
)

type noopHooks struct{}

func (noopHooks) OnStart(context.Context, *Node) error { return nil }

func (noopHooks) OnEnd(context.Context, *Node) error { return nil }

type composite struct{ noopHooks }

func (composite) Kind() Kind { return KindComposite }

// Sequencer runs children in order until one fails or returns running. A
// running child is resumed on the next tick without re-running earlier ones.
type Sequencer struct {
	composite
	current int
}

func (s *Sequencer) OnStart(context.Context, *Node) error {
	s.current = 0
	return nil
}

func (s *Sequencer) OnUpdate(ctx context.Context, n *Node) (Status, error) {
	for ; s.current < n.NumChildren(); s.current++ {
		status, err := n.Child(s.current).Update(ctx)
		if err != nil {
			return StatusFailure, err
		}
		if status != StatusSuccess {
			return status, nil
		}
	}
	return StatusSuccess, nil
}

func (s *Sequencer) Clone() Behavior { return &Sequencer{} }

func (s *Sequencer) Describe() string { return fmt.Sprintf("cursor=%d", s.current) }

// Selector runs children in order until one succeeds or returns running.
type Selector struct {
	composite
	current int
}

func (s *Selector) OnStart(context.Context, *Node) error {
	s.current = 0
	return nil
}

func (s *Selector) OnUpdate(ctx context.Context, n *Node) (Status, error) {
	for ; s.current < n.NumChildren(); s.current++ {
		status, err := n.Child(s.current).Update(ctx)
		if err != nil {
			return StatusFailure, err
		}
		if status != StatusFailure {
			return status, nil
		}
	}
	return StatusFailure, nil
}

func (s *Selector) Clone() Behavior { return &Selector{} }

func (s *Selector) Describe() string { return fmt.Sprintf("cursor=%d", s.current) }

// InterruptSelector re-checks children from the first one on every tick.
// When a different child wins, the previous winner is aborted if it was
// still mid-activation.
type InterruptSelector struct {
	Selector
}

func (s *InterruptSelector) OnUpdate(ctx context.Context, n *Node) (Status, error) {
	previous := s.current
	s.current = 0
	status, err := s.Selector.OnUpdate(ctx, n)
	if err != nil {
		return StatusFailure, err
	}
	if previous != s.current {
		if prev := n.Child(previous); prev != nil && prev.Started() {
			if err := prev.Abort(ctx); err != nil {
				return status, err
			}
		}
	}
	return status, nil
}

func (s *InterruptSelector) Clone() Behavior { return &InterruptSelector{} }

// RandomSelector picks one child uniformly at random per activation and
// runs only that child until it resolves.
type RandomSelector struct {
	composite
	current int
}

func (s *RandomSelector) OnStart(_ context.Context, n *Node) error {
	s.current = -1
	if n.NumChildren() > 0 {
		s.current = n.Tree().IntN(n.NumChildren())
	}
	return nil
}

func (s *RandomSelector) OnUpdate(ctx context.Context, n *Node) (Status, error) {
	child := n.Child(s.current)
	if child == nil {
		return StatusFailure, nil
	}
	return child.Update(ctx)
}

func (s *RandomSelector) Clone() Behavior { return &RandomSelector{} }

func (s *RandomSelector) Describe() string { return fmt.Sprintf("picked=%d", s.current) }

// Parallel ticks every unresolved child each tick. Any failure aborts the
// children still running and fails the parallel; it succeeds once every
// child has succeeded.
type Parallel struct {
	composite
	results []Status
}

func (p *Parallel) OnStart(_ context.Context, n *Node) error {
	p.results = make([]Status, n.NumChildren())
	for i := range p.results {
		p.results[i] = StatusRunning
	}
	return nil
}

func (p *Parallel) OnUpdate(ctx context.Context, n *Node) (Status, error) {
	stillRunning := 0
	for i := range p.results {
		if p.results[i] != StatusRunning {
			continue
		}
		status, err := n.Child(i).Update(ctx)
		if err != nil {
			return StatusFailure, err
		}
		p.results[i] = status
		switch status {
		case StatusFailure:
			return StatusFailure, p.abortRunning(ctx, n)
		case StatusRunning:
			stillRunning++
		}
	}
	if stillRunning > 0 {
		return StatusRunning, nil
	}
	return StatusSuccess, nil
}

func (p *Parallel) abortRunning(ctx context.Context, n *Node) error {
	var errs []error
	for i, result := range p.results {
		if result != StatusRunning {
			continue
		}
		if err := n.Child(i).Abort(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *Parallel) Clone() Behavior { return &Parallel{} }

func (p *Parallel) Describe() string { return fmt.Sprintf("results=%v", p.results) }
