package behavior

import (
	"context"
	"fmt"
	"time"
)

type decorator struct{ noopHooks }

func (decorator) Kind() Kind { return KindDecorator }

// Root forwards every tick to its single child. A root without a child
// succeeds.
type Root struct{ noopHooks }

func (Root) Kind() Kind { return KindRoot }

func (r *Root) OnUpdate(ctx context.Context, n *Node) (Status, error) {
	child := n.Child(0)
	if child == nil {
		return StatusSuccess, nil
	}
	return child.Update(ctx)
}

func (r *Root) Clone() Behavior { return &Root{} }

// Inverter swaps Success and Failure.
type Inverter struct{ decorator }

func (d *Inverter) OnUpdate(ctx context.Context, n *Node) (Status, error) {
	child := n.Child(0)
	if child == nil {
		return StatusFailure, nil
	}
	status, err := child.Update(ctx)
	if err != nil {
		return StatusFailure, err
	}
	switch status {
	case StatusSuccess:
		return StatusFailure, nil
	case StatusFailure:
		return StatusSuccess, nil
	}
	return status, nil
}

func (d *Inverter) Clone() Behavior { return &Inverter{} }

// Failure turns a child success into failure.
type Failure struct{ decorator }

func (d *Failure) OnUpdate(ctx context.Context, n *Node) (Status, error) {
	child := n.Child(0)
	if child == nil {
		return StatusFailure, nil
	}
	status, err := child.Update(ctx)
	if err != nil {
		return StatusFailure, err
	}
	if status == StatusSuccess {
		return StatusFailure, nil
	}
	return status, nil
}

func (d *Failure) Clone() Behavior { return &Failure{} }

// Succeed turns a child failure into success.
type Succeed struct{ decorator }

func (d *Succeed) OnUpdate(ctx context.Context, n *Node) (Status, error) {
	child := n.Child(0)
	if child == nil {
		return StatusSuccess, nil
	}
	status, err := child.Update(ctx)
	if err != nil {
		return StatusFailure, err
	}
	if status == StatusFailure {
		return StatusSuccess, nil
	}
	return status, nil
}

func (d *Succeed) Clone() Behavior { return &Succeed{} }

// Repeat restarts its child every time it resolves. With Forever unset it
// succeeds after Count resolutions; a Count below one never terminates.
type Repeat struct {
	decorator
	Forever bool `mapstructure:"forever"`
	Count   int  `mapstructure:"count"`

	iterations int
}

func (d *Repeat) OnStart(context.Context, *Node) error {
	d.iterations = 0
	return nil
}

func (d *Repeat) OnUpdate(ctx context.Context, n *Node) (Status, error) {
	child := n.Child(0)
	if child == nil {
		return StatusFailure, nil
	}
	status, err := child.Update(ctx)
	if err != nil {
		return StatusFailure, err
	}
	if status == StatusRunning {
		return StatusRunning, nil
	}
	d.iterations++
	if !d.Forever && d.Count > 0 && d.iterations >= d.Count {
		return StatusSuccess, nil
	}
	return StatusRunning, nil
}

func (d *Repeat) Clone() Behavior { return &Repeat{Forever: d.Forever, Count: d.Count} }

func (d *Repeat) Describe() string {
	if d.Forever {
		return fmt.Sprintf("iteration=%d/forever", d.iterations)
	}
	return fmt.Sprintf("iteration=%d/%d", d.iterations, d.Count)
}

// Timeout fails once Duration has elapsed since the activation started or
// since it last fired. The child is not ticked on that tick, and a child
// left mid-activation is aborted.
type Timeout struct {
	decorator
	Duration time.Duration `mapstructure:"duration"`

	startedAt time.Time
}

func (d *Timeout) OnStart(_ context.Context, n *Node) error {
	d.startedAt = n.Now()
	return nil
}

func (d *Timeout) OnUpdate(ctx context.Context, n *Node) (Status, error) {
	child := n.Child(0)
	if child == nil {
		return StatusFailure, nil
	}
	now := n.Now()
	if now.Sub(d.startedAt) > d.Duration {
		d.startedAt = now
		if child.Started() {
			if err := child.Abort(ctx); err != nil {
				return StatusFailure, err
			}
		}
		return StatusFailure, nil
	}
	return child.Update(ctx)
}

func (d *Timeout) Clone() Behavior { return &Timeout{Duration: d.Duration} }

func (d *Timeout) Describe() string { return fmt.Sprintf("duration=%s", d.Duration) }
