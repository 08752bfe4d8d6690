package leaf

import (
	"context"
	"errors"
	"fmt"
	"time"

	"example.com/treefleet/internal/behavior"
)

// Wait stays Running until its duration has elapsed since the activation
// started. When Variable names a shared duration, the shared value wins.
type Wait struct {
	behavior.Leaf
	Duration *behavior.Var[time.Duration]

	startedAt time.Time
}

type waitParams struct {
	Duration time.Duration `mapstructure:"duration"`
	Variable string        `mapstructure:"variable"`
}

func newWait(params map[string]any) (behavior.Behavior, error) {
	p := waitParams{Duration: time.Second}
	if err := behavior.DecodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Duration < 0 {
		return nil, fmt.Errorf("duration must not be negative, got %s", p.Duration)
	}
	return &Wait{Duration: behavior.NewDuration(p.Variable, p.Duration)}, nil
}

func (w *Wait) OnStart(_ context.Context, n *behavior.Node) error {
	w.startedAt = n.Now()
	return nil
}

func (w *Wait) OnUpdate(_ context.Context, n *behavior.Node) (behavior.Status, error) {
	if n.Now().Sub(w.startedAt) >= w.Duration.Get() {
		return behavior.StatusSuccess, nil
	}
	return behavior.StatusRunning, nil
}

func (w *Wait) Clone() behavior.Behavior { return &Wait{Duration: w.Duration.Clone()} }

func (w *Wait) Slots() []behavior.Slot { return []behavior.Slot{w.Duration} }

func (w *Wait) Describe() string { return fmt.Sprintf("duration=%s", w.Duration.Get()) }

// Increment adds By to an int counter, usually bound to a shared variable.
type Increment struct {
	behavior.Leaf
	Counter *behavior.Var[int]
	By      int
}

type incrementParams struct {
	Variable string `mapstructure:"variable"`
	By       int    `mapstructure:"by"`
}

func newIncrement(params map[string]any) (behavior.Behavior, error) {
	p := incrementParams{By: 1}
	if err := behavior.DecodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Variable == "" {
		return nil, errors.New("variable is required")
	}
	return &Increment{Counter: behavior.NewInt(p.Variable, 0), By: p.By}, nil
}

func (i *Increment) OnUpdate(context.Context, *behavior.Node) (behavior.Status, error) {
	i.Counter.Set(i.Counter.Get() + i.By)
	return behavior.StatusSuccess, nil
}

func (i *Increment) Clone() behavior.Behavior {
	return &Increment{Counter: i.Counter.Clone(), By: i.By}
}

func (i *Increment) Slots() []behavior.Slot { return []behavior.Slot{i.Counter} }

func (i *Increment) Describe() string { return i.Counter.String() }
