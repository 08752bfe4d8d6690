package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"example.com/treefleet/internal/behavior"
	"example.com/treefleet/internal/metrics"
	"github.com/rs/zerolog"
)

var (
	ErrDuplicateInstance = errors.New("instance name already registered")
	ErrUnknownInstance   = errors.New("no such instance")
)

// Instance is a registered tree instance and its last tick outcome.
type Instance struct {
	Name       string
	Definition string
	Tree       *behavior.Tree

	LastStatus behavior.Status
	LastErr    error
	Ticks      uint64
	Registered time.Time
}

// Runner ticks registered instances once per step, in registration order.
// It is driven from a single goroutine and is not safe for concurrent use.
type Runner struct {
	log          zerolog.Logger
	metrics      *metrics.Metrics
	retireOnDone bool

	order  []*Instance
	byName map[string]*Instance
}

type RunnerOption func(*Runner)

// WithRetireOnDone removes an instance once its root reports Success or
// Failure. By default a finished instance starts a fresh activation on its
// next tick.
func WithRetireOnDone(retire bool) RunnerOption {
	return func(r *Runner) { r.retireOnDone = retire }
}

func WithMetrics(m *metrics.Metrics) RunnerOption {
	return func(r *Runner) { r.metrics = m }
}

func NewRunner(log zerolog.Logger, opts ...RunnerOption) *Runner {
	r := &Runner{
		log:    log,
		byName: make(map[string]*Instance),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds an instance under a unique name. Definitions are rejected;
// clone them first.
func (r *Runner) Register(name string, tree *behavior.Tree) (*Instance, error) {
	if tree == nil || !tree.IsInstance() {
		return nil, behavior.ErrNotInstance
	}
	if _, ok := r.byName[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateInstance, name)
	}
	inst := &Instance{
		Name:       name,
		Definition: tree.Name,
		Tree:       tree,
		LastStatus: behavior.StatusRunning,
		Registered: time.Now(),
	}
	r.order = append(r.order, inst)
	r.byName[name] = inst
	r.metrics.SetInstances(len(r.order))
	r.log.Info().Str("instance", name).Str("tree", tree.Name).Msg("instance registered")
	return inst, nil
}

// Deregister aborts the instance's active subtree and stops ticking it.
func (r *Runner) Deregister(ctx context.Context, name string) error {
	inst, ok := r.byName[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownInstance, name)
	}
	err := inst.Tree.Abort(ctx)
	r.remove(inst)
	r.log.Info().Str("instance", name).Msg("instance deregistered")
	if err != nil {
		return fmt.Errorf("abort %s: %w", name, err)
	}
	return nil
}

// DeregisterAll tears down every instance in registration order.
func (r *Runner) DeregisterAll(ctx context.Context) error {
	var errs []error
	for _, inst := range r.Instances() {
		if err := r.Deregister(ctx, inst.Name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Runner) remove(inst *Instance) {
	delete(r.byName, inst.Name)
	for i, other := range r.order {
		if other == inst {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
	r.metrics.SetInstances(len(r.order))
}

func (r *Runner) Get(name string) (*Instance, bool) {
	inst, ok := r.byName[name]
	return inst, ok
}

// Instances returns the registered instances in registration order.
func (r *Runner) Instances() []*Instance {
	out := make([]*Instance, len(r.order))
	copy(out, r.order)
	return out
}

func (r *Runner) Len() int { return len(r.order) }

// Tick updates every instance exactly once. A node error ends that
// instance's tick only: the instance is aborted so its next tick starts a
// fresh activation, and the loop moves on. The returned error joins every
// instance error of this tick.
func (r *Runner) Tick(ctx context.Context) error {
	var errs []error
	var done []*Instance
	for _, inst := range r.Instances() {
		start := time.Now()
		status, err := inst.Tree.Update(ctx)
		r.metrics.ObserveTick(inst.Definition, status.String(), time.Since(start), err)
		inst.Ticks++
		inst.LastStatus = status
		inst.LastErr = err

		if err != nil {
			r.log.Error().Err(err).
				Str("instance", inst.Name).
				Str("tree", inst.Definition).
				Msg("tick failed")
			if abortErr := inst.Tree.Abort(ctx); abortErr != nil {
				err = errors.Join(err, abortErr)
			}
			errs = append(errs, fmt.Errorf("%s: %w", inst.Name, err))
			continue
		}
		if r.retireOnDone && status.Done() {
			done = append(done, inst)
		}
	}
	for _, inst := range done {
		r.remove(inst)
		r.log.Info().Str("instance", inst.Name).Stringer("status", inst.LastStatus).Msg("instance retired")
	}
	return errors.Join(errs...)
}
