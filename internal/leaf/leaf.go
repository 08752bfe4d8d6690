// Package leaf holds the built-in leaf node types that agents can reference
// from tree definitions.
package leaf

import (
	"context"
	"errors"

	"example.com/treefleet/internal/behavior"
)

// Publisher delivers a payload to a message topic.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// Deps are the host collaborators leaves may reach.
type Deps struct {
	Publisher Publisher
}

var ErrNoPublisher = errors.New("no publisher configured")

// Register adds every built-in leaf type to r.
func Register(r *behavior.Registry, deps Deps) {
	r.MustRegister("pass", behavior.Stateless(func() behavior.Behavior {
		return &behavior.Action{Fn: func(context.Context, *behavior.Node) (behavior.Status, error) {
			return behavior.StatusSuccess, nil
		}}
	}))
	r.MustRegister("fail", behavior.Stateless(func() behavior.Behavior {
		return &behavior.Action{Fn: func(context.Context, *behavior.Node) (behavior.Status, error) {
			return behavior.StatusFailure, nil
		}}
	}))
	r.MustRegister("wait", newWait)
	r.MustRegister("condition", newCondition)
	r.MustRegister("set", newSet)
	r.MustRegister("increment", newIncrement)
	r.MustRegister("log", newLog)
	r.MustRegister("publish", func(params map[string]any) (behavior.Behavior, error) {
		return newPublish(params, deps.Publisher)
	})
}

// NewRegistry returns a registry with the composite, decorator and leaf
// types installed.
func NewRegistry(deps Deps) *behavior.Registry {
	r := behavior.NewRegistry()
	behavior.RegisterBuiltins(r)
	Register(r, deps)
	return r
}
