package leaf

import (
	"context"
	"errors"
	"fmt"

	"example.com/treefleet/internal/behavior"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Condition evaluates a boolean expression against the instance's shared
// variables. Global variables are reachable under the "globals" key.
type Condition struct {
	behavior.Leaf
	Source string

	program *vm.Program
}

type conditionParams struct {
	Expr string `mapstructure:"expr"`
}

func newCondition(params map[string]any) (behavior.Behavior, error) {
	var p conditionParams
	if err := behavior.DecodeParams(params, &p); err != nil {
		return nil, err
	}
	c, err := NewCondition(p.Expr)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// NewCondition compiles source once; clones share the compiled program.
func NewCondition(source string) (*Condition, error) {
	if source == "" {
		return nil, errors.New("expr is required")
	}
	program, err := expr.Compile(source, expr.AsBool(), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", source, err)
	}
	return &Condition{Source: source, program: program}, nil
}

func (c *Condition) OnUpdate(_ context.Context, n *behavior.Node) (behavior.Status, error) {
	env := n.Shared().Snapshot()
	if g := n.Globals(); g != nil {
		env["globals"] = g.Snapshot()
	}
	out, err := expr.Run(c.program, env)
	if err != nil {
		return behavior.StatusFailure, fmt.Errorf("evaluate %q: %w", c.Source, err)
	}
	if ok, _ := out.(bool); ok {
		return behavior.StatusSuccess, nil
	}
	return behavior.StatusFailure, nil
}

func (c *Condition) Clone() behavior.Behavior {
	return &Condition{Source: c.Source, program: c.program}
}

func (c *Condition) Describe() string { return c.Source }
