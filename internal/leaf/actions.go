package leaf

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"example.com/treefleet/internal/behavior"
	"github.com/rs/zerolog"
)

// Set writes a literal into a shared variable, or into the global table
// when Global is set.
type Set struct {
	behavior.Leaf
	Variable string `mapstructure:"variable"`
	Value    any    `mapstructure:"value"`
	Global   bool   `mapstructure:"global"`
}

func newSet(params map[string]any) (behavior.Behavior, error) {
	s := &Set{}
	if err := behavior.DecodeParams(params, s); err != nil {
		return nil, err
	}
	if s.Variable == "" {
		return nil, errors.New("variable is required")
	}
	return s, nil
}

func (s *Set) OnUpdate(_ context.Context, n *behavior.Node) (behavior.Status, error) {
	var err error
	if s.Global {
		g := n.Globals()
		if g == nil {
			return behavior.StatusFailure, fmt.Errorf("set %q: no global table attached", s.Variable)
		}
		err = g.Set(s.Variable, s.Value)
	} else {
		err = n.Shared().SetValue(s.Variable, s.Value)
	}
	if err != nil {
		return behavior.StatusFailure, err
	}
	return behavior.StatusSuccess, nil
}

func (s *Set) Clone() behavior.Behavior {
	return &Set{Variable: s.Variable, Value: s.Value, Global: s.Global}
}

func (s *Set) Describe() string { return fmt.Sprintf("%s=%v", s.Variable, s.Value) }

// Log writes a message with the instance's shared variables attached.
type Log struct {
	behavior.Leaf
	Message string
	Level   zerolog.Level
}

type logParams struct {
	Message string `mapstructure:"message"`
	Level   string `mapstructure:"level"`
}

func newLog(params map[string]any) (behavior.Behavior, error) {
	p := logParams{Level: "info"}
	if err := behavior.DecodeParams(params, &p); err != nil {
		return nil, err
	}
	lvl, err := zerolog.ParseLevel(p.Level)
	if err != nil {
		return nil, err
	}
	return &Log{Message: p.Message, Level: lvl}, nil
}

func (l *Log) OnUpdate(_ context.Context, n *behavior.Node) (behavior.Status, error) {
	n.Logger().WithLevel(l.Level).
		Str("node", n.Label()).
		Fields(n.Shared().Snapshot()).
		Msg(l.Message)
	return behavior.StatusSuccess, nil
}

func (l *Log) Clone() behavior.Behavior { return &Log{Message: l.Message, Level: l.Level} }

// Publish sends a JSON snapshot of the instance to a topic. "{tree}" and
// "{instance}" in the topic are expanded.
type Publish struct {
	behavior.Leaf
	Topic   string
	Message string

	pub Publisher
}

type publishParams struct {
	Topic   string `mapstructure:"topic"`
	Message string `mapstructure:"message"`
}

// Event is the payload written by Publish.
type Event struct {
	Tree      string         `json:"tree"`
	Instance  string         `json:"instance"`
	Node      string         `json:"node"`
	Message   string         `json:"message,omitempty"`
	Variables map[string]any `json:"variables"`
	TS        string         `json:"ts"`
}

func newPublish(params map[string]any, pub Publisher) (behavior.Behavior, error) {
	var p publishParams
	if err := behavior.DecodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Topic == "" {
		return nil, errors.New("topic is required")
	}
	return &Publish{Topic: p.Topic, Message: p.Message, pub: pub}, nil
}

func (p *Publish) OnUpdate(_ context.Context, n *behavior.Node) (behavior.Status, error) {
	if p.pub == nil {
		return behavior.StatusFailure, ErrNoPublisher
	}
	t := n.Tree()
	topic := strings.NewReplacer("{tree}", t.Name, "{instance}", t.ID.String()).Replace(p.Topic)
	payload, err := json.Marshal(Event{
		Tree:      t.Name,
		Instance:  t.ID.String(),
		Node:      n.Label(),
		Message:   p.Message,
		Variables: n.Shared().Snapshot(),
		TS:        n.Now().Format(time.RFC3339),
	})
	if err != nil {
		return behavior.StatusFailure, err
	}
	if err := p.pub.Publish(topic, payload); err != nil {
		return behavior.StatusFailure, fmt.Errorf("publish %s: %w", topic, err)
	}
	return behavior.StatusSuccess, nil
}

func (p *Publish) Clone() behavior.Behavior {
	return &Publish{Topic: p.Topic, Message: p.Message, pub: p.pub}
}

func (p *Publish) Describe() string { return p.Topic }
