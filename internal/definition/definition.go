// Package definition turns YAML tree documents into behavior tree
// definitions.
package definition

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"example.com/treefleet/internal/behavior"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Document is one tree as stored on disk or in the controller.
type Document struct {
	Name      string         `yaml:"name" json:"name" validate:"required"`
	Variables []VariableSpec `yaml:"variables,omitempty" json:"variables,omitempty" validate:"dive"`
	Root      NodeSpec       `yaml:"root" json:"root"`
}

// VariableSpec declares one shared variable and its initial value.
type VariableSpec struct {
	Name  string `yaml:"name" json:"name" validate:"required"`
	Type  string `yaml:"type" json:"type" validate:"required,oneof=int float string bool duration"`
	Value any    `yaml:"value,omitempty" json:"value,omitempty"`
}

// NodeSpec is a node type, its params and its children.
type NodeSpec struct {
	Type     string         `yaml:"type" json:"type" validate:"required"`
	Name     string         `yaml:"name,omitempty" json:"name,omitempty"`
	Params   map[string]any `yaml:"params,omitempty" json:"params,omitempty"`
	Children []NodeSpec     `yaml:"children,omitempty" json:"children,omitempty" validate:"dive"`
}

var validate = validator.New()

// Parse decodes and validates a YAML document. Unknown fields are rejected.
func Parse(raw []byte) (Document, error) {
	var doc Document
	if len(bytes.TrimSpace(raw)) == 0 {
		return doc, errors.New("definition is empty")
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return doc, fmt.Errorf("parse definition: %w", err)
	}
	if err := doc.Validate(); err != nil {
		return Document{}, err
	}
	return doc, nil
}

// ParseFile reads and parses the document at path.
func ParseFile(path string) (Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Document{}, err
	}
	doc, err := Parse(raw)
	if err != nil {
		return Document{}, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

func (d Document) Validate() error {
	if err := validate.Struct(d); err != nil {
		return fmt.Errorf("definition %q: %w", d.Name, err)
	}
	return nil
}

func (d Document) Marshal() ([]byte, error) {
	return yaml.Marshal(d)
}

// Build creates a definition tree. Every node type must be known to r and
// every node must respect its kind's child limit.
func Build(doc Document, r *behavior.Registry, opts ...behavior.Option) (*behavior.Tree, error) {
	vars := make([]behavior.Variable, 0, len(doc.Variables))
	for _, spec := range doc.Variables {
		v, err := behavior.NewVariable(spec.Name, spec.Type, spec.Value)
		if err != nil {
			return nil, fmt.Errorf("definition %q: %w", doc.Name, err)
		}
		vars = append(vars, v)
	}
	shared, err := behavior.NewSharedData(vars...)
	if err != nil {
		return nil, fmt.Errorf("definition %q: %w", doc.Name, err)
	}

	tree := behavior.NewTree(doc.Name, shared, opts...)
	if err := addNode(tree, tree.Root(), doc.Root, r, "root"); err != nil {
		return nil, fmt.Errorf("definition %q: %w", doc.Name, err)
	}
	return tree, nil
}

// Compile parses and builds in one step.
func Compile(raw []byte, r *behavior.Registry, opts ...behavior.Option) (Document, *behavior.Tree, error) {
	doc, err := Parse(raw)
	if err != nil {
		return Document{}, nil, err
	}
	tree, err := Build(doc, r, opts...)
	if err != nil {
		return Document{}, nil, err
	}
	return doc, tree, nil
}

func addNode(tree *behavior.Tree, parent *behavior.Node, spec NodeSpec, r *behavior.Registry, path string) error {
	b, err := r.New(spec.Type, spec.Params)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	n, err := tree.AddChild(parent, spec.Type, b)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	n.Name = strings.TrimSpace(spec.Name)
	for i, child := range spec.Children {
		if err := addNode(tree, n, child, r, fmt.Sprintf("%s.children[%d]", path, i)); err != nil {
			return err
		}
	}
	if n.Kind == behavior.KindDecorator && n.NumChildren() != 1 {
		return fmt.Errorf("%s: %w: %s has %d", path, behavior.ErrChildCount, spec.Type, n.NumChildren())
	}
	return nil
}
