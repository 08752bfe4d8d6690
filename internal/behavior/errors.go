package behavior

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("variable not found")
	ErrTypeMismatch      = errors.New("variable type mismatch")
	ErrDuplicateVariable = errors.New("duplicate variable name")
	ErrUnknownType       = errors.New("unknown node type")
	ErrNotInstance       = errors.New("tree is a definition, clone it before ticking")
	ErrInstanceImmutable = errors.New("tree instance topology is immutable")
	ErrChildLimit        = errors.New("node cannot take more children")
	ErrChildCount        = errors.New("decorator needs exactly one child")
	ErrNotInTree         = errors.New("node does not belong to this tree")
)

// LookupError describes a failed explicit variable access.
type LookupError struct {
	Op   string
	Name string
	Want string
	Got  string
	Err  error
}

func (e *LookupError) Error() string {
	if e.Want != "" {
		return fmt.Sprintf("%s %q: %v (want %s, have %s)", e.Op, e.Name, e.Err, e.Want, e.Got)
	}
	return fmt.Sprintf("%s %q: %v", e.Op, e.Name, e.Err)
}

func (e *LookupError) Unwrap() error { return e.Err }

func notFound(op, name string) error {
	return &LookupError{Op: op, Name: name, Err: ErrNotFound}
}

func mismatch(op, name, want, got string) error {
	return &LookupError{Op: op, Name: name, Want: want, Got: got, Err: ErrTypeMismatch}
}
