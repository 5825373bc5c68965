// Package method holds the static description of a service boundary: the
// declared methods, their parameters and result shapes, and the assembler that
// turns a call on one of them into a model.PromptContext.
//
// Declared methods are registered as plain data in a Table. A hand-written or
// generated stub per service forwards each Go method to the runtime by name,
// so no reflection over interfaces is needed at call time.
package method

import (
	"fmt"

	"github.com/ahammer/shimmer/runtime/model"
)

type (
	// Spec declares one method of a service boundary.
	Spec struct {
		// Name is the method identifier used for dispatch and prompts.
		Name string
		// Summary is a one-line description of the operation.
		Summary string
		// Description explains the operation in detail.
		Description string
		// Params lists the declared parameters in call order.
		Params []Param
		// Result is the shape the backend must produce.
		Result *model.Shape
		// ResponseDescription describes the expected result for the backend.
		ResponseDescription string
		// Memorize, when set, stores the serialized result under this label
		// in the service memory after each successful call.
		Memorize string
		// Terminal marks methods whose successful invocation ends an agent run.
		Terminal bool
	}

	// Param declares one method parameter.
	Param struct {
		// Name is the parameter name used for named argument resolution.
		Name string
		// Description documents the parameter for the backend.
		Description string
		// Optional marks parameters that may be omitted. An omitted optional
		// parameter without default resolves to nil.
		Optional bool
		// Default is used when the argument is omitted. A non-nil default
		// makes the parameter optional.
		Default any
	}

	// Table is the ordered set of methods declared by a service boundary.
	Table struct {
		specs []Spec
		index map[string]int
	}
)

// Required reports whether the caller must supply the parameter.
func (p Param) Required() bool {
	return !p.Optional && p.Default == nil
}

// NewTable validates specs and indexes them by name. Method names must be
// non-empty and unique, parameter names unique within a method, and every
// result shape resolvable.
func NewTable(specs ...Spec) (*Table, error) {
	t := &Table{index: make(map[string]int, len(specs))}
	for _, s := range specs {
		if s.Name == "" {
			return nil, &model.ConfigError{Reason: "method name is required"}
		}
		if _, dup := t.index[s.Name]; dup {
			return nil, &model.ConfigError{Method: s.Name, Reason: "method declared twice"}
		}
		if err := s.Result.Resolve(s.Name); err != nil {
			return nil, err
		}
		seen := make(map[string]struct{}, len(s.Params))
		for _, p := range s.Params {
			if p.Name == "" {
				return nil, &model.ConfigError{Method: s.Name, Reason: "parameter name is required"}
			}
			if _, dup := seen[p.Name]; dup {
				return nil, &model.ConfigError{Method: s.Name, Reason: fmt.Sprintf("parameter %q declared twice", p.Name)}
			}
			seen[p.Name] = struct{}{}
		}
		t.index[s.Name] = len(t.specs)
		t.specs = append(t.specs, s)
	}
	return t, nil
}

// MustTable is NewTable that panics on error. It is meant for package-level
// service declarations.
func MustTable(specs ...Spec) *Table {
	t, err := NewTable(specs...)
	if err != nil {
		panic(err)
	}
	return t
}

// Lookup returns the spec registered under name.
func (t *Table) Lookup(name string) (Spec, bool) {
	i, ok := t.index[name]
	if !ok {
		return Spec{}, false
	}
	return t.specs[i], true
}

// Specs returns the declared methods in registration order.
func (t *Table) Specs() []Spec {
	out := make([]Spec, len(t.specs))
	copy(out, t.specs)
	return out
}

// Names returns the declared method names in registration order.
func (t *Table) Names() []string {
	names := make([]string, len(t.specs))
	for i, s := range t.specs {
		names[i] = s.Name
	}
	return names
}

// Len returns the number of declared methods.
func (t *Table) Len() int { return len(t.specs) }
