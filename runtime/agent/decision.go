// Package agent drives a declared-method service with a decision loop: a
// Decider reads a schema of the target's methods and picks the next method
// to call, a Dispatcher invokes it by name, and a Runner repeats the step
// until a terminal method runs or the step budget is spent.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/ahammer/shimmer/runtime/method"
	"github.com/ahammer/shimmer/runtime/model"
	"github.com/ahammer/shimmer/runtime/service"
)

// DecideMethodName is the name of the method a decider service declares.
const DecideMethodName = "decide"

type (
	// Decision names the next method to call and its arguments.
	Decision struct {
		Method string `json:"method" jsonschema:"description=Name of the method to call next"`
		Args   []Arg  `json:"args,omitempty" jsonschema:"description=Arguments by parameter name"`
	}

	// Arg is one named argument of a Decision.
	Arg struct {
		Name  string `json:"name"`
		Value any    `json:"value"`
	}

	// Decider chooses the next step from a schema of the target methods.
	Decider interface {
		Decide(ctx context.Context, schema string) (Decision, error)
	}

	// DeciderFunc adapts a function to Decider.
	DeciderFunc func(ctx context.Context, schema string) (Decision, error)

	// ServiceDecider is a Decider backed by a service that declares
	// DecideMethod.
	ServiceDecider struct {
		svc *service.Service
	}

	// UnknownMethodError is returned when a decision names a method the
	// target does not declare.
	UnknownMethodError struct {
		Method    string
		Available []string
	}
)

// ErrNoDecideMethod indicates a decider service does not declare DecideMethod.
var ErrNoDecideMethod = errors.New("agent: decider service does not declare " + DecideMethodName)

// Decide calls f.
func (f DeciderFunc) Decide(ctx context.Context, schema string) (Decision, error) {
	return f(ctx, schema)
}

// DecideMethod is the method spec a decider service declares. Its single
// parameter receives the schema produced by Schema.
func DecideMethod() method.Spec {
	return method.Spec{
		Name:    DecideMethodName,
		Summary: "Choose the next method to call on the target service.",
		Description: "Read the target schema and answer with the name of exactly one available method " +
			"and its arguments by parameter name. Never choose an excluded method.",
		Params: []method.Param{{
			Name:        "schema",
			Description: "JSON description of the target methods, the current memory and the excluded methods.",
		}},
		Result:              model.ShapeOf[Decision](),
		ResponseDescription: `An object {"method": string, "args": [{"name": string, "value": any}]}.`,
	}
}

// NewServiceDecider wraps svc, which must declare DecideMethod.
func NewServiceDecider(svc *service.Service) (*ServiceDecider, error) {
	if _, ok := svc.Table().Lookup(DecideMethodName); !ok {
		return nil, ErrNoDecideMethod
	}
	return &ServiceDecider{svc: svc}, nil
}

// Decide implements Decider.
func (d *ServiceDecider) Decide(ctx context.Context, schema string) (Decision, error) {
	return service.Call[Decision](ctx, d.svc, DecideMethodName, schema)
}

// Error implements error.
func (e *UnknownMethodError) Error() string {
	return fmt.Sprintf("agent: unknown method %q, available methods: %s", e.Method, strings.Join(e.Available, ", "))
}

type (
	schemaDoc struct {
		Methods  []schemaMethod    `json:"methods"`
		Memory   map[string]string `json:"memory,omitempty"`
		Excluded []string          `json:"excluded,omitempty"`
	}

	schemaMethod struct {
		Name        string        `json:"name"`
		Summary     string        `json:"summary,omitempty"`
		Description string        `json:"description,omitempty"`
		Params      []schemaParam `json:"params,omitempty"`
		Returns     string        `json:"returns,omitempty"`
		Terminal    bool          `json:"terminal,omitempty"`
	}

	schemaParam struct {
		Name        string `json:"name"`
		Description string `json:"description,omitempty"`
		Required    bool   `json:"required"`
	}
)

// Schema describes the methods of table for a Decider. Excluded methods are
// left out of the method list and named under "excluded". The output is
// deterministic: methods keep declaration order and encoding/json sorts the
// memory labels.
func Schema(table *method.Table, memory map[string]string, exclusions []string) string {
	excluded := slices.Clone(exclusions)
	slices.Sort(excluded)
	excluded = slices.Compact(excluded)

	doc := schemaDoc{Memory: memory, Excluded: excluded}
	for _, s := range table.Specs() {
		if _, skip := slices.BinarySearch(excluded, s.Name); skip {
			continue
		}
		m := schemaMethod{
			Name:        s.Name,
			Summary:     s.Summary,
			Description: s.Description,
			Returns:     s.ResponseDescription,
			Terminal:    s.Terminal,
		}
		if m.Returns == "" && s.Result != nil {
			m.Returns = s.Result.Name
		}
		for _, p := range s.Params {
			m.Params = append(m.Params, schemaParam{Name: p.Name, Description: p.Description, Required: p.Required()})
		}
		doc.Methods = append(doc.Methods, m)
	}
	b, err := json.Marshal(doc)
	if err != nil {
		// memory values are strings, the document always encodes.
		panic(err)
	}
	return string(b)
}
