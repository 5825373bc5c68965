// Package validate checks backend output and tool arguments against JSON
// schemas. ResultValidator turns a result shape into a resilience validator
// and Provider guards a tool provider with the input schemas it advertises.
package validate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/ahammer/shimmer/runtime/model"
	"github.com/ahammer/shimmer/runtime/tools"
)

// Compile compiles a JSON schema document.
func Compile(name string, schema json.RawMessage) (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schema))
	if err != nil {
		return nil, fmt.Errorf("schema %s: %w", name, err)
	}
	url := "mem://shimmer/" + name + ".json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("schema %s: %w", name, err)
	}
	return c.Compile(url)
}

// Value validates v, encoded as JSON, against s.
func Value(s *jsonschema.Schema, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return Raw(s, raw)
}

// Raw validates a JSON document against s.
func Raw(s *jsonschema.Schema, raw json.RawMessage) error {
	if len(raw) == 0 {
		raw = json.RawMessage("null")
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return err
	}
	return s.Validate(doc)
}

// ResultValidator returns a validator that accepts results matching the
// shape schema. It is meant for resilience.Policy.Validator: rejected results
// count as failed attempts and are retried.
func ResultValidator(shape *model.Shape) (func(any) bool, error) {
	if err := shape.Resolve(""); err != nil {
		return nil, err
	}
	s, err := Compile(shape.Name, shape.Schema)
	if err != nil {
		return nil, &model.ConfigError{Reason: err.Error()}
	}
	return func(v any) bool { return Value(s, v) == nil }, nil
}

// Provider validates tool arguments against the input schema advertised by
// the wrapped provider before forwarding calls. Invalid arguments produce an
// error result describing the violation so the backend can correct itself.
type Provider struct {
	next tools.Provider

	mu      sync.Mutex
	schemas map[string]*jsonschema.Schema
}

// NewProvider wraps next.
func NewProvider(next tools.Provider) *Provider {
	return &Provider{next: next}
}

// ListTools implements tools.Provider and compiles the advertised input
// schemas. Tools whose schema does not compile are forwarded unchecked.
func (p *Provider) ListTools(ctx context.Context) ([]tools.Definition, error) {
	defs, err := p.next.ListTools(ctx)
	if err != nil {
		return nil, err
	}
	schemas := make(map[string]*jsonschema.Schema, len(defs))
	for _, d := range defs {
		if len(d.InputSchema) == 0 {
			continue
		}
		if s, err := Compile(d.Name, d.InputSchema); err == nil {
			schemas[d.Name] = s
		}
	}
	p.mu.Lock()
	p.schemas = schemas
	p.mu.Unlock()
	return defs, nil
}

// CallTool implements tools.Provider.
func (p *Provider) CallTool(ctx context.Context, call tools.Call) (tools.Result, error) {
	p.mu.Lock()
	s := p.schemas[call.Name]
	p.mu.Unlock()
	if s != nil {
		if err := Raw(s, call.Arguments); err != nil {
			return tools.ErrorResult(call, fmt.Sprintf("invalid arguments for tool %q: %v", call.Name, err)), nil
		}
	}
	return p.next.CallTool(ctx, call)
}
