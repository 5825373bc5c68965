package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

type (
	// Handler executes a tool with its raw JSON arguments and returns the
	// result content.
	Handler func(ctx context.Context, args json.RawMessage) (string, error)

	// Tool pairs a definition with its handler.
	Tool struct {
		Definition
		Handler Handler
	}

	// StaticProvider serves a fixed set of in-process tools.
	StaticProvider struct {
		tools []Tool
		index map[string]int
	}
)

// NewStaticProvider returns a provider serving ts. It panics when two tools
// share a name or a handler is missing, both of which are programming errors.
func NewStaticProvider(ts ...Tool) *StaticProvider {
	p := &StaticProvider{index: make(map[string]int, len(ts))}
	for _, t := range ts {
		if t.Handler == nil {
			panic(fmt.Sprintf("tools: tool %q has no handler", t.Name))
		}
		if _, dup := p.index[t.Name]; dup {
			panic(fmt.Sprintf("tools: duplicate tool %q", t.Name))
		}
		p.index[t.Name] = len(p.tools)
		p.tools = append(p.tools, t)
	}
	return p
}

// ListTools implements Provider.
func (p *StaticProvider) ListTools(context.Context) ([]Definition, error) {
	defs := make([]Definition, len(p.tools))
	for i, t := range p.tools {
		defs[i] = t.Definition
	}
	return defs, nil
}

// CallTool implements Provider.
func (p *StaticProvider) CallTool(ctx context.Context, call Call) (Result, error) {
	i, ok := p.index[call.Name]
	if !ok {
		return Result{}, fmt.Errorf("tool %q not found", call.Name)
	}
	content, err := p.tools[i].Handler(ctx, call.Arguments)
	if err != nil {
		return Result{}, err
	}
	return TextResult(call, content), nil
}
