package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/ahammer/shimmer/runtime/tools"
)

// Provider exposes the tools of one MCP server as a tools.Provider.
type Provider struct {
	caller Caller
	suite  string
	defs   []tools.Definition
	byName map[string]tools.Definition
}

// NewProvider returns a provider advertising defs and routing calls to
// caller.
func NewProvider(caller Caller, suite string, defs ...tools.Definition) *Provider {
	p := &Provider{
		caller: caller,
		suite:  suite,
		defs:   slices.Clone(defs),
		byName: make(map[string]tools.Definition, len(defs)),
	}
	for _, d := range defs {
		p.byName[d.Name] = d
	}
	return p
}

// Discover lists the tools of the server behind c and returns a provider for
// them.
func Discover[C interface {
	Caller
	Lister
}](ctx context.Context, c C, suite string) (*Provider, error) {
	infos, err := c.ListTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("mcp %s: list tools: %w", suite, err)
	}
	defs := make([]tools.Definition, len(infos))
	for i, info := range infos {
		defs[i] = tools.Definition{
			Name:         info.Name,
			Description:  info.Description,
			InputSchema:  info.InputSchema,
			OutputSchema: info.OutputSchema,
		}
	}
	return NewProvider(c, suite, defs...), nil
}

// ListTools implements tools.Provider.
func (p *Provider) ListTools(context.Context) ([]tools.Definition, error) {
	return slices.Clone(p.defs), nil
}

// CallTool implements tools.Provider. Invalid-argument failures are returned
// as error results carrying a repair prompt so the backend can correct its
// call; other transport failures are returned as errors.
func (p *Provider) CallTool(ctx context.Context, call tools.Call) (tools.Result, error) {
	resp, err := p.caller.CallTool(ctx, CallRequest{Suite: p.suite, Tool: call.Name, Payload: call.Arguments})
	if err != nil {
		var re *RetryableError
		if errors.As(err, &re) {
			return tools.ErrorResult(call, re.Prompt), nil
		}
		var rpcErr *Error
		if errors.As(err, &rpcErr) && rpcErr.Code == JSONRPCInvalidParams {
			def := p.byName[call.Name]
			return tools.ErrorResult(call, BuildRepairPrompt(call.Name, rpcErr.Message, "", string(def.InputSchema))), nil
		}
		return tools.Result{}, err
	}
	return tools.Result{
		ID:      call.ID,
		Name:    call.Name,
		Content: content(resp.Result),
		IsError: resp.IsError,
	}, nil
}

// content renders a JSON payload as tool result text. JSON strings are
// unquoted; other values are kept as JSON.
func content(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
