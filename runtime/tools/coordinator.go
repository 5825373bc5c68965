package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

type (
	// Coordinator routes backend tool calls to the provider that owns each
	// tool. A Coordinator is built per request so provider listings reflect
	// the tools available at that time.
	Coordinator struct {
		defs   []Definition
		owners map[string]Provider
	}

	// Turn is one backend reply in a tool exchange: either a set of tool calls
	// to execute or the final response.
	Turn struct {
		// Calls lists the tool invocations requested by the backend. An empty
		// list means Final holds the final response.
		Calls []Call
		// Final is the backend's final non-tool response.
		Final string
	}

	// TurnFunc sends the results of the previous turn to the backend and
	// returns its next reply. The first invocation receives no results.
	TurnFunc func(ctx context.Context, results []Result) (Turn, error)

	// DuplicateToolError reports two providers advertising the same tool
	// name.
	DuplicateToolError struct {
		Name string
	}
)

// Error implements error.
func (e *DuplicateToolError) Error() string {
	return fmt.Sprintf("tools: tool %q is advertised by more than one provider", e.Name)
}

// NewCoordinator lists the tools of every provider and indexes them by name.
// It fails when a provider cannot list its tools or when two providers
// advertise the same name.
func NewCoordinator(ctx context.Context, providers ...Provider) (*Coordinator, error) {
	c := &Coordinator{owners: make(map[string]Provider)}
	for _, p := range providers {
		if p == nil {
			continue
		}
		defs, err := p.ListTools(ctx)
		if err != nil {
			return nil, fmt.Errorf("list tools: %w", err)
		}
		for _, def := range defs {
			if _, dup := c.owners[def.Name]; dup {
				return nil, &DuplicateToolError{Name: def.Name}
			}
			c.owners[def.Name] = p
			c.defs = append(c.defs, def)
		}
	}
	return c, nil
}

// Definitions returns the union of the provider tool definitions in
// provider order.
func (c *Coordinator) Definitions() []Definition {
	out := make([]Definition, len(c.defs))
	copy(out, c.defs)
	return out
}

// Names returns the sorted names of all advertised tools.
func (c *Coordinator) Names() []string {
	names := make([]string, 0, len(c.owners))
	for name := range c.owners {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatch executes call against its owning provider. Dispatch never fails:
// unknown tools, provider errors and provider panics all produce an error
// Result carrying the call ID.
func (c *Coordinator) Dispatch(ctx context.Context, call Call) (res Result) {
	if call.ID == "" {
		call.ID = uuid.NewString()
	}
	p, ok := c.owners[call.Name]
	if !ok {
		return ErrorResult(call, fmt.Sprintf("unknown tool %q; available tools: %s", call.Name, strings.Join(c.Names(), ", ")))
	}
	defer func() {
		if r := recover(); r != nil {
			res = ErrorResult(call, fmt.Sprintf("tool %q panicked: %v", call.Name, r))
		}
	}()
	out, err := p.CallTool(ctx, call)
	if err != nil {
		return ErrorResult(call, err.Error())
	}
	out.ID = call.ID
	if out.Name == "" {
		out.Name = call.Name
	}
	return out
}

// DispatchAll executes calls in order and returns one result per call.
func (c *Coordinator) DispatchAll(ctx context.Context, calls []Call) []Result {
	results := make([]Result, len(calls))
	for i, call := range calls {
		results[i] = c.Dispatch(ctx, call)
	}
	return results
}

// Loop drives a tool exchange: it asks the backend for a turn, executes the
// requested calls, feeds the results back and repeats until the backend
// returns a final response. The loop has no iteration cap; it stops on the
// final response, a backend error or ctx cancellation.
func (c *Coordinator) Loop(ctx context.Context, next TurnFunc) (string, error) {
	var results []Result
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		turn, err := next(ctx, results)
		if err != nil {
			return "", err
		}
		if len(turn.Calls) == 0 {
			return turn.Final, nil
		}
		results = c.DispatchAll(ctx, turn.Calls)
	}
}
