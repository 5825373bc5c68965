// Package mcp bridges Model Context Protocol tool servers into the shimmer
// tool contract. A Caller invokes tools on a server; Provider adapts a Caller
// and the server's tool definitions to tools.Provider so MCP tools take part
// in the tool loop like any other provider.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
)

// JSON-RPC error codes.
const (
	JSONRPCParseError     = -32700
	JSONRPCInvalidRequest = -32600
	JSONRPCMethodNotFound = -32601
	JSONRPCInvalidParams  = -32602
	JSONRPCInternalError  = -32603
)

type (
	// Caller invokes MCP tools. Implementations are transport specific.
	Caller interface {
		CallTool(ctx context.Context, req CallRequest) (CallResponse, error)
	}

	// Lister is implemented by callers able to discover the server tools.
	Lister interface {
		ListTools(ctx context.Context) ([]ToolInfo, error)
	}

	// CallRequest identifies the tool and carries its JSON arguments.
	CallRequest struct {
		// Suite names the MCP server the tool belongs to.
		Suite string
		// Tool is the server-local tool name.
		Tool string
		// Payload holds the JSON-encoded arguments.
		Payload json.RawMessage
	}

	// CallResponse is the normalized tool output.
	CallResponse struct {
		// Result is the JSON payload returned by the tool.
		Result json.RawMessage
		// Structured holds the JSON content when the tool returned JSON.
		Structured json.RawMessage
		// IsError is set when the server flagged the result as a tool error.
		IsError bool
	}

	// ToolInfo is a tool advertised by tools/list.
	ToolInfo struct {
		Name         string          `json:"name"`
		Description  string          `json:"description,omitempty"`
		InputSchema  json.RawMessage `json:"inputSchema,omitempty"`
		OutputSchema json.RawMessage `json:"outputSchema,omitempty"`
	}

	// Error is a JSON-RPC error returned by the server.
	Error struct {
		Code    int
		Message string
	}

	// CallerFunc adapts a function to Caller.
	CallerFunc func(ctx context.Context, req CallRequest) (CallResponse, error)
)

// CallTool calls f.
func (f CallerFunc) CallTool(ctx context.Context, req CallRequest) (CallResponse, error) {
	return f(ctx, req)
}

// Error implements error.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("mcp error %d: %s", e.Code, e.Message)
}
