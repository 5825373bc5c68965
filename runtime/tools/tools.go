// Package tools defines the tool-calling contract between adapters and tool
// providers. A Provider advertises named, schema-described tools and executes
// calls; the Coordinator merges several providers behind one dispatch point
// and drives the multi-turn exchange with a backend.
package tools

import (
	"context"
	"encoding/json"
)

type (
	// Definition describes a tool presented to the backend.
	Definition struct {
		// Name identifies the tool. Names are unique within a provider set.
		Name string `json:"name"`
		// Description documents the tool for the backend.
		Description string `json:"description,omitempty"`
		// InputSchema is the JSON schema of the call arguments.
		InputSchema json.RawMessage `json:"input_schema,omitempty"`
		// OutputSchema optionally describes the result content.
		OutputSchema json.RawMessage `json:"output_schema,omitempty"`
	}

	// Call is a tool invocation requested by the backend. ID correlates the
	// call with its Result.
	Call struct {
		ID        string          `json:"id"`
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments,omitempty"`
	}

	// Result is the outcome of a Call. Every dispatched call receives exactly
	// one result carrying the same ID.
	Result struct {
		ID      string `json:"id"`
		Name    string `json:"name"`
		Content string `json:"content"`
		IsError bool   `json:"is_error,omitempty"`
	}

	// Provider offers tools to a backend exchange.
	Provider interface {
		// ListTools returns the definitions of the tools the provider serves.
		ListTools(ctx context.Context) ([]Definition, error)
		// CallTool executes call. A returned error is reported to the backend
		// as an error Result; it does not abort the exchange.
		CallTool(ctx context.Context, call Call) (Result, error)
	}
)

// ErrorResult builds an error Result answering call.
func ErrorResult(call Call, msg string) Result {
	return Result{ID: call.ID, Name: call.Name, Content: msg, IsError: true}
}

// TextResult builds a successful Result answering call.
func TextResult(call Call, content string) Result {
	return Result{ID: call.ID, Name: call.Name, Content: content}
}
