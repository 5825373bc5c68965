package mcp

import "fmt"

const repairTemplate = `
Operation: %s
%sError: %s
Call the tool again with valid arguments.
Use only fields declared by the schema and make sure required fields, types and enums are valid.
Example arguments: %s`

// RetryableError reports invalid tool arguments together with a repair prompt
// the backend can act on in its next turn.
type RetryableError struct {
	Prompt string
	Cause  error
}

// Error implements error.
func (e *RetryableError) Error() string {
	if e == nil {
		return ""
	}
	if e.Cause == nil {
		return e.Prompt
	}
	return fmt.Sprintf("%s: %v", e.Prompt, e.Cause)
}

// Unwrap returns the cause.
func (e *RetryableError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// BuildRepairPrompt renders a deterministic repair instruction. schema and
// example are optional JSON excerpts.
func BuildRepairPrompt(op, errMsg, example, schema string) string {
	schemaLine := ""
	if schema != "" {
		schemaLine = "Schema: " + schema + "\n"
	}
	if example == "" {
		example = "{}"
	}
	return fmt.Sprintf(repairTemplate, op, schemaLine, errMsg, example)
}
