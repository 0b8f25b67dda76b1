package tool

import (
	"context"
	"encoding/json"
)

// Handler is a named operation invocable by a workflow step. Built-in
// handlers (code execution, file access, expression evaluation) and
// externally registered ones share the same contract: the dispatcher
// awaits completion or failure before returning.
type Handler interface {
	Name() string
	Schema() Schema
	Invoke(ctx context.Context, input Input) (*Output, error)
}

// Schema describes the input/output contract of a handler.
type Schema struct {
	InputSchema  json.RawMessage `json:"input_schema,omitempty"`
	OutputSchema json.RawMessage `json:"output_schema,omitempty"`
	Description  string          `json:"description,omitempty"`
}

// Input is the fully resolved step input handed to a handler. All
// template placeholders have been substituted before dispatch.
type Input struct {
	Params map[string]any `json:"params"`
}

// Output is the result of a handler invocation. Data becomes the
// step's entry in the run output map.
type Output struct {
	Data map[string]any `json:"data,omitempty"`
}

// Info is a summary of a registered handler for listing.
type Info struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// stringParam extracts a required string parameter.
func stringParam(params map[string]any, key string) (string, bool) {
	v, ok := params[key].(string)
	return v, ok && v != ""
}
