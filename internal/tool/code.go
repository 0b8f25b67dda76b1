package tool

import (
	"context"
	"encoding/json"

	"github.com/seqrun/seqrun/internal/sandbox"
	"github.com/seqrun/seqrun/pkg/schema"
)

const executeCodeInputSchema = `{
  "type": "object",
  "properties": {
    "language": {"type": "string"},
    "code": {"type": "string"},
    "timeout_ms": {"type": "integer", "minimum": 1}
  },
  "required": ["language", "code"]
}`

const executeCodeOutputSchema = `{
  "type": "object",
  "properties": {
    "stdout": {"type": "string"},
    "stderr": {"type": "string"},
    "exit_code": {"type": "integer"},
    "execution_time_ms": {"type": "integer"}
  }
}`

// codeTool runs a snippet through the sandboxed executor. A non-zero
// exit code is a successful dispatch: later steps inspect exit_code and
// decide whether it matters.
type codeTool struct {
	executor *sandbox.Executor
}

// NewCodeTool wraps a sandbox executor as the execute_code handler.
func NewCodeTool(executor *sandbox.Executor) Handler {
	return &codeTool{executor: executor}
}

func (t *codeTool) Name() string { return "execute_code" }

func (t *codeTool) Schema() Schema {
	return Schema{
		Description:  "Execute a code snippet in a sandboxed interpreter",
		InputSchema:  json.RawMessage(executeCodeInputSchema),
		OutputSchema: json.RawMessage(executeCodeOutputSchema),
	}
}

func (t *codeTool) Invoke(ctx context.Context, input Input) (*Output, error) {
	language, ok := stringParam(input.Params, "language")
	if !ok {
		return nil, schema.NewError(schema.ErrCodeValidation, "execute_code requires a 'language' string parameter")
	}
	code, ok := input.Params["code"].(string)
	if !ok {
		return nil, schema.NewError(schema.ErrCodeValidation, "execute_code requires a 'code' string parameter")
	}

	req := sandbox.Request{Language: language, Code: code}
	switch v := input.Params["timeout_ms"].(type) {
	case float64:
		req.TimeoutMS = int64(v)
	case int64:
		req.TimeoutMS = v
	case int:
		req.TimeoutMS = int64(v)
	}

	res, err := t.executor.Execute(ctx, req)
	if err != nil {
		return nil, err
	}

	return &Output{Data: map[string]any{
		"stdout":            res.Stdout,
		"stderr":            res.Stderr,
		"exit_code":         res.ExitCode,
		"execution_time_ms": res.ExecutionTimeMS,
	}}, nil
}
