package tool

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/seqrun/seqrun/pkg/schema"
)

// assertTool evaluates a CEL condition and fails the step when the
// condition does not hold. Useful as a guard between steps: a failed
// assertion routes through the step's on_error policy like any other
// failure. Compiled programs are cached and reused across goroutines.
type assertTool struct {
	env *cel.Env

	mu    sync.RWMutex
	cache map[string]cel.Program
}

// NewAssertTool creates the assert.cel handler. The CEL environment
// exposes a single top-level variable 'data' (map(string, dyn)).
func NewAssertTool() (Handler, error) {
	env, err := cel.NewEnv(
		cel.Variable("data", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}
	return &assertTool{env: env, cache: make(map[string]cel.Program)}, nil
}

func (t *assertTool) Name() string { return "assert.cel" }

func (t *assertTool) Schema() Schema {
	return Schema{Description: "Evaluate a CEL condition and fail the step when it is false"}
}

func (t *assertTool) Invoke(ctx context.Context, input Input) (*Output, error) {
	condition, ok := stringParam(input.Params, "condition")
	if !ok {
		return nil, schema.NewError(schema.ErrCodeValidation, "assert.cel requires a non-empty 'condition' string parameter")
	}

	data, _ := input.Params["data"].(map[string]any)
	if data == nil {
		data = map[string]any{}
	}

	prg, err := t.getOrCompile(condition)
	if err != nil {
		return nil, err
	}

	out, _, err := prg.Eval(map[string]any{"data": data})
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"CEL evaluation failed for %q: %s", condition, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"condition": condition})
	}

	held, ok := out.Value().(bool)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"CEL condition %q did not evaluate to a boolean", condition)
	}
	if !held {
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"assertion failed: %s", condition).
			WithDetails(map[string]any{"condition": condition})
	}

	return &Output{Data: map[string]any{"passed": true}}, nil
}

func (t *assertTool) getOrCompile(condition string) (cel.Program, error) {
	t.mu.RLock()
	if prg, ok := t.cache[condition]; ok {
		t.mu.RUnlock()
		return prg, nil
	}
	t.mu.RUnlock()

	t.mu.Lock()
	defer t.mu.Unlock()

	// Double-check after acquiring write lock.
	if prg, ok := t.cache[condition]; ok {
		return prg, nil
	}

	ast, issues := t.env.Compile(condition)
	if issues != nil && issues.Err() != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"CEL compile error in %q: %s", condition, issues.Err().Error()).
			WithCause(issues.Err()).
			WithDetails(map[string]any{"condition": condition})
	}

	prg, err := t.env.Program(ast)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"CEL program error for %q: %s", condition, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"condition": condition})
	}

	t.cache[condition] = prg
	return prg, nil
}
