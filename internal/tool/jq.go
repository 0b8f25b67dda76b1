package tool

import (
	"context"
	"sync"

	"github.com/itchyny/gojq"

	"github.com/seqrun/seqrun/pkg/schema"
)

// jqTool evaluates jq expressions for filtering, reshaping, and
// aggregating step outputs. Compiled *gojq.Code objects are cached and
// reused across goroutines.
type jqTool struct {
	mu    sync.RWMutex
	cache map[string]*gojq.Code
}

// NewJQTool creates the jq.eval handler.
func NewJQTool() Handler {
	return &jqTool{cache: make(map[string]*gojq.Code)}
}

func (t *jqTool) Name() string { return "jq.eval" }

func (t *jqTool) Schema() Schema {
	return Schema{Description: "Evaluate a jq expression against explicit data"}
}

// Invoke runs the expression against the 'data' parameter. jq can
// produce multiple outputs: exactly one is returned directly, several
// are collected into a slice.
func (t *jqTool) Invoke(ctx context.Context, input Input) (*Output, error) {
	expression, ok := stringParam(input.Params, "expression")
	if !ok {
		return nil, schema.NewError(schema.ErrCodeValidation, "jq.eval requires a non-empty 'expression' string parameter")
	}

	code, err := t.getOrCompile(expression)
	if err != nil {
		return nil, err
	}

	var data any
	if v, ok := input.Params["data"]; ok {
		data = v
	}

	iter := code.RunWithContext(ctx, data)

	var results []any
	for {
		val, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := val.(error); isErr {
			return nil, schema.NewErrorf(schema.ErrCodeExecution,
				"jq evaluation failed for %q: %s", expression, err.Error()).
				WithCause(err).
				WithDetails(map[string]any{"expression": expression})
		}
		results = append(results, val)
	}

	var result any
	switch len(results) {
	case 0:
		result = nil
	case 1:
		result = results[0]
	default:
		result = results
	}
	return &Output{Data: map[string]any{"result": result}}, nil
}

func (t *jqTool) getOrCompile(expression string) (*gojq.Code, error) {
	t.mu.RLock()
	if code, ok := t.cache[expression]; ok {
		t.mu.RUnlock()
		return code, nil
	}
	t.mu.RUnlock()

	t.mu.Lock()
	defer t.mu.Unlock()

	// Double-check after acquiring write lock.
	if code, ok := t.cache[expression]; ok {
		return code, nil
	}

	query, err := gojq.Parse(expression)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"jq parse error in %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	code, err := gojq.Compile(query,
		// Empty env blocks $ENV and env access from expressions.
		gojq.WithEnvironLoader(func() []string { return nil }),
	)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"jq compile error in %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	t.cache[expression] = code
	return code, nil
}
