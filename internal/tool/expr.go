package tool

import (
	"context"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/seqrun/seqrun/pkg/schema"
)

// exprTool evaluates expr-lang expressions against explicit data: array
// operations, string operations, nil coalescing, pipe chaining.
// Compiled *vm.Program objects are cached and reused across goroutines.
type exprTool struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

// NewExprTool creates the expr.eval handler.
func NewExprTool() Handler {
	return &exprTool{cache: make(map[string]*vm.Program)}
}

func (t *exprTool) Name() string { return "expr.eval" }

func (t *exprTool) Schema() Schema {
	return Schema{Description: "Evaluate an Expr expression against explicit data"}
}

func (t *exprTool) Invoke(ctx context.Context, input Input) (*Output, error) {
	expression, ok := stringParam(input.Params, "expression")
	if !ok {
		return nil, schema.NewError(schema.ErrCodeValidation, "expr.eval requires a non-empty 'expression' string parameter")
	}

	env := map[string]any{}
	if data, ok := input.Params["data"].(map[string]any); ok {
		env = data
	}

	prg, err := t.getOrCompile(expression, env)
	if err != nil {
		return nil, err
	}

	out, err := vm.Run(prg, env)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"expr evaluation failed for %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	return &Output{Data: map[string]any{"result": out}}, nil
}

func (t *exprTool) getOrCompile(expression string, env map[string]any) (*vm.Program, error) {
	t.mu.RLock()
	if prg, ok := t.cache[expression]; ok {
		t.mu.RUnlock()
		return prg, nil
	}
	t.mu.RUnlock()

	t.mu.Lock()
	defer t.mu.Unlock()

	// Double-check after acquiring write lock.
	if prg, ok := t.cache[expression]; ok {
		return prg, nil
	}

	prg, err := expr.Compile(expression,
		expr.Env(env),
		expr.AllowUndefinedVariables(),
	)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"expr compile error in %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	t.cache[expression] = prg
	return prg, nil
}
