package tool

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seqrun/seqrun/internal/sandbox"
	"github.com/seqrun/seqrun/pkg/schema"
)

func newBuiltinRegistry(t *testing.T) (*Registry, string) {
	t.Helper()
	workDir := t.TempDir()
	executor, err := sandbox.NewExecutor(sandbox.Config{WorkDir: workDir})
	require.NoError(t, err)

	r := NewRegistry()
	require.NoError(t, RegisterBuiltins(r, executor))
	return r, workDir
}

func TestRegisterBuiltinsNames(t *testing.T) {
	r, _ := newBuiltinRegistry(t)

	for _, name := range []string{"execute_code", "file.read", "file.write", "expr.eval", "jq.eval", "assert.cel"} {
		_, err := r.Get(name)
		assert.NoError(t, err, name)
	}
}

func TestFileWriteThenRead(t *testing.T) {
	r, workDir := newBuiltinRegistry(t)
	path := filepath.Join(workDir, "note.txt")

	write, err := r.Get("file.write")
	require.NoError(t, err)
	_, err = write.Invoke(context.Background(), Input{Params: map[string]any{
		"path":    path,
		"content": "hello",
	}})
	require.NoError(t, err)

	read, err := r.Get("file.read")
	require.NoError(t, err)
	out, err := read.Invoke(context.Background(), Input{Params: map[string]any{"path": path}})
	require.NoError(t, err)
	assert.Equal(t, "hello", out.Data["content"])
}

func TestFileWriteOutsideRootDenied(t *testing.T) {
	r, _ := newBuiltinRegistry(t)

	target := filepath.Join(os.TempDir(), "..", "escape.txt")
	write, err := r.Get("file.write")
	require.NoError(t, err)
	_, err = write.Invoke(context.Background(), Input{Params: map[string]any{
		"path":    target,
		"content": "nope",
	}})
	require.Error(t, err)

	var engErr *schema.EngineError
	require.True(t, errors.As(err, &engErr))
	assert.Equal(t, schema.ErrCodeAccessDenied, engErr.Code)

	// The denial happened before any filesystem I/O.
	assert.NoFileExists(t, target)
}

func TestExprEval(t *testing.T) {
	h := NewExprTool()

	out, err := h.Invoke(context.Background(), Input{Params: map[string]any{
		"expression": "len(filter(items, # > 2))",
		"data":       map[string]any{"items": []any{1, 2, 3, 4}},
	}})
	require.NoError(t, err)
	assert.EqualValues(t, 2, out.Data["result"])
}

func TestExprEvalCompileError(t *testing.T) {
	h := NewExprTool()

	_, err := h.Invoke(context.Background(), Input{Params: map[string]any{
		"expression": "1 +",
	}})
	require.Error(t, err)

	var engErr *schema.EngineError
	require.True(t, errors.As(err, &engErr))
	assert.Equal(t, schema.ErrCodeValidation, engErr.Code)
}

func TestJQEval(t *testing.T) {
	h := NewJQTool()

	out, err := h.Invoke(context.Background(), Input{Params: map[string]any{
		"expression": ".items | map(.price) | add",
		"data": map[string]any{
			"items": []any{
				map[string]any{"price": 10.0},
				map[string]any{"price": 5.0},
			},
		},
	}})
	require.NoError(t, err)
	assert.EqualValues(t, 15.0, out.Data["result"])
}

func TestJQEvalMultipleOutputs(t *testing.T) {
	h := NewJQTool()

	out, err := h.Invoke(context.Background(), Input{Params: map[string]any{
		"expression": ".items[]",
		"data":       map[string]any{"items": []any{"a", "b"}},
	}})
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, out.Data["result"])
}

func TestAssertCELPasses(t *testing.T) {
	h, err := NewAssertTool()
	require.NoError(t, err)

	out, err := h.Invoke(context.Background(), Input{Params: map[string]any{
		"condition": "data.count > 1 && data.name == 'run'",
		"data":      map[string]any{"count": 3, "name": "run"},
	}})
	require.NoError(t, err)
	assert.Equal(t, true, out.Data["passed"])
}

func TestAssertCELFails(t *testing.T) {
	h, err := NewAssertTool()
	require.NoError(t, err)

	_, err = h.Invoke(context.Background(), Input{Params: map[string]any{
		"condition": "data.count > 100",
		"data":      map[string]any{"count": 3},
	}})
	require.Error(t, err)

	var engErr *schema.EngineError
	require.True(t, errors.As(err, &engErr))
	assert.Equal(t, schema.ErrCodeExecution, engErr.Code)
}
