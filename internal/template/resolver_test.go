package template

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seqrun/seqrun/pkg/schema"
)

func testScope() *Scope {
	return &Scope{
		Input: map[string]any{
			"name": "ada",
			"nested": map[string]any{
				"url": "https://example.com",
			},
		},
		Outputs: map[string]any{
			"step1": map[string]any{
				"count":  float64(42),
				"stdout": "2",
				"items":  []any{"a", "b", "c"},
				"meta":   map[string]any{"ok": true},
			},
		},
	}
}

func TestResolve_PlainStringPassthrough(t *testing.T) {
	r := NewResolver()
	out, err := r.Resolve("no placeholders here", testScope())
	require.NoError(t, err)
	assert.Equal(t, "no placeholders here", out)
}

func TestResolve_NonStringLeavesUntouched(t *testing.T) {
	r := NewResolver()
	out, err := r.Resolve(map[string]any{"n": float64(7), "b": true, "nil": nil}, testScope())
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"n": float64(7), "b": true, "nil": nil}, out)
}

func TestResolve_WholeStringPlaceholder_PreservesNumber(t *testing.T) {
	r := NewResolver()
	out, err := r.Resolve("{{step1.count}}", testScope())
	require.NoError(t, err)
	assert.Equal(t, float64(42), out)
}

func TestResolve_WholeStringPlaceholder_PreservesObject(t *testing.T) {
	r := NewResolver()
	out, err := r.Resolve("{{step1.meta}}", testScope())
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"ok": true}, out)
}

func TestResolve_EmbeddedPlaceholder_Stringifies(t *testing.T) {
	r := NewResolver()
	out, err := r.Resolve("count is {{step1.count}}!", testScope())
	require.NoError(t, err)
	assert.Equal(t, "count is 42!", out)
}

func TestResolve_MultiplePlaceholders(t *testing.T) {
	r := NewResolver()
	out, err := r.Resolve("{{input.name}} saw {{step1.stdout}}", testScope())
	require.NoError(t, err)
	assert.Equal(t, "ada saw 2", out)
}

func TestResolve_ArrayIndexSegment(t *testing.T) {
	r := NewResolver()
	out, err := r.Resolve("{{step1.items.1}}", testScope())
	require.NoError(t, err)
	assert.Equal(t, "b", out)
}

func TestResolve_InputNamespace(t *testing.T) {
	r := NewResolver()
	out, err := r.Resolve("{{input.nested.url}}", testScope())
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", out)
}

func TestResolve_NestedShape(t *testing.T) {
	r := NewResolver()
	in := map[string]any{
		"url":   "{{input.nested.url}}",
		"list":  []any{"{{step1.count}}", "literal"},
		"depth": map[string]any{"inner": "{{step1.stdout}}"},
	}
	out, err := r.Resolve(in, testScope())
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"url":   "https://example.com",
		"list":  []any{float64(42), "literal"},
		"depth": map[string]any{"inner": "2"},
	}, out)
}

func TestResolve_UnknownStep_Fails(t *testing.T) {
	r := NewResolver()
	_, err := r.Resolve("{{missing.field}}", testScope())
	require.Error(t, err)

	var engErr *schema.EngineError
	require.True(t, errors.As(err, &engErr))
	assert.Equal(t, schema.ErrCodeUnresolvedReference, engErr.Code)
	assert.Contains(t, engErr.Message, "missing.field")
}

func TestResolve_MissingField_Fails(t *testing.T) {
	r := NewResolver()
	_, err := r.Resolve("{{step1.absent}}", testScope())
	require.Error(t, err)

	var engErr *schema.EngineError
	require.True(t, errors.As(err, &engErr))
	assert.Equal(t, schema.ErrCodeUnresolvedReference, engErr.Code)
}

func TestResolve_IndexOutOfRange_Fails(t *testing.T) {
	r := NewResolver()
	_, err := r.Resolve("{{step1.items.9}}", testScope())
	require.Error(t, err)

	var engErr *schema.EngineError
	require.True(t, errors.As(err, &engErr))
	assert.Equal(t, schema.ErrCodeUnresolvedReference, engErr.Code)
}

func TestResolve_UnclosedPlaceholder_Fails(t *testing.T) {
	r := NewResolver()
	_, err := r.Resolve("broken {{step1.count", testScope())
	require.Error(t, err)

	var engErr *schema.EngineError
	require.True(t, errors.As(err, &engErr))
	assert.Equal(t, schema.ErrCodeUnresolvedReference, engErr.Code)
}

func TestResolveRaw_DecodesAndResolves(t *testing.T) {
	r := NewResolver()
	raw := json.RawMessage(`{"count":"{{step1.count}}","label":"n={{step1.count}}"}`)
	out, err := r.ResolveRaw(raw, testScope())
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"count": float64(42),
		"label": "n=42",
	}, out)
}

func TestResolveRaw_Empty(t *testing.T) {
	r := NewResolver()
	out, err := r.ResolveRaw(nil, testScope())
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestExtractStepRefs(t *testing.T) {
	raw := json.RawMessage(`{"a":"{{fetch.body}}","b":"x {{ parse.rows.0 }} y","c":"{{input.seed}}"}`)
	refs := ExtractStepRefs(raw)
	assert.Equal(t, map[string]bool{"fetch": true, "parse": true}, refs)
}

func TestExtractStepRefs_None(t *testing.T) {
	assert.Empty(t, ExtractStepRefs(json.RawMessage(`{"a":1}`)))
}
