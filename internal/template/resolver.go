package template

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/seqrun/seqrun/pkg/schema"
)

// InputNamespace is the reserved root for run-level input references.
const InputNamespace = "input"

// Scope holds all data available for placeholder resolution: the run's
// seed input plus the outputs of previously succeeded steps.
type Scope struct {
	Input   map[string]any // run input, addressable as input.*
	Outputs map[string]any // step ID -> output value
}

// Resolver substitutes {{path}} references in step inputs. It operates
// on decoded JSON values (maps, slices, strings) rather than raw text,
// so a string that is exactly one placeholder resolves to the referenced
// value's native type instead of a stringified form.
type Resolver struct{}

// NewResolver creates a Resolver.
func NewResolver() *Resolver {
	return &Resolver{}
}

// Resolve walks an arbitrary nested value and returns a value of the
// same shape with every {{path}} placeholder replaced. Non-string
// leaves pass through unchanged. Resolution failures are always
// UNRESOLVED_REFERENCE errors: they indicate a malformed workflow
// definition, not a transient tool failure.
func (r *Resolver) Resolve(value any, scope *Scope) (any, error) {
	switch v := value.(type) {
	case string:
		return r.resolveString(v, scope)
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, elem := range v {
			resolved, err := r.Resolve(elem, scope)
			if err != nil {
				return nil, err
			}
			out[key] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, elem := range v {
			resolved, err := r.Resolve(elem, scope)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return value, nil
	}
}

// ResolveRaw decodes raw JSON, resolves it, and returns the decoded result.
func (r *Resolver) ResolveRaw(raw json.RawMessage, scope *Scope) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "decode step input: %s", err.Error()).WithCause(err)
	}
	return r.Resolve(value, scope)
}

// resolveString scans one string leaf for {{path}} tokens. A string that
// is exactly one placeholder returns the referenced value as-is; any
// other placeholder occurrence is stringified in place.
func (r *Resolver) resolveString(s string, scope *Scope) (any, error) {
	start := strings.Index(s, "{{")
	if start == -1 {
		return s, nil
	}

	// Whole-string placeholder: preserve the native type.
	if trimmed := strings.TrimSpace(s); strings.HasPrefix(trimmed, "{{") && strings.HasSuffix(trimmed, "}}") {
		inner := strings.TrimSpace(trimmed[2 : len(trimmed)-2])
		if inner != "" && !strings.Contains(inner, "{{") && !strings.Contains(inner, "}}") {
			return r.lookup(inner, scope)
		}
	}

	var result strings.Builder
	result.Grow(len(s))
	i := 0
	for i < len(s) {
		idx := strings.Index(s[i:], "{{")
		if idx == -1 {
			result.WriteString(s[i:])
			break
		}
		result.WriteString(s[i : i+idx])
		open := i + idx + 2

		end := strings.Index(s[open:], "}}")
		if end == -1 {
			return nil, schema.NewError(schema.ErrCodeUnresolvedReference, "unclosed {{ placeholder")
		}
		end += open

		path := strings.TrimSpace(s[open:end])
		if path == "" {
			return nil, schema.NewError(schema.ErrCodeUnresolvedReference, "empty placeholder: {{ }}")
		}

		val, err := r.lookup(path, scope)
		if err != nil {
			return nil, err
		}
		result.WriteString(stringify(val))
		i = end + 2
	}
	return result.String(), nil
}

// lookup resolves a single dot-separated path against the scope.
func (r *Resolver) lookup(path string, scope *Scope) (any, error) {
	segments := strings.Split(path, ".")
	root := segments[0]

	var current any
	switch {
	case root == InputNamespace:
		if scope == nil || scope.Input == nil {
			return nil, unresolved(path, "run input is empty")
		}
		current = scope.Input
	default:
		if scope == nil || scope.Outputs == nil {
			return nil, unresolved(path, fmt.Sprintf("step %q has no recorded output", root))
		}
		out, ok := scope.Outputs[root]
		if !ok {
			return nil, unresolved(path, fmt.Sprintf("step %q has no recorded output; available: [%s]",
				root, strings.Join(outputKeys(scope.Outputs), ", ")))
		}
		current = out
	}

	return traverse(current, segments[1:], path)
}

// traverse navigates nested maps and slices using the remaining path segments.
func traverse(root any, segments []string, path string) (any, error) {
	current := root
	for _, seg := range segments {
		if seg == "" {
			return nil, unresolved(path, "empty path segment")
		}
		switch v := current.(type) {
		case map[string]any:
			val, ok := v[seg]
			if !ok {
				return nil, unresolved(path, fmt.Sprintf("field %q not found", seg))
			}
			current = val
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil {
				return nil, unresolved(path, fmt.Sprintf("segment %q is not an array index", seg))
			}
			if idx < 0 || idx >= len(v) {
				return nil, unresolved(path, fmt.Sprintf("index %d out of range (len %d)", idx, len(v)))
			}
			current = v[idx]
		default:
			return nil, unresolved(path, fmt.Sprintf("cannot traverse into %T at %q", current, seg))
		}
	}
	return current, nil
}

// ExtractStepRefs returns the set of step IDs referenced by {{...}}
// placeholders in a raw step input. The input namespace is excluded.
// Used by definition-time validation to reject forward references.
func ExtractStepRefs(raw json.RawMessage) map[string]bool {
	refs := make(map[string]bool)
	s := string(raw)
	for {
		idx := strings.Index(s, "{{")
		if idx == -1 {
			break
		}
		rest := s[idx+2:]
		closeIdx := strings.Index(rest, "}}")
		if closeIdx == -1 {
			break
		}
		path := strings.TrimSpace(rest[:closeIdx])
		if root, _, _ := strings.Cut(path, "."); root != "" && root != InputNamespace {
			refs[root] = true
		}
		s = rest[closeIdx+2:]
	}
	return refs
}

// stringify renders a resolved value for embedding inside a larger string.
func stringify(val any) string {
	switch v := val.(type) {
	case string:
		return v
	case nil:
		return "null"
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}

func unresolved(path, reason string) *schema.EngineError {
	return schema.NewErrorf(schema.ErrCodeUnresolvedReference,
		"cannot resolve {{%s}}: %s", path, reason).
		WithDetails(map[string]any{"path": path})
}

func outputKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
