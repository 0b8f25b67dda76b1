package sandbox

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/seqrun/seqrun/pkg/schema"
)

// Roots is the filesystem confinement boundary: a fixed set of allowed
// root directories, canonicalized once at construction. Every path a
// tool or the code executor touches must resolve inside one of them.
type Roots struct {
	allowed []string
}

// NewRoots canonicalizes the given directories and returns a Roots.
// Canonicalization happens here, not at check time, so symlinked roots
// compare correctly against resolved request paths.
func NewRoots(dirs ...string) (*Roots, error) {
	if len(dirs) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "at least one allowed root is required")
	}
	allowed := make([]string, 0, len(dirs))
	for _, d := range dirs {
		clean, err := resolveCleanPath(d)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid root %q: %v", d, err)
		}
		allowed = append(allowed, clean)
	}
	return &Roots{allowed: allowed}, nil
}

// Allowed returns the canonicalized root directories.
func (r *Roots) Allowed() []string {
	out := make([]string, len(r.allowed))
	copy(out, r.allowed)
	return out
}

// Validate canonicalizes the requested path (normalizing ".." segments
// and resolving symlinks on the longest existing ancestor) and checks
// prefix containment against the allowed roots. It returns the resolved
// path on success, or ACCESS_DENIED before any I/O can occur.
func (r *Roots) Validate(path string) (string, error) {
	clean, err := resolveCleanPath(path)
	if err != nil {
		return "", schema.NewErrorf(schema.ErrCodeAccessDenied, "invalid path %q: %v", path, err)
	}
	for _, base := range r.allowed {
		if isUnderPath(clean, base) {
			return clean, nil
		}
	}
	return "", schema.NewErrorf(schema.ErrCodeAccessDenied,
		"path %q resolves outside the allowed roots", path).
		WithDetails(map[string]any{"resolved": clean, "allowed": r.allowed})
}

// resolveCleanPath cleans and resolves a path to absolute. Walks up
// ancestors to resolve symlinks on the longest existing prefix, ensuring
// consistent resolution even for non-existent paths (e.g. new files).
func resolveCleanPath(path string) (string, error) {
	if strings.ContainsRune(path, 0) {
		return "", fmt.Errorf("path contains null byte")
	}

	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", err
	}

	// Try full path first (fast path when target exists).
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}

	// Walk up to find the longest existing ancestor and resolve its symlinks.
	return resolveAncestor(abs), nil
}

// resolveAncestor walks up from path until it finds an existing directory,
// resolves symlinks on that ancestor, and re-appends the unresolved suffix.
func resolveAncestor(path string) string {
	dir := path
	for range 256 { // depth limit
		parent := filepath.Dir(dir)
		if parent == dir {
			break // reached root
		}
		resolved, err := filepath.EvalSymlinks(parent)
		if err == nil {
			rel, err := filepath.Rel(parent, path)
			if err != nil {
				return path
			}
			return filepath.Join(resolved, rel)
		}
		dir = parent
	}
	return path
}

// isUnderPath returns true if path is under (or equal to) the base directory.
// Uses filepath.Rel to avoid string-prefix false positives (e.g. /tmp vs /tmpevil).
func isUnderPath(path, base string) bool {
	if path == base {
		return true
	}
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return false
	}
	// rel must not escape base (no leading "..")
	return !strings.HasPrefix(rel, "..")
}
