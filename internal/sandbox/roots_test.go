package sandbox

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seqrun/seqrun/pkg/schema"
)

func TestNewRootsRequiresDirs(t *testing.T) {
	_, err := NewRoots()
	require.Error(t, err)
}

func TestValidateInsideRoot(t *testing.T) {
	root := t.TempDir()
	roots, err := NewRoots(root)
	require.NoError(t, err)

	resolved, err := roots.Validate(filepath.Join(root, "data", "out.txt"))
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(resolved))
}

func TestValidateRejectsDotDotEscape(t *testing.T) {
	root := t.TempDir()
	roots, err := NewRoots(root)
	require.NoError(t, err)

	_, err = roots.Validate(filepath.Join(root, "..", "escape.txt"))
	require.Error(t, err)

	var engErr *schema.EngineError
	require.True(t, errors.As(err, &engErr))
	assert.Equal(t, schema.ErrCodeAccessDenied, engErr.Code)
}

func TestValidateRejectsAbsoluteOutside(t *testing.T) {
	root := t.TempDir()
	roots, err := NewRoots(root)
	require.NoError(t, err)

	_, err = roots.Validate("/etc/passwd")
	require.Error(t, err)

	var engErr *schema.EngineError
	require.True(t, errors.As(err, &engErr))
	assert.Equal(t, schema.ErrCodeAccessDenied, engErr.Code)
}

func TestValidateRejectsSiblingPrefix(t *testing.T) {
	root := t.TempDir()
	roots, err := NewRoots(root)
	require.NoError(t, err)

	// A sibling whose name shares the root as a string prefix must not pass.
	_, err = roots.Validate(root + "evil/file.txt")
	assert.Error(t, err)
}

func TestValidateResolvesSymlinkEscape(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()

	link := filepath.Join(root, "link")
	require.NoError(t, os.Symlink(outside, link))

	roots, err := NewRoots(root)
	require.NoError(t, err)

	_, err = roots.Validate(filepath.Join(link, "secret.txt"))
	assert.Error(t, err, "symlink pointing outside the root must be denied")
}

func TestValidateRejectsNullByte(t *testing.T) {
	root := t.TempDir()
	roots, err := NewRoots(root)
	require.NoError(t, err)

	_, err = roots.Validate(root + string(rune(0)) + "x")
	assert.Error(t, err)
}

func TestValidateMultipleRoots(t *testing.T) {
	a := t.TempDir()
	b := t.TempDir()
	roots, err := NewRoots(a, b)
	require.NoError(t, err)

	_, err = roots.Validate(filepath.Join(b, "file.txt"))
	assert.NoError(t, err)
}

func TestIsUnderPath(t *testing.T) {
	assert.True(t, isUnderPath("/tmp/work/file", "/tmp/work"))
	assert.True(t, isUnderPath("/tmp/work", "/tmp/work"))
	assert.False(t, isUnderPath("/tmp/workother", "/tmp/work"))
	assert.False(t, isUnderPath("/tmp", "/tmp/work"))
}
