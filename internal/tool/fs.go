package tool

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/seqrun/seqrun/internal/sandbox"
	"github.com/seqrun/seqrun/pkg/schema"
)

const defaultMaxReadSize = 50 * 1024 * 1024 // 50MB

// FSConfig configures the file tools.
type FSConfig struct {
	Roots       *sandbox.Roots
	MaxReadSize int64
}

// FSTools returns the file-scoped read/write handlers, both confined
// to the configured roots.
func FSTools(cfg FSConfig) []Handler {
	if cfg.MaxReadSize <= 0 {
		cfg.MaxReadSize = defaultMaxReadSize
	}
	return []Handler{
		&fileReadTool{cfg: cfg},
		&fileWriteTool{cfg: cfg},
	}
}

const fileReadInputSchema = `{
  "type": "object",
  "properties": {
    "path": {"type": "string"}
  },
  "required": ["path"]
}`

const fileReadOutputSchema = `{
  "type": "object",
  "properties": {
    "path": {"type": "string"},
    "content": {"type": "string"},
    "size": {"type": "integer"}
  }
}`

const fileWriteInputSchema = `{
  "type": "object",
  "properties": {
    "path": {"type": "string"},
    "content": {"type": "string"},
    "create_dirs": {"type": "boolean", "default": false}
  },
  "required": ["path", "content"]
}`

const fileWriteOutputSchema = `{
  "type": "object",
  "properties": {
    "path": {"type": "string"},
    "size": {"type": "integer"}
  }
}`

// --- file.read ---

type fileReadTool struct{ cfg FSConfig }

func (t *fileReadTool) Name() string { return "file.read" }

func (t *fileReadTool) Schema() Schema {
	return Schema{
		Description:  "Read a file inside the allowed roots",
		InputSchema:  json.RawMessage(fileReadInputSchema),
		OutputSchema: json.RawMessage(fileReadOutputSchema),
	}
}

func (t *fileReadTool) Invoke(ctx context.Context, input Input) (*Output, error) {
	path, ok := stringParam(input.Params, "path")
	if !ok {
		return nil, schema.NewError(schema.ErrCodeValidation, "file.read requires a 'path' string parameter")
	}

	resolved, err := t.cfg.Roots.Validate(path)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "stat %q: %v", path, err).WithCause(err)
	}
	if info.Size() > t.cfg.MaxReadSize {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"file %q exceeds the read limit of %d bytes", path, t.cfg.MaxReadSize)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "read %q: %v", path, err).WithCause(err)
	}

	return &Output{Data: map[string]any{
		"path":    resolved,
		"content": string(data),
		"size":    len(data),
	}}, nil
}

// --- file.write ---

type fileWriteTool struct{ cfg FSConfig }

func (t *fileWriteTool) Name() string { return "file.write" }

func (t *fileWriteTool) Schema() Schema {
	return Schema{
		Description:  "Write a file inside the allowed roots",
		InputSchema:  json.RawMessage(fileWriteInputSchema),
		OutputSchema: json.RawMessage(fileWriteOutputSchema),
	}
}

func (t *fileWriteTool) Invoke(ctx context.Context, input Input) (*Output, error) {
	path, ok := stringParam(input.Params, "path")
	if !ok {
		return nil, schema.NewError(schema.ErrCodeValidation, "file.write requires a 'path' string parameter")
	}
	content, ok := input.Params["content"].(string)
	if !ok {
		return nil, schema.NewError(schema.ErrCodeValidation, "file.write requires a 'content' string parameter")
	}

	resolved, err := t.cfg.Roots.Validate(path)
	if err != nil {
		return nil, err
	}

	if createDirs, _ := input.Params["create_dirs"].(bool); createDirs {
		dir := filepath.Dir(resolved)
		if _, err := t.cfg.Roots.Validate(dir); err != nil {
			return nil, err
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeExecution, "create dirs for %q: %v", path, err).WithCause(err)
		}
	}

	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "write %q: %v", path, err).WithCause(err)
	}

	return &Output{Data: map[string]any{
		"path": resolved,
		"size": len(content),
	}}, nil
}
