package sandbox

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/seqrun/seqrun/pkg/schema"
)

const (
	// DefaultTimeout applies when a request carries no timeout_ms.
	DefaultTimeout = 30 * time.Second

	defaultMaxOutputSize = 10 * 1024 * 1024 // 10MB
)

// LanguageSpec describes how to invoke one supported interpreter.
// Command is an argv template; the literal "{file}" element is replaced
// with the snippet's path at execution time.
type LanguageSpec struct {
	Name      string   `json:"name"`
	Command   []string `json:"command"`
	Extension string   `json:"extension"`
}

// DefaultLanguages returns the built-in interpreter set: two scripting
// languages and one shell.
func DefaultLanguages() map[string]LanguageSpec {
	return map[string]LanguageSpec{
		"python": {
			Name:      "python",
			Command:   []string{"python3", "{file}"},
			Extension: ".py",
		},
		"javascript": {
			Name:      "javascript",
			Command:   []string{"node", "{file}"},
			Extension: ".js",
		},
		"shell": {
			Name:      "shell",
			Command:   []string{"/bin/sh", "{file}"},
			Extension: ".sh",
		},
	}
}

// Config is the process-wide executor configuration: supported languages,
// working root, env allowlist, and limits. It is loaded once at startup
// and immutable thereafter.
type Config struct {
	Languages      map[string]LanguageSpec
	WorkDir        string            // confined working root for snippets
	Env            map[string]string // explicit allowlist; never inherited wholesale
	DefaultTimeout time.Duration
	MaxOutputSize  int64
}

// Request is one code-execution invocation.
type Request struct {
	Language  string `json:"language"`
	Code      string `json:"code"`
	TimeoutMS int64  `json:"timeout_ms,omitempty"`
}

// Result carries captured output of an executed snippet. A non-zero
// ExitCode is a successful dispatch: whether it matters is up to the
// step's own logic or a later step inspecting exit_code.
type Result struct {
	Stdout          string `json:"stdout"`
	Stderr          string `json:"stderr"`
	ExitCode        int    `json:"exit_code"`
	ExecutionTimeMS int64  `json:"execution_time_ms"`
}

// Executor runs short code snippets in isolated interpreter processes
// confined to WorkDir. Every call spawns a fresh process; no interpreter
// state survives across calls.
type Executor struct {
	cfg   Config
	roots *Roots
}

// NewExecutor validates the configuration and creates an Executor.
// WorkDir is created if missing and becomes the confinement root.
func NewExecutor(cfg Config) (*Executor, error) {
	if cfg.WorkDir == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "sandbox: work dir is required")
	}
	if err := os.MkdirAll(cfg.WorkDir, 0o755); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "sandbox: create work dir: %v", err).WithCause(err)
	}
	if cfg.Languages == nil {
		cfg.Languages = DefaultLanguages()
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultTimeout
	}
	if cfg.MaxOutputSize <= 0 {
		cfg.MaxOutputSize = defaultMaxOutputSize
	}
	if cfg.Env == nil {
		cfg.Env = map[string]string{
			"PATH": os.Getenv("PATH"),
			"HOME": cfg.WorkDir,
			"LANG": "C.UTF-8",
		}
	}

	roots, err := NewRoots(cfg.WorkDir)
	if err != nil {
		return nil, err
	}
	return &Executor{cfg: cfg, roots: roots}, nil
}

// Roots exposes the confinement boundary so file tools can share it.
func (e *Executor) Roots() *Roots {
	return e.roots
}

// Languages lists the supported language names.
func (e *Executor) Languages() []string {
	names := make([]string, 0, len(e.cfg.Languages))
	for name := range e.cfg.Languages {
		names = append(names, name)
	}
	return names
}

// Execute writes the snippet into the confined work dir, spawns the
// interpreter with the allowlist environment, and waits for completion
// or the wall-clock deadline. On timeout or caller cancellation the
// whole child process group is killed, not just the logical wait.
func (e *Executor) Execute(ctx context.Context, req Request) (*Result, error) {
	spec, ok := e.cfg.Languages[req.Language]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeUnsupportedLanguage,
			"language %q is not supported; available: %s", req.Language, strings.Join(e.Languages(), ", "))
	}

	timeout := e.cfg.DefaultTimeout
	if req.TimeoutMS > 0 {
		timeout = time.Duration(req.TimeoutMS) * time.Millisecond
	}

	snippet, err := e.writeSnippet(req.Code, spec.Extension)
	if err != nil {
		return nil, err
	}
	defer os.Remove(snippet)

	argv := make([]string, 0, len(spec.Command))
	for _, arg := range spec.Command {
		if arg == "{file}" {
			argv = append(argv, snippet)
		} else {
			argv = append(argv, arg)
		}
	}
	if len(argv) == 0 {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "language %q has an empty command template", req.Language)
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = e.cfg.WorkDir
	cmd.Env = flattenEnv(e.cfg.Env)
	setProcGroup(cmd)

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &limitedWriter{w: &stdoutBuf, limit: e.cfg.MaxOutputSize}
	cmd.Stderr = &limitedWriter{w: &stderrBuf, limit: e.cfg.MaxOutputSize}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "spawn %s interpreter: %v", req.Language, err).WithCause(err)
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var runErr error
	select {
	case <-execCtx.Done():
		killProcGroup(cmd)
		<-done // reap; output buffers hold whatever was captured
		elapsed := time.Since(start).Milliseconds()
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, schema.NewError(schema.ErrCodeCancelled, "code execution cancelled").
				WithDetails(partialOutput(&stdoutBuf, &stderrBuf, elapsed))
		}
		return nil, schema.NewErrorf(schema.ErrCodeTimeout,
			"code execution exceeded %s", timeout).
			WithDetails(partialOutput(&stdoutBuf, &stderrBuf, elapsed))
	case runErr = <-done:
	}
	elapsed := time.Since(start).Milliseconds()

	exitCode := 0
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return nil, schema.NewErrorf(schema.ErrCodeExecution, "wait on %s interpreter: %v", req.Language, runErr).WithCause(runErr)
		}
	}

	return &Result{
		Stdout:          stdoutBuf.String(),
		Stderr:          stderrBuf.String(),
		ExitCode:        exitCode,
		ExecutionTimeMS: elapsed,
	}, nil
}

// writeSnippet stores the code under the work dir and validates the
// resulting path against the confinement roots.
func (e *Executor) writeSnippet(code, ext string) (string, error) {
	f, err := os.CreateTemp(e.cfg.WorkDir, "snippet-*"+ext)
	if err != nil {
		return "", schema.NewErrorf(schema.ErrCodeExecution, "create snippet file: %v", err).WithCause(err)
	}
	path := f.Name()
	if _, err := e.roots.Validate(path); err != nil {
		f.Close()
		os.Remove(path)
		return "", err
	}
	if _, err := f.WriteString(code); err != nil {
		f.Close()
		os.Remove(path)
		return "", schema.NewErrorf(schema.ErrCodeExecution, "write snippet file: %v", err).WithCause(err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", schema.NewErrorf(schema.ErrCodeExecution, "close snippet file: %v", err).WithCause(err)
	}
	return path, nil
}

func flattenEnv(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

func partialOutput(stdout, stderr *bytes.Buffer, elapsedMS int64) map[string]any {
	return map[string]any{
		"stdout":            stdout.String(),
		"stderr":            stderr.String(),
		"execution_time_ms": elapsedMS,
	}
}

// limitedWriter wraps a writer and silently discards bytes beyond the limit.
// Write always reports the full len(p) consumed to prevent the subprocess
// from blocking on a full pipe.
type limitedWriter struct {
	w       io.Writer
	limit   int64
	written int64
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	total := len(p)
	remaining := lw.limit - lw.written
	if remaining <= 0 {
		return total, nil
	}
	if int64(len(p)) > remaining {
		p = p[:remaining]
	}
	n, err := lw.w.Write(p)
	lw.written += int64(n)
	if err != nil {
		return total, err
	}
	return total, nil
}
