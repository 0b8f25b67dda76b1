package tool

import (
	"github.com/seqrun/seqrun/internal/sandbox"
)

// RegisterBuiltins registers the built-in handler set against the
// given registry: sandboxed code execution, confined file access, and
// the expression evaluators.
func RegisterBuiltins(registry *Registry, executor *sandbox.Executor) error {
	handlers := []Handler{
		NewCodeTool(executor),
		NewExprTool(),
		NewJQTool(),
	}
	handlers = append(handlers, FSTools(FSConfig{Roots: executor.Roots()})...)

	assert, err := NewAssertTool()
	if err != nil {
		return err
	}
	handlers = append(handlers, assert)

	for _, h := range handlers {
		if err := registry.Register(h); err != nil {
			return err
		}
	}
	return nil
}
