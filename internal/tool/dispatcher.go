package tool

import (
	"context"
	"errors"
	"log/slog"

	"github.com/seqrun/seqrun/internal/validation"
	"github.com/seqrun/seqrun/pkg/schema"
)

// ResourceGuard is consulted before every handler invocation and may
// veto the dispatch. A veto never consumes a retry attempt.
type ResourceGuard interface {
	Authorize(ctx context.Context, toolName string, input Input) error
}

// Dispatcher maps a step's declared tool name to a concrete handler
// and invokes it synchronously.
type Dispatcher struct {
	registry *Registry
	guard    ResourceGuard
	inputs   *validation.InputValidator
	logger   *slog.Logger
}

// NewDispatcher creates a Dispatcher. guard may be nil when no quota
// system is attached.
func NewDispatcher(registry *Registry, guard ResourceGuard, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		registry: registry,
		guard:    guard,
		inputs:   validation.NewInputValidator(),
		logger:   logger,
	}
}

// Dispatch looks up the handler, consults the resource guard, checks
// the input against the handler's declared schema, and invokes the
// handler with the resolved input. An unknown tool name or a guard veto
// fails before the handler runs.
func (d *Dispatcher) Dispatch(ctx context.Context, toolName string, input Input) (*Output, error) {
	h, err := d.registry.Get(toolName)
	if err != nil {
		return nil, err
	}

	if d.guard != nil {
		if err := d.guard.Authorize(ctx, toolName, input); err != nil {
			var engErr *schema.EngineError
			if errors.As(err, &engErr) {
				return nil, engErr
			}
			return nil, schema.NewErrorf(schema.ErrCodeQuotaExceeded,
				"dispatch of %q vetoed: %v", toolName, err).WithCause(err)
		}
	}

	if err := d.inputs.ValidateInput(input.Params, h.Schema().InputSchema); err != nil {
		var engErr *schema.EngineError
		if errors.As(err, &engErr) {
			return nil, engErr.WithDetails(map[string]any{"tool": toolName})
		}
		return nil, err
	}

	d.logger.DebugContext(ctx, "dispatching tool", slog.String("tool", toolName))

	out, err := h.Invoke(ctx, input)
	if err != nil {
		var engErr *schema.EngineError
		if errors.As(err, &engErr) {
			return nil, engErr
		}
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"tool %q failed: %v", toolName, err).WithCause(err)
	}
	if out == nil {
		out = &Output{}
	}
	return out, nil
}
