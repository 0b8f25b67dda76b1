package engine

import (
	"context"

	"github.com/seqrun/seqrun/pkg/schema"
)

// Handle tracks an asynchronously started run. Cancel aborts the run,
// killing any in-flight sandboxed process; Result blocks until the run
// reaches a terminal state.
type Handle struct {
	runID  string
	cancel context.CancelFunc
	done   chan struct{}
	run    *schema.Run
}

// RunID returns the run's identifier, assigned before execution starts.
func (h *Handle) RunID() string {
	return h.runID
}

// Done returns a channel closed when the run reaches a terminal state.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Cancel aborts the run. Safe to call multiple times and after the run
// has finished.
func (h *Handle) Cancel() {
	h.cancel()
}

// Result blocks until the run finishes and returns the terminal record.
func (h *Handle) Result() *schema.Run {
	<-h.done
	return h.run
}

// Wait blocks until the run finishes or ctx expires.
func (h *Handle) Wait(ctx context.Context) (*schema.Run, error) {
	select {
	case <-h.done:
		return h.run, nil
	case <-ctx.Done():
		return nil, schema.NewError(schema.ErrCodeTimeout, "timed out waiting for run").WithCause(ctx.Err())
	}
}
