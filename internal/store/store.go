package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/seqrun/seqrun/pkg/schema"
)

// Event is one entry in a run's append-only event log. Sequence is
// monotonically increasing per run, assigned by the store.
type Event struct {
	EventID   string          `json:"event_id"`
	RunID     string          `json:"run_id"`
	Sequence  int64           `json:"sequence"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// RunSink receives the runner's lifecycle notifications: one run-created,
// N step-result-appended, one run-finalized per run. The sink is never
// consulted for control flow; the runner owns in-memory state and a sink
// failure is logged, not propagated into the run.
type RunSink interface {
	RunCreated(ctx context.Context, run *schema.Run) error
	StepResultAppended(ctx context.Context, runID string, result schema.StepResult) error
	RunFinalized(ctx context.Context, run *schema.Run) error
}

// Store is the durable persistence collaborator: a RunSink plus read
// access to stored runs, their event logs, and workflow definitions.
type Store interface {
	RunSink

	GetRun(ctx context.Context, runID string) (*schema.Run, error)
	ListRuns(ctx context.Context, workflowID string, limit int) ([]*schema.Run, error)
	Events(ctx context.Context, runID string) ([]Event, error)

	SaveWorkflow(ctx context.Context, wf *schema.Workflow) error
	GetWorkflow(ctx context.Context, id string) (*schema.Workflow, error)

	Close() error
}

// NopSink discards all notifications. Used when no persistence
// collaborator is attached.
type NopSink struct{}

func (NopSink) RunCreated(context.Context, *schema.Run) error { return nil }

func (NopSink) StepResultAppended(context.Context, string, schema.StepResult) error { return nil }

func (NopSink) RunFinalized(context.Context, *schema.Run) error { return nil }
