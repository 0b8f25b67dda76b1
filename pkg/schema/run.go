package schema

import "time"

// RunStatus represents the lifecycle state of a run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// StepStatus represents the terminal state of a step attempt.
type StepStatus string

const (
	StepStatusSucceeded StepStatus = "succeeded"
	StepStatusFailed    StepStatus = "failed"
	StepStatusSkipped   StepStatus = "skipped"
)

// Run is a single execution instance of a Workflow. It is mutated only
// by its Runner (single writer) and becomes immutable once Status is
// completed or failed.
type Run struct {
	RunID      string         `json:"run_id"`
	WorkflowID string         `json:"workflow_id"`
	Input      map[string]any `json:"input,omitempty"`
	Status     RunStatus      `json:"status"`

	// Outputs maps step IDs to resolved output values, one entry per
	// succeeded step. OutputOrder preserves insertion (= execution) order.
	Outputs     map[string]any `json:"outputs"`
	OutputOrder []string       `json:"output_order,omitempty"`

	// Log holds every StepResult in append order, including failed
	// attempts of steps that were later retried.
	Log []StepResult `json:"log"`

	// Error identifies the step and error kind that halted a failed run.
	Error *EngineError `json:"error,omitempty"`

	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// StepResult records the outcome of one step attempt (or a skip).
type StepResult struct {
	StepID       string       `json:"step_id"`
	Status       StepStatus   `json:"status"`
	AttemptCount int          `json:"attempt_count"`
	DurationMS   int64        `json:"duration_ms"`
	Output       any          `json:"output,omitempty"`
	Error        *EngineError `json:"error,omitempty"`
}

// Output returns the output recorded for a step ID, if the step succeeded.
func (r *Run) Output(stepID string) (any, bool) {
	v, ok := r.Outputs[stepID]
	return v, ok
}

// Terminal reports whether the run has reached completed or failed.
func (r *Run) Terminal() bool {
	return r.Status == RunStatusCompleted || r.Status == RunStatusFailed
}
