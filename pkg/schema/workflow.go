package schema

import "encoding/json"

// Workflow is the immutable, JSON-serializable workflow definition.
// It is produced by an external authoring process and is read-only to
// the engine once a run starts.
type Workflow struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Steps []Step `json:"steps"`
}

// Step describes a single unit of work within a workflow, bound to one tool.
type Step struct {
	ID        string          `json:"id"`
	Tool      string          `json:"tool"`
	Input     json.RawMessage `json:"input,omitempty"`      // may contain {{path}} placeholders
	OnError   ErrorPolicy     `json:"on_error,omitempty"`   // stop | continue | retry (default: stop)
	Retry     *RetryPolicy    `json:"retry,omitempty"`
	TimeoutMS int64           `json:"timeout_ms,omitempty"` // per-attempt timeout (default applies if absent)
}

// ErrorPolicy selects how a step failure routes execution.
type ErrorPolicy string

const (
	ErrorPolicyStop     ErrorPolicy = "stop"
	ErrorPolicyContinue ErrorPolicy = "continue"
	ErrorPolicyRetry    ErrorPolicy = "retry"
)

// Policy returns the declared policy, defaulting to stop.
func (s *Step) Policy() ErrorPolicy {
	if s.OnError == "" {
		return ErrorPolicyStop
	}
	return s.OnError
}

// RetryPolicy configures retry behavior for a step with on_error: retry.
type RetryPolicy struct {
	MaxAttempts int    `json:"max_attempts"`
	DelayMS     int64  `json:"delay_ms,omitempty"`
	Backoff     string `json:"backoff,omitempty"` // constant | exponential (default: constant)

	// ContinueOnExhausted overrides the stop fallback after all attempts
	// fail: the run proceeds to the next step instead of halting.
	ContinueOnExhausted bool `json:"continue_on_exhausted,omitempty"`
}
