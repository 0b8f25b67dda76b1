package schema

// Event type constants for the append-only run event log. The runner
// emits exactly one run_created, N step_result_appended, and one
// run_finalized per run; the persistence collaborator stores them but
// is never consulted for control flow.
const (
	EventRunCreated         = "run_created"
	EventStepResultAppended = "step_result_appended"
	EventRunFinalized       = "run_finalized"
)
