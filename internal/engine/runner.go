package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/seqrun/seqrun/internal/logging"
	"github.com/seqrun/seqrun/internal/store"
	"github.com/seqrun/seqrun/internal/template"
	"github.com/seqrun/seqrun/internal/tool"
	"github.com/seqrun/seqrun/internal/validation"
	"github.com/seqrun/seqrun/pkg/schema"
)

// Runner executes workflows sequentially: resolve templates, dispatch
// through the policy engine, accumulate outputs. One Runner serves many
// concurrent runs; all per-run state lives in the Run record owned by
// the executing goroutine.
type Runner struct {
	dispatcher *tool.Dispatcher
	resolver   *template.Resolver
	policy     *PolicyEngine
	sink       store.RunSink
	logger     *slog.Logger
}

// RunnerConfig wires the Runner's collaborators.
type RunnerConfig struct {
	Dispatcher *tool.Dispatcher
	Sink       store.RunSink
	Logger     *slog.Logger

	// DefaultStepTimeout applies to steps without timeout_ms.
	DefaultStepTimeout time.Duration
}

// NewRunner creates a Runner. Sink may be nil; notifications are then
// discarded.
func NewRunner(cfg RunnerConfig) *Runner {
	if cfg.Sink == nil {
		cfg.Sink = store.NopSink{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Runner{
		dispatcher: cfg.Dispatcher,
		resolver:   template.NewResolver(),
		policy:     NewPolicyEngine(cfg.DefaultStepTimeout, cfg.Logger),
		sink:       cfg.Sink,
		logger:     cfg.Logger,
	}
}

// Start validates the workflow, creates a Run, and executes it on a new
// goroutine. Validation failures are returned before any Run exists.
func (r *Runner) Start(ctx context.Context, wf *schema.Workflow, input map[string]any) (*Handle, error) {
	if err := validation.ValidateWorkflow(wf); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	handle := &Handle{
		runID:  uuid.NewString(),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		defer close(handle.done)
		defer cancel()
		handle.run = r.execute(runCtx, handle.runID, wf, input)
	}()
	return handle, nil
}

// Execute validates and runs a workflow synchronously, returning the
// terminal Run record. The record is returned even when the run failed;
// the error mirrors Run.Error for callers that only check err.
func (r *Runner) Execute(ctx context.Context, wf *schema.Workflow, input map[string]any) (*schema.Run, error) {
	if err := validation.ValidateWorkflow(wf); err != nil {
		return nil, err
	}
	run := r.execute(ctx, uuid.NewString(), wf, input)
	if run.Error != nil {
		return run, run.Error
	}
	return run, nil
}

func (r *Runner) execute(ctx context.Context, runID string, wf *schema.Workflow, input map[string]any) *schema.Run {
	ctx = logging.WithRunID(ctx, runID)

	run := &schema.Run{
		RunID:      runID,
		WorkflowID: wf.ID,
		Input:      input,
		Status:     schema.RunStatusPending,
		Outputs:    make(map[string]any),
		StartedAt:  time.Now().UTC(),
	}

	if err := r.sink.RunCreated(ctx, run); err != nil {
		r.logger.WarnContext(ctx, "run sink rejected run_created", slog.String("error", err.Error()))
	}

	run.Status = schema.RunStatusRunning
	r.logger.InfoContext(ctx, "run started",
		slog.String("workflow_id", wf.ID),
		slog.Int("steps", len(wf.Steps)))

	scope := &template.Scope{Input: input, Outputs: run.Outputs}

	halted := false
	for i := range wf.Steps {
		step := &wf.Steps[i]
		stepCtx := logging.WithStepID(ctx, step.ID)

		if halted {
			r.appendResult(stepCtx, run, schema.StepResult{
				StepID: step.ID,
				Status: schema.StepStatusSkipped,
			})
			continue
		}

		outcome := r.runStep(stepCtx, step, scope)
		for _, res := range outcome.Results {
			r.appendResult(stepCtx, run, res)
		}

		if outcome.Succeeded() {
			output := outcome.Terminal().Output
			run.Outputs[step.ID] = output
			run.OutputOrder = append(run.OutputOrder, step.ID)
			continue
		}

		r.logger.WarnContext(stepCtx, "step failed",
			slog.String("tool", step.Tool),
			slog.Int("attempts", len(outcome.Results)),
			slog.Bool("halt", outcome.Halt))

		if outcome.Halt {
			halted = true
			if terminal := outcome.Terminal(); terminal != nil && terminal.Error != nil {
				run.Error = terminal.Error
			} else {
				run.Error = schema.NewError(schema.ErrCodeExecution, "step failed").WithStep(step.ID)
			}
		}
	}

	if halted {
		run.Status = schema.RunStatusFailed
	} else {
		run.Status = schema.RunStatusCompleted
	}
	now := time.Now().UTC()
	run.EndedAt = &now

	if err := r.sink.RunFinalized(ctx, run); err != nil {
		r.logger.WarnContext(ctx, "run sink rejected run_finalized", slog.String("error", err.Error()))
	}

	r.logger.InfoContext(ctx, "run finished",
		slog.String("status", string(run.Status)),
		slog.Duration("elapsed", now.Sub(run.StartedAt)))
	return run
}

// runStep resolves the step input and drives it through the policy
// engine. Template resolution happens once per step, not per attempt:
// the scope cannot change between retries of the same step. A
// resolution failure counts as the step's first and only attempt.
func (r *Runner) runStep(ctx context.Context, step *schema.Step, scope *template.Scope) *StepOutcome {
	start := time.Now()
	resolved, err := r.resolver.ResolveRaw(step.Input, scope)
	if err != nil {
		engErr := schema.NewError(schema.ErrCodeUnresolvedReference, err.Error()).WithStep(step.ID).WithCause(err)
		if e, ok := err.(*schema.EngineError); ok {
			engErr = e.WithStep(step.ID)
		}
		return failedBeforeDispatch(step.ID, engErr, start)
	}

	params, ok := resolved.(map[string]any)
	if resolved != nil && !ok {
		engErr := schema.NewErrorf(schema.ErrCodeValidation,
			"step input must resolve to an object, got %T", resolved).WithStep(step.ID)
		return failedBeforeDispatch(step.ID, engErr, start)
	}
	input := tool.Input{Params: params}

	return r.policy.ExecuteStep(ctx, step, func(attemptCtx context.Context) (map[string]any, error) {
		out, err := r.dispatcher.Dispatch(attemptCtx, step.Tool, input)
		if err != nil {
			return nil, err
		}
		return out.Data, nil
	})
}

// failedBeforeDispatch records a failure that precedes any tool
// invocation. The step was still attempted, so the result counts as
// attempt 1 and the run halts.
func failedBeforeDispatch(stepID string, engErr *schema.EngineError, start time.Time) *StepOutcome {
	return &StepOutcome{
		Results: []schema.StepResult{{
			StepID:       stepID,
			Status:       schema.StepStatusFailed,
			AttemptCount: 1,
			DurationMS:   time.Since(start).Milliseconds(),
			Error:        engErr,
		}},
		Halt: true,
	}
}

func (r *Runner) appendResult(ctx context.Context, run *schema.Run, result schema.StepResult) {
	run.Log = append(run.Log, result)
	if err := r.sink.StepResultAppended(ctx, run.RunID, result); err != nil {
		r.logger.WarnContext(ctx, "run sink rejected step_result", slog.String("error", err.Error()))
	}
}
