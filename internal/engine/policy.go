package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/seqrun/seqrun/pkg/schema"
)

// DefaultStepTimeout applies to step attempts that declare no timeout_ms.
const DefaultStepTimeout = 30 * time.Second

// DispatchFunc performs one attempt of a step's tool invocation.
type DispatchFunc func(ctx context.Context) (map[string]any, error)

// StepOutcome is the policy engine's verdict after a step's attempts
// are exhausted one way or the other.
type StepOutcome struct {
	// Results holds one StepResult per attempt, in order. The last
	// entry is the step's terminal result.
	Results []schema.StepResult

	// Halt is true when the run must stop: stop policy, stop-class
	// error, or retry exhaustion without the continue override.
	Halt bool
}

// Succeeded reports whether the step's terminal result succeeded.
func (o *StepOutcome) Succeeded() bool {
	n := len(o.Results)
	return n > 0 && o.Results[n-1].Status == schema.StepStatusSucceeded
}

// Terminal returns the step's terminal result.
func (o *StepOutcome) Terminal() *schema.StepResult {
	if len(o.Results) == 0 {
		return nil
	}
	return &o.Results[len(o.Results)-1]
}

// PolicyEngine wraps a single step's dispatch with per-attempt timeout,
// retry-with-backoff, and on-failure routing.
type PolicyEngine struct {
	defaultTimeout time.Duration
	logger         *slog.Logger
}

// NewPolicyEngine creates a PolicyEngine. defaultTimeout <= 0 selects
// DefaultStepTimeout.
func NewPolicyEngine(defaultTimeout time.Duration, logger *slog.Logger) *PolicyEngine {
	if defaultTimeout <= 0 {
		defaultTimeout = DefaultStepTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PolicyEngine{defaultTimeout: defaultTimeout, logger: logger}
}

// ExecuteStep drives the attempt state machine for one step. Every
// failed attempt is recorded as its own StepResult; the per-attempt
// timeout consumes an attempt like any other failure. Stop-class errors
// halt immediately without consuming the retry budget.
func (p *PolicyEngine) ExecuteStep(ctx context.Context, step *schema.Step, dispatch DispatchFunc) *StepOutcome {
	maxAttempts := 1
	if step.Policy() == schema.ErrorPolicyRetry && step.Retry != nil && step.Retry.MaxAttempts > 0 {
		maxAttempts = step.Retry.MaxAttempts
	}

	timeout := p.defaultTimeout
	if step.TimeoutMS > 0 {
		timeout = time.Duration(step.TimeoutMS) * time.Millisecond
	}

	outcome := &StepOutcome{}
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		output, engErr, duration := p.runAttempt(ctx, step, dispatch, timeout)

		if engErr == nil {
			outcome.Results = append(outcome.Results, schema.StepResult{
				StepID:       step.ID,
				Status:       schema.StepStatusSucceeded,
				AttemptCount: attempt,
				DurationMS:   duration.Milliseconds(),
				Output:       output,
			})
			return outcome
		}

		outcome.Results = append(outcome.Results, schema.StepResult{
			StepID:       step.ID,
			Status:       schema.StepStatusFailed,
			AttemptCount: attempt,
			DurationMS:   duration.Milliseconds(),
			Error:        engErr,
		})

		if engErr.IsStopClass() {
			// A stop-class failure outranks the step's declared policy:
			// neither remaining attempts nor continue can apply.
			outcome.Halt = true
			return outcome
		}

		if attempt < maxAttempts {
			delay := ComputeBackoff(step.Retry, attempt)
			p.logger.DebugContext(ctx, "retrying step",
				slog.String("step_id", step.ID),
				slog.Int("attempt", attempt),
				slog.Duration("backoff", delay))
			if err := WaitForBackoff(ctx, delay); err != nil {
				outcome.Results = append(outcome.Results, schema.StepResult{
					StepID:       step.ID,
					Status:       schema.StepStatusFailed,
					AttemptCount: attempt,
					Error:        schema.NewError(schema.ErrCodeCancelled, "run cancelled during retry backoff").WithStep(step.ID),
				})
				outcome.Halt = true
				return outcome
			}
		}
	}

	switch step.Policy() {
	case schema.ErrorPolicyContinue:
		outcome.Halt = false
	case schema.ErrorPolicyRetry:
		outcome.Halt = !(step.Retry != nil && step.Retry.ContinueOnExhausted)
	default:
		outcome.Halt = true
	}
	return outcome
}

// runAttempt performs one dispatch under the per-attempt deadline and
// normalizes the error into the engine taxonomy.
func (p *PolicyEngine) runAttempt(ctx context.Context, step *schema.Step, dispatch DispatchFunc, timeout time.Duration) (map[string]any, *schema.EngineError, time.Duration) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	output, err := dispatch(attemptCtx)
	duration := time.Since(start)

	if err == nil {
		return output, nil, duration
	}

	var engErr *schema.EngineError
	if !errors.As(err, &engErr) {
		engErr = schema.NewErrorf(schema.ErrCodeExecution, "step dispatch failed: %v", err).WithCause(err)
	}

	// Normalize context errors: a parent cancellation is terminal, an
	// attempt deadline is an ordinary retryable timeout.
	if errors.Is(ctx.Err(), context.Canceled) && engErr.Code != schema.ErrCodeCancelled {
		engErr = schema.NewError(schema.ErrCodeCancelled, "run cancelled").WithCause(err)
	} else if errors.Is(err, context.DeadlineExceeded) && engErr.Code != schema.ErrCodeTimeout {
		engErr = schema.NewErrorf(schema.ErrCodeTimeout, "step attempt exceeded %s", timeout).WithCause(err)
	}

	if engErr.StepID == "" {
		engErr.StepID = step.ID
	}
	return nil, engErr, duration
}

// ComputeBackoff calculates the delay before the next retry attempt.
// Backoff defaults to constant; exponential doubles per attempt.
func ComputeBackoff(policy *schema.RetryPolicy, attempt int) time.Duration {
	if policy == nil || policy.DelayMS <= 0 {
		return 0
	}
	base := time.Duration(policy.DelayMS) * time.Millisecond

	if policy.Backoff == "exponential" {
		delay := base
		for i := 1; i < attempt; i++ {
			delay *= 2
		}
		return delay
	}
	return base
}

// WaitForBackoff sleeps for the delay or returns early when the context
// is cancelled.
func WaitForBackoff(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
