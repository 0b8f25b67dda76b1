package engine

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seqrun/seqrun/internal/store"
	"github.com/seqrun/seqrun/internal/tool"
	"github.com/seqrun/seqrun/pkg/schema"
)

// echoHandler returns its resolved params as output.
type echoHandler struct{ name string }

func (h *echoHandler) Name() string        { return h.name }
func (h *echoHandler) Schema() tool.Schema { return tool.Schema{} }

func (h *echoHandler) Invoke(_ context.Context, input tool.Input) (*tool.Output, error) {
	return &tool.Output{Data: input.Params}, nil
}

// failNTimesHandler fails the first n invocations, then succeeds.
type failNTimesHandler struct {
	name  string
	n     int
	calls int
}

func (h *failNTimesHandler) Name() string        { return h.name }
func (h *failNTimesHandler) Schema() tool.Schema { return tool.Schema{} }

func (h *failNTimesHandler) Invoke(context.Context, tool.Input) (*tool.Output, error) {
	h.calls++
	if h.calls <= h.n {
		return nil, schema.NewError(schema.ErrCodeExecution, "transient failure")
	}
	return &tool.Output{Data: map[string]any{"calls": h.calls}}, nil
}

func newTestRunner(t *testing.T, handlers ...tool.Handler) (*Runner, *store.MemoryStore) {
	t.Helper()
	registry := tool.NewRegistry()
	for _, h := range handlers {
		require.NoError(t, registry.Register(h))
	}
	st := store.NewMemoryStore()
	runner := NewRunner(RunnerConfig{
		Dispatcher: tool.NewDispatcher(registry, nil, nil),
		Sink:       st,
	})
	return runner, st
}

func TestRunnerTwoStepPipeline(t *testing.T) {
	runner, st := newTestRunner(t, &echoHandler{name: "echo"})

	wf := &schema.Workflow{
		ID: "wf",
		Steps: []schema.Step{
			{ID: "first", Tool: "echo", Input: json.RawMessage(`{"value":"{{input.seed}}"}`)},
			{ID: "second", Tool: "echo", Input: json.RawMessage(`{"got":"{{first.value}}"}`)},
		},
	}

	run, err := runner.Execute(context.Background(), wf, map[string]any{"seed": "hello"})
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusCompleted, run.Status)
	assert.Equal(t, []string{"first", "second"}, run.OutputOrder)

	second, ok := run.Output("second")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"got": "hello"}, second)

	// The persistence collaborator saw the full lifecycle.
	events, err := st.Events(context.Background(), run.RunID)
	require.NoError(t, err)
	require.Len(t, events, 4)
	assert.Equal(t, schema.EventRunCreated, events[0].Type)
	assert.Equal(t, schema.EventRunFinalized, events[3].Type)
	for i, ev := range events {
		assert.Equal(t, int64(i+1), ev.Sequence)
	}
}

func TestRunnerForwardReferenceRejectedBeforeRunExists(t *testing.T) {
	runner, st := newTestRunner(t, &echoHandler{name: "echo"})

	wf := &schema.Workflow{
		ID: "wf",
		Steps: []schema.Step{
			{ID: "a", Tool: "echo", Input: json.RawMessage(`{"v":"{{b.value}}"}`)},
			{ID: "b", Tool: "echo"},
		},
	}

	_, err := runner.Execute(context.Background(), wf, nil)
	require.Error(t, err)

	var engErr *schema.EngineError
	require.True(t, errors.As(err, &engErr))
	assert.Equal(t, schema.ErrCodeInvalidWorkflow, engErr.Code)

	runs, err := st.ListRuns(context.Background(), "wf", 0)
	require.NoError(t, err)
	assert.Empty(t, runs, "no run record may exist after fail-fast validation")
}

func TestRunnerContinueLeavesNoOutput(t *testing.T) {
	runner, _ := newTestRunner(t,
		&echoHandler{name: "echo"},
		&failNTimesHandler{name: "flaky", n: 1000},
	)

	wf := &schema.Workflow{
		ID: "wf",
		Steps: []schema.Step{
			{ID: "bad", Tool: "flaky", OnError: schema.ErrorPolicyContinue},
			{ID: "after", Tool: "echo", Input: json.RawMessage(`{"ok":true}`)},
		},
	}

	run, err := runner.Execute(context.Background(), wf, nil)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusCompleted, run.Status)

	_, ok := run.Output("bad")
	assert.False(t, ok, "failed steps must not appear in outputs")
	_, ok = run.Output("after")
	assert.True(t, ok)
}

func TestRunnerContinuedFailureBreaksLaterReference(t *testing.T) {
	runner, _ := newTestRunner(t,
		&echoHandler{name: "echo"},
		&failNTimesHandler{name: "flaky", n: 1000},
	)

	wf := &schema.Workflow{
		ID: "wf",
		Steps: []schema.Step{
			{ID: "bad", Tool: "flaky", OnError: schema.ErrorPolicyContinue},
			{ID: "needs_bad", Tool: "echo", Input: json.RawMessage(`{"v":"{{bad.calls}}"}`)},
		},
	}

	run, err := runner.Execute(context.Background(), wf, nil)
	require.Error(t, err)
	assert.Equal(t, schema.RunStatusFailed, run.Status)
	require.NotNil(t, run.Error)
	assert.Equal(t, schema.ErrCodeUnresolvedReference, run.Error.Code)
}

func TestRunnerResolutionFailureCountsAsAttempt(t *testing.T) {
	runner, _ := newTestRunner(t, &echoHandler{name: "echo"})

	wf := &schema.Workflow{
		ID: "wf",
		Steps: []schema.Step{
			{ID: "a", Tool: "echo", Input: json.RawMessage(`{"ok":true}`)},
			{ID: "b", Tool: "echo", Input: json.RawMessage(`{"v":"{{a.missing}}"}`)},
		},
	}

	run, err := runner.Execute(context.Background(), wf, nil)
	require.Error(t, err)
	assert.Equal(t, schema.RunStatusFailed, run.Status)

	require.Len(t, run.Log, 2)
	failed := run.Log[1]
	assert.Equal(t, "b", failed.StepID)
	assert.Equal(t, schema.StepStatusFailed, failed.Status)
	assert.Equal(t, 1, failed.AttemptCount, "resolution failure is still an attempt")
	require.NotNil(t, failed.Error)
	assert.Equal(t, schema.ErrCodeUnresolvedReference, failed.Error.Code)
}

func TestRunnerNonObjectInputFails(t *testing.T) {
	var captured map[string]any
	capture := &fakeCaptureHandler{name: "capture", captured: &captured}
	runner, _ := newTestRunner(t, capture)

	wf := &schema.Workflow{
		ID: "wf",
		Steps: []schema.Step{
			{ID: "a", Tool: "capture", Input: json.RawMessage(`[1, 2, 3]`)},
		},
	}

	run, err := runner.Execute(context.Background(), wf, nil)
	require.Error(t, err)
	assert.Equal(t, schema.RunStatusFailed, run.Status)
	assert.Nil(t, captured, "handler must not run on a non-object input")

	require.Len(t, run.Log, 1)
	assert.Equal(t, 1, run.Log[0].AttemptCount)
	require.NotNil(t, run.Error)
	assert.Equal(t, schema.ErrCodeValidation, run.Error.Code)
}

func TestRunnerRetryRecordsEveryAttempt(t *testing.T) {
	runner, _ := newTestRunner(t, &failNTimesHandler{name: "flaky", n: 2})

	wf := &schema.Workflow{
		ID: "wf",
		Steps: []schema.Step{
			{ID: "s", Tool: "flaky", OnError: schema.ErrorPolicyRetry,
				Retry: &schema.RetryPolicy{MaxAttempts: 3}},
		},
	}

	run, err := runner.Execute(context.Background(), wf, nil)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusCompleted, run.Status)

	require.Len(t, run.Log, 3)
	assert.Equal(t, schema.StepStatusFailed, run.Log[0].Status)
	assert.Equal(t, schema.StepStatusFailed, run.Log[1].Status)
	assert.Equal(t, schema.StepStatusSucceeded, run.Log[2].Status)
	assert.Equal(t, 3, run.Log[2].AttemptCount)
}

func TestRunnerStopSkipsRemainingSteps(t *testing.T) {
	runner, _ := newTestRunner(t,
		&echoHandler{name: "echo"},
		&failNTimesHandler{name: "flaky", n: 1000},
	)

	wf := &schema.Workflow{
		ID: "wf",
		Steps: []schema.Step{
			{ID: "a", Tool: "echo", Input: json.RawMessage(`{"ok":true}`)},
			{ID: "b", Tool: "flaky"},
			{ID: "c", Tool: "echo"},
			{ID: "d", Tool: "echo"},
		},
	}

	run, err := runner.Execute(context.Background(), wf, nil)
	require.Error(t, err)
	assert.Equal(t, schema.RunStatusFailed, run.Status)

	require.Len(t, run.Log, 4)
	assert.Equal(t, schema.StepStatusSucceeded, run.Log[0].Status)
	assert.Equal(t, schema.StepStatusFailed, run.Log[1].Status)
	assert.Equal(t, schema.StepStatusSkipped, run.Log[2].Status)
	assert.Equal(t, schema.StepStatusSkipped, run.Log[3].Status)
	// Skipped steps were never attempted, so attempt_count stays 0.
	assert.Equal(t, 0, run.Log[2].AttemptCount)
	assert.Equal(t, 0, run.Log[3].AttemptCount)

	require.NotNil(t, run.Error)
	assert.Equal(t, "b", run.Error.StepID)
}

func TestRunnerUnknownToolHalts(t *testing.T) {
	runner, _ := newTestRunner(t, &echoHandler{name: "echo"})

	wf := &schema.Workflow{
		ID: "wf",
		Steps: []schema.Step{
			// Retry cannot fix a missing registration.
			{ID: "a", Tool: "ghost", OnError: schema.ErrorPolicyRetry,
				Retry: &schema.RetryPolicy{MaxAttempts: 5}},
		},
	}

	run, err := runner.Execute(context.Background(), wf, nil)
	require.Error(t, err)
	assert.Equal(t, schema.RunStatusFailed, run.Status)
	require.Len(t, run.Log, 1, "stop-class failure must not consume retries")
	assert.Equal(t, schema.ErrCodeUnknownTool, run.Error.Code)
}

func TestRunnerTemplateTypeFidelity(t *testing.T) {
	var captured map[string]any
	capture := &fakeCaptureHandler{name: "capture", captured: &captured}
	runner, _ := newTestRunner(t, &echoHandler{name: "echo"}, capture)

	wf := &schema.Workflow{
		ID: "wf",
		Steps: []schema.Step{
			{ID: "step1", Tool: "echo", Input: json.RawMessage(`{"count":42}`)},
			{ID: "step2", Tool: "capture", Input: json.RawMessage(`{"count":"{{step1.count}}"}`)},
		},
	}

	run, err := runner.Execute(context.Background(), wf, nil)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusCompleted, run.Status)

	require.NotNil(t, captured)
	assert.Equal(t, float64(42), captured["count"], "whole-placeholder values keep their native type")
}

func TestRunnerStartAndCancel(t *testing.T) {
	block := make(chan struct{})
	slow := &blockingHandler{name: "slow", release: block}
	runner, _ := newTestRunner(t, slow)

	wf := &schema.Workflow{
		ID:    "wf",
		Steps: []schema.Step{{ID: "a", Tool: "slow"}},
	}

	handle, err := runner.Start(context.Background(), wf, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, handle.RunID())

	handle.Cancel()
	run := handle.Result()
	assert.Equal(t, schema.RunStatusFailed, run.Status)
	require.NotNil(t, run.Error)
	assert.Equal(t, schema.ErrCodeCancelled, run.Error.Code)
	close(block)
}

func TestRunnerCancelAfterCompletionIsSafe(t *testing.T) {
	runner, _ := newTestRunner(t, &echoHandler{name: "echo"})

	wf := &schema.Workflow{
		ID:    "wf",
		Steps: []schema.Step{{ID: "a", Tool: "echo", Input: json.RawMessage(`{"ok":true}`)}},
	}

	handle, err := runner.Start(context.Background(), wf, nil)
	require.NoError(t, err)

	run := handle.Result()
	assert.Equal(t, schema.RunStatusCompleted, run.Status)

	// The run context is released on completion; Cancel afterwards is a no-op.
	handle.Cancel()
	assert.Equal(t, schema.RunStatusCompleted, handle.Result().Status)
}

type fakeCaptureHandler struct {
	name     string
	captured *map[string]any
}

func (h *fakeCaptureHandler) Name() string        { return h.name }
func (h *fakeCaptureHandler) Schema() tool.Schema { return tool.Schema{} }

func (h *fakeCaptureHandler) Invoke(_ context.Context, input tool.Input) (*tool.Output, error) {
	*h.captured = input.Params
	return &tool.Output{Data: input.Params}, nil
}

type blockingHandler struct {
	name    string
	release chan struct{}
}

func (h *blockingHandler) Name() string        { return h.name }
func (h *blockingHandler) Schema() tool.Schema { return tool.Schema{} }

func (h *blockingHandler) Invoke(ctx context.Context, _ tool.Input) (*tool.Output, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.release:
		return &tool.Output{}, nil
	}
}
