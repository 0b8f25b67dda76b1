package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/seqrun/seqrun/pkg/schema"
)

// MemoryStore is an in-memory Store used in tests and for runs that do
// not need durability.
type MemoryStore struct {
	mu        sync.RWMutex
	runs      map[string]*schema.Run
	events    map[string][]Event
	seqs      map[string]int64
	workflows map[string]*schema.Workflow
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:      make(map[string]*schema.Run),
		events:    make(map[string][]Event),
		seqs:      make(map[string]int64),
		workflows: make(map[string]*schema.Workflow),
	}
}

func (s *MemoryStore) RunCreated(_ context.Context, run *schema.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs[run.RunID] = snapshotRun(run)
	s.appendEventLocked(run.RunID, schema.EventRunCreated, map[string]any{
		"workflow_id": run.WorkflowID,
		"input":       run.Input,
	})
	return nil
}

func (s *MemoryStore) StepResultAppended(_ context.Context, runID string, result schema.StepResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if run, ok := s.runs[runID]; ok {
		run.Log = append(run.Log, result)
	}
	s.appendEventLocked(runID, schema.EventStepResultAppended, result)
	return nil
}

func (s *MemoryStore) RunFinalized(_ context.Context, run *schema.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs[run.RunID] = snapshotRun(run)
	s.appendEventLocked(run.RunID, schema.EventRunFinalized, map[string]any{
		"status": run.Status,
		"error":  run.Error,
	})
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, runID string) (*schema.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[runID]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "run %q not found", runID)
	}
	return snapshotRun(run), nil
}

func (s *MemoryStore) ListRuns(_ context.Context, workflowID string, limit int) ([]*schema.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*schema.Run, 0, len(s.runs))
	for _, run := range s.runs {
		if workflowID != "" && run.WorkflowID != workflowID {
			continue
		}
		out = append(out, snapshotRun(run))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Events(_ context.Context, runID string) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := s.events[runID]
	out := make([]Event, len(events))
	copy(out, events)
	return out, nil
}

// SaveWorkflow stores a workflow definition, replacing any existing
// one with the same id. The definition is copied by JSON round-trip so
// caller mutations cannot leak in.
func (s *MemoryStore) SaveWorkflow(_ context.Context, wf *schema.Workflow) error {
	if wf == nil || wf.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "workflow requires an id")
	}
	data, err := json.Marshal(wf)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "marshal workflow: %v", err).WithCause(err)
	}
	cp := &schema.Workflow{}
	if err := json.Unmarshal(data, cp); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "copy workflow: %v", err).WithCause(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.workflows[wf.ID] = cp
	return nil
}

// GetWorkflow loads a stored workflow definition.
func (s *MemoryStore) GetWorkflow(_ context.Context, id string) (*schema.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wf, ok := s.workflows[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "workflow %q not found", id)
	}
	return wf, nil
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) appendEventLocked(runID, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		data = nil
	}
	s.seqs[runID]++
	s.events[runID] = append(s.events[runID], Event{
		EventID:   uuid.NewString(),
		RunID:     runID,
		Sequence:  s.seqs[runID],
		Type:      eventType,
		Payload:   data,
		CreatedAt: time.Now().UTC(),
	})
}

// snapshotRun deep-copies the mutable slices and maps so callers cannot
// observe later runner mutations.
func snapshotRun(run *schema.Run) *schema.Run {
	cp := *run
	if run.Outputs != nil {
		cp.Outputs = make(map[string]any, len(run.Outputs))
		for k, v := range run.Outputs {
			cp.Outputs[k] = v
		}
	}
	cp.OutputOrder = append([]string(nil), run.OutputOrder...)
	cp.Log = append([]schema.StepResult(nil), run.Log...)
	return &cp
}
