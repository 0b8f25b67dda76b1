package validation

import (
	"github.com/seqrun/seqrun/internal/template"
	"github.com/seqrun/seqrun/pkg/schema"
)

// ValidateWorkflow enforces the static invariants every workflow must
// satisfy before a run is created: non-empty identity, unique step IDs,
// declared tools, sane retry policies, and strictly backward template
// references. All violations surface as INVALID_WORKFLOW.
func ValidateWorkflow(wf *schema.Workflow) error {
	if wf == nil {
		return schema.NewError(schema.ErrCodeInvalidWorkflow, "workflow is nil")
	}
	if wf.ID == "" {
		return schema.NewError(schema.ErrCodeInvalidWorkflow, "workflow id is empty")
	}
	if len(wf.Steps) == 0 {
		return schema.NewErrorf(schema.ErrCodeInvalidWorkflow, "workflow %q has no steps", wf.ID)
	}

	seen := make(map[string]struct{}, len(wf.Steps))
	for i := range wf.Steps {
		step := &wf.Steps[i]
		if step.ID == "" {
			return schema.NewErrorf(schema.ErrCodeInvalidWorkflow, "step at index %d has no id", i)
		}
		if _, dup := seen[step.ID]; dup {
			return schema.NewErrorf(schema.ErrCodeInvalidWorkflow, "duplicate step id %q", step.ID).WithStep(step.ID)
		}
		if step.Tool == "" {
			return schema.NewErrorf(schema.ErrCodeInvalidWorkflow, "step %q declares no tool", step.ID).WithStep(step.ID)
		}
		if step.OnError != "" {
			switch step.OnError {
			case schema.ErrorPolicyStop, schema.ErrorPolicyContinue, schema.ErrorPolicyRetry:
			default:
				return schema.NewErrorf(schema.ErrCodeInvalidWorkflow,
					"step %q has unknown on_error policy %q", step.ID, step.OnError).WithStep(step.ID)
			}
		}
		if step.OnError == schema.ErrorPolicyRetry {
			if step.Retry == nil {
				return schema.NewErrorf(schema.ErrCodeInvalidWorkflow,
					"step %q declares on_error retry without a retry policy", step.ID).WithStep(step.ID)
			}
			if step.Retry.MaxAttempts < 1 {
				return schema.NewErrorf(schema.ErrCodeInvalidWorkflow,
					"step %q retry policy requires max_attempts >= 1", step.ID).WithStep(step.ID)
			}
		}

		// Template references may only point at earlier steps. A step
		// referencing itself or a later step can never resolve.
		for ref := range template.ExtractStepRefs(step.Input) {
			if ref == step.ID {
				return schema.NewErrorf(schema.ErrCodeInvalidWorkflow,
					"step %q references its own output", step.ID).WithStep(step.ID)
			}
			if _, earlier := seen[ref]; !earlier {
				return schema.NewErrorf(schema.ErrCodeInvalidWorkflow,
					"step %q references %q, which is not an earlier step", step.ID, ref).
					WithStep(step.ID).
					WithDetails(map[string]any{"reference": ref})
			}
		}

		seen[step.ID] = struct{}{}
	}
	return nil
}
