package schema

import "fmt"

// Error codes for structured error reporting. Codes double as the error
// "kind" surfaced in step results and run records.
const (
	ErrCodeInvalidWorkflow     = "INVALID_WORKFLOW"
	ErrCodeUnresolvedReference = "UNRESOLVED_REFERENCE"
	ErrCodeUnknownTool         = "UNKNOWN_TOOL"
	ErrCodeUnsupportedLanguage = "UNSUPPORTED_LANGUAGE"
	ErrCodeAccessDenied        = "ACCESS_DENIED"
	ErrCodeQuotaExceeded       = "QUOTA_EXCEEDED"
	ErrCodeTimeout             = "TIMEOUT"
	ErrCodeExecution           = "EXECUTION_ERROR"
	ErrCodeValidation          = "VALIDATION_ERROR"
	ErrCodeRetryExhausted      = "RETRY_EXHAUSTED"
	ErrCodeCancelled           = "CANCELLED"
	ErrCodeStore               = "STORE_ERROR"
	ErrCodeNotFound            = "NOT_FOUND"
)

// EngineError is the structured error type for all engine operations.
type EngineError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	StepID  string         `json:"step_id,omitempty"`
	Cause   error          `json:"-"`
}

func (e *EngineError) Error() string {
	if e.StepID != "" {
		return fmt.Sprintf("[%s] step %s: %s", e.Code, e.StepID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *EngineError) Unwrap() error {
	return e.Cause
}

// IsStopClass reports whether this error halts the run regardless of the
// step's declared on_error policy. Stop-class errors indicate a structural
// problem (bad definition, missing registration, sandbox violation) or a
// resource veto; retrying or continuing cannot help.
func (e *EngineError) IsStopClass() bool {
	switch e.Code {
	case ErrCodeInvalidWorkflow,
		ErrCodeUnresolvedReference,
		ErrCodeUnknownTool,
		ErrCodeUnsupportedLanguage,
		ErrCodeAccessDenied,
		ErrCodeQuotaExceeded,
		ErrCodeCancelled:
		return true
	}
	return false
}

// IsRetryable reports whether a retry policy may consume an attempt on
// this error. Stop-class errors are never retryable; everything else
// (timeouts, handler failures) is considered transient.
func (e *EngineError) IsRetryable() bool {
	return !e.IsStopClass()
}

// NewError creates a new EngineError.
func NewError(code, message string) *EngineError {
	return &EngineError{Code: code, Message: message}
}

// NewErrorf creates a new EngineError with a formatted message.
func NewErrorf(code, format string, args ...any) *EngineError {
	return &EngineError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithStep attaches a step ID to the error.
func (e *EngineError) WithStep(stepID string) *EngineError {
	e.StepID = stepID
	return e
}

// WithCause attaches an underlying cause.
func (e *EngineError) WithCause(err error) *EngineError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *EngineError) WithDetails(details map[string]any) *EngineError {
	e.Details = details
	return e
}
