// Package errors provides the standardized error taxonomy for the
// query-resolution pipeline.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeRetrievalUnavailable  ErrorCode = "RETRIEVAL_UNAVAILABLE"
	ErrCodeGenerationUnavailable ErrorCode = "GENERATION_UNAVAILABLE"
	ErrCodeMalformedQuery        ErrorCode = "MALFORMED_QUERY"
	ErrCodeEmptyQuery            ErrorCode = "EMPTY_QUERY"
	ErrCodeExecutionTimeout      ErrorCode = "EXECUTION_TIMEOUT"
	ErrCodeExecutionRejected     ErrorCode = "EXECUTION_REJECTED"
	ErrCodeExecutionUnavailable  ErrorCode = "EXECUTION_UNAVAILABLE"
	ErrCodeLookupFailed          ErrorCode = "LOOKUP_FAILED"
	ErrCodeSnapshotCorrupt       ErrorCode = "SNAPSHOT_CORRUPT"
	ErrCodeCapacityExceeded      ErrorCode = "CAPACITY_EXCEEDED"
	ErrCodeInternal              ErrorCode = "INTERNAL_ERROR"
)

// Stage names used in user-visible failure messages.
const (
	StageRetrieval  = "retrieval"
	StageGeneration = "generation"
	StageValidation = "validation"
	StageExecution  = "execution"
	StageLookup     = "lookup"
	StageAdmission  = "admission"
)

// StageError is a structured pipeline error. Details carries raw model
// output or rejection text for the internal log channel; user-facing
// messages are built from Stage and Message only.
type StageError struct {
	Stage     string                 `json:"stage"`
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	cause     error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s[%s]: %s", e.Stage, e.Code, e.Message)
}

func (e *StageError) Unwrap() error {
	return e.cause
}

// UserMessage names the failing stage without leaking raw diagnostics.
func (e *StageError) UserMessage() string {
	return fmt.Sprintf("request failed at %s stage: %s", e.Stage, e.Message)
}

// AsStageError extracts a StageError from an error chain, if present.
func AsStageError(err error) (*StageError, bool) {
	var se *StageError
	ok := errors.As(err, &se)
	return se, ok
}

// --- Constructors ---

// NewRetrievalUnavailableError signals that the embedding backend could not
// be reached; the request fails for the turn, no keyword fallback.
func NewRetrievalUnavailableError(err error) *StageError {
	return &StageError{
		Stage:     StageRetrieval,
		Code:      ErrCodeRetrievalUnavailable,
		Message:   "embedding backend unavailable",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// NewGenerationUnavailableError signals exhausted retries against the
// language-model backend, preserving the last transport error.
func NewGenerationUnavailableError(err error) *StageError {
	return &StageError{
		Stage:     StageGeneration,
		Code:      ErrCodeGenerationUnavailable,
		Message:   "language model backend unavailable",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// NewMalformedQueryError carries the raw model output for diagnostics.
func NewMalformedQueryError(raw string, err error) *StageError {
	return &StageError{
		Stage:     StageValidation,
		Code:      ErrCodeMalformedQuery,
		Message:   "model output is not a parsable query object",
		Details:   raw,
		Retryable: false,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// NewEmptyQueryError signals that dropping unknown members left nothing to ask.
func NewEmptyQueryError(dropped []string) *StageError {
	return &StageError{
		Stage:     StageValidation,
		Code:      ErrCodeEmptyQuery,
		Message:   "query references no known measures or dimensions",
		Retryable: false,
		Metadata:  map[string]interface{}{"dropped": dropped},
		Timestamp: time.Now().UTC(),
	}
}

// NewExecutionTimeoutError signals the semantic layer did not answer in time.
func NewExecutionTimeoutError(err error) *StageError {
	return &StageError{
		Stage:     StageExecution,
		Code:      ErrCodeExecutionTimeout,
		Message:   "semantic layer query timed out",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// NewExecutionRejectedError signals the semantic layer refused the query
// itself; the reason feeds one regeneration attempt.
func NewExecutionRejectedError(reason string) *StageError {
	return &StageError{
		Stage:     StageExecution,
		Code:      ErrCodeExecutionRejected,
		Message:   "semantic layer rejected the query",
		Details:   reason,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewExecutionUnavailableError signals the semantic layer could not be
// reached or kept answering with server faults; the query itself was
// never judged, so it must not trigger a regeneration.
func NewExecutionUnavailableError(err error) *StageError {
	return &StageError{
		Stage:     StageExecution,
		Code:      ErrCodeExecutionUnavailable,
		Message:   "semantic layer unavailable",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// NewLookupFailedError signals a direct-lookup REST call failure.
func NewLookupFailedError(endpoint string, err error) *StageError {
	return &StageError{
		Stage:     StageLookup,
		Code:      ErrCodeLookupFailed,
		Message:   "raw data lookup failed",
		Details:   fmt.Sprintf("endpoint: %s, error: %s", endpoint, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// NewSnapshotCorruptError signals a checksum or shape mismatch in the
// persisted schema snapshot.
func NewSnapshotCorruptError(details string) *StageError {
	return &StageError{
		Stage:     StageRetrieval,
		Code:      ErrCodeSnapshotCorrupt,
		Message:   "schema snapshot failed integrity check",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewCapacityExceededError is the fail-fast backpressure error; callers may
// retry after a delay.
func NewCapacityExceededError(limit int) *StageError {
	return &StageError{
		Stage:     StageAdmission,
		Code:      ErrCodeCapacityExceeded,
		Message:   "too many concurrent requests",
		Metadata:  map[string]interface{}{"limit": limit},
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// --- Retry classification ---

// RetryCount returns the local retry budget for an error code. Malformed
// output and rejected queries are semantic failures and never re-tried as
// transport errors.
func RetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeRetrievalUnavailable,
		ErrCodeGenerationUnavailable,
		ErrCodeExecutionUnavailable,
		ErrCodeLookupFailed:
		return 3

	case ErrCodeExecutionTimeout:
		return 1

	default:
		return 0
	}
}

// IsRetryableErrorCode checks if an error code is retryable.
func IsRetryableErrorCode(code ErrorCode) bool {
	return RetryCount(code) > 0
}
