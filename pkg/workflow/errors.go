package workflow

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of a workflow failure.
type ErrorClass string

const (
	// ErrorClassNotFound indicates the candidate pool or the target could not be found.
	// Terminal; consumes no additional attempts.
	ErrorClassNotFound ErrorClass = "not_found"

	// ErrorClassRetriesExhausted indicates the retry budget ran out mid-loop.
	ErrorClassRetriesExhausted ErrorClass = "retries_exhausted"

	// ErrorClassAdvisoryUnavailable indicates an advisory call failed for
	// infrastructure reasons (timeout, transport error). Never retried.
	ErrorClassAdvisoryUnavailable ErrorClass = "advisory_unavailable"

	// ErrorClassPersistence indicates a terminal durable write failed.
	ErrorClassPersistence ErrorClass = "persistence"

	// ErrorClassConfiguration indicates invalid engine configuration or input.
	ErrorClassConfiguration ErrorClass = "configuration"

	// ErrorClassConflict indicates another run holds the candidate reservation.
	ErrorClassConflict ErrorClass = "conflict"

	// ErrorClassCancelled indicates the caller's context ended the run.
	ErrorClassCancelled ErrorClass = "cancelled"
)

// Sentinel errors collaborators may return to signal an absent entity.
var (
	ErrCandidateNotFound = errors.New("no eligible candidate")
	ErrTargetNotFound    = errors.New("target not found")
)

// WorkflowError represents a classified workflow failure with context.
// nolint:revive // WorkflowError reads better than Error at call sites
type WorkflowError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Stage is the stage that produced the error, if applicable.
	Stage StageName `json:"stage,omitempty"`

	// CandidateID is the candidate under evaluation, if any.
	CandidateID string `json:"candidate_id,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *WorkflowError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	if e.Stage != "" {
		msg = fmt.Sprintf("%s (stage=%s)", msg, e.Stage)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %s", msg, e.Err.Error())
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *WorkflowError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *WorkflowError) Is(target error) bool {
	t, ok := target.(*WorkflowError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

func newError(class ErrorClass, message string, err error) *WorkflowError {
	return &WorkflowError{Class: class, Message: message, Err: err}
}

// NewNotFoundError creates a new not-found error.
func NewNotFoundError(message string, err error) *WorkflowError {
	return newError(ErrorClassNotFound, message, err).WithCode(ErrCodeNotFound)
}

// NewRetriesExhaustedError creates a new retries-exhausted error.
func NewRetriesExhaustedError(message string) *WorkflowError {
	return newError(ErrorClassRetriesExhausted, message, nil).WithCode(ErrCodeRetriesExhausted)
}

// NewAdvisoryUnavailableError creates a new advisory-unavailable error.
func NewAdvisoryUnavailableError(message string, err error) *WorkflowError {
	return newError(ErrorClassAdvisoryUnavailable, message, err).WithCode(ErrCodeUnavailable)
}

// NewPersistenceError creates a new persistence error.
func NewPersistenceError(message string, err error) *WorkflowError {
	return newError(ErrorClassPersistence, message, err).WithCode(ErrCodePersistence)
}

// NewConfigurationError creates a new configuration error.
func NewConfigurationError(message string, err error) *WorkflowError {
	return newError(ErrorClassConfiguration, message, err).WithCode(ErrCodeValidation)
}

// NewConflictError creates a new conflict error.
func NewConflictError(message string, err error) *WorkflowError {
	return newError(ErrorClassConflict, message, err).WithCode(ErrCodeConflict)
}

// NewCancelledError creates a new cancelled error.
func NewCancelledError(message string, err error) *WorkflowError {
	return newError(ErrorClassCancelled, message, err).WithCode(ErrCodeCancelled)
}

// WithStage adds stage context to an error.
func (e *WorkflowError) WithStage(stage StageName) *WorkflowError {
	e.Stage = stage
	return e
}

// WithCandidate adds candidate context to an error.
func (e *WorkflowError) WithCandidate(candidateID string) *WorkflowError {
	e.CandidateID = candidateID
	return e
}

// WithCode adds an error code to an error.
func (e *WorkflowError) WithCode(code string) *WorkflowError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *WorkflowError) WithDetail(key string, value interface{}) *WorkflowError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ClassOf returns the class of a WorkflowError in err's chain, or "" if none.
func ClassOf(err error) ErrorClass {
	var e *WorkflowError
	if errors.As(err, &e) {
		return e.Class
	}
	return ""
}

// IsNotFound returns true if the error is classified as not found.
func IsNotFound(err error) bool {
	return ClassOf(err) == ErrorClassNotFound
}

// IsRetriesExhausted returns true if the error is classified as retries exhausted.
func IsRetriesExhausted(err error) bool {
	return ClassOf(err) == ErrorClassRetriesExhausted
}

// IsAdvisoryUnavailable returns true if the error is classified as advisory unavailable.
func IsAdvisoryUnavailable(err error) bool {
	return ClassOf(err) == ErrorClassAdvisoryUnavailable
}

// IsPersistence returns true if the error is classified as a persistence failure.
func IsPersistence(err error) bool {
	return ClassOf(err) == ErrorClassPersistence
}

// IsConfiguration returns true if the error is classified as a configuration error.
func IsConfiguration(err error) bool {
	return ClassOf(err) == ErrorClassConfiguration
}

// IsConflict returns true if the error is classified as a conflict.
func IsConflict(err error) bool {
	return ClassOf(err) == ErrorClassConflict
}

// IsCancelled returns true if the error is classified as cancelled.
func IsCancelled(err error) bool {
	return ClassOf(err) == ErrorClassCancelled
}

// Common error codes.
const (
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeRetriesExhausted = "RETRIES_EXHAUSTED"
	ErrCodeUnavailable      = "ADVISORY_UNAVAILABLE"
	ErrCodePersistence      = "PERSISTENCE_FAILED"
	ErrCodeConflict         = "CONFLICT"
	ErrCodeCancelled        = "CANCELLED"
	ErrCodeStepLimit        = "STEP_LIMIT_EXCEEDED"
	ErrCodeNoTransition     = "NO_TRANSITION"
)
