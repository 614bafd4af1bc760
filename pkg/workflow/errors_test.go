package workflow

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorBuilders(t *testing.T) {
	cause := errors.New("connection refused")

	tests := []struct {
		name  string
		err   *WorkflowError
		class ErrorClass
		code  string
		is    func(error) bool
	}{
		{"not found", NewNotFoundError("no load", ErrTargetNotFound), ErrorClassNotFound, ErrCodeNotFound, IsNotFound},
		{"retries exhausted", NewRetriesExhaustedError("3 of 3"), ErrorClassRetriesExhausted, ErrCodeRetriesExhausted, IsRetriesExhausted},
		{"advisory unavailable", NewAdvisoryUnavailableError("cost down", cause), ErrorClassAdvisoryUnavailable, ErrCodeUnavailable, IsAdvisoryUnavailable},
		{"persistence", NewPersistenceError("commit", cause), ErrorClassPersistence, ErrCodePersistence, IsPersistence},
		{"configuration", NewConfigurationError("bad ratio", nil), ErrorClassConfiguration, ErrCodeValidation, IsConfiguration},
		{"conflict", NewConflictError("reserved", nil), ErrorClassConflict, ErrCodeConflict, IsConflict},
		{"cancelled", NewCancelledError("caller left", cause), ErrorClassCancelled, ErrCodeCancelled, IsCancelled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Class != tt.class || tt.err.Code != tt.code {
				t.Errorf("got %s/%s, want %s/%s", tt.err.Class, tt.err.Code, tt.class, tt.code)
			}

			wrapped := fmt.Errorf("run r-1: %w", tt.err)
			if got := ClassOf(wrapped); got != tt.class {
				t.Errorf("ClassOf() = %s, want %s", got, tt.class)
			}
			if !tt.is(wrapped) {
				t.Error("predicate does not match its own class")
			}
			for _, other := range tests {
				if other.class != tt.class && other.is(wrapped) {
					t.Errorf("predicate for %s matches %s", other.class, tt.class)
				}
			}
		})
	}
}

func TestWorkflowError_Chain(t *testing.T) {
	cause := errors.New("disk full")
	err := NewPersistenceError("failed to commit assignment", cause).
		WithStage(StageExecute).
		WithCandidate("D-7").
		WithDetail("attempt", 2)

	if !errors.Is(err, cause) {
		t.Error("cause not reachable through Unwrap")
	}
	if !errors.Is(err, &WorkflowError{Class: ErrorClassPersistence, Code: ErrCodePersistence}) {
		t.Error("errors.Is does not match on class and code")
	}
	if errors.Is(err, &WorkflowError{Class: ErrorClassPersistence, Code: ErrCodeConflict}) {
		t.Error("errors.Is matched a different code")
	}

	msg := err.Error()
	for _, want := range []string{"[persistence]", "stage=Execute", "disk full"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, missing %q", msg, want)
		}
	}
	if err.CandidateID != "D-7" || err.Details["attempt"] != 2 {
		t.Errorf("unexpected context: %+v", err)
	}
	if ClassOf(cause) != "" {
		t.Errorf("ClassOf(plain error) = %s, want empty", ClassOf(cause))
	}
}
