package workflow

import (
	"encoding/json"
	"fmt"
)

// RunStatus represents the final status of a workflow run.
type RunStatus string

const (
	// RunStatusPending indicates the run is in flight or was cancelled.
	RunStatusPending RunStatus = "pending"

	// RunStatusSuccess indicates the assignment was committed.
	RunStatusSuccess RunStatus = "success"

	// RunStatusFailed indicates the run ended without an assignment or review.
	RunStatusFailed RunStatus = "failed"

	// RunStatusFlagged indicates a pending review was created for a human.
	RunStatusFlagged RunStatus = "flagged"
)

// IsTerminal returns true if the status is one of the final values.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusSuccess || s == RunStatusFailed || s == RunStatusFlagged
}

// Validate checks if the run status is valid.
func (s RunStatus) Validate() error {
	switch s {
	case RunStatusPending, RunStatusSuccess, RunStatusFailed, RunStatusFlagged:
		return nil
	default:
		return fmt.Errorf("invalid run status: %s", s)
	}
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s RunStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *RunStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = RunStatus(str)
	return s.Validate()
}

// StageName identifies a step in the pipeline.
type StageName string

const (
	StagePropose         StageName = "Propose"
	StageEquipmentCheck  StageName = "EquipmentCheck"
	StageComplianceCheck StageName = "ComplianceCheck"
	StageCostCalculation StageName = "CostCalculation"
	StageMarginGate      StageName = "MarginGate"
	StageExecute         StageName = "Execute"
	StageFlag            StageName = "Flag"
	StageAbort           StageName = "Abort"
)

// AllStages returns every stage in pipeline order.
func AllStages() []StageName {
	return []StageName{
		StagePropose,
		StageEquipmentCheck,
		StageComplianceCheck,
		StageCostCalculation,
		StageMarginGate,
		StageExecute,
		StageFlag,
		StageAbort,
	}
}

// IsTerminal returns true for stages that end a run.
func (s StageName) IsTerminal() bool {
	return s == StageExecute || s == StageFlag || s == StageAbort
}

// Validate checks if the stage name is known.
func (s StageName) Validate() error {
	for _, known := range AllStages() {
		if s == known {
			return nil
		}
	}
	return fmt.Errorf("invalid stage: %s", s)
}

// OutcomeKind is the routing key a stage hands to the Router.
type OutcomeKind string

const (
	// OutcomeProposed indicates Propose found a candidate.
	OutcomeProposed OutcomeKind = "proposed"

	// OutcomeNotFound indicates the candidate pool is exhausted.
	OutcomeNotFound OutcomeKind = "not_found"

	// OutcomeApproved indicates a validator approved the candidate.
	OutcomeApproved OutcomeKind = "approved"

	// OutcomeRejected indicates a validator rejected the candidate.
	OutcomeRejected OutcomeKind = "rejected"

	// OutcomeUnavailable indicates an advisory call failed for infrastructure reasons.
	OutcomeUnavailable OutcomeKind = "unavailable"

	// OutcomeComputed indicates CostCalculation produced a metric.
	OutcomeComputed OutcomeKind = "computed"

	// OutcomePass indicates the metric met the margin threshold.
	OutcomePass OutcomeKind = "pass"

	// OutcomeBelow indicates the metric is below the threshold or undefined.
	OutcomeBelow OutcomeKind = "below"

	// OutcomeDone is reported by terminal stages.
	OutcomeDone OutcomeKind = "done"

	// outcomeInterrupted is reported when the caller's context ended mid-stage.
	outcomeInterrupted OutcomeKind = "interrupted"
)

// Validate checks if the outcome kind is known.
func (o OutcomeKind) Validate() error {
	switch o {
	case OutcomeProposed, OutcomeNotFound, OutcomeApproved, OutcomeRejected,
		OutcomeUnavailable, OutcomeComputed, OutcomePass, OutcomeBelow, OutcomeDone:
		return nil
	default:
		return fmt.Errorf("invalid outcome: %s", o)
	}
}

// AuditEventType represents the type of an audit event.
type AuditEventType string

const (
	// AuditEventThinking is emitted before an advisory call.
	AuditEventThinking AuditEventType = "thinking"

	// AuditEventDecision records an approval or a routing decision.
	AuditEventDecision AuditEventType = "decision"

	// AuditEventRejection records a validator rejection.
	AuditEventRejection AuditEventType = "rejection"

	// AuditEventError records a failure inside a stage.
	AuditEventError AuditEventType = "error"

	// AuditEventResult is emitted once by the terminal stage.
	AuditEventResult AuditEventType = "result"
)

// Validate checks if the audit event type is valid.
func (t AuditEventType) Validate() error {
	switch t {
	case AuditEventThinking, AuditEventDecision, AuditEventRejection,
		AuditEventError, AuditEventResult:
		return nil
	default:
		return fmt.Errorf("invalid audit event type: %s", t)
	}
}

// Severity is the severity level attached to an audit event.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// DefaultSeverity returns the severity an event of this type carries
// unless the stage overrides it.
func (t AuditEventType) DefaultSeverity() Severity {
	switch t {
	case AuditEventError:
		return SeverityError
	case AuditEventRejection:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}
