package policy

import (
	"time"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for findings that are reported but do not reject.
	SeverityWarning Severity = "warning"

	// SeverityError rejects the candidate.
	SeverityError Severity = "error"

	// SeverityCritical rejects the candidate and is logged at error level.
	SeverityCritical Severity = "critical"
)

// Blocking reports whether a violation at this severity rejects the candidate.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy represents a policy rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code. Violations are read from the
	// package's deny set.
	Rego string `json:"rego"`

	// Severity is used for deny entries that do not carry their own.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// Metadata contains additional policy metadata.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Violation represents a single deny entry.
type Violation struct {
	// Policy is the name of the policy that produced the entry.
	Policy string `json:"policy"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity level.
	Severity Severity `json:"severity"`

	// Remediation provides a suggested fix.
	Remediation string `json:"remediation,omitempty"`

	// Details contains any other fields from the deny entry.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Result represents the result of evaluating every enabled policy.
type Result struct {
	// Allowed is false when any violation is blocking.
	Allowed bool `json:"allowed"`

	// Violations lists blocking violations.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists non-blocking violations.
	Warnings []Violation `json:"warnings,omitempty"`

	// EvaluatedPolicies lists the names of policies that were evaluated.
	EvaluatedPolicies []string `json:"evaluated_policies"`

	EvaluatedAt time.Time     `json:"evaluated_at"`
	Duration    time.Duration `json:"duration"`
}

// Input is the document policies see as `input`.
type Input struct {
	Candidate CandidateInput `json:"candidate"`
	Target    TargetInput    `json:"target"`
	Context   InputContext   `json:"context"`
}

// CandidateInput describes the proposed candidate.
type CandidateInput struct {
	ID         string                 `json:"id"`
	Attributes map[string]interface{} `json:"attributes"`
}

// TargetInput describes the load being assigned.
type TargetInput struct {
	ID         string                 `json:"id"`
	TenantID   string                 `json:"tenant_id"`
	Value      float64                `json:"value"`
	Attributes map[string]interface{} `json:"attributes"`
}

// InputContext provides evaluation context.
type InputContext struct {
	// TenantID is the tenant the run belongs to.
	TenantID string `json:"tenant_id"`

	// Now is the evaluation time in RFC 3339 format.
	Now string `json:"now"`

	// Operation is the operation being evaluated, e.g. "assign".
	Operation string `json:"operation"`

	// Metadata contains additional context metadata.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// PolicyBundle is a JSON file that ships several related policies together.
// The loader recognises one by its top-level "policies" array.
type PolicyBundle struct {
	Name        string    `json:"name"`
	Version     string    `json:"version"`
	Description string    `json:"description"`
	Policies    []Policy  `json:"policies"`
	CreatedAt   time.Time `json:"created_at"`
}
