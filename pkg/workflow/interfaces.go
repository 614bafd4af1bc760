package workflow

import (
	"context"
	"time"
)

// TargetSource loads the target of a run.
type TargetSource interface {
	// LoadTarget returns the target, or ErrTargetNotFound (or a nil target) if it does not exist.
	LoadTarget(ctx context.Context, tenantID, targetID string) (*Target, error)
}

// ProposalRequest is the input to CandidateSource.FindBest.
type ProposalRequest struct {
	TenantID string
	Target   Target
	Excluded ExclusionSet
}

// CandidateSource proposes candidates.
type CandidateSource interface {
	// FindBest returns the best-ranked candidate not in req.Excluded.
	// A nil candidate or ErrCandidateNotFound means the pool is exhausted;
	// any other error is treated as an infrastructure failure.
	FindBest(ctx context.Context, req ProposalRequest) (*Candidate, error)
}

// ValidationRequest is the input to the validators.
type ValidationRequest struct {
	TenantID  string
	Target    Target
	Candidate Candidate
}

// Verdict is a validator's answer about one candidate.
type Verdict struct {
	Approved bool
	Reason   string

	// Score is optional and only used for audit and reporting.
	Score *float64
}

// EquipmentValidator checks the candidate's equipment against the target.
type EquipmentValidator interface {
	// CheckEquipment returns a verdict. A non-nil error means the validator
	// could not be consulted; it is never interpreted as a rejection.
	CheckEquipment(ctx context.Context, req ValidationRequest) (Verdict, error)
}

// ComplianceValidator checks regulatory and tenant compliance rules.
type ComplianceValidator interface {
	// CheckCompliance returns a verdict. A non-nil error means the validator
	// could not be consulted; it is never interpreted as a rejection.
	CheckCompliance(ctx context.Context, req ValidationRequest) (Verdict, error)
}

// CostEstimate is the cost of serving a target with a candidate.
type CostEstimate struct {
	Amount float64

	// IsEstimated marks figures not backed by measured data.
	IsEstimated bool

	// Basis describes how the figure was obtained.
	Basis string
}

// CostEstimator prices a candidate against a target.
type CostEstimator interface {
	Estimate(ctx context.Context, target Target, candidate Candidate) (CostEstimate, error)
}

// AuditSink receives audit events. Emit must not block.
type AuditSink interface {
	Emit(event AuditEvent)
}

// Assignment is the durable record written by Execute.
type Assignment struct {
	RunID       string    `json:"run_id"`
	TenantID    string    `json:"tenant_id"`
	TargetID    string    `json:"target_id"`
	CandidateID string    `json:"candidate_id"`
	Metric      float64   `json:"metric"`
	Estimated   bool      `json:"estimated"`
	CommittedAt time.Time `json:"committed_at"`
}

// AssignmentPersistence commits assignments.
type AssignmentPersistence interface {
	// CommitAssignment writes the assignment and the target/candidate status
	// update atomically. A repeated RunID must be a no-op that returns nil.
	CommitAssignment(ctx context.Context, a Assignment) error
}

// Review is the durable pending-review record written by Flag.
type Review struct {
	RunID          string    `json:"run_id"`
	TenantID       string    `json:"tenant_id"`
	TargetID       string    `json:"target_id"`
	CandidateID    string    `json:"candidate_id"`
	Metric         *float64  `json:"metric,omitempty"`
	Reason         string    `json:"reason"`
	Recommendation string    `json:"recommendation"`
	CreatedAt      time.Time `json:"created_at"`
}

// ReviewPersistence creates pending reviews.
type ReviewPersistence interface {
	// CreatePendingReview writes the review atomically. A repeated RunID
	// must be a no-op that returns nil.
	CreatePendingReview(ctx context.Context, r Review) error
}

// Reserver holds a short-lived claim on a candidate while Execute commits.
type Reserver interface {
	// Reserve returns false if another run holds the candidate.
	// Reserving again with the same runID succeeds.
	Reserve(ctx context.Context, tenantID, candidateID, runID string) (bool, error)

	// Release drops the claim if runID still holds it.
	Release(ctx context.Context, tenantID, candidateID, runID string) error
}

// Dependencies are the collaborators an Engine calls.
type Dependencies struct {
	Targets     TargetSource
	Candidates  CandidateSource
	Equipment   EquipmentValidator
	Compliance  ComplianceValidator
	Cost        CostEstimator
	Assignments AssignmentPersistence
	Reviews     ReviewPersistence

	// Audit is optional; events are discarded when nil.
	Audit AuditSink

	// Reserver is optional; without it concurrent runs resolve as last write wins.
	Reserver Reserver
}

func (d Dependencies) validate() error {
	missing := func(name string) error {
		return NewConfigurationError("missing dependency: "+name, nil)
	}
	switch {
	case d.Targets == nil:
		return missing("targets")
	case d.Candidates == nil:
		return missing("candidates")
	case d.Equipment == nil:
		return missing("equipment validator")
	case d.Compliance == nil:
		return missing("compliance validator")
	case d.Cost == nil:
		return missing("cost estimator")
	case d.Assignments == nil:
		return missing("assignment persistence")
	case d.Reviews == nil:
		return missing("review persistence")
	}
	return nil
}

// TargetSourceFunc adapts a function to TargetSource.
type TargetSourceFunc func(ctx context.Context, tenantID, targetID string) (*Target, error)

// LoadTarget calls f.
func (f TargetSourceFunc) LoadTarget(ctx context.Context, tenantID, targetID string) (*Target, error) {
	return f(ctx, tenantID, targetID)
}

// CandidateSourceFunc adapts a function to CandidateSource.
type CandidateSourceFunc func(ctx context.Context, req ProposalRequest) (*Candidate, error)

// FindBest calls f.
func (f CandidateSourceFunc) FindBest(ctx context.Context, req ProposalRequest) (*Candidate, error) {
	return f(ctx, req)
}

// EquipmentValidatorFunc adapts a function to EquipmentValidator.
type EquipmentValidatorFunc func(ctx context.Context, req ValidationRequest) (Verdict, error)

// CheckEquipment calls f.
func (f EquipmentValidatorFunc) CheckEquipment(ctx context.Context, req ValidationRequest) (Verdict, error) {
	return f(ctx, req)
}

// ComplianceValidatorFunc adapts a function to ComplianceValidator.
type ComplianceValidatorFunc func(ctx context.Context, req ValidationRequest) (Verdict, error)

// CheckCompliance calls f.
func (f ComplianceValidatorFunc) CheckCompliance(ctx context.Context, req ValidationRequest) (Verdict, error) {
	return f(ctx, req)
}

// CostEstimatorFunc adapts a function to CostEstimator.
type CostEstimatorFunc func(ctx context.Context, target Target, candidate Candidate) (CostEstimate, error)

// Estimate calls f.
func (f CostEstimatorFunc) Estimate(ctx context.Context, target Target, candidate Candidate) (CostEstimate, error) {
	return f(ctx, target, candidate)
}

// AssignmentPersistenceFunc adapts a function to AssignmentPersistence.
type AssignmentPersistenceFunc func(ctx context.Context, a Assignment) error

// CommitAssignment calls f.
func (f AssignmentPersistenceFunc) CommitAssignment(ctx context.Context, a Assignment) error {
	return f(ctx, a)
}

// ReviewPersistenceFunc adapts a function to ReviewPersistence.
type ReviewPersistenceFunc func(ctx context.Context, r Review) error

// CreatePendingReview calls f.
func (f ReviewPersistenceFunc) CreatePendingReview(ctx context.Context, r Review) error {
	return f(ctx, r)
}

// AuditSinkFunc adapts a function to AuditSink.
type AuditSinkFunc func(event AuditEvent)

// Emit calls f.
func (f AuditSinkFunc) Emit(event AuditEvent) {
	f(event)
}
