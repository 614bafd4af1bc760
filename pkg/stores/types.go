package stores

import (
	"context"
	"time"

	"github.com/freightops-pro/fopsbackend-sub000/pkg/workflow"
)

// TargetStatus represents the assignment state of a target (load)
type TargetStatus string

const (
	TargetStatusOpen     TargetStatus = "open"
	TargetStatusAssigned TargetStatus = "assigned"
	TargetStatusReview   TargetStatus = "review"
)

// CandidateStatus represents whether a candidate can be proposed
type CandidateStatus string

const (
	CandidateStatusAvailable CandidateStatus = "available"
	CandidateStatusAssigned  CandidateStatus = "assigned"
	CandidateStatusInactive  CandidateStatus = "inactive"
)

// ReviewStatus represents the state of a pending review
type ReviewStatus string

const (
	ReviewStatusPending  ReviewStatus = "pending"
	ReviewStatusResolved ReviewStatus = "resolved"
)

// TargetRecord is a stored target.
type TargetRecord struct {
	TenantID            string                 `json:"tenant_id" yaml:"tenant_id"`
	ID                  string                 `json:"id" yaml:"id"`
	Value               float64                `json:"value" yaml:"value"`
	Status              TargetStatus           `json:"status" yaml:"status"`
	Attributes          map[string]interface{} `json:"attributes,omitempty" yaml:"attributes"` // JSON blob
	AssignedCandidateID *string                `json:"assigned_candidate_id,omitempty" yaml:"-"`
	AssignedRunID       *string                `json:"assigned_run_id,omitempty" yaml:"-"`
	CreatedAt           time.Time              `json:"created_at" yaml:"-"`
	UpdatedAt           time.Time              `json:"updated_at" yaml:"-"`
}

// CandidateRecord is a stored candidate (driver, truck or carrier).
type CandidateRecord struct {
	TenantID   string                 `json:"tenant_id" yaml:"tenant_id"`
	ID         string                 `json:"id" yaml:"id"`
	Name       string                 `json:"name" yaml:"name"`
	Capacity   float64                `json:"capacity" yaml:"capacity"` // ranking key, higher first
	Status     CandidateStatus        `json:"status" yaml:"status"`
	Attributes map[string]interface{} `json:"attributes,omitempty" yaml:"attributes"` // JSON blob
	CreatedAt  time.Time              `json:"created_at" yaml:"-"`
	UpdatedAt  time.Time              `json:"updated_at" yaml:"-"`
}

// ReviewRecord is a stored pending review.
type ReviewRecord struct {
	workflow.Review
	Status ReviewStatus `json:"status"`
}

// AuditEventRecord is a stored audit event.
type AuditEventRecord struct {
	ID int64 `json:"id"`
	workflow.AuditEvent
}

// Store defines the interface for the persistence layer
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Workflow collaborators
	workflow.TargetSource
	workflow.CandidateSource
	workflow.AssignmentPersistence
	workflow.ReviewPersistence
	WriteAuditEvents(ctx context.Context, events []workflow.AuditEvent) error

	// Target operations
	UpsertTarget(ctx context.Context, target *TargetRecord) error
	GetTarget(ctx context.Context, tenantID, id string) (*TargetRecord, error)

	// Candidate operations
	UpsertCandidate(ctx context.Context, candidate *CandidateRecord) error
	ListCandidates(ctx context.Context, tenantID string) ([]*CandidateRecord, error)

	// Queries
	GetAssignmentByRun(ctx context.Context, runID string) (*workflow.Assignment, error)
	ListAssignments(ctx context.Context, tenantID string, limit, offset int) ([]*workflow.Assignment, error)
	ListPendingReviews(ctx context.Context, tenantID string, limit, offset int) ([]*ReviewRecord, error)
	ListAuditEvents(ctx context.Context, runID string) ([]*AuditEventRecord, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
