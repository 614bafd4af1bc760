package workflow

import (
	"fmt"
	"maps"
	"math"
	"slices"
	"time"
)

// Target is the load (or other task) being assigned.
type Target struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`

	// Value is the nominal revenue of the target; the margin is computed against it.
	Value float64 `json:"value"`

	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// Candidate is an entity proposed for assignment to a target.
type Candidate struct {
	ID         string                 `json:"id"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// StageOutcome is the latest recorded result of one stage.
type StageOutcome struct {
	Approved bool     `json:"approved"`
	Reason   string   `json:"reason"`
	Score    *float64 `json:"score,omitempty"`
}

// StageRecord is one executed stage in a run's history.
type StageRecord struct {
	Stage       StageName    `json:"stage"`
	Outcome     OutcomeKind  `json:"outcome"`
	CandidateID string       `json:"candidate_id,omitempty"`
	Result      StageOutcome `json:"result"`
	StartedAt   time.Time    `json:"started_at"`
	CompletedAt time.Time    `json:"completed_at"`
}

// ExclusionSet is an immutable set of rejected candidate IDs.
// The zero value is an empty set.
type ExclusionSet struct {
	order []string
	index map[string]struct{}
}

// NewExclusionSet returns a set holding ids.
func NewExclusionSet(ids ...string) ExclusionSet {
	var s ExclusionSet
	for _, id := range ids {
		s = s.With(id)
	}
	return s
}

// With returns a new set containing id. The receiver is not modified.
func (s ExclusionSet) With(id string) ExclusionSet {
	if s.Contains(id) {
		return s
	}
	next := ExclusionSet{
		order: make([]string, len(s.order), len(s.order)+1),
		index: make(map[string]struct{}, len(s.order)+1),
	}
	copy(next.order, s.order)
	for k := range s.index {
		next.index[k] = struct{}{}
	}
	next.order = append(next.order, id)
	next.index[id] = struct{}{}
	return next
}

// Contains reports whether id is excluded.
func (s ExclusionSet) Contains(id string) bool {
	_, ok := s.index[id]
	return ok
}

// Len returns the number of excluded IDs.
func (s ExclusionSet) Len() int {
	return len(s.order)
}

// IDs returns the excluded IDs in insertion order.
func (s ExclusionSet) IDs() []string {
	return slices.Clone(s.order)
}

// WorkflowState is the value threaded through every stage.
// Stages never mutate a state they receive; they return a modified copy.
type WorkflowState struct {
	RunID    string `json:"run_id"`
	TenantID string `json:"tenant_id"`
	TargetID string `json:"target_id"`

	// Target is loaded before the first stage and never changes.
	Target *Target `json:"target,omitempty"`

	// Candidate is nil until Propose succeeds.
	Candidate *Candidate `json:"candidate,omitempty"`

	Excluded ExclusionSet `json:"-"`

	// Outcomes holds the latest outcome of every stage executed so far.
	Outcomes map[StageName]StageOutcome `json:"outcomes"`

	// History holds every executed stage in order.
	History []StageRecord `json:"history"`

	// Metric is set only by CostCalculation.
	Metric          *float64 `json:"metric,omitempty"`
	MetricEstimated bool     `json:"metric_estimated,omitempty"`

	// Attempts is incremented once per successful Propose.
	Attempts int `json:"attempts"`

	Status       RunStatus  `json:"status"`
	ErrorMessage string     `json:"error_message,omitempty"`
	ErrorClass   ErrorClass `json:"error_class,omitempty"`

	// abort is the cause carried into the Abort stage.
	abort *WorkflowError
}

// NewWorkflowState creates the initial state of a run.
func NewWorkflowState(runID, tenantID, targetID string) WorkflowState {
	return WorkflowState{
		RunID:    runID,
		TenantID: tenantID,
		TargetID: targetID,
		Outcomes: make(map[StageName]StageOutcome),
		Status:   RunStatusPending,
	}
}

// CandidateID returns the current candidate's ID, or "" if none.
func (s WorkflowState) CandidateID() string {
	if s.Candidate == nil {
		return ""
	}
	return s.Candidate.ID
}

// AbortCause returns the error that routed the run to Abort, if any.
func (s WorkflowState) AbortCause() *WorkflowError {
	return s.abort
}

// withRecord returns a copy of s with rec appended to History and its result
// stored as the stage's latest outcome.
func (s WorkflowState) withRecord(rec StageRecord) WorkflowState {
	next := s
	next.Outcomes = maps.Clone(s.Outcomes)
	if next.Outcomes == nil {
		next.Outcomes = make(map[StageName]StageOutcome)
	}
	next.Outcomes[rec.Stage] = rec.Result
	next.History = append(slices.Clip(s.History), rec)
	return next
}

// withAbort returns a copy of s carrying cause into the Abort stage.
func (s WorkflowState) withAbort(cause *WorkflowError) WorkflowState {
	next := s
	next.abort = cause
	return next
}

// Snapshot returns a deep copy that shares no mutable memory with s.
func (s WorkflowState) Snapshot() WorkflowState {
	next := s
	next.Outcomes = maps.Clone(s.Outcomes)
	next.History = slices.Clone(s.History)
	if s.Candidate != nil {
		c := *s.Candidate
		c.Attributes = maps.Clone(s.Candidate.Attributes)
		next.Candidate = &c
	}
	if s.Metric != nil {
		m := *s.Metric
		next.Metric = &m
	}
	return next
}

// FinalResult is what Run returns to the caller.
type FinalResult struct {
	RunID        string        `json:"run_id"`
	TenantID     string        `json:"tenant_id"`
	TargetID     string        `json:"target_id"`
	Status       RunStatus     `json:"status"`
	CandidateID  string        `json:"candidate_id,omitempty"`
	Metric       *float64      `json:"metric,omitempty"`
	Estimated    bool          `json:"estimated,omitempty"`
	Attempts     int           `json:"attempts"`
	ErrorMessage string        `json:"error_message,omitempty"`
	ErrorClass   ErrorClass    `json:"error_class,omitempty"`
	Excluded     []string      `json:"excluded,omitempty"`
	History      []StageRecord `json:"history,omitempty"`
	StartedAt    time.Time     `json:"started_at"`
	CompletedAt  time.Time     `json:"completed_at"`
}

// Duration returns how long the run took.
func (r FinalResult) Duration() time.Duration {
	return r.CompletedAt.Sub(r.StartedAt)
}

func newFinalResult(s WorkflowState, started, completed time.Time) FinalResult {
	snap := s.Snapshot()
	return FinalResult{
		RunID:        s.RunID,
		TenantID:     s.TenantID,
		TargetID:     s.TargetID,
		Status:       s.Status,
		CandidateID:  s.CandidateID(),
		Metric:       snap.Metric,
		Estimated:    s.MetricEstimated,
		Attempts:     s.Attempts,
		ErrorMessage: s.ErrorMessage,
		ErrorClass:   s.ErrorClass,
		Excluded:     s.Excluded.IDs(),
		History:      snap.History,
		StartedAt:    started,
		CompletedAt:  completed,
	}
}

// AuditEvent is a write-only record of a stage's reasoning or outcome.
type AuditEvent struct {
	RunID       string         `json:"run_id"`
	TenantID    string         `json:"tenant_id"`
	TargetID    string         `json:"target_id"`
	Stage       StageName      `json:"stage"`
	Type        AuditEventType `json:"type"`
	CandidateID string         `json:"candidate_id,omitempty"`
	Message     string         `json:"message"`
	Reason      string         `json:"reason,omitempty"`
	Severity    Severity       `json:"severity"`
	Timestamp   time.Time      `json:"timestamp"`
}

// Config contains the per-engine run configuration.
type Config struct {
	// MaxAttempts bounds the number of proposals per run.
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts"`

	// MarginThreshold is the inclusive minimum metric for Execute.
	MarginThreshold float64 `json:"margin_threshold" yaml:"margin_threshold"`

	// FallbackCostRatio is the share of the target value assumed as cost
	// when the estimator cannot produce a figure.
	FallbackCostRatio float64 `json:"fallback_cost_ratio" yaml:"fallback_cost_ratio"`

	// StageTimeout bounds every collaborator call. Zero disables it.
	StageTimeout time.Duration `json:"stage_timeout" yaml:"stage_timeout"`
}

// DefaultConfig returns the default run configuration.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:       3,
		MarginThreshold:   0.15,
		FallbackCostRatio: 0.85,
		StageTimeout:      30 * time.Second,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.MaxAttempts < 1 {
		return NewConfigurationError(
			fmt.Sprintf("max attempts must be at least 1, got %d", c.MaxAttempts), nil).
			WithDetail("max_attempts", c.MaxAttempts)
	}
	if math.IsNaN(c.MarginThreshold) || c.MarginThreshold < 0 || c.MarginThreshold >= 1 {
		return NewConfigurationError(
			fmt.Sprintf("margin threshold must be in [0, 1), got %v", c.MarginThreshold), nil).
			WithDetail("margin_threshold", c.MarginThreshold)
	}
	if math.IsNaN(c.FallbackCostRatio) || math.IsInf(c.FallbackCostRatio, 0) || c.FallbackCostRatio <= 0 {
		return NewConfigurationError(
			fmt.Sprintf("fallback cost ratio must be positive, got %v", c.FallbackCostRatio), nil).
			WithDetail("fallback_cost_ratio", c.FallbackCostRatio)
	}
	if c.StageTimeout < 0 {
		return NewConfigurationError(
			fmt.Sprintf("stage timeout must not be negative, got %s", c.StageTimeout), nil)
	}
	return nil
}
