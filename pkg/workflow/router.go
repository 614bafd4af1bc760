package workflow

import (
	"fmt"
	"strings"
)

// RetryPolicy bounds the propose/validate loop and accumulates exclusions.
type RetryPolicy struct {
	MaxAttempts int
}

// Allow reports whether another proposal may be made.
func (p RetryPolicy) Allow(st WorkflowState) bool {
	return st.Attempts < p.MaxAttempts
}

// Exclude returns a copy of st with candidateID added to the exclusion set.
func (p RetryPolicy) Exclude(st WorkflowState, candidateID string) WorkflowState {
	next := st
	next.Excluded = st.Excluded.With(candidateID)
	return next
}

// Router maps a stage outcome to the next stage.
type Router struct {
	graph  *Graph
	policy RetryPolicy
}

// NewRouter creates a router over graph enforcing policy.
func NewRouter(graph *Graph, policy RetryPolicy) *Router {
	return &Router{graph: graph, policy: policy}
}

// Route returns the next stage. Retry edges are only followed while the
// policy allows; otherwise the run is sent to Abort with a retries-exhausted
// cause. An outcome without a transition also goes to Abort.
func (r *Router) Route(st WorkflowState, from StageName, on OutcomeKind) (StageName, WorkflowState) {
	t, ok := r.graph.Next(from, on)
	if !ok {
		cause := NewConfigurationError(
			fmt.Sprintf("no transition for outcome %s", on), nil).
			WithStage(from).
			WithCode(ErrCodeNoTransition)
		return StageAbort, st.withAbort(cause)
	}

	if t.Retry && !r.policy.Allow(st) {
		cause := NewRetriesExhaustedError(retriesExhaustedMessage(st, r.policy.MaxAttempts)).
			WithStage(from).
			WithCandidate(st.CandidateID()).
			WithDetail("attempts", st.Attempts)
		return StageAbort, st.withAbort(cause)
	}

	return t.To, st
}

// Retrying reports whether (from, on) is a retry edge the policy will follow.
func (r *Router) Retrying(st WorkflowState, from StageName, on OutcomeKind) bool {
	t, ok := r.graph.Next(from, on)
	return ok && t.Retry && r.policy.Allow(st)
}

func retriesExhaustedMessage(st WorkflowState, max int) string {
	msg := fmt.Sprintf("retries exhausted after %d of %d attempts", st.Attempts, max)
	if st.Excluded.Len() > 0 {
		msg += " (rejected: " + strings.Join(st.Excluded.IDs(), ", ") + ")"
	}
	return msg
}
