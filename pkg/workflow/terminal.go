package workflow

import (
	"context"
	"fmt"
	"time"
)

// Execute performs the Execute terminal action on st: it commits the
// assignment of st's candidate to st's target and returns the terminal state.
//
// Execute is idempotent per RunID. A state that is already terminal is
// returned unchanged without touching persistence, and AssignmentPersistence
// implementations treat a repeated RunID as a no-op, so a caller retrying
// with the same pre-terminal state still ends with exactly one assignment.
//
// The only error returned is a cancelled error when ctx ends mid-action; the
// returned state is then still pending and the call may be retried.
func (e *Engine) Execute(ctx context.Context, st WorkflowState) (WorkflowState, error) {
	return e.runTerminal(ctx, StageExecute, st)
}

// Flag performs the Flag terminal action on st: it creates the pending
// review record and returns the terminal state. Idempotence and
// cancellation behave as for Execute.
func (e *Engine) Flag(ctx context.Context, st WorkflowState) (WorkflowState, error) {
	return e.runTerminal(ctx, StageFlag, st)
}

func (e *Engine) runTerminal(ctx context.Context, stage StageName, st WorkflowState) (WorkflowState, error) {
	if st.Status.IsTerminal() {
		return st, nil
	}
	if err := ctx.Err(); err != nil {
		return st, NewCancelledError(fmt.Sprintf("%s not started", stage), err).WithStage(stage)
	}
	next, kind := e.runStage(ctx, stage, st)
	if kind == outcomeInterrupted {
		return st, NewCancelledError(fmt.Sprintf("%s interrupted", stage), ctx.Err()).WithStage(stage)
	}
	return next, nil
}

func (e *Engine) execute(ctx context.Context, st WorkflowState) (WorkflowState, OutcomeKind) {
	if st.Status.IsTerminal() {
		return st, OutcomeDone
	}
	started := e.now()
	if st.Candidate == nil || st.Metric == nil {
		return e.fail(st, started, StageExecute,
			NewConfigurationError("execute requires a proposed candidate and a computed metric", nil)), OutcomeDone
	}
	candidateID := st.CandidateID()

	cctx, cancel := e.stageContext(ctx)
	defer cancel()

	if e.deps.Reserver != nil {
		ok, err := e.deps.Reserver.Reserve(cctx, st.TenantID, candidateID, st.RunID)
		if err != nil {
			if ctx.Err() != nil {
				return st, outcomeInterrupted
			}
			return e.fail(st, started, StageExecute,
				NewPersistenceError("failed to reserve candidate", err).WithCandidate(candidateID)), OutcomeDone
		}
		if !ok {
			e.metrics.RecordReservationConflict()
			return e.fail(st, started, StageExecute,
				NewConflictError(fmt.Sprintf("candidate %s is reserved by another run", candidateID), nil).
					WithCandidate(candidateID)), OutcomeDone
		}
		defer e.release(context.WithoutCancel(ctx), st, candidateID)
	}

	err := e.deps.Assignments.CommitAssignment(cctx, Assignment{
		RunID:       st.RunID,
		TenantID:    st.TenantID,
		TargetID:    st.TargetID,
		CandidateID: candidateID,
		Metric:      *st.Metric,
		Estimated:   st.MetricEstimated,
		CommittedAt: e.now(),
	})
	if err != nil {
		if ctx.Err() != nil {
			return st, outcomeInterrupted
		}
		return e.fail(st, started, StageExecute,
			NewPersistenceError("failed to commit assignment", err).WithCandidate(candidateID)), OutcomeDone
	}

	next := st
	next.Status = RunStatusSuccess
	return e.record(next, started, StageExecute, OutcomeDone, StageOutcome{
		Approved: true,
		Reason:   fmt.Sprintf("assigned candidate %s to target %s", candidateID, st.TargetID),
		Score:    cloneScore(st.Metric),
	}, AuditEventResult, "assignment committed"), OutcomeDone
}

func (e *Engine) release(ctx context.Context, st WorkflowState, candidateID string) {
	if err := e.deps.Reserver.Release(ctx, st.TenantID, candidateID, st.RunID); err != nil {
		e.logger.Warn().Err(err).
			Str("run_id", st.RunID).
			Str("candidate_id", candidateID).
			Msg("failed to release candidate reservation")
	}
}

func (e *Engine) flag(ctx context.Context, st WorkflowState) (WorkflowState, OutcomeKind) {
	if st.Status.IsTerminal() {
		return st, OutcomeDone
	}
	started := e.now()

	reason := "flagged for manual review"
	if gate, ok := st.Outcomes[StageMarginGate]; ok && gate.Reason != "" {
		reason = gate.Reason
	}

	cctx, cancel := e.stageContext(ctx)
	defer cancel()

	err := e.deps.Reviews.CreatePendingReview(cctx, Review{
		RunID:          st.RunID,
		TenantID:       st.TenantID,
		TargetID:       st.TargetID,
		CandidateID:    st.CandidateID(),
		Metric:         cloneScore(st.Metric),
		Reason:         reason,
		Recommendation: e.recommend(st),
		CreatedAt:      e.now(),
	})
	if err != nil {
		if ctx.Err() != nil {
			return st, outcomeInterrupted
		}
		return e.fail(st, started, StageFlag,
			NewPersistenceError("failed to create pending review", err).WithCandidate(st.CandidateID())), OutcomeDone
	}

	next := st
	next.Status = RunStatusFlagged
	return e.record(next, started, StageFlag, OutcomeDone, StageOutcome{
		Reason: reason,
		Score:  cloneScore(st.Metric),
	}, AuditEventResult, "pending review created"), OutcomeDone
}

// recommend builds the recommendation string attached to a pending review.
func (e *Engine) recommend(st WorkflowState) string {
	candidate := st.CandidateID()
	if candidate == "" {
		candidate = "the proposed candidate"
	}

	var rec string
	if st.Metric == nil {
		rec = fmt.Sprintf("Margin could not be computed; confirm the load value before assigning %s.", candidate)
	} else {
		gap := e.cfg.MarginThreshold - *st.Metric
		rec = fmt.Sprintf("Margin %s is %s below the %s threshold; renegotiate the rate or approve %s manually.",
			percent(*st.Metric), percent(gap), percent(e.cfg.MarginThreshold), candidate)
	}
	if st.MetricEstimated {
		rec += " Cost was estimated; verify the carrier rate before approving."
	}
	return rec
}

// abort finalizes a run that cannot reach Execute or Flag.
func (e *Engine) abort(_ context.Context, st WorkflowState) (WorkflowState, OutcomeKind) {
	if st.Status.IsTerminal() {
		return st, OutcomeDone
	}
	cause := st.abort
	if cause == nil {
		cause = NewConfigurationError("run aborted without a cause", nil)
	}
	return e.fail(st, e.now(), StageAbort, cause), OutcomeDone
}

// fail sets the failed status, records stage and emits the result event.
func (e *Engine) fail(st WorkflowState, started time.Time, stage StageName, cause *WorkflowError) WorkflowState {
	if cause.Stage == "" {
		cause = cause.WithStage(stage)
	}
	next := st
	next.Status = RunStatusFailed
	next.ErrorClass = cause.Class
	next.ErrorMessage = failureMessage(cause)
	next.abort = cause
	return e.record(next, started, stage, OutcomeDone, StageOutcome{Reason: next.ErrorMessage},
		AuditEventResult, fmt.Sprintf("run failed: %s", cause.Class))
}

// failureMessage renders the caller-facing error message. Persistence
// failures carry the underlying error text verbatim.
func failureMessage(cause *WorkflowError) string {
	switch {
	case cause.Class == ErrorClassPersistence && cause.Err != nil:
		return cause.Err.Error()
	case cause.Err != nil:
		return cause.Message + ": " + cause.Err.Error()
	default:
		return cause.Message
	}
}
