package workflow

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// stageFunc executes one stage. It returns the next state and the outcome
// the Router keys on.
type stageFunc func(ctx context.Context, st WorkflowState) (WorkflowState, OutcomeKind)

func (e *Engine) stageFuncs() map[StageName]stageFunc {
	return map[StageName]stageFunc{
		StagePropose:         e.propose,
		StageEquipmentCheck:  e.checkEquipment,
		StageComplianceCheck: e.checkCompliance,
		StageCostCalculation: e.calculateCost,
		StageMarginGate:      e.gateMargin,
		StageExecute:         e.execute,
		StageFlag:            e.flag,
		StageAbort:           e.abort,
	}
}

// propose asks the CandidateSource for the best candidate outside the exclusion set.
func (e *Engine) propose(ctx context.Context, st WorkflowState) (WorkflowState, OutcomeKind) {
	started := e.now()
	e.emit(st, StagePropose, AuditEventThinking,
		fmt.Sprintf("searching for best candidate (attempt %d of %d, %d excluded)",
			st.Attempts+1, e.cfg.MaxAttempts, st.Excluded.Len()), "")

	cctx, cancel := e.stageContext(ctx)
	defer cancel()

	cand, err := e.deps.Candidates.FindBest(cctx, ProposalRequest{
		TenantID: st.TenantID,
		Target:   *st.Target,
		Excluded: st.Excluded,
	})

	switch {
	case errors.Is(err, ErrCandidateNotFound) || (err == nil && cand == nil):
		reason := ErrCandidateNotFound.Error()
		st = e.record(st, started, StagePropose, OutcomeNotFound, StageOutcome{Reason: reason},
			AuditEventError, "candidate pool exhausted")
		return st.withAbort(NewNotFoundError(reason, nil).WithStage(StagePropose)), OutcomeNotFound

	case err != nil:
		if ctx.Err() != nil {
			return st, outcomeInterrupted
		}
		return e.unavailable(st, started, StagePropose, "candidate source unavailable", err)

	case st.Excluded.Contains(cand.ID):
		return e.unavailable(st, started, StagePropose, "candidate source returned an excluded candidate",
			fmt.Errorf("candidate %s was already rejected in this run", cand.ID))
	}

	next := st
	c := *cand
	next.Candidate = &c
	next.Attempts++

	return e.record(next, started, StagePropose, OutcomeProposed, StageOutcome{
		Approved: true,
		Reason:   fmt.Sprintf("proposed candidate %s", cand.ID),
	}, AuditEventDecision, fmt.Sprintf("proposed candidate %s", cand.ID)), OutcomeProposed
}

func (e *Engine) checkEquipment(ctx context.Context, st WorkflowState) (WorkflowState, OutcomeKind) {
	return e.validate(ctx, st, StageEquipmentCheck, "equipment validator", e.deps.Equipment.CheckEquipment)
}

func (e *Engine) checkCompliance(ctx context.Context, st WorkflowState) (WorkflowState, OutcomeKind) {
	return e.validate(ctx, st, StageComplianceCheck, "compliance validator", e.deps.Compliance.CheckCompliance)
}

// validate runs one validation stage. A rejection excludes the candidate and
// leaves the loop decision to the Router; an error is never a rejection.
func (e *Engine) validate(
	ctx context.Context,
	st WorkflowState,
	stage StageName,
	name string,
	check func(context.Context, ValidationRequest) (Verdict, error),
) (WorkflowState, OutcomeKind) {
	started := e.now()
	candidateID := st.CandidateID()
	e.emit(st, stage, AuditEventThinking, fmt.Sprintf("consulting %s for candidate %s", name, candidateID), "")

	cctx, cancel := e.stageContext(ctx)
	defer cancel()

	verdict, err := check(cctx, ValidationRequest{
		TenantID:  st.TenantID,
		Target:    *st.Target,
		Candidate: *st.Candidate,
	})
	if err != nil {
		if ctx.Err() != nil {
			return st, outcomeInterrupted
		}
		return e.unavailable(st, started, stage, name+" unavailable", err)
	}

	outcome := StageOutcome{Approved: verdict.Approved, Reason: verdict.Reason, Score: cloneScore(verdict.Score)}

	if !verdict.Approved {
		if outcome.Reason == "" {
			outcome.Reason = fmt.Sprintf("rejected by %s", name)
		}
		next := e.retry.Exclude(st, candidateID)
		return e.record(next, started, stage, OutcomeRejected, outcome, AuditEventRejection,
			fmt.Sprintf("candidate %s rejected", candidateID)), OutcomeRejected
	}

	if outcome.Reason == "" {
		outcome.Reason = fmt.Sprintf("approved by %s", name)
	}
	return e.record(st, started, stage, OutcomeApproved, outcome, AuditEventDecision,
		fmt.Sprintf("candidate %s approved", candidateID)), OutcomeApproved
}

// calculateCost derives metric = (value - cost) / value. It never rejects;
// when the estimator cannot produce a usable figure a fallback ratio of the
// target value is used and labelled as estimated.
func (e *Engine) calculateCost(ctx context.Context, st WorkflowState) (WorkflowState, OutcomeKind) {
	started := e.now()
	value := st.Target.Value
	e.emit(st, StageCostCalculation, AuditEventThinking,
		fmt.Sprintf("estimating cost of candidate %s against value %.2f", st.CandidateID(), value), "")

	cctx, cancel := e.stageContext(ctx)
	defer cancel()

	est, err := e.deps.Cost.Estimate(cctx, *st.Target, *st.Candidate)
	if err != nil && ctx.Err() != nil {
		return st, outcomeInterrupted
	}

	var basis string
	switch {
	case err != nil:
		e.logger.Warn().Err(err).Str("run_id", st.RunID).Msg("cost estimator failed, using fallback ratio")
		e.metrics.RecordAdvisoryError(string(StageCostCalculation))
		est = e.fallbackEstimate(value)
		basis = fmt.Sprintf("%s; estimator error: %v", est.Basis, err)
	case math.IsNaN(est.Amount) || math.IsInf(est.Amount, 0) || est.Amount < 0:
		bad := est.Amount
		est = e.fallbackEstimate(value)
		basis = fmt.Sprintf("%s; estimator returned unusable amount %v", est.Basis, bad)
	default:
		basis = est.Basis
		if basis == "" {
			basis = "estimator"
		}
	}

	next := st
	next.MetricEstimated = est.IsEstimated

	label := "measured"
	if est.IsEstimated {
		label = "estimated"
	}

	var outcome StageOutcome
	if value <= 0 || math.IsNaN(value) || math.IsInf(value, 0) {
		next.Metric = nil
		outcome = StageOutcome{
			Approved: true,
			Reason:   fmt.Sprintf("target value %v is not positive; margin undefined (%s cost %.2f, %s)", value, label, est.Amount, basis),
		}
	} else {
		metric := (value - est.Amount) / value
		next.Metric = &metric
		outcome = StageOutcome{
			Approved: true,
			Reason:   fmt.Sprintf("%s cost %.2f against value %.2f (%s)", label, est.Amount, value, basis),
			Score:    cloneScore(&metric),
		}
	}

	return e.record(next, started, StageCostCalculation, OutcomeComputed, outcome, AuditEventDecision,
		fmt.Sprintf("margin computed for candidate %s", st.CandidateID())), OutcomeComputed
}

func (e *Engine) fallbackEstimate(value float64) CostEstimate {
	amount := 0.0
	if value > 0 && !math.IsInf(value, 0) {
		amount = value * e.cfg.FallbackCostRatio
	}
	return CostEstimate{
		Amount:      amount,
		IsEstimated: true,
		Basis:       fmt.Sprintf("fallback %.0f%% of target value", e.cfg.FallbackCostRatio*100),
	}
}

// Gate is the MarginGate decision. It is inclusive: metric == threshold passes.
// A missing or NaN metric never passes.
func Gate(metric *float64, threshold float64) OutcomeKind {
	if metric != nil && *metric >= threshold {
		return OutcomePass
	}
	return OutcomeBelow
}

func (e *Engine) gateMargin(_ context.Context, st WorkflowState) (WorkflowState, OutcomeKind) {
	started := e.now()
	kind := Gate(st.Metric, e.cfg.MarginThreshold)

	var outcome StageOutcome
	var message string
	switch {
	case kind == OutcomePass:
		outcome = StageOutcome{Approved: true, Reason: fmt.Sprintf("margin %s meets threshold %s",
			percent(*st.Metric), percent(e.cfg.MarginThreshold))}
		message = "margin accepted, executing assignment"
	case st.Metric == nil || math.IsNaN(*st.Metric):
		outcome = StageOutcome{Reason: "margin undefined; manual review required"}
		message = "margin undefined, flagging for review"
	default:
		outcome = StageOutcome{Reason: fmt.Sprintf("margin %s below threshold %s",
			percent(*st.Metric), percent(e.cfg.MarginThreshold))}
		message = "margin below threshold, flagging for review"
	}
	outcome.Score = cloneScore(st.Metric)

	return e.record(st, started, StageMarginGate, kind, outcome, AuditEventDecision, message), kind
}

// unavailable records an infrastructure failure and routes the run to Abort.
func (e *Engine) unavailable(st WorkflowState, started time.Time, stage StageName, message string, err error) (WorkflowState, OutcomeKind) {
	e.metrics.RecordAdvisoryError(string(stage))
	cause := NewAdvisoryUnavailableError(message, err).WithStage(stage).WithCandidate(st.CandidateID())
	st = e.record(st, started, stage, OutcomeUnavailable, StageOutcome{Reason: cause.Error()}, AuditEventError, message)
	return st.withAbort(cause), OutcomeUnavailable
}

func (e *Engine) stageContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.cfg.StageTimeout > 0 {
		return context.WithTimeout(ctx, e.cfg.StageTimeout)
	}
	return context.WithCancel(ctx)
}

func cloneScore(score *float64) *float64 {
	if score == nil {
		return nil
	}
	s := *score
	return &s
}

func percent(v float64) string {
	return fmt.Sprintf("%.1f%%", v*100)
}
