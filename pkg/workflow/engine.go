package workflow

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/freightops-pro/fopsbackend-sub000/pkg/telemetry"
)

const tracerName = "github.com/freightops-pro/fopsbackend-sub000/pkg/workflow"

// Observer is called after every routed transition with a snapshot of the
// state entering the next stage.
type Observer func(from StageName, outcome OutcomeKind, to StageName, st WorkflowState)

// Engine drives runs through the stage graph. It is safe for concurrent use;
// runs share only the read-only configuration and the collaborators.
type Engine struct {
	cfg         Config
	deps        Dependencies
	transitions []Transition
	graph       *Graph
	retry       RetryPolicy
	router      *Router
	stages      map[StageName]stageFunc

	logger   zerolog.Logger
	metrics  *telemetry.Metrics
	tracer   trace.Tracer
	observer Observer
	now      func() time.Time
	newRunID func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithMetrics sets the metrics recorder. A nil value disables metrics.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithTracer sets the tracer used for run and stage spans.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) {
		if t != nil {
			e.tracer = t
		}
	}
}

// WithObserver registers a transition observer.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// WithTransitions replaces the transition table. It is validated by NewEngine.
func WithTransitions(transitions []Transition) Option {
	return func(e *Engine) { e.transitions = transitions }
}

// WithClock sets the clock used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithRunIDGenerator sets the run ID generator.
func WithRunIDGenerator(gen func() string) Option {
	return func(e *Engine) { e.newRunID = gen }
}

// NewEngine validates cfg and deps and builds an engine.
// Invalid configuration fails here, before any run starts.
func NewEngine(cfg Config, deps Dependencies, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := deps.validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:         cfg,
		deps:        deps,
		transitions: DefaultTransitions(),
		logger:      zerolog.Nop(),
		tracer:      otel.Tracer(tracerName),
		now:         time.Now,
		newRunID:    func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(e)
	}

	graph, err := NewGraph(StagePropose, e.transitions)
	if err != nil {
		return nil, err
	}
	e.graph = graph
	e.bind()

	return e, nil
}

// WithConfig returns a copy of the engine using cfg. The receiver is not modified.
func (e *Engine) WithConfig(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	next := *e
	next.cfg = cfg
	next.bind()
	return &next, nil
}

func (e *Engine) bind() {
	e.retry = RetryPolicy{MaxAttempts: e.cfg.MaxAttempts}
	e.router = NewRouter(e.graph, e.retry)
	e.stages = e.stageFuncs()
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Graph returns the validated stage graph.
func (e *Engine) Graph() *Graph {
	return e.graph
}

// Run executes one assignment run for targetID and returns its result.
//
// Business outcomes (not found, rejections, persistence failures) are
// reported in the FinalResult. The returned error is non-nil only when ctx
// ends the run early; the result's Status is then pending.
func (e *Engine) Run(ctx context.Context, tenantID, targetID string) (FinalResult, error) {
	started := e.now()
	st := NewWorkflowState(e.newRunID(), tenantID, targetID)
	logger := e.logger.With().
		Str("run_id", st.RunID).
		Str("tenant_id", tenantID).
		Str("target_id", targetID).
		Logger()

	ctx, span := e.tracer.Start(ctx, "assignment.run", trace.WithAttributes(
		telemetry.AttrRunID.String(st.RunID),
		telemetry.AttrTenantID.String(tenantID),
		telemetry.AttrTargetID.String(targetID),
	))
	defer span.End()

	e.metrics.RecordRunStarted()
	logger.Info().Int("max_attempts", e.cfg.MaxAttempts).Msg("Assignment run started")

	stage := e.graph.Entry()
	if tenantID == "" || targetID == "" {
		st = st.withAbort(NewConfigurationError("tenant id and target id are required", nil))
		stage = StageAbort
	} else {
		st, stage = e.loadTarget(ctx, st)
	}

	st, err := e.drive(ctx, st, stage)
	result := newFinalResult(st, started, e.now())

	e.metrics.RecordRunCompleted(string(result.Status), string(result.ErrorClass), result.Duration())
	span.SetAttributes(
		telemetry.AttrRunStatus.String(string(result.Status)),
		telemetry.AttrAttempts.Int(result.Attempts),
		telemetry.AttrCandidateID.String(result.CandidateID),
	)

	if err != nil {
		telemetry.RecordError(span, err)
		logger.Warn().Err(err).Int("attempts", result.Attempts).Msg("Assignment run cancelled")
		return result, err
	}

	event := logger.Info()
	if result.Status == RunStatusFailed {
		span.SetAttributes(telemetry.AttrErrorClass.String(string(result.ErrorClass)))
		event = logger.Warn().Str("error_class", string(result.ErrorClass)).Str("error", result.ErrorMessage)
	} else {
		telemetry.RecordSuccess(span)
	}
	event.Str("status", string(result.Status)).
		Str("candidate_id", result.CandidateID).
		Int("attempts", result.Attempts).
		Dur("duration", result.Duration()).
		Msg("Assignment run completed")

	return result, nil
}

// loadTarget resolves the run's target. Failures route straight to Abort
// before any candidate is proposed.
func (e *Engine) loadTarget(ctx context.Context, st WorkflowState) (WorkflowState, StageName) {
	cctx, cancel := e.stageContext(ctx)
	defer cancel()

	target, err := e.deps.Targets.LoadTarget(cctx, st.TenantID, st.TargetID)
	notFound := NewNotFoundError(fmt.Sprintf("target %s not found", st.TargetID), nil)

	switch {
	case errors.Is(err, ErrTargetNotFound) || (err == nil && target == nil):
		return st.withAbort(notFound), StageAbort
	case err != nil:
		if ctx.Err() != nil {
			return st, e.graph.Entry()
		}
		e.metrics.RecordAdvisoryError("LoadTarget")
		return st.withAbort(NewAdvisoryUnavailableError("target source unavailable", err)), StageAbort
	case target.TenantID != "" && target.TenantID != st.TenantID:
		// Never reveal another tenant's target.
		return st.withAbort(notFound), StageAbort
	}

	t := *target
	t.Attributes = maps.Clone(target.Attributes)
	next := st
	next.Target = &t
	return next, e.graph.Entry()
}

// drive runs the stage loop from stage until a terminal stage completes or
// ctx ends.
func (e *Engine) drive(ctx context.Context, st WorkflowState, stage StageName) (WorkflowState, error) {
	limit := (e.cfg.MaxAttempts + 1) * len(AllStages())

	for steps := 0; ; steps++ {
		if err := ctx.Err(); err != nil {
			return st, NewCancelledError("run cancelled", err).WithStage(stage)
		}

		if steps >= limit && !stage.IsTerminal() {
			st = st.withAbort(NewConfigurationError(
				fmt.Sprintf("run exceeded %d stage executions", limit), nil).
				WithCode(ErrCodeStepLimit).
				WithStage(stage))
			stage = StageAbort
		}

		next, kind := e.runStage(ctx, stage, st)
		if kind == outcomeInterrupted {
			return st, NewCancelledError("run cancelled", ctx.Err()).WithStage(stage)
		}
		st = next

		if stage.IsTerminal() {
			return st, nil
		}

		retrying := e.router.Retrying(st, stage, kind)
		to, routed := e.router.Route(st, stage, kind)
		if retrying {
			e.metrics.RecordRetry()
			e.logger.Debug().
				Str("run_id", st.RunID).
				Str("stage", string(stage)).
				Strs("excluded", routed.Excluded.IDs()).
				Msg("Candidate rejected, proposing another")
		}

		if e.observer != nil {
			e.observer(stage, kind, to, routed.Snapshot())
		}
		st, stage = routed, to
	}
}

// runStage executes one stage inside its own span.
func (e *Engine) runStage(ctx context.Context, stage StageName, st WorkflowState) (WorkflowState, OutcomeKind) {
	fn, ok := e.stages[stage]
	if !ok {
		return st.withAbort(NewConfigurationError(fmt.Sprintf("no executor for stage %s", stage), nil)), OutcomeUnavailable
	}

	ctx, span := e.tracer.Start(ctx, "assignment.stage."+string(stage), trace.WithAttributes(
		telemetry.AttrRunID.String(st.RunID),
		telemetry.AttrStage.String(string(stage)),
		telemetry.AttrCandidateID.String(st.CandidateID()),
	))
	defer span.End()

	begin := time.Now()
	next, kind := fn(ctx, st)
	e.metrics.RecordStage(string(stage), string(kind), time.Since(begin))

	span.SetAttributes(telemetry.AttrOutcome.String(string(kind)))
	if kind == OutcomeUnavailable && next.abort != nil {
		telemetry.RecordError(span, next.abort)
	}

	e.logger.Debug().
		Str("run_id", st.RunID).
		Str("stage", string(stage)).
		Str("outcome", string(kind)).
		Str("candidate_id", next.CandidateID()).
		Int("attempts", next.Attempts).
		Msg("Stage completed")

	return next, kind
}

// record appends a history entry and emits its audit event. Every history
// entry produces exactly one non-thinking event.
func (e *Engine) record(
	st WorkflowState,
	started time.Time,
	stage StageName,
	kind OutcomeKind,
	outcome StageOutcome,
	eventType AuditEventType,
	message string,
) WorkflowState {
	next := st.withRecord(StageRecord{
		Stage:       stage,
		Outcome:     kind,
		CandidateID: st.CandidateID(),
		Result:      outcome,
		StartedAt:   started,
		CompletedAt: e.now(),
	})
	e.emit(next, stage, eventType, message, outcome.Reason)
	return next
}

// emit delivers an audit event. Sink failures, including panics, are logged
// and never affect the run.
func (e *Engine) emit(st WorkflowState, stage StageName, eventType AuditEventType, message, reason string) {
	if e.deps.Audit == nil {
		return
	}

	severity := eventType.DefaultSeverity()
	if eventType == AuditEventResult {
		switch st.Status {
		case RunStatusFailed:
			severity = SeverityError
		case RunStatusFlagged:
			severity = SeverityWarning
		}
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().
				Interface("panic", r).
				Str("run_id", st.RunID).
				Str("stage", string(stage)).
				Msg("Audit sink panicked, event dropped")
		}
	}()

	e.deps.Audit.Emit(AuditEvent{
		RunID:       st.RunID,
		TenantID:    st.TenantID,
		TargetID:    st.TargetID,
		Stage:       stage,
		Type:        eventType,
		CandidateID: st.CandidateID(),
		Message:     message,
		Reason:      reason,
		Severity:    severity,
		Timestamp:   e.now(),
	})
}
