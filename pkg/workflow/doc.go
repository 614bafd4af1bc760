// Package workflow implements the autonomous assignment workflow engine.
//
// # Overview
//
// A run proposes a candidate (a driver, truck or carrier) for a target (a load),
// puts the candidate through independent validation stages, computes a margin
// and then ends in exactly one terminal stage:
//
//	Propose -> EquipmentCheck -> ComplianceCheck -> CostCalculation -> MarginGate -> {Execute | Flag}
//
// EquipmentCheck and ComplianceCheck loop back to Propose when they reject the
// candidate. The rejected candidate is added to the run's exclusion set and the
// Router only allows the loop while attempts < MaxAttempts. Pool exhaustion,
// retry exhaustion and advisory failures all end in the explicit Abort stage.
//
// # Stage Graph
//
// The graph is a plain transition table keyed on (stage, outcome):
//
//	for _, t := range workflow.DefaultTransitions() {
//	    fmt.Println(t.From, t.On, "->", t.To, t.Retry)
//	}
//
// The Engine drives it with a simple loop. There is no general graph runtime;
// the cycle bound is visible as data and enforced by the RetryPolicy.
//
// # Collaborators
//
// The engine never ranks, validates or prices anything itself. It calls:
//
//   - TargetSource: loads the target and its nominal value
//   - CandidateSource: returns the best candidate outside the exclusion set
//   - EquipmentValidator and ComplianceValidator: approve or reject a candidate
//   - CostEstimator: prices the candidate against the target
//   - AssignmentPersistence and ReviewPersistence: the terminal durable writes
//   - AuditSink: receives write-only audit events
//
// Collaborators must be safe for concurrent use. Infrastructure failures from a
// validator are reported as errors and abort the run; they are never treated as
// a rejection.
//
// # Usage
//
//	eng, err := workflow.NewEngine(workflow.DefaultConfig(), workflow.Dependencies{
//	    Targets:     store,
//	    Candidates:  store,
//	    Equipment:   advisors.NewEquipmentInspector(advisors.EquipmentConfig{}),
//	    Compliance:  policyValidator,
//	    Cost:        advisors.NewRateCostEstimator(2.10),
//	    Audit:       auditQueue,
//	    Assignments: store,
//	    Reviews:     store,
//	}, workflow.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//
//	result, err := eng.Run(ctx, "tenant-1", "load-42")
//	if err != nil {
//	    // only cancellation; result.Status is still pending
//	}
//
// # Cancellation
//
// Run honours the context. When it is cancelled mid-run the engine stops
// advancing, returns a cancelled error and leaves Status at pending.
package workflow
