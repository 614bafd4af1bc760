// Package telemetry provides logging, metrics and tracing for the
// assignment service.
//
// Three pieces are built from one Config:
//
//   - Logger: zerolog with run, tenant and target helpers
//   - Metrics: Prometheus counters and histograms on a private registry
//   - Tracer: OpenTelemetry spans exported to stdout or an OTLP collector
//
// Set up once at startup:
//
//	tel, err := telemetry.NewTelemetry(telemetry.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx = tel.WithContext(ctx)
//	go tel.StartMetricsServer(ctx)
//
// Loggers carry run context:
//
//	logger := tel.Logger.WithRunID(runID).WithTarget(tenantID, targetID)
//	logger.Info().Str("stage", "Propose").Msg("Proposed candidate")
//
// Every Metrics recorder is safe on a nil or disabled *Metrics, so
// components take an optional *Metrics and call it unconditionally:
//
//	tel.Metrics.RecordRunStarted()
//	tel.Metrics.RecordStage("ComplianceCheck", "approved", elapsed)
//	tel.Metrics.RecordRunCompleted("success", "", elapsed)
//
// Spans use the attribute keys defined here:
//
//	ctx, span := tel.Tracer.StartSpan(ctx, "assignment.run",
//	    telemetry.AttrRunID.String(runID),
//	    telemetry.AttrTenantID.String(tenantID))
//	defer span.End()
//
// # Metric names
//
// Assignment metrics live under <namespace>_assignment_ (runs_started_total,
// runs_completed_total, run_duration_seconds, active_runs,
// stage_executions_total, stage_duration_seconds, retries_total,
// advisory_errors_total, reservation_conflicts_total). Audit queue metrics
// live under <namespace>_audit_.
package telemetry
