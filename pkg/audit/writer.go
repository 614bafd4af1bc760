package audit

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/freightops-pro/fopsbackend-sub000/pkg/workflow"
)

// Writer persists a batch of audit events.
type Writer interface {
	WriteAuditEvents(ctx context.Context, events []workflow.AuditEvent) error
}

// WriterFunc adapts a function to Writer.
type WriterFunc func(ctx context.Context, events []workflow.AuditEvent) error

// WriteAuditEvents calls f.
func (f WriterFunc) WriteAuditEvents(ctx context.Context, events []workflow.AuditEvent) error {
	return f(ctx, events)
}

// LogWriter writes audit events as structured log lines.
type LogWriter struct {
	logger zerolog.Logger
}

// NewLogWriter creates a writer that logs each event to logger.
func NewLogWriter(logger zerolog.Logger) *LogWriter {
	return &LogWriter{logger: logger.With().Str("component", "audit").Logger()}
}

// WriteAuditEvents logs every event at a level matching its severity.
func (w *LogWriter) WriteAuditEvents(_ context.Context, events []workflow.AuditEvent) error {
	for _, ev := range events {
		var e *zerolog.Event
		switch ev.Severity {
		case workflow.SeverityError:
			e = w.logger.Error()
		case workflow.SeverityWarning:
			e = w.logger.Warn()
		default:
			e = w.logger.Info()
		}
		e.Str("run_id", ev.RunID).
			Str("tenant_id", ev.TenantID).
			Str("target_id", ev.TargetID).
			Str("stage", string(ev.Stage)).
			Str("type", string(ev.Type)).
			Str("candidate_id", ev.CandidateID).
			Str("reason", ev.Reason).
			Time("event_time", ev.Timestamp).
			Msg(ev.Message)
	}
	return nil
}
