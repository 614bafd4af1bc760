// Package audit delivers workflow audit events to durable storage without
// ever blocking a run.
//
// The Queue implements workflow.AuditSink. Emit appends to a bounded buffer
// and returns immediately; a single background goroutine drains the buffer in
// batches into a Writer. When the buffer is full the oldest pending event is
// discarded and counted. Writer failures are logged and counted but never
// surface to the engine.
//
//	q := audit.NewQueue(store, audit.DefaultConfig(), audit.WithLogger(logger))
//	defer q.Close(context.Background())
//
//	eng, _ := workflow.NewEngine(cfg, workflow.Dependencies{Audit: q, ...})
package audit
