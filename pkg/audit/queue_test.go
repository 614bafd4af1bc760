package audit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/freightops-pro/fopsbackend-sub000/pkg/workflow"
)

// recordingWriter collects batches. When gate is set, each write blocks
// until the gate yields.
type recordingWriter struct {
	mu      sync.Mutex
	batches [][]workflow.AuditEvent
	err     error
	started chan struct{}
	gate    chan struct{}
}

func (w *recordingWriter) WriteAuditEvents(_ context.Context, events []workflow.AuditEvent) error {
	if w.started != nil {
		select {
		case w.started <- struct{}{}:
		default:
		}
	}
	if w.gate != nil {
		<-w.gate
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.batches = append(w.batches, events)
	return nil
}

func (w *recordingWriter) messages() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []string
	for _, b := range w.batches {
		for _, ev := range b {
			out = append(out, ev.Message)
		}
	}
	return out
}

func event(i int) workflow.AuditEvent {
	return workflow.AuditEvent{
		RunID:    "run-1",
		TenantID: "tenant-1",
		Stage:    workflow.StagePropose,
		Type:     workflow.AuditEventThinking,
		Message:  fmt.Sprintf("e%d", i),
		Severity: workflow.SeverityInfo,
	}
}

func closeQueue(t *testing.T, q *Queue) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := q.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}

func TestQueue_DeliversInOrder(t *testing.T) {
	w := &recordingWriter{}
	q := NewQueue(w, Config{BufferSize: 100, BatchSize: 4, FlushInterval: time.Hour})

	for i := 0; i < 10; i++ {
		q.Emit(event(i))
	}
	closeQueue(t, q)

	got := w.messages()
	if len(got) != 10 {
		t.Fatalf("wrote %d events, want 10", len(got))
	}
	for i, msg := range got {
		if msg != fmt.Sprintf("e%d", i) {
			t.Errorf("event %d = %s", i, msg)
		}
	}
	for _, b := range w.batches {
		if len(b) > 4 {
			t.Errorf("batch of %d exceeds batch size", len(b))
		}
	}
	if q.Written() != 10 || q.Dropped() != 0 {
		t.Errorf("Written() = %d, Dropped() = %d", q.Written(), q.Dropped())
	}
}

func TestQueue_DropsOldestWhenFull(t *testing.T) {
	w := &recordingWriter{started: make(chan struct{}, 1), gate: make(chan struct{})}
	q := NewQueue(w, Config{BufferSize: 3, BatchSize: 1, FlushInterval: time.Hour})

	q.Emit(event(0))
	select {
	case <-w.started:
	case <-time.After(5 * time.Second):
		t.Fatal("writer never called")
	}

	// The drain goroutine is parked inside the writer; these pile up.
	for i := 1; i <= 5; i++ {
		q.Emit(event(i))
	}
	if got := q.Pending(); got != 3 {
		t.Errorf("Pending() = %d, want 3", got)
	}
	if got := q.Dropped(); got != 2 {
		t.Errorf("Dropped() = %d, want 2", got)
	}

	close(w.gate)
	closeQueue(t, q)

	want := []string{"e0", "e3", "e4", "e5"}
	if got := w.messages(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("written = %v, want %v", got, want)
	}
}

func TestQueue_FlushInterval(t *testing.T) {
	w := &recordingWriter{}
	q := NewQueue(w, Config{BufferSize: 10, BatchSize: 10, FlushInterval: 10 * time.Millisecond})
	defer closeQueue(t, q)

	q.Emit(event(1))

	deadline := time.Now().Add(5 * time.Second)
	for len(w.messages()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("partial batch never flushed")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestQueue_WriterErrorIsSwallowed(t *testing.T) {
	var logs bytes.Buffer
	w := &recordingWriter{err: errors.New("database is locked")}
	q := NewQueue(w, Config{BufferSize: 10, BatchSize: 2, FlushInterval: time.Hour},
		WithLogger(zerolog.New(&logs)))

	q.Emit(event(1))
	q.Emit(event(2))
	closeQueue(t, q)

	if q.Dropped() != 2 || q.Written() != 0 {
		t.Errorf("Dropped() = %d, Written() = %d", q.Dropped(), q.Written())
	}
	if !strings.Contains(logs.String(), "database is locked") {
		t.Errorf("log output missing writer error: %s", logs.String())
	}
}

func TestQueue_EmitAfterClose(t *testing.T) {
	w := &recordingWriter{}
	q := NewQueue(w, DefaultConfig())
	closeQueue(t, q)

	q.Emit(event(1))
	if q.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", q.Dropped())
	}
	// Closing twice is fine.
	closeQueue(t, q)
}

func TestQueue_CloseDeadline(t *testing.T) {
	w := &recordingWriter{started: make(chan struct{}, 1), gate: make(chan struct{})}
	q := NewQueue(w, Config{BufferSize: 10, BatchSize: 1, FlushInterval: time.Hour})
	defer close(w.gate)

	q.Emit(event(1))
	<-w.started

	for i := 2; i <= 4; i++ {
		q.Emit(event(i))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := q.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Close() error = %v, want deadline exceeded", err)
	}
	if q.Pending() != 0 || q.Dropped() != 3 {
		t.Errorf("Pending() = %d, Dropped() = %d, want 0 and 3", q.Pending(), q.Dropped())
	}
}

func TestQueue_WriterPanicIsRecovered(t *testing.T) {
	var logs bytes.Buffer
	var mu sync.Mutex
	var written []string
	w := WriterFunc(func(_ context.Context, events []workflow.AuditEvent) error {
		if events[0].Message == "e0" {
			panic("sink down")
		}
		mu.Lock()
		defer mu.Unlock()
		for _, ev := range events {
			written = append(written, ev.Message)
		}
		return nil
	})
	q := NewQueue(w, Config{BufferSize: 10, BatchSize: 1, FlushInterval: time.Hour},
		WithLogger(zerolog.New(&logs)))

	q.Emit(event(0))
	q.Emit(event(1))
	closeQueue(t, q)

	if q.Dropped() != 1 || q.Written() != 1 {
		t.Errorf("Dropped() = %d, Written() = %d, want 1 and 1", q.Dropped(), q.Written())
	}
	if len(written) != 1 || written[0] != "e1" {
		t.Errorf("written = %v, want [e1]", written)
	}
	if !strings.Contains(logs.String(), "sink down") {
		t.Errorf("log output missing panic value: %s", logs.String())
	}
}

func TestQueue_SetsTimestamp(t *testing.T) {
	w := &recordingWriter{}
	q := NewQueue(w, DefaultConfig())
	q.Emit(event(1))
	closeQueue(t, q)

	if w.batches[0][0].Timestamp.IsZero() {
		t.Error("timestamp not set")
	}
}

func TestRing(t *testing.T) {
	r := newRing(3)
	for i := 0; i < 5; i++ {
		r.push(event(i))
	}
	got := r.take(10)
	if len(got) != 3 || got[0].Message != "e2" || got[2].Message != "e4" {
		t.Errorf("take() = %v", got)
	}
	if r.len() != 0 || r.take(1) != nil {
		t.Errorf("ring not empty after take")
	}
}

func TestLogWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewLogWriter(zerolog.New(&buf))

	ev := event(7)
	ev.Type = workflow.AuditEventRejection
	ev.Severity = workflow.SeverityWarning
	ev.Reason = "hours of service"
	if err := w.WriteAuditEvents(context.Background(), []workflow.AuditEvent{ev}); err != nil {
		t.Fatalf("WriteAuditEvents() error = %v", err)
	}

	out := buf.String()
	for _, want := range []string{`"level":"warn"`, `"type":"rejection"`, `"reason":"hours of service"`, `"message":"e7"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log line %s missing %s", out, want)
		}
	}
}
