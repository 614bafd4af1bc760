package audit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/freightops-pro/fopsbackend-sub000/pkg/telemetry"
	"github.com/freightops-pro/fopsbackend-sub000/pkg/workflow"
)

// Config controls buffering and batching.
type Config struct {
	// BufferSize is the maximum number of pending events.
	BufferSize int `json:"buffer_size" yaml:"buffer_size" validate:"min=1"`

	// BatchSize is the maximum number of events handed to the writer at once.
	BatchSize int `json:"batch_size" yaml:"batch_size" validate:"min=1"`

	// FlushInterval is how often a partial batch is written.
	FlushInterval time.Duration `json:"flush_interval" yaml:"flush_interval" validate:"min=0"`

	// WriteTimeout bounds each writer call. Zero means no timeout.
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout" validate:"min=0"`
}

// DefaultConfig returns the default queue configuration.
func DefaultConfig() Config {
	return Config{
		BufferSize:    10000,
		BatchSize:     100,
		FlushInterval: time.Second,
		WriteTimeout:  5 * time.Second,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.BufferSize < 1 {
		return fmt.Errorf("buffer size must be at least 1")
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("batch size must be at least 1")
	}
	if c.FlushInterval < 0 || c.WriteTimeout < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	return nil
}

// Option configures a Queue.
type Option func(*Queue)

// WithLogger sets the logger used for delivery failures.
func WithLogger(logger zerolog.Logger) Option {
	return func(q *Queue) {
		q.logger = logger.With().Str("component", "audit").Logger()
	}
}

// WithMetrics reports drops, writes and failures to m.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(q *Queue) {
		q.metrics = m
	}
}

// Queue is a non-blocking workflow.AuditSink backed by a Writer.
type Queue struct {
	cfg     Config
	writer  Writer
	logger  zerolog.Logger
	metrics *telemetry.Metrics

	mu      sync.Mutex
	pending ring
	closed  bool

	dropped atomic.Uint64
	written atomic.Uint64

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

var _ workflow.AuditSink = (*Queue)(nil)

// NewQueue starts a queue draining into w. Invalid sizes fall back to the
// defaults.
func NewQueue(w Writer, cfg Config, opts ...Option) *Queue {
	def := DefaultConfig()
	if cfg.BufferSize < 1 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.BatchSize > cfg.BufferSize {
		cfg.BatchSize = cfg.BufferSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}

	q := &Queue{
		cfg:     cfg,
		writer:  w,
		logger:  zerolog.Nop(),
		pending: newRing(cfg.BufferSize),
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}

	go q.run()
	return q
}

// Emit enqueues an event. It never blocks. When the buffer is full the
// oldest pending event is discarded.
func (q *Queue) Emit(event workflow.AuditEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.drop(1)
		return
	}
	evicted := q.pending.push(event)
	full := q.pending.len() >= q.cfg.BatchSize
	q.mu.Unlock()

	if evicted {
		q.drop(1)
	}
	if full {
		select {
		case q.wake <- struct{}{}:
		default:
		}
	}
}

// Dropped returns the number of events discarded so far.
func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}

// Written returns the number of events handed to the writer successfully.
func (q *Queue) Written() uint64 {
	return q.written.Load()
}

// Pending returns the number of events waiting to be written.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending.len()
}

// Close stops accepting events and drains what is pending. It returns
// ctx.Err() if the drain does not finish before ctx ends; events still
// pending at that point are discarded and counted as dropped.
func (q *Queue) Close(ctx context.Context) error {
	q.once.Do(func() {
		q.mu.Lock()
		q.closed = true
		q.mu.Unlock()
		close(q.stop)
	})

	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		q.mu.Lock()
		abandoned := q.pending.take(q.pending.len())
		q.mu.Unlock()
		if len(abandoned) > 0 {
			q.drop(len(abandoned))
			q.logger.Warn().
				Int("pending", len(abandoned)).
				Msg("Audit drain did not finish before close deadline")
		}
		return ctx.Err()
	}
}

func (q *Queue) run() {
	defer close(q.done)

	ticker := time.NewTicker(q.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-q.wake:
			q.flush(false)
		case <-ticker.C:
			q.flush(false)
		case <-q.stop:
			q.flush(true)
			return
		}
	}
}

// flush writes everything currently pending in batches of at most BatchSize.
func (q *Queue) flush(final bool) {
	for {
		q.mu.Lock()
		batch := q.pending.take(q.cfg.BatchSize)
		q.mu.Unlock()

		if len(batch) == 0 {
			return
		}
		q.write(batch, final)
	}
}

func (q *Queue) write(batch []workflow.AuditEvent, final bool) {
	defer func() {
		if r := recover(); r != nil {
			q.metrics.RecordAuditWriteFailure()
			q.drop(len(batch))
			q.logger.Error().
				Interface("panic", r).
				Int("batch_size", len(batch)).
				Str("first_run_id", batch[0].RunID).
				Bool("final", final).
				Msg("Audit writer panicked")
		}
	}()

	ctx := context.Background()
	if q.cfg.WriteTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.cfg.WriteTimeout)
		defer cancel()
	}

	if err := q.writer.WriteAuditEvents(ctx, batch); err != nil {
		q.metrics.RecordAuditWriteFailure()
		q.drop(len(batch))
		q.logger.Error().
			Err(err).
			Int("batch_size", len(batch)).
			Str("first_run_id", batch[0].RunID).
			Bool("final", final).
			Msg("Failed to write audit events")
		return
	}

	q.written.Add(uint64(len(batch)))
	q.metrics.RecordAuditWritten(len(batch))
}

func (q *Queue) drop(n int) {
	q.dropped.Add(uint64(n))
	q.metrics.RecordAuditDropped(n)
}

// ring is a fixed-capacity FIFO that overwrites its oldest element.
type ring struct {
	buf   []workflow.AuditEvent
	head  int
	count int
}

func newRing(capacity int) ring {
	return ring{buf: make([]workflow.AuditEvent, capacity)}
}

func (r *ring) len() int {
	return r.count
}

// push appends ev and reports whether the oldest element was evicted.
func (r *ring) push(ev workflow.AuditEvent) bool {
	if r.count == len(r.buf) {
		r.buf[r.head] = ev
		r.head = (r.head + 1) % len(r.buf)
		return true
	}
	r.buf[(r.head+r.count)%len(r.buf)] = ev
	r.count++
	return false
}

// take removes up to n elements from the front.
func (r *ring) take(n int) []workflow.AuditEvent {
	n = min(n, r.count)
	if n == 0 {
		return nil
	}
	out := make([]workflow.AuditEvent, n)
	for i := range out {
		idx := (r.head + i) % len(r.buf)
		out[i] = r.buf[idx]
		r.buf[idx] = workflow.AuditEvent{}
	}
	r.head = (r.head + n) % len(r.buf)
	r.count -= n
	return out
}
