package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Metrics provides Prometheus metrics for the assignment workflow.
// All recorders are safe to call on a disabled or nil *Metrics.
type Metrics struct {
	config MetricsConfig

	// Run metrics
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	activeRuns    prometheus.Gauge

	// Stage metrics
	stageExecutions *prometheus.CounterVec
	stageDuration   *prometheus.HistogramVec
	retries         prometheus.Counter
	advisoryErrors  *prometheus.CounterVec

	// Audit metrics
	auditDropped       prometheus.Counter
	auditWriteFailures prometheus.Counter
	auditWritten       prometheus.Counter

	// Reservation metrics
	reservationConflicts prometheus.Counter

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "assignment",
			Name:      "runs_started_total",
			Help:      "Total number of assignment runs started",
		}),
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "assignment",
				Name:      "runs_completed_total",
				Help:      "Total number of assignment runs completed by final status",
			},
			[]string{"status", "error_class"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "assignment",
				Name:      "run_duration_seconds",
				Help:      "Duration of assignment runs in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),
		activeRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "assignment",
			Name:      "active_runs",
			Help:      "Number of assignment runs currently in flight",
		}),

		stageExecutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "assignment",
				Name:      "stage_executions_total",
				Help:      "Total number of stage executions by outcome",
			},
			[]string{"stage", "outcome"},
		),
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "assignment",
				Name:      "stage_duration_seconds",
				Help:      "Duration of stage executions in seconds",
				Buckets:   buckets,
			},
			[]string{"stage"},
		),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "assignment",
			Name:      "retries_total",
			Help:      "Total number of loop-backs to Propose after a rejection",
		}),
		advisoryErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "assignment",
				Name:      "advisory_errors_total",
				Help:      "Total number of advisory calls that failed for infrastructure reasons",
			},
			[]string{"stage"},
		),

		auditDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "events_dropped_total",
			Help:      "Audit events dropped because the queue was full",
		}),
		auditWriteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "write_failures_total",
			Help:      "Audit batches that failed to persist",
		}),
		auditWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "events_written_total",
			Help:      "Audit events persisted",
		}),

		reservationConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "assignment",
			Name:      "reservation_conflicts_total",
			Help:      "Executes refused because another run held the candidate",
		}),
	}

	registry.MustRegister(
		m.runsStarted,
		m.runsCompleted,
		m.runDuration,
		m.activeRuns,
		m.stageExecutions,
		m.stageDuration,
		m.retries,
		m.advisoryErrors,
		m.auditDropped,
		m.auditWriteFailures,
		m.auditWritten,
		m.reservationConflicts,
	)

	return m, nil
}

// Run Metrics

// RecordRunStarted increments the counter for started runs.
func (m *Metrics) RecordRunStarted() {
	if m == nil || m.runsStarted == nil {
		return
	}
	m.runsStarted.Inc()
	m.activeRuns.Inc()
}

// RecordRunCompleted records a finished run with its status and duration.
func (m *Metrics) RecordRunCompleted(status, errorClass string, duration time.Duration) {
	if m == nil || m.runsCompleted == nil {
		return
	}
	m.runsCompleted.WithLabelValues(status, errorClass).Inc()
	m.runDuration.WithLabelValues(status).Observe(duration.Seconds())
	m.activeRuns.Dec()
}

// Stage Metrics

// RecordStage records one stage execution.
func (m *Metrics) RecordStage(stage, outcome string, duration time.Duration) {
	if m == nil || m.stageExecutions == nil {
		return
	}
	m.stageExecutions.WithLabelValues(stage, outcome).Inc()
	m.stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordRetry records a loop-back to Propose.
func (m *Metrics) RecordRetry() {
	if m == nil || m.retries == nil {
		return
	}
	m.retries.Inc()
}

// RecordAdvisoryError records an advisory infrastructure failure.
func (m *Metrics) RecordAdvisoryError(stage string) {
	if m == nil || m.advisoryErrors == nil {
		return
	}
	m.advisoryErrors.WithLabelValues(stage).Inc()
}

// RecordReservationConflict records an Execute refused by a held reservation.
func (m *Metrics) RecordReservationConflict() {
	if m == nil || m.reservationConflicts == nil {
		return
	}
	m.reservationConflicts.Inc()
}

// Audit Metrics

// RecordAuditDropped records audit events dropped by backpressure.
func (m *Metrics) RecordAuditDropped(n int) {
	if m == nil || m.auditDropped == nil {
		return
	}
	m.auditDropped.Add(float64(n))
}

// RecordAuditWritten records persisted audit events.
func (m *Metrics) RecordAuditWritten(n int) {
	if m == nil || m.auditWritten == nil {
		return
	}
	m.auditWritten.Add(float64(n))
}

// RecordAuditWriteFailure records a failed audit batch write.
func (m *Metrics) RecordAuditWriteFailure() {
	if m == nil || m.auditWriteFailures == nil {
		return
	}
	m.auditWriteFailures.Inc()
}

// Registry returns the private registry, or nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server exposing metrics until ctx is done.
func (m *Metrics) StartMetricsServer(ctx context.Context) error {
	if m == nil || !m.config.Enabled {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", m.config.ListenAddress).Msg("metrics server error")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	return nil
}
