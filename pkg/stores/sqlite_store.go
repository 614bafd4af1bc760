package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/freightops-pro/fopsbackend-sub000/pkg/workflow"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is wrapped by lookups that match no row.
var ErrNotFound = errors.New("not found")

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
	now func() time.Time
}

var _ Store = (*SQLiteStore)(nil)

// Config holds SQLite store configuration
type Config struct {
	Path            string        `json:"path" yaml:"path" validate:"required"`
	MaxOpenConns    int           `json:"max_open_conns" yaml:"max_open_conns" validate:"min=0"`
	MaxIdleConns    int           `json:"max_idle_conns" yaml:"max_idle_conns" validate:"min=0"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime" validate:"min=0"`
	BusyTimeout     time.Duration `json:"busy_timeout" yaml:"busy_timeout" validate:"min=0"`
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	// Every connection to :memory: opens a separate database.
	if cfg.Path == ":memory:" {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{
		cfg: cfg,
		now: func() time.Time { return time.Now().UTC() },
	}, nil
}

// Init opens the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)&_txlock=immediate",
		s.cfg.Path, s.cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// withTx runs fn inside a transaction, committing on success.
func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// UpsertTarget creates or replaces a target. Assignment columns are left
// untouched on update.
func (s *SQLiteStore) UpsertTarget(ctx context.Context, target *TargetRecord) error {
	if target.TenantID == "" || target.ID == "" {
		return fmt.Errorf("target tenant and id are required")
	}
	if target.Status == "" {
		target.Status = TargetStatusOpen
	}
	attrs, err := encodeAttributes(target.Attributes)
	if err != nil {
		return err
	}

	now := s.now()
	if target.CreatedAt.IsZero() {
		target.CreatedAt = now
	}
	target.UpdatedAt = now

	query := `
		INSERT INTO targets (tenant_id, id, value, status, attributes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, id) DO UPDATE SET
			value = excluded.value,
			status = excluded.status,
			attributes = excluded.attributes,
			updated_at = excluded.updated_at
	`

	_, err = s.db.ExecContext(ctx, query,
		target.TenantID,
		target.ID,
		target.Value,
		target.Status,
		attrs,
		target.CreatedAt,
		target.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert target: %w", err)
	}

	return nil
}

// GetTarget retrieves a target by tenant and ID
func (s *SQLiteStore) GetTarget(ctx context.Context, tenantID, id string) (*TargetRecord, error) {
	query := `
		SELECT tenant_id, id, value, status, attributes, assigned_candidate_id, assigned_run_id, created_at, updated_at
		FROM targets
		WHERE tenant_id = ? AND id = ?
	`

	target := &TargetRecord{}
	var attrs string
	err := s.db.QueryRowContext(ctx, query, tenantID, id).Scan(
		&target.TenantID,
		&target.ID,
		&target.Value,
		&target.Status,
		&attrs,
		&target.AssignedCandidateID,
		&target.AssignedRunID,
		&target.CreatedAt,
		&target.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("target %s/%s: %w", tenantID, id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get target: %w", err)
	}

	if target.Attributes, err = decodeAttributes(attrs); err != nil {
		return nil, err
	}
	return target, nil
}

// LoadTarget implements workflow.TargetSource.
func (s *SQLiteStore) LoadTarget(ctx context.Context, tenantID, targetID string) (*workflow.Target, error) {
	rec, err := s.GetTarget(ctx, tenantID, targetID)
	if errors.Is(err, ErrNotFound) {
		return nil, workflow.ErrTargetNotFound
	}
	if err != nil {
		return nil, err
	}

	return &workflow.Target{
		ID:         rec.ID,
		TenantID:   rec.TenantID,
		Value:      rec.Value,
		Attributes: rec.Attributes,
	}, nil
}

// UpsertCandidate creates or replaces a candidate.
func (s *SQLiteStore) UpsertCandidate(ctx context.Context, candidate *CandidateRecord) error {
	if candidate.TenantID == "" || candidate.ID == "" {
		return fmt.Errorf("candidate tenant and id are required")
	}
	if candidate.Status == "" {
		candidate.Status = CandidateStatusAvailable
	}
	attrs, err := encodeAttributes(candidate.Attributes)
	if err != nil {
		return err
	}

	now := s.now()
	if candidate.CreatedAt.IsZero() {
		candidate.CreatedAt = now
	}
	candidate.UpdatedAt = now

	query := `
		INSERT INTO candidates (tenant_id, id, name, capacity, status, attributes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, id) DO UPDATE SET
			name = excluded.name,
			capacity = excluded.capacity,
			status = excluded.status,
			attributes = excluded.attributes,
			updated_at = excluded.updated_at
	`

	_, err = s.db.ExecContext(ctx, query,
		candidate.TenantID,
		candidate.ID,
		candidate.Name,
		candidate.Capacity,
		candidate.Status,
		attrs,
		candidate.CreatedAt,
		candidate.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert candidate: %w", err)
	}

	return nil
}

// ListCandidates lists a tenant's candidates in ranking order.
func (s *SQLiteStore) ListCandidates(ctx context.Context, tenantID string) ([]*CandidateRecord, error) {
	query := `
		SELECT tenant_id, id, name, capacity, status, attributes, created_at, updated_at
		FROM candidates
		WHERE tenant_id = ?
		ORDER BY capacity DESC, id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list candidates: %w", err)
	}
	defer rows.Close()

	candidates := []*CandidateRecord{}
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating candidates: %w", err)
	}

	return candidates, nil
}

// FindBest implements workflow.CandidateSource. It returns the available
// candidate with the highest capacity outside the exclusion set, ties broken
// by ID.
func (s *SQLiteStore) FindBest(ctx context.Context, req workflow.ProposalRequest) (*workflow.Candidate, error) {
	excluded := req.Excluded.IDs()

	var b strings.Builder
	b.WriteString(`
		SELECT tenant_id, id, name, capacity, status, attributes, created_at, updated_at
		FROM candidates
		WHERE tenant_id = ? AND status = ?`)
	args := []interface{}{req.TenantID, CandidateStatusAvailable}
	if len(excluded) > 0 {
		b.WriteString(" AND id NOT IN (")
		b.WriteString(strings.TrimSuffix(strings.Repeat("?, ", len(excluded)), ", "))
		b.WriteString(")")
		for _, id := range excluded {
			args = append(args, id)
		}
	}
	b.WriteString(`
		ORDER BY capacity DESC, id ASC
		LIMIT 1`)

	c, err := scanCandidate(s.db.QueryRowContext(ctx, b.String(), args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, workflow.ErrCandidateNotFound
	}
	if err != nil {
		return nil, err
	}

	attrs := maps.Clone(c.Attributes)
	if attrs == nil {
		attrs = make(map[string]interface{}, 3)
	}
	attrs["name"] = c.Name
	attrs["capacity"] = c.Capacity
	attrs["tenant_id"] = c.TenantID

	return &workflow.Candidate{ID: c.ID, Attributes: attrs}, nil
}

// CommitAssignment implements workflow.AssignmentPersistence. The assignment
// row and the target/candidate status updates share one transaction. A
// repeated RunID is a no-op; a second run for the same target overwrites the
// target's assignment columns.
func (s *SQLiteStore) CommitAssignment(ctx context.Context, a workflow.Assignment) error {
	if a.CommittedAt.IsZero() {
		a.CommittedAt = s.now()
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO assignments (run_id, tenant_id, target_id, candidate_id, metric, estimated, committed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (run_id) DO NOTHING
		`, a.RunID, a.TenantID, a.TargetID, a.CandidateID, a.Metric, a.Estimated, a.CommittedAt)
		if err != nil {
			return fmt.Errorf("failed to insert assignment: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		} else if n == 0 {
			return nil
		}

		res, err = tx.ExecContext(ctx, `
			UPDATE targets
			SET status = ?, assigned_candidate_id = ?, assigned_run_id = ?, updated_at = ?
			WHERE tenant_id = ? AND id = ?
		`, TargetStatusAssigned, a.CandidateID, a.RunID, a.CommittedAt, a.TenantID, a.TargetID)
		if err != nil {
			return fmt.Errorf("failed to update target: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		} else if n == 0 {
			return fmt.Errorf("target %s/%s: %w", a.TenantID, a.TargetID, ErrNotFound)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE candidates SET status = ?, updated_at = ?
			WHERE tenant_id = ? AND id = ?
		`, CandidateStatusAssigned, a.CommittedAt, a.TenantID, a.CandidateID); err != nil {
			return fmt.Errorf("failed to update candidate: %w", err)
		}
		return nil
	})
}

// CreatePendingReview implements workflow.ReviewPersistence. A repeated RunID
// is a no-op.
func (s *SQLiteStore) CreatePendingReview(ctx context.Context, r workflow.Review) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now()
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO pending_reviews (run_id, tenant_id, target_id, candidate_id, metric, reason, recommendation, status, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (run_id) DO NOTHING
		`, r.RunID, r.TenantID, r.TargetID, r.CandidateID, r.Metric, r.Reason, r.Recommendation, ReviewStatusPending, r.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert pending review: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		} else if n == 0 {
			return nil
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE targets SET status = ?, updated_at = ?
			WHERE tenant_id = ? AND id = ? AND status = ?
		`, TargetStatusReview, r.CreatedAt, r.TenantID, r.TargetID, TargetStatusOpen); err != nil {
			return fmt.Errorf("failed to update target: %w", err)
		}
		return nil
	})
}

// WriteAuditEvents appends a batch of audit events in one transaction.
func (s *SQLiteStore) WriteAuditEvents(ctx context.Context, events []workflow.AuditEvent) error {
	if len(events) == 0 {
		return nil
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO audit_events (run_id, tenant_id, target_id, stage, type, candidate_id, message, reason, severity, timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare audit insert: %w", err)
		}
		defer stmt.Close()

		for _, ev := range events {
			if _, err := stmt.ExecContext(ctx,
				ev.RunID,
				ev.TenantID,
				ev.TargetID,
				ev.Stage,
				ev.Type,
				ev.CandidateID,
				ev.Message,
				ev.Reason,
				ev.Severity,
				ev.Timestamp,
			); err != nil {
				return fmt.Errorf("failed to insert audit event: %w", err)
			}
		}
		return nil
	})
}

// GetAssignmentByRun retrieves the assignment committed by a run
func (s *SQLiteStore) GetAssignmentByRun(ctx context.Context, runID string) (*workflow.Assignment, error) {
	query := `
		SELECT run_id, tenant_id, target_id, candidate_id, metric, estimated, committed_at
		FROM assignments
		WHERE run_id = ?
	`

	a, err := scanAssignment(s.db.QueryRowContext(ctx, query, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("assignment for run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// ListAssignments lists a tenant's assignments, newest first
func (s *SQLiteStore) ListAssignments(ctx context.Context, tenantID string, limit, offset int) ([]*workflow.Assignment, error) {
	query := `
		SELECT run_id, tenant_id, target_id, candidate_id, metric, estimated, committed_at
		FROM assignments
		WHERE tenant_id = ?
		ORDER BY committed_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, tenantID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}
	defer rows.Close()

	assignments := []*workflow.Assignment{}
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		assignments = append(assignments, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating assignments: %w", err)
	}

	return assignments, nil
}

// ListPendingReviews lists a tenant's unresolved reviews, newest first
func (s *SQLiteStore) ListPendingReviews(ctx context.Context, tenantID string, limit, offset int) ([]*ReviewRecord, error) {
	query := `
		SELECT run_id, tenant_id, target_id, candidate_id, metric, reason, recommendation, status, created_at
		FROM pending_reviews
		WHERE tenant_id = ? AND status = ?
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, tenantID, ReviewStatusPending, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending reviews: %w", err)
	}
	defer rows.Close()

	reviews := []*ReviewRecord{}
	for rows.Next() {
		r := &ReviewRecord{}
		err := rows.Scan(
			&r.RunID,
			&r.TenantID,
			&r.TargetID,
			&r.CandidateID,
			&r.Metric,
			&r.Reason,
			&r.Recommendation,
			&r.Status,
			&r.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pending review: %w", err)
		}
		reviews = append(reviews, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pending reviews: %w", err)
	}

	return reviews, nil
}

// ListAuditEvents lists a run's audit trail in emission order
func (s *SQLiteStore) ListAuditEvents(ctx context.Context, runID string) ([]*AuditEventRecord, error) {
	query := `
		SELECT id, run_id, tenant_id, target_id, stage, type, candidate_id, message, reason, severity, timestamp
		FROM audit_events
		WHERE run_id = ?
		ORDER BY id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit events: %w", err)
	}
	defer rows.Close()

	events := []*AuditEventRecord{}
	for rows.Next() {
		ev := &AuditEventRecord{}
		err := rows.Scan(
			&ev.ID,
			&ev.RunID,
			&ev.TenantID,
			&ev.TargetID,
			&ev.Stage,
			&ev.Type,
			&ev.CandidateID,
			&ev.Message,
			&ev.Reason,
			&ev.Severity,
			&ev.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit events: %w", err)
	}

	return events, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanCandidate(row scanner) (*CandidateRecord, error) {
	c := &CandidateRecord{}
	var attrs string
	err := row.Scan(
		&c.TenantID,
		&c.ID,
		&c.Name,
		&c.Capacity,
		&c.Status,
		&attrs,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan candidate: %w", err)
	}

	if c.Attributes, err = decodeAttributes(attrs); err != nil {
		return nil, err
	}
	return c, nil
}

func scanAssignment(row scanner) (*workflow.Assignment, error) {
	a := &workflow.Assignment{}
	err := row.Scan(
		&a.RunID,
		&a.TenantID,
		&a.TargetID,
		&a.CandidateID,
		&a.Metric,
		&a.Estimated,
		&a.CommittedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan assignment: %w", err)
	}
	return a, nil
}

func encodeAttributes(attrs map[string]interface{}) (string, error) {
	if len(attrs) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(attrs)
	if err != nil {
		return "", fmt.Errorf("failed to encode attributes: %w", err)
	}
	return string(data), nil
}

func decodeAttributes(data string) (map[string]interface{}, error) {
	if data == "" || data == "{}" {
		return nil, nil
	}
	var attrs map[string]interface{}
	if err := json.Unmarshal([]byte(data), &attrs); err != nil {
		return nil, fmt.Errorf("failed to decode attributes: %w", err)
	}
	return attrs, nil
}
