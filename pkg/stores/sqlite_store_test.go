package stores

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/freightops-pro/fopsbackend-sub000/pkg/workflow"
)

// setupTestStore creates an in-memory SQLite store for testing
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}

	t.Cleanup(func() { _ = store.Close() })
	return store
}

// seed inserts one target and the given candidates for tenant-1
func seed(t *testing.T, store *SQLiteStore, candidates ...*CandidateRecord) {
	t.Helper()
	ctx := context.Background()

	target := &TargetRecord{
		TenantID:   "tenant-1",
		ID:         "load-1",
		Value:      1000,
		Attributes: map[string]interface{}{"equipment_type": "reefer", "distance_miles": 250.0},
	}
	if err := store.UpsertTarget(ctx, target); err != nil {
		t.Fatalf("failed to upsert target: %v", err)
	}
	for _, c := range candidates {
		if c.TenantID == "" {
			c.TenantID = "tenant-1"
		}
		if err := store.UpsertCandidate(ctx, c); err != nil {
			t.Fatalf("failed to upsert candidate: %v", err)
		}
	}
}

// TestStoreLifecycle tests database initialization and closure
func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	if err := store.HealthCheck(context.Background()); err == nil {
		t.Error("expected health check to fail before Init")
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

func TestNewSQLiteStore_RequiresPath(t *testing.T) {
	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Error("expected error for empty path")
	}
}

// TestStoreMigrations tests database migrations
func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	tables := []string{"targets", "candidates", "assignments", "pending_reviews", "audit_events"}
	for _, table := range tables {
		query := "SELECT COUNT(*) FROM " + table
		var count int
		err := store.db.QueryRowContext(ctx, query).Scan(&count)
		if err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}

	// Running again is a no-op.
	if err := store.Migrate(ctx); err != nil {
		t.Errorf("second migration failed: %v", err)
	}
}

func TestTargetUpsertAndLoad(t *testing.T) {
	store := setupTestStore(t)
	seed(t, store)
	ctx := context.Background()

	rec, err := store.GetTarget(ctx, "tenant-1", "load-1")
	if err != nil {
		t.Fatalf("failed to get target: %v", err)
	}
	if rec.Status != TargetStatusOpen || rec.Value != 1000 {
		t.Errorf("unexpected target: %+v", rec)
	}
	if rec.Attributes["equipment_type"] != "reefer" {
		t.Errorf("attributes not round-tripped: %v", rec.Attributes)
	}

	target, err := store.LoadTarget(ctx, "tenant-1", "load-1")
	if err != nil {
		t.Fatalf("LoadTarget() error = %v", err)
	}
	if target.ID != "load-1" || target.TenantID != "tenant-1" || target.Value != 1000 {
		t.Errorf("unexpected target: %+v", target)
	}

	if _, err := store.LoadTarget(ctx, "tenant-2", "load-1"); !errors.Is(err, workflow.ErrTargetNotFound) {
		t.Errorf("LoadTarget() for another tenant error = %v, want ErrTargetNotFound", err)
	}
	if _, err := store.GetTarget(ctx, "tenant-1", "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetTarget() error = %v, want ErrNotFound", err)
	}
}

func TestFindBest(t *testing.T) {
	store := setupTestStore(t)
	seed(t, store,
		&CandidateRecord{ID: "C1", Name: "Ana", Capacity: 40},
		&CandidateRecord{ID: "C2", Name: "Ben", Capacity: 45},
		&CandidateRecord{ID: "C3", Name: "Cho", Capacity: 45},
		&CandidateRecord{ID: "C4", Name: "Dee", Capacity: 99, Status: CandidateStatusInactive},
		&CandidateRecord{ID: "C9", TenantID: "tenant-2", Name: "Eve", Capacity: 100},
	)
	ctx := context.Background()

	tests := []struct {
		name     string
		excluded []string
		want     string
	}{
		{"highest capacity, ties by id", nil, "C2"},
		{"skips excluded", []string{"C2"}, "C3"},
		{"skips several", []string{"C2", "C3"}, "C1"},
		{"pool exhausted", []string{"C1", "C2", "C3"}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cand, err := store.FindBest(ctx, workflow.ProposalRequest{
				TenantID: "tenant-1",
				Excluded: workflow.NewExclusionSet(tt.excluded...),
			})
			if tt.want == "" {
				if !errors.Is(err, workflow.ErrCandidateNotFound) {
					t.Errorf("FindBest() error = %v, want ErrCandidateNotFound", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("FindBest() error = %v", err)
			}
			if cand.ID != tt.want {
				t.Errorf("FindBest() = %s, want %s", cand.ID, tt.want)
			}
			if cand.Attributes["name"] == "" || cand.Attributes["capacity"] == nil {
				t.Errorf("candidate attributes missing name/capacity: %v", cand.Attributes)
			}
		})
	}
}

func TestListCandidates(t *testing.T) {
	store := setupTestStore(t)
	seed(t, store,
		&CandidateRecord{ID: "C1", Name: "Ana", Capacity: 40, Attributes: map[string]interface{}{"hazmat": true}},
		&CandidateRecord{ID: "C3", Name: "Cho", Capacity: 45},
		&CandidateRecord{ID: "C2", Name: "Ben", Capacity: 45, Status: CandidateStatusInactive},
		&CandidateRecord{ID: "C9", TenantID: "tenant-2", Name: "Eve", Capacity: 100},
	)
	ctx := context.Background()

	candidates, err := store.ListCandidates(ctx, "tenant-1")
	if err != nil {
		t.Fatalf("ListCandidates() error = %v", err)
	}

	want := []struct {
		id     string
		status CandidateStatus
	}{
		{"C2", CandidateStatusInactive},
		{"C3", CandidateStatusAvailable},
		{"C1", CandidateStatusAvailable},
	}
	if len(candidates) != len(want) {
		t.Fatalf("ListCandidates() returned %d candidates, want %d", len(candidates), len(want))
	}
	for i, w := range want {
		if candidates[i].ID != w.id || candidates[i].Status != w.status {
			t.Errorf("candidate %d = %s/%s, want %s/%s", i, candidates[i].ID, candidates[i].Status, w.id, w.status)
		}
	}
	if candidates[2].Attributes["hazmat"] != true {
		t.Errorf("attributes not round-tripped: %v", candidates[2].Attributes)
	}

	empty, err := store.ListCandidates(ctx, "tenant-unknown")
	if err != nil {
		t.Fatalf("ListCandidates() error = %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Errorf("ListCandidates() for unknown tenant = %v, want empty slice", empty)
	}
}

func TestCommitAssignment(t *testing.T) {
	store := setupTestStore(t)
	seed(t, store, &CandidateRecord{ID: "C2", Capacity: 45})
	ctx := context.Background()

	a := workflow.Assignment{
		RunID:       "run-1",
		TenantID:    "tenant-1",
		TargetID:    "load-1",
		CandidateID: "C2",
		Metric:      0.2,
		Estimated:   true,
		CommittedAt: time.Now().UTC(),
	}
	if err := store.CommitAssignment(ctx, a); err != nil {
		t.Fatalf("CommitAssignment() error = %v", err)
	}

	got, err := store.GetAssignmentByRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetAssignmentByRun() error = %v", err)
	}
	if got.CandidateID != "C2" || got.Metric != 0.2 || !got.Estimated {
		t.Errorf("unexpected assignment: %+v", got)
	}

	target, _ := store.GetTarget(ctx, "tenant-1", "load-1")
	if target.Status != TargetStatusAssigned || target.AssignedCandidateID == nil || *target.AssignedCandidateID != "C2" {
		t.Errorf("target not marked assigned: %+v", target)
	}

	// The assigned candidate is no longer proposable.
	if _, err := store.FindBest(ctx, workflow.ProposalRequest{TenantID: "tenant-1"}); !errors.Is(err, workflow.ErrCandidateNotFound) {
		t.Errorf("FindBest() after assignment error = %v", err)
	}

	// Same run again is a no-op.
	a.CandidateID = "C7"
	if err := store.CommitAssignment(ctx, a); err != nil {
		t.Fatalf("repeated CommitAssignment() error = %v", err)
	}
	got, _ = store.GetAssignmentByRun(ctx, "run-1")
	if got.CandidateID != "C2" {
		t.Errorf("repeated commit overwrote assignment: %+v", got)
	}

	list, err := store.ListAssignments(ctx, "tenant-1", 10, 0)
	if err != nil || len(list) != 1 {
		t.Errorf("ListAssignments() = %d, %v", len(list), err)
	}
}

func TestCommitAssignment_UnknownTarget(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	err := store.CommitAssignment(ctx, workflow.Assignment{
		RunID: "run-x", TenantID: "tenant-1", TargetID: "ghost", CandidateID: "C1", Metric: 0.3,
	})
	if err == nil {
		t.Fatal("expected error for unknown target")
	}
	if _, err := store.GetAssignmentByRun(ctx, "run-x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("failed commit left a row behind: %v", err)
	}
}

func TestCommitAssignment_ConcurrentRunsLastWriteWins(t *testing.T) {
	dir := t.TempDir()
	store, err := NewSQLiteStore(Config{Path: dir + "/fops.db"})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to init: %v", err)
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	seed(t, store, &CandidateRecord{ID: "C1"}, &CandidateRecord{ID: "C2"})

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for i, cand := range []string{"C1", "C2"} {
		wg.Add(1)
		go func(run, cand string) {
			defer wg.Done()
			errs <- store.CommitAssignment(ctx, workflow.Assignment{
				RunID: run, TenantID: "tenant-1", TargetID: "load-1", CandidateID: cand, Metric: 0.2,
			})
		}([]string{"run-a", "run-b"}[i], cand)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("CommitAssignment() error = %v", err)
		}
	}

	list, _ := store.ListAssignments(ctx, "tenant-1", 10, 0)
	if len(list) != 2 {
		t.Fatalf("expected both assignments recorded, got %d", len(list))
	}
	target, _ := store.GetTarget(ctx, "tenant-1", "load-1")
	if target.AssignedRunID == nil || (*target.AssignedRunID != "run-a" && *target.AssignedRunID != "run-b") {
		t.Errorf("target assigned run = %v", target.AssignedRunID)
	}
}

func TestCreatePendingReview(t *testing.T) {
	store := setupTestStore(t)
	seed(t, store)
	ctx := context.Background()

	metric := 0.05
	r := workflow.Review{
		RunID:          "run-9",
		TenantID:       "tenant-1",
		TargetID:       "load-1",
		CandidateID:    "C1",
		Metric:         &metric,
		Reason:         "margin 5.0% below threshold 15.0%",
		Recommendation: "renegotiate rate",
	}
	if err := store.CreatePendingReview(ctx, r); err != nil {
		t.Fatalf("CreatePendingReview() error = %v", err)
	}
	if err := store.CreatePendingReview(ctx, r); err != nil {
		t.Fatalf("repeated CreatePendingReview() error = %v", err)
	}

	// A review without a metric stores NULL.
	if err := store.CreatePendingReview(ctx, workflow.Review{RunID: "run-10", TenantID: "tenant-1", TargetID: "load-1"}); err != nil {
		t.Fatalf("CreatePendingReview() without metric error = %v", err)
	}

	reviews, err := store.ListPendingReviews(ctx, "tenant-1", 10, 0)
	if err != nil {
		t.Fatalf("ListPendingReviews() error = %v", err)
	}
	if len(reviews) != 2 {
		t.Fatalf("expected 2 reviews, got %d", len(reviews))
	}
	byRun := map[string]*ReviewRecord{}
	for _, rv := range reviews {
		byRun[rv.RunID] = rv
	}
	if got := byRun["run-9"]; got == nil || got.Metric == nil || *got.Metric != 0.05 || got.Status != ReviewStatusPending {
		t.Errorf("unexpected review: %+v", got)
	}
	if got := byRun["run-10"]; got == nil || got.Metric != nil {
		t.Errorf("expected nil metric: %+v", got)
	}

	target, _ := store.GetTarget(ctx, "tenant-1", "load-1")
	if target.Status != TargetStatusReview {
		t.Errorf("target status = %s, want review", target.Status)
	}

	if other, _ := store.ListPendingReviews(ctx, "tenant-2", 10, 0); len(other) != 0 {
		t.Errorf("tenant isolation broken: %d reviews", len(other))
	}
}

func TestAuditEvents(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	events := []workflow.AuditEvent{
		{RunID: "run-1", TenantID: "tenant-1", Stage: workflow.StagePropose, Type: workflow.AuditEventThinking, Message: "searching", Severity: workflow.SeverityInfo, Timestamp: now},
		{RunID: "run-1", TenantID: "tenant-1", Stage: workflow.StageEquipmentCheck, Type: workflow.AuditEventRejection, CandidateID: "C1", Reason: "reefer required", Severity: workflow.SeverityWarning, Timestamp: now},
		{RunID: "run-2", TenantID: "tenant-1", Stage: workflow.StagePropose, Type: workflow.AuditEventThinking, Severity: workflow.SeverityInfo, Timestamp: now},
	}
	if err := store.WriteAuditEvents(ctx, events); err != nil {
		t.Fatalf("WriteAuditEvents() error = %v", err)
	}
	if err := store.WriteAuditEvents(ctx, nil); err != nil {
		t.Fatalf("WriteAuditEvents(nil) error = %v", err)
	}

	got, err := store.ListAuditEvents(ctx, "run-1")
	if err != nil {
		t.Fatalf("ListAuditEvents() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	if got[0].Type != workflow.AuditEventThinking || got[1].Reason != "reefer required" || got[1].CandidateID != "C1" {
		t.Errorf("unexpected events: %+v %+v", got[0], got[1])
	}
	if got[0].ID >= got[1].ID {
		t.Errorf("events not in insertion order")
	}
}
