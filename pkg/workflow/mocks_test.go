package workflow

import (
	"context"
	"sync"
)

// fixture is an in-memory set of collaborators. Candidates are ranked in
// slice order; verdicts default to approval.
type fixture struct {
	mu sync.Mutex

	target     Target
	candidates []Candidate

	equipment  map[string]Verdict
	compliance map[string]Verdict
	equipErr   error
	complErr   error
	costs      map[string]CostEstimate
	costErr    error
	commitErr  error
	reviewErr  error

	proposals   []string
	commitCalls int
	assignments map[string]Assignment
	reviews     map[string]Review
	events      []AuditEvent
}

func newFixture(value float64, ids ...string) *fixture {
	f := &fixture{
		target:      Target{ID: "load-1", TenantID: "tenant-1", Value: value},
		equipment:   make(map[string]Verdict),
		compliance:  make(map[string]Verdict),
		costs:       make(map[string]CostEstimate),
		assignments: make(map[string]Assignment),
		reviews:     make(map[string]Review),
	}
	for _, id := range ids {
		f.candidates = append(f.candidates, Candidate{ID: id, Attributes: map[string]interface{}{"name": id}})
	}
	return f
}

func (f *fixture) deps() Dependencies {
	return Dependencies{
		Targets:     f,
		Candidates:  f,
		Equipment:   f,
		Compliance:  f,
		Cost:        f,
		Assignments: f,
		Reviews:     f,
		Audit:       f,
	}
}

func (f *fixture) LoadTarget(_ context.Context, tenantID, targetID string) (*Target, error) {
	if targetID != f.target.ID {
		return nil, ErrTargetNotFound
	}
	t := f.target
	return &t, nil
}

func (f *fixture) FindBest(_ context.Context, req ProposalRequest) (*Candidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.candidates {
		if !req.Excluded.Contains(c.ID) {
			f.proposals = append(f.proposals, c.ID)
			cand := c
			return &cand, nil
		}
	}
	return nil, ErrCandidateNotFound
}

func (f *fixture) CheckEquipment(_ context.Context, req ValidationRequest) (Verdict, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.equipErr != nil {
		return Verdict{}, f.equipErr
	}
	if v, ok := f.equipment[req.Candidate.ID]; ok {
		return v, nil
	}
	score := 92.0
	return Verdict{Approved: true, Reason: "equipment ok", Score: &score}, nil
}

func (f *fixture) CheckCompliance(_ context.Context, req ValidationRequest) (Verdict, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.complErr != nil {
		return Verdict{}, f.complErr
	}
	if v, ok := f.compliance[req.Candidate.ID]; ok {
		return v, nil
	}
	return Verdict{Approved: true, Reason: "compliant"}, nil
}

func (f *fixture) Estimate(_ context.Context, target Target, candidate Candidate) (CostEstimate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.costErr != nil {
		return CostEstimate{}, f.costErr
	}
	if c, ok := f.costs[candidate.ID]; ok {
		return c, nil
	}
	return CostEstimate{Amount: target.Value * 0.8, Basis: "rate table"}, nil
}

func (f *fixture) CommitAssignment(_ context.Context, a Assignment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commitCalls++
	if f.commitErr != nil {
		return f.commitErr
	}
	if _, exists := f.assignments[a.RunID]; !exists {
		f.assignments[a.RunID] = a
	}
	return nil
}

func (f *fixture) CreatePendingReview(_ context.Context, r Review) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reviewErr != nil {
		return f.reviewErr
	}
	if _, exists := f.reviews[r.RunID]; !exists {
		f.reviews[r.RunID] = r
	}
	return nil
}

func (f *fixture) Emit(event AuditEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func (f *fixture) reject(m map[string]Verdict, id, reason string) {
	m[id] = Verdict{Approved: false, Reason: reason}
}

func (f *fixture) eventsFor(runID string) []AuditEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []AuditEvent
	for _, ev := range f.events {
		if ev.RunID == runID {
			out = append(out, ev)
		}
	}
	return out
}

// fakeReserver holds claims in memory.
type fakeReserver struct {
	mu      sync.Mutex
	holders map[string]string
	err     error
}

func (r *fakeReserver) Reserve(_ context.Context, _, candidateID, runID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return false, r.err
	}
	if holder, ok := r.holders[candidateID]; ok && holder != runID {
		return false, nil
	}
	r.holders[candidateID] = runID
	return true, nil
}

func (r *fakeReserver) Release(_ context.Context, _, candidateID, runID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.holders[candidateID] == runID {
		delete(r.holders, candidateID)
	}
	return nil
}
