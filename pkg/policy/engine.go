package policy

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/rs/zerolog"

	"github.com/freightops-pro/fopsbackend-sub000/pkg/workflow"
)

// Engine evaluates Rego compliance policies against proposed candidates. It
// implements workflow.ComplianceValidator.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	logger   zerolog.Logger
	now      func() time.Time
	builtins bool
}

var _ workflow.ComplianceValidator = (*Engine)(nil)

// compiledPolicy is a policy with its deny query prepared for reuse.
type compiledPolicy struct {
	policy   Policy
	module   *ast.Module
	query    rego.PreparedEvalQuery
	compiled time.Time
	builtin  bool
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithClock overrides the evaluation time passed to policies.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
	}
}

// WithoutBuiltins starts the engine with no built-in policies.
func WithoutBuiltins() EngineOption {
	return func(e *Engine) {
		e.builtins = false
	}
}

// NewEngine creates a policy engine with the built-in policies loaded.
func NewEngine(logger zerolog.Logger, opts ...EngineOption) (*Engine, error) {
	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		logger:   logger.With().Str("component", "policy-engine").Logger(),
		now:      time.Now,
		builtins: true,
	}
	for _, opt := range opts {
		opt(e)
	}

	if !e.builtins {
		return e, nil
	}

	ctx := context.Background()
	for _, p := range GetBuiltinPolicies() {
		cp, err := compile(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("failed to compile built-in policy %s: %w", p.Name, err)
		}
		cp.builtin = true
		e.policies[p.Name] = cp
	}

	e.logger.Info().
		Int("count", len(e.policies)).
		Msg("Built-in policies loaded")

	return e, nil
}

// CheckCompliance evaluates every enabled policy for the proposed candidate.
// Blocking violations reject; warnings are appended to the approval reason.
// Evaluation failures are returned as errors so the caller never mistakes a
// broken policy for a rejection.
func (e *Engine) CheckCompliance(ctx context.Context, req workflow.ValidationRequest) (workflow.Verdict, error) {
	input := &Input{
		Candidate: CandidateInput{
			ID:         req.Candidate.ID,
			Attributes: nonNil(req.Candidate.Attributes),
		},
		Target: TargetInput{
			ID:         req.Target.ID,
			TenantID:   req.Target.TenantID,
			Value:      req.Target.Value,
			Attributes: nonNil(req.Target.Attributes),
		},
		Context: InputContext{
			TenantID:  req.TenantID,
			Operation: "assign",
		},
	}

	result, err := e.Evaluate(ctx, input)
	if err != nil {
		return workflow.Verdict{}, err
	}

	if !result.Allowed {
		for _, v := range result.Violations {
			if v.Severity == SeverityCritical {
				e.logger.Error().
					Str("policy", v.Policy).
					Str("tenant_id", req.TenantID).
					Str("candidate_id", req.Candidate.ID).
					Msg(v.Message)
			}
		}
		return workflow.Verdict{Approved: false, Reason: joinMessages(result.Violations)}, nil
	}

	reason := fmt.Sprintf("%d compliance policies passed", len(result.EvaluatedPolicies))
	if len(result.Warnings) > 0 {
		reason += "; warnings: " + joinMessages(result.Warnings)
	}
	return workflow.Verdict{Approved: true, Reason: reason}, nil
}

// Evaluate runs every enabled policy against input in name order.
func (e *Engine) Evaluate(ctx context.Context, input *Input) (*Result, error) {
	started := time.Now()
	if input.Context.Now == "" {
		input.Context.Now = e.now().UTC().Format(time.RFC3339)
	}

	e.mu.RLock()
	active := make([]*compiledPolicy, 0, len(e.policies))
	for _, cp := range e.policies {
		if cp.policy.Enabled {
			active = append(active, cp)
		}
	}
	e.mu.RUnlock()
	slices.SortFunc(active, func(a, b *compiledPolicy) int {
		return strings.Compare(a.policy.Name, b.policy.Name)
	})

	result := &Result{
		Allowed:           true,
		EvaluatedPolicies: make([]string, 0, len(active)),
	}

	for _, cp := range active {
		violations, err := e.evaluatePolicy(ctx, cp, input)
		if err != nil {
			e.logger.Error().Err(err).
				Str("policy", cp.policy.Name).
				Str("candidate_id", input.Candidate.ID).
				Msg("Policy evaluation failed")
			return nil, fmt.Errorf("policy %s evaluation failed: %w", cp.policy.Name, err)
		}
		result.EvaluatedPolicies = append(result.EvaluatedPolicies, cp.policy.Name)

		for _, v := range violations {
			if v.Severity.Blocking() {
				result.Allowed = false
				result.Violations = append(result.Violations, v)
			} else {
				result.Warnings = append(result.Warnings, v)
			}
		}
	}

	result.EvaluatedAt = time.Now()
	result.Duration = time.Since(started)

	e.logger.Debug().
		Str("candidate_id", input.Candidate.ID).
		Str("target_id", input.Target.ID).
		Bool("allowed", result.Allowed).
		Int("violations", len(result.Violations)).
		Int("warnings", len(result.Warnings)).
		Dur("duration", result.Duration).
		Msg("Compliance evaluation completed")

	return result, nil
}

// evaluatePolicy evaluates a single compiled policy.
func (e *Engine) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input *Input) ([]Violation, error) {
	results, err := cp.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, err
	}

	var violations []Violation
	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		denySet, ok := result.Expressions[0].Value.([]interface{})
		if !ok {
			continue
		}
		for _, d := range denySet {
			violations = append(violations, newViolation(cp.policy, d))
		}
	}
	return violations, nil
}

// newViolation converts one deny entry. Entries may be plain strings or
// objects with message, severity and remediation fields.
func newViolation(p Policy, entry interface{}) Violation {
	v := Violation{
		Policy:   p.Name,
		Severity: p.Severity,
	}

	switch d := entry.(type) {
	case string:
		v.Message = d
	case map[string]interface{}:
		for key, val := range d {
			switch key {
			case "message":
				v.Message, _ = val.(string)
			case "severity":
				if s, ok := val.(string); ok {
					v.Severity = Severity(s)
				}
			case "remediation":
				v.Remediation, _ = val.(string)
			default:
				if v.Details == nil {
					v.Details = make(map[string]interface{})
				}
				v.Details[key] = val
			}
		}
	default:
		v.Message = fmt.Sprintf("%v", entry)
	}

	if v.Message == "" {
		v.Message = fmt.Sprintf("denied by policy %s", p.Name)
	}
	return v
}

// compile parses a policy and prepares its deny query.
func compile(ctx context.Context, p Policy) (*compiledPolicy, error) {
	module, err := ast.ParseModule(p.Name, p.Rego)
	if err != nil {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}

	query := module.Package.Path.String() + ".deny"
	prepared, err := rego.New(
		rego.ParsedModule(module),
		rego.Query(query),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare query: %w", err)
	}

	if p.Severity == "" {
		p.Severity = SeverityError
	}

	return &compiledPolicy{
		policy:   p,
		module:   module,
		query:    prepared,
		compiled: time.Now(),
	}, nil
}

// Compile checks that a policy parses and its deny query prepares.
func Compile(ctx context.Context, p Policy) error {
	_, err := compile(ctx, p)
	return err
}

// LoadPolicies loads policy files and adds them to the engine.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	policies, err := NewLoader(e.logger).LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}
	return e.ReplacePolicies(ctx, policies)
}

// ReplacePolicies swaps every non built-in policy for policies. All of them
// are compiled first; on any failure the current set is left untouched.
func (e *Engine) ReplacePolicies(ctx context.Context, policies []Policy) error {
	next := make(map[string]*compiledPolicy, len(policies))
	for _, p := range policies {
		cp, err := compile(ctx, p)
		if err != nil {
			e.logger.Error().Err(err).
				Str("policy", p.Name).
				Msg("Failed to compile policy")
			return fmt.Errorf("failed to compile policy %s: %w", p.Name, err)
		}
		next[p.Name] = cp
	}

	e.mu.Lock()
	for name, cp := range e.policies {
		if _, overridden := next[name]; cp.builtin && !overridden {
			next[name] = cp
		}
	}
	e.policies = next
	e.mu.Unlock()

	e.logger.Info().
		Int("count", len(policies)).
		Msg("Policies loaded successfully")

	return nil
}

// AddPolicy compiles and adds or replaces a single policy.
func (e *Engine) AddPolicy(ctx context.Context, p Policy) error {
	cp, err := compile(ctx, p)
	if err != nil {
		return fmt.Errorf("failed to compile policy %s: %w", p.Name, err)
	}

	e.mu.Lock()
	e.policies[p.Name] = cp
	e.mu.Unlock()
	return nil
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, exists := e.policies[name]
	if !exists {
		return nil, fmt.Errorf("policy not found: %s", name)
	}

	p := cp.policy
	return &p, nil
}

// ListPolicies returns all loaded policies sorted by name.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, cp := range e.policies {
		policies = append(policies, cp.policy)
	}
	slices.SortFunc(policies, func(a, b Policy) int {
		return strings.Compare(a.Name, b.Name)
	})
	return policies
}

// EnablePolicy enables a policy by name.
func (e *Engine) EnablePolicy(name string) error {
	return e.setEnabled(name, true)
}

// DisablePolicy disables a policy by name.
func (e *Engine) DisablePolicy(name string) error {
	return e.setEnabled(name, false)
}

func (e *Engine) setEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}

	// Copy so readers holding the old pointer see a consistent policy.
	next := *cp
	next.policy.Enabled = enabled
	next.policy.UpdatedAt = time.Now()
	e.policies[name] = &next

	e.logger.Info().Str("policy", name).Bool("enabled", enabled).Msg("Policy state changed")
	return nil
}

func joinMessages(violations []Violation) string {
	msgs := make([]string, len(violations))
	for i, v := range violations {
		msgs[i] = v.Message
	}
	return strings.Join(msgs, "; ")
}

func nonNil(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}
