package policy

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/freightops-pro/fopsbackend-sub000/pkg/workflow"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T, opts ...EngineOption) *Engine {
	t.Helper()
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger, append([]EngineOption{WithClock(func() time.Time { return testNow })}, opts...)...)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	return eng
}

// compliantDriver returns attributes that pass every built-in policy.
func compliantDriver() map[string]interface{} {
	return map[string]interface{}{
		"tenant_id":           "tenant-1",
		"license_expires_at":  "2027-01-01T00:00:00Z",
		"hos_remaining_hours": 9.5,
		"hazmat_endorsed":     false,
	}
}

func request(candidate, target map[string]interface{}) workflow.ValidationRequest {
	return workflow.ValidationRequest{
		TenantID:  "tenant-1",
		Target:    workflow.Target{ID: "load-1", TenantID: "tenant-1", Value: 1000, Attributes: target},
		Candidate: workflow.Candidate{ID: "D-7", Attributes: candidate},
	}
}

func TestNewEngine(t *testing.T) {
	eng := newTestEngine(t)

	policies := eng.ListPolicies()
	expected := []string{"hazmat-endorsement", "hours-of-service", "license-validity", "tenant-isolation"}
	if len(policies) != len(expected) {
		t.Fatalf("Expected %d built-in policies, got %d", len(expected), len(policies))
	}
	for i, p := range policies {
		if p.Name != expected[i] {
			t.Errorf("policy %d = %s, want %s", i, p.Name, expected[i])
		}
	}

	empty := newTestEngine(t, WithoutBuiltins())
	if len(empty.ListPolicies()) != 0 {
		t.Errorf("WithoutBuiltins() loaded %d policies", len(empty.ListPolicies()))
	}
}

func TestCheckCompliance(t *testing.T) {
	eng := newTestEngine(t)

	with := func(base map[string]interface{}, key string, val interface{}) map[string]interface{} {
		out := map[string]interface{}{}
		for k, v := range base {
			out[k] = v
		}
		if val == nil {
			delete(out, key)
		} else {
			out[key] = val
		}
		return out
	}

	tests := []struct {
		name        string
		candidate   map[string]interface{}
		target      map[string]interface{}
		approved    bool
		reasonMatch string
	}{
		{
			name:        "compliant driver",
			candidate:   compliantDriver(),
			target:      map[string]interface{}{"estimated_drive_hours": 6.0},
			approved:    true,
			reasonMatch: "4 compliance policies passed",
		},
		{
			name:        "no license",
			candidate:   with(compliantDriver(), "license_expires_at", nil),
			approved:    false,
			reasonMatch: "no license on file",
		},
		{
			name:        "expired license",
			candidate:   with(compliantDriver(), "license_expires_at", "2026-02-01T00:00:00Z"),
			approved:    false,
			reasonMatch: "expired on 2026-02-01",
		},
		{
			name:        "license expiring soon is a warning",
			candidate:   with(compliantDriver(), "license_expires_at", "2026-03-10T00:00:00Z"),
			approved:    true,
			reasonMatch: "expires within 30 days",
		},
		{
			name:        "not enough hours",
			candidate:   with(compliantDriver(), "hos_remaining_hours", 3.0),
			target:      map[string]interface{}{"estimated_drive_hours": 6.0},
			approved:    false,
			reasonMatch: "hours of service remaining",
		},
		{
			name:        "tight hours is a warning",
			candidate:   with(compliantDriver(), "hos_remaining_hours", 7.0),
			target:      map[string]interface{}{"estimated_drive_hours": 6.0},
			approved:    true,
			reasonMatch: "to spare",
		},
		{
			name:        "hazmat without endorsement",
			candidate:   compliantDriver(),
			target:      map[string]interface{}{"hazmat": true},
			approved:    false,
			reasonMatch: "no hazmat endorsement",
		},
		{
			name:      "hazmat with endorsement",
			candidate: with(compliantDriver(), "hazmat_endorsed", true),
			target:    map[string]interface{}{"hazmat": true},
			approved:  true,
		},
		{
			name:        "other tenant's candidate",
			candidate:   with(compliantDriver(), "tenant_id", "tenant-2"),
			approved:    false,
			reasonMatch: "belongs to another tenant",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict, err := eng.CheckCompliance(context.Background(), request(tt.candidate, tt.target))
			if err != nil {
				t.Fatalf("CheckCompliance() error = %v", err)
			}
			if verdict.Approved != tt.approved {
				t.Errorf("Approved = %v, want %v (reason %q)", verdict.Approved, tt.approved, verdict.Reason)
			}
			if !strings.Contains(verdict.Reason, tt.reasonMatch) {
				t.Errorf("Reason %q does not contain %q", verdict.Reason, tt.reasonMatch)
			}
		})
	}
}

func TestEvaluate_DefaultSeverityAndStringEntries(t *testing.T) {
	eng := newTestEngine(t, WithoutBuiltins())
	ctx := context.Background()

	err := eng.AddPolicy(ctx, Policy{
		Name:     "reefer-only",
		Severity: SeverityWarning,
		Enabled:  true,
		Rego: `package fops.custom.reefer

import rego.v1

deny contains msg if {
	input.target.attributes.equipment_type == "reefer"
	msg := "prefer reefer-certified carriers"
}
`,
	})
	if err != nil {
		t.Fatalf("AddPolicy() error = %v", err)
	}

	result, err := eng.Evaluate(ctx, &Input{
		Candidate: CandidateInput{ID: "C1"},
		Target:    TargetInput{ID: "load-1", Attributes: map[string]interface{}{"equipment_type": "reefer"}},
	})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if !result.Allowed || len(result.Warnings) != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	w := result.Warnings[0]
	if w.Policy != "reefer-only" || w.Severity != SeverityWarning || w.Message != "prefer reefer-certified carriers" {
		t.Errorf("unexpected warning: %+v", w)
	}
}

func TestCheckCompliance_EvaluationErrorIsNotRejection(t *testing.T) {
	eng := newTestEngine(t, WithoutBuiltins())
	ctx := context.Background()

	// Conflicting values for a complete rule fail at evaluation time.
	err := eng.AddPolicy(ctx, Policy{
		Name:    "broken",
		Enabled: true,
		Rego: `package fops.custom.broken

import rego.v1

limit = 1 if input.candidate.id

limit = 2 if input.candidate.id

deny contains "over" if limit > 0
`,
	})
	if err != nil {
		t.Fatalf("AddPolicy() error = %v", err)
	}

	_, err = eng.CheckCompliance(ctx, request(compliantDriver(), nil))
	if err == nil {
		t.Fatal("expected evaluation error")
	}
}

func TestCompile_InvalidRego(t *testing.T) {
	err := Compile(context.Background(), Policy{Name: "bad", Rego: "package x\n\ndeny contains if {"})
	if err == nil {
		t.Error("expected compile error")
	}
}

func TestReplacePolicies(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	custom := Policy{
		Name:    "max-value",
		Enabled: true,
		Rego: `package fops.custom.value

import rego.v1

deny contains msg if {
	input.target.value > 50000
	msg := "loads above 50000 need manual dispatch"
}
`,
	}
	if err := eng.ReplacePolicies(ctx, []Policy{custom}); err != nil {
		t.Fatalf("ReplacePolicies() error = %v", err)
	}
	if len(eng.ListPolicies()) != 5 {
		t.Errorf("expected built-ins plus custom, got %d", len(eng.ListPolicies()))
	}

	// A bad set leaves the current one in place.
	bad := Policy{Name: "bad", Rego: "package"}
	if err := eng.ReplacePolicies(ctx, []Policy{bad}); err == nil {
		t.Fatal("expected error for invalid policy")
	}
	if _, err := eng.GetPolicy("max-value"); err != nil {
		t.Errorf("custom policy lost after failed replace: %v", err)
	}

	// An empty set drops custom policies but keeps built-ins.
	if err := eng.ReplacePolicies(ctx, nil); err != nil {
		t.Fatalf("ReplacePolicies(nil) error = %v", err)
	}
	if _, err := eng.GetPolicy("max-value"); err == nil {
		t.Error("custom policy should have been removed")
	}
	if len(eng.ListPolicies()) != 4 {
		t.Errorf("expected 4 built-ins, got %d", len(eng.ListPolicies()))
	}
}

func TestEnableDisablePolicy(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	noLicense := compliantDriver()
	delete(noLicense, "license_expires_at")

	if err := eng.DisablePolicy("license-validity"); err != nil {
		t.Fatalf("DisablePolicy() error = %v", err)
	}
	verdict, err := eng.CheckCompliance(ctx, request(noLicense, nil))
	if err != nil || !verdict.Approved {
		t.Errorf("disabled policy still applied: %+v, %v", verdict, err)
	}

	if err := eng.EnablePolicy("license-validity"); err != nil {
		t.Fatalf("EnablePolicy() error = %v", err)
	}
	verdict, _ = eng.CheckCompliance(ctx, request(noLicense, nil))
	if verdict.Approved {
		t.Error("re-enabled policy not applied")
	}

	if err := eng.DisablePolicy("missing"); err == nil {
		t.Error("expected error for unknown policy")
	}
}
