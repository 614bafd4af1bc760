package advisors

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/freightops-pro/fopsbackend-sub000/pkg/workflow"
)

var inspectionNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestInspector() *EquipmentInspector {
	i := NewEquipmentInspector(EquipmentConfig{})
	i.now = func() time.Time { return inspectionNow }
	return i
}

func TestNewEquipmentInspector_Defaults(t *testing.T) {
	i := NewEquipmentInspector(EquipmentConfig{})
	if i.cfg.MinHealthScore != 60 {
		t.Errorf("MinHealthScore = %v, want 60", i.cfg.MinHealthScore)
	}
	if i.cfg.InspectionMaxAge != 90*24*time.Hour {
		t.Errorf("InspectionMaxAge = %v", i.cfg.InspectionMaxAge)
	}
	if i.cfg.HighMileage != 500000 {
		t.Errorf("HighMileage = %v", i.cfg.HighMileage)
	}

	custom := NewEquipmentInspector(EquipmentConfig{MinHealthScore: 80})
	if custom.cfg.MinHealthScore != 80 {
		t.Errorf("MinHealthScore = %v, want 80", custom.cfg.MinHealthScore)
	}
}

func TestEquipmentInspector_HealthScore(t *testing.T) {
	recent := inspectionNow.Add(-10 * 24 * time.Hour).Format(time.RFC3339)
	stale := inspectionNow.Add(-120 * 24 * time.Hour).Format(time.RFC3339)

	tests := []struct {
		name      string
		attrs     map[string]interface{}
		wantScore float64
		wantNote  string
	}{
		{
			name:      "clean",
			attrs:     map[string]interface{}{"last_inspection_at": recent, "mileage": 120000},
			wantScore: 100,
		},
		{
			name:      "no inspection",
			attrs:     map[string]interface{}{},
			wantScore: 85,
			wantNote:  "no inspection on file",
		},
		{
			name:      "stale inspection",
			attrs:     map[string]interface{}{"last_inspection_at": stale},
			wantScore: 75,
			wantNote:  "inspection 120 days old",
		},
		{
			name:      "high mileage and defects",
			attrs:     map[string]interface{}{"last_inspection_at": recent, "mileage": 650000.0, "open_defects": 2},
			wantScore: 60,
			wantNote:  "2 open defects",
		},
		{
			name:      "clamped at zero",
			attrs:     map[string]interface{}{"open_defects": 20},
			wantScore: 0,
		},
	}

	i := newTestInspector()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, notes := i.HealthScore(tt.attrs)
			if score != tt.wantScore {
				t.Errorf("score = %v, want %v (notes %v)", score, tt.wantScore, notes)
			}
			if tt.wantNote != "" && !strings.Contains(strings.Join(notes, "; "), tt.wantNote) {
				t.Errorf("notes %v do not mention %q", notes, tt.wantNote)
			}
			if tt.wantNote == "" && tt.wantScore == 100 && len(notes) != 0 {
				t.Errorf("unexpected notes %v", notes)
			}
		})
	}
}

func TestEquipmentInspector_CheckEquipment(t *testing.T) {
	recent := inspectionNow.Add(-24 * time.Hour).Format(time.RFC3339)

	tests := []struct {
		name         string
		target       map[string]interface{}
		candidate    map[string]interface{}
		wantApproved bool
		wantReason   string
	}{
		{
			name:         "matching type",
			target:       map[string]interface{}{"equipment_type": "reefer"},
			candidate:    map[string]interface{}{"equipment_type": "reefer", "last_inspection_at": recent},
			wantApproved: true,
			wantReason:   "equipment ok, health score 100",
		},
		{
			name:         "type from list",
			target:       map[string]interface{}{"equipment_type": "flatbed"},
			candidate:    map[string]interface{}{"equipment_types": []interface{}{"dry_van", "flatbed"}, "last_inspection_at": recent},
			wantApproved: true,
		},
		{
			name:         "type mismatch",
			target:       map[string]interface{}{"equipment_type": "reefer"},
			candidate:    map[string]interface{}{"equipment_type": "dry_van", "last_inspection_at": recent},
			wantApproved: false,
			wantReason:   "equipment type dry_van does not match required reefer",
		},
		{
			name:         "no equipment offered",
			target:       map[string]interface{}{"equipment_type": "reefer"},
			candidate:    map[string]interface{}{},
			wantApproved: false,
			wantReason:   "equipment type none does not match required reefer",
		},
		{
			name:         "no requirement",
			target:       nil,
			candidate:    map[string]interface{}{"last_inspection_at": recent},
			wantApproved: true,
		},
		{
			name:         "unhealthy",
			target:       nil,
			candidate:    map[string]interface{}{"open_defects": 3, "mileage": 700000},
			wantApproved: false,
			wantReason:   "health score 35 below minimum 60",
		},
	}

	i := newTestInspector()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := i.CheckEquipment(context.Background(), workflow.ValidationRequest{
				TenantID:  "t1",
				Target:    workflow.Target{ID: "L1", TenantID: "t1", Attributes: tt.target},
				Candidate: workflow.Candidate{ID: "D1", Attributes: tt.candidate},
			})
			if err != nil {
				t.Fatalf("CheckEquipment() error = %v", err)
			}
			if v.Approved != tt.wantApproved {
				t.Errorf("Approved = %v, want %v (%s)", v.Approved, tt.wantApproved, v.Reason)
			}
			if tt.wantReason != "" && !strings.HasPrefix(v.Reason, tt.wantReason) {
				t.Errorf("Reason = %q, want prefix %q", v.Reason, tt.wantReason)
			}
			if v.Score == nil {
				t.Error("Score should always be reported")
			}
		})
	}
}

func TestEquipmentInspector_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := newTestInspector().CheckEquipment(ctx, workflow.ValidationRequest{}); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
