package advisors

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/freightops-pro/fopsbackend-sub000/pkg/workflow"
)

func TestRateCostEstimator_Estimate(t *testing.T) {
	tests := []struct {
		name          string
		defaultRate   float64
		target        map[string]interface{}
		candidate     map[string]interface{}
		wantAmount    float64
		wantEstimated bool
		wantBasis     string
		wantErr       error
	}{
		{
			name:       "candidate rate",
			target:     map[string]interface{}{"distance_miles": 400},
			candidate:  map[string]interface{}{"rate_per_mile": 2.5},
			wantAmount: 1000,
			wantBasis:  "400 mi at 2.50/mi",
		},
		{
			name:       "with accessorials",
			target:     map[string]interface{}{"distance_miles": 100.0, "accessorial_fees": 75.0},
			candidate:  map[string]interface{}{"rate_per_mile": 3},
			wantAmount: 375,
			wantBasis:  "100 mi at 3.00/mi + 75.00 accessorials",
		},
		{
			name:          "default rate",
			defaultRate:   2,
			target:        map[string]interface{}{"distance_miles": 250},
			candidate:     nil,
			wantAmount:    500,
			wantEstimated: true,
			wantBasis:     "250 mi at 2.00/mi (default rate)",
		},
		{
			name:      "missing distance",
			target:    map[string]interface{}{},
			candidate: map[string]interface{}{"rate_per_mile": 2.5},
			wantErr:   ErrMissingDistance,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewRateCostEstimator(tt.defaultRate)
			got, err := e.Estimate(context.Background(),
				workflow.Target{ID: "L1", Attributes: tt.target},
				workflow.Candidate{ID: "D1", Attributes: tt.candidate})

			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Estimate() error = %v", err)
			}
			if math.Abs(got.Amount-tt.wantAmount) > 1e-9 {
				t.Errorf("Amount = %v, want %v", got.Amount, tt.wantAmount)
			}
			if got.IsEstimated != tt.wantEstimated {
				t.Errorf("IsEstimated = %v, want %v", got.IsEstimated, tt.wantEstimated)
			}
			if got.Basis != tt.wantBasis {
				t.Errorf("Basis = %q, want %q", got.Basis, tt.wantBasis)
			}
		})
	}
}

func TestRateCostEstimator_NoRateNoDefault(t *testing.T) {
	e := NewRateCostEstimator(0)
	_, err := e.Estimate(context.Background(),
		workflow.Target{ID: "L1", Attributes: map[string]interface{}{"distance_miles": 10}},
		workflow.Candidate{ID: "D1"})
	if err == nil {
		t.Fatal("expected error without rate or default")
	}
}
