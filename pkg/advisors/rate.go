package advisors

import (
	"context"
	"errors"
	"fmt"

	"github.com/freightops-pro/fopsbackend-sub000/pkg/workflow"
)

// ErrMissingDistance is returned when a target has no distance to price.
var ErrMissingDistance = errors.New("target has no distance_miles")

// RateCostEstimator prices a load as distance_miles times the candidate's
// rate_per_mile, plus the target's accessorial_fees. Candidates without a
// rate are priced at the default rate and the result is marked estimated.
type RateCostEstimator struct {
	defaultRate float64
}

var _ workflow.CostEstimator = (*RateCostEstimator)(nil)

// NewRateCostEstimator creates an estimator with the given fallback rate per mile.
func NewRateCostEstimator(defaultRate float64) *RateCostEstimator {
	return &RateCostEstimator{defaultRate: defaultRate}
}

// Estimate implements workflow.CostEstimator.
func (e *RateCostEstimator) Estimate(ctx context.Context, target workflow.Target, candidate workflow.Candidate) (workflow.CostEstimate, error) {
	if err := ctx.Err(); err != nil {
		return workflow.CostEstimate{}, err
	}

	miles, ok := number(target.Attributes, "distance_miles")
	if !ok || miles < 0 {
		return workflow.CostEstimate{}, fmt.Errorf("target %s: %w", target.ID, ErrMissingDistance)
	}

	rate, ok := number(candidate.Attributes, "rate_per_mile")
	estimated := !ok || rate <= 0
	if estimated {
		if e.defaultRate <= 0 {
			return workflow.CostEstimate{}, fmt.Errorf("candidate %s has no rate_per_mile and no default rate is configured", candidate.ID)
		}
		rate = e.defaultRate
	}

	fees, _ := number(target.Attributes, "accessorial_fees")
	basis := fmt.Sprintf("%.0f mi at %.2f/mi", miles, rate)
	if fees > 0 {
		basis += fmt.Sprintf(" + %.2f accessorials", fees)
	}
	if estimated {
		basis += " (default rate)"
	}

	return workflow.CostEstimate{
		Amount:      miles*rate + fees,
		IsEstimated: estimated,
		Basis:       basis,
	}, nil
}
