package workflow_test

import (
	"context"
	"fmt"

	"github.com/freightops-pro/fopsbackend-sub000/pkg/workflow"
)

func ExampleDefaultTransitions() {
	for _, t := range workflow.DefaultTransitions() {
		if t.Retry {
			fmt.Println(t.From, t.On, "->", t.To)
		}
	}
	// Output:
	// EquipmentCheck rejected -> Propose
	// ComplianceCheck rejected -> Propose
}

func ExampleGate() {
	threshold := 0.15
	for _, m := range []float64{0.2, 0.15, 0.05} {
		fmt.Println(m, workflow.Gate(&m, threshold))
	}
	// Output:
	// 0.2 pass
	// 0.15 pass
	// 0.05 below
}

func ExampleEngine_Run() {
	target := workflow.Target{ID: "load-42", TenantID: "tenant-1", Value: 1000}
	ranked := []workflow.Candidate{{ID: "C1"}, {ID: "C2"}}

	deps := workflow.Dependencies{
		Targets: workflow.TargetSourceFunc(func(_ context.Context, _, _ string) (*workflow.Target, error) {
			t := target
			return &t, nil
		}),
		Candidates: workflow.CandidateSourceFunc(func(_ context.Context, req workflow.ProposalRequest) (*workflow.Candidate, error) {
			for _, c := range ranked {
				if !req.Excluded.Contains(c.ID) {
					c := c
					return &c, nil
				}
			}
			return nil, workflow.ErrCandidateNotFound
		}),
		Equipment: workflow.EquipmentValidatorFunc(func(_ context.Context, req workflow.ValidationRequest) (workflow.Verdict, error) {
			if req.Candidate.ID == "C1" {
				return workflow.Verdict{Reason: "reefer required"}, nil
			}
			return workflow.Verdict{Approved: true}, nil
		}),
		Compliance: workflow.ComplianceValidatorFunc(func(context.Context, workflow.ValidationRequest) (workflow.Verdict, error) {
			return workflow.Verdict{Approved: true}, nil
		}),
		Cost: workflow.CostEstimatorFunc(func(_ context.Context, t workflow.Target, _ workflow.Candidate) (workflow.CostEstimate, error) {
			return workflow.CostEstimate{Amount: t.Value * 0.8}, nil
		}),
		Assignments: workflow.AssignmentPersistenceFunc(func(context.Context, workflow.Assignment) error { return nil }),
		Reviews:     workflow.ReviewPersistenceFunc(func(context.Context, workflow.Review) error { return nil }),
	}

	eng, err := workflow.NewEngine(workflow.DefaultConfig(), deps)
	if err != nil {
		fmt.Println(err)
		return
	}

	result, err := eng.Run(context.Background(), "tenant-1", "load-42")
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Println(result.Status, result.CandidateID, result.Attempts, result.Excluded)
	// Output:
	// success C2 2 [C1]
}
