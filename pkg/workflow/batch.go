package workflow

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// RunBatch runs one independent run per target with at most parallel runs in
// flight. Results are returned in targetIDs order. The error is non-nil only
// if ctx ended the batch; results for runs that did not finish are pending.
func (e *Engine) RunBatch(ctx context.Context, tenantID string, targetIDs []string, parallel int) ([]FinalResult, error) {
	if parallel <= 0 {
		parallel = 1
	}

	results := make([]FinalResult, len(targetIDs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)

	for i, targetID := range targetIDs {
		results[i] = FinalResult{TenantID: tenantID, TargetID: targetID, Status: RunStatusPending}
		g.Go(func() error {
			result, err := e.Run(gctx, tenantID, targetID)
			results[i] = result
			return err
		})
	}

	err := g.Wait()
	return results, err
}
