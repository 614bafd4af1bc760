package advisors

import (
	"context"
	"fmt"
	"math"
	"os"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/freightops-pro/fopsbackend-sub000/pkg/workflow"
)

// DefaultMaxSteps bounds the computation of a single cost script run.
const DefaultMaxSteps = 1_000_000

// ScriptCostEstimator evaluates a Starlark pricing script. The script sees
// two predeclared dicts, target and candidate, and must assign cost. It may
// also assign estimated (bool) and basis (string).
type ScriptCostEstimator struct {
	name     string
	source   string
	timeout  time.Duration
	maxSteps uint64
}

var _ workflow.CostEstimator = (*ScriptCostEstimator)(nil)

// NewScriptCostEstimator creates an estimator from script source. The
// script is compiled up front so syntax errors surface at construction.
func NewScriptCostEstimator(name, source string, timeout time.Duration) (*ScriptCostEstimator, error) {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	e := &ScriptCostEstimator{
		name:     name,
		source:   source,
		timeout:  timeout,
		maxSteps: DefaultMaxSteps,
	}

	if _, _, err := starlark.SourceProgram(name, source, e.isPredeclared); err != nil {
		return nil, fmt.Errorf("failed to compile cost script %s: %w", name, err)
	}
	return e, nil
}

// LoadScriptCostEstimator reads a script file.
func LoadScriptCostEstimator(path string, timeout time.Duration) (*ScriptCostEstimator, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read cost script: %w", err)
	}
	return NewScriptCostEstimator(path, string(data), timeout)
}

// Estimate runs the script for one target/candidate pair. The thread is
// cancelled when ctx ends or the timeout elapses.
func (e *ScriptCostEstimator) Estimate(ctx context.Context, target workflow.Target, candidate workflow.Candidate) (workflow.CostEstimate, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	predeclared, err := e.predeclared(target, candidate)
	if err != nil {
		return workflow.CostEstimate{}, err
	}

	thread := &starlark.Thread{
		Name:  "cost",
		Print: func(*starlark.Thread, string) {},
	}
	thread.SetMaxExecutionSteps(e.maxSteps)

	stop := context.AfterFunc(ctx, func() {
		thread.Cancel(ctx.Err().Error())
	})
	defer stop()

	globals, err := starlark.ExecFile(thread, e.name, e.source, predeclared)
	if err != nil {
		if ctx.Err() != nil {
			return workflow.CostEstimate{}, fmt.Errorf("cost script cancelled: %w", ctx.Err())
		}
		return workflow.CostEstimate{}, fmt.Errorf("cost script failed: %w", err)
	}

	return decodeEstimate(globals)
}

func (e *ScriptCostEstimator) isPredeclared(name string) bool {
	switch name {
	case "target", "candidate", "struct":
		return true
	}
	return false
}

func (e *ScriptCostEstimator) predeclared(target workflow.Target, candidate workflow.Candidate) (starlark.StringDict, error) {
	t, err := toStarlarkValue(map[string]interface{}{
		"id":         target.ID,
		"tenant_id":  target.TenantID,
		"value":      target.Value,
		"attributes": orEmpty(target.Attributes),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to convert target: %w", err)
	}
	c, err := toStarlarkValue(map[string]interface{}{
		"id":         candidate.ID,
		"attributes": orEmpty(candidate.Attributes),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to convert candidate: %w", err)
	}

	return starlark.StringDict{
		"target":    t,
		"candidate": c,
		"struct":    starlarkstruct.Default,
	}, nil
}

func decodeEstimate(globals starlark.StringDict) (workflow.CostEstimate, error) {
	var est workflow.CostEstimate

	raw, ok := globals["cost"]
	if !ok {
		return est, fmt.Errorf("cost script did not assign cost")
	}
	switch v := raw.(type) {
	case starlark.Float:
		est.Amount = float64(v)
	case starlark.Int:
		f, _ := starlark.AsFloat(v)
		est.Amount = f
	default:
		return est, fmt.Errorf("cost must be a number, got %s", raw.Type())
	}
	if math.IsNaN(est.Amount) || math.IsInf(est.Amount, 0) {
		return est, fmt.Errorf("cost is not finite")
	}

	if v, ok := globals["estimated"]; ok {
		b, isBool := v.(starlark.Bool)
		if !isBool {
			return est, fmt.Errorf("estimated must be a bool, got %s", v.Type())
		}
		est.IsEstimated = bool(b)
	}
	if v, ok := globals["basis"]; ok {
		if s, isStr := v.(starlark.String); isStr {
			est.Basis = string(s)
		}
	}
	if est.Basis == "" {
		est.Basis = "cost script"
	}
	return est, nil
}

func orEmpty(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}

// toStarlarkValue converts a Go value to a Starlark value.
func toStarlarkValue(v interface{}) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case time.Time:
		return starlark.String(val.Format(time.RFC3339)), nil
	case []string:
		list := make([]starlark.Value, len(val))
		for i, s := range val {
			list[i] = starlark.String(s)
		}
		return starlark.NewList(list), nil
	case []interface{}:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			sv, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = sv
		}
		return starlark.NewList(list), nil
	case map[string]interface{}:
		dict := starlark.NewDict(len(val))
		for k, item := range val {
			sv, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), sv); err != nil {
				return nil, err
			}
		}
		dict.Freeze()
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}
