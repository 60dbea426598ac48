package validate

import (
	"context"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/v1/rego"
)

// RegoQuery is the package a Rego module must declare. The package may define
// a boolean allow rule and a deny set of string reasons; any deny reason
// fails the check, and otherwise allow must be true.
const RegoQuery = "data.policyrelease"

// regoInput is the document a Rego module sees as input.
type regoInput struct {
	Name        string         `json:"name"`
	Version     string         `json:"version"`
	ContentHash string         `json:"contentHash"`
	Metadata    map[string]any `json:"metadata"`
	Files       []string       `json:"files"`
}

type regoRule struct {
	query rego.PreparedEvalQuery
}

// compileRego prepares a Rego module for evaluation.
func compileRego(ctx context.Context, source string) (*regoRule, error) {
	query, err := rego.New(
		rego.Query(RegoQuery),
		rego.Module("policyrelease.rego", source),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: compile rego: %v", ErrInvalidConfig, err)
	}
	return &regoRule{query: query}, nil
}

func loadRego(ctx context.Context, cfg *Config) (*regoRule, error) {
	source := cfg.RegoPolicy
	if cfg.RegoPolicyFile != "" {
		data, err := os.ReadFile(cfg.RegoPolicyFile)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		source = string(data)
	}
	if source == "" {
		return nil, nil
	}
	return compileRego(ctx, source)
}

// eval returns the deny reasons for in. A result that neither allows nor
// gives reasons is a denial.
func (r *regoRule) eval(ctx context.Context, in regoInput) ([]string, error) {
	results, err := r.query.Eval(ctx, rego.EvalInput(in))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRegoEvaluation, err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return nil, fmt.Errorf("%w: %s is undefined", ErrRegoEvaluation, RegoQuery)
	}
	result, ok := results[0].Expressions[0].Value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected result type", ErrRegoEvaluation)
	}

	if reasons := denyReasons(result); len(reasons) > 0 {
		return reasons, nil
	}
	if allowed, ok := result["allow"].(bool); ok && allowed {
		return nil, nil
	}
	return []string{"denied by rule"}, nil
}

func denyReasons(result map[string]any) []string {
	denySet, ok := result["deny"].([]any)
	if !ok {
		return nil
	}
	var reasons []string
	for _, d := range denySet {
		if reason, ok := d.(string); ok {
			reasons = append(reasons, reason)
		} else {
			reasons = append(reasons, fmt.Sprint(d))
		}
	}
	return reasons
}
