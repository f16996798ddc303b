// Package policy decides which scenarios run, using a Rego policy.
package policy

import (
	"context"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/rego"
)

// Decisions
const (
	DecisionRun  = "run"
	DecisionSkip = "skip"
)

// Input is what the policy sees for one scenario.
type Input struct {
	Name string   `json:"name"`
	Tags []string `json:"tags"`
	Kind string   `json:"kind"`
}

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine compiles a policy module. The module must define data.conformance.decision,
// either as a string or as an object with decision and reason fields.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.conformance.decision"),
		rego.Module("conformance.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// LoadFile compiles the policy stored at path.
func LoadFile(ctx context.Context, path string) (*Engine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy %s: %w", path, err)
	}
	return NewEngine(ctx, string(data))
}

// Evaluate returns the decision for one scenario and an optional reason.
// An undefined decision means run.
func (e *Engine) Evaluate(ctx context.Context, input Input) (string, string, error) {
	if input.Tags == nil {
		input.Tags = []string{}
	}
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return "", "", fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return DecisionRun, "default", nil
	}

	switch v := results[0].Expressions[0].Value.(type) {
	case string:
		return normalize(v), "", nil
	case map[string]any:
		decision, _ := v["decision"].(string)
		reason, _ := v["reason"].(string)
		return normalize(decision), reason, nil
	default:
		return "", "", fmt.Errorf("policy returned %T, want string or object", v)
	}
}

func normalize(decision string) string {
	if decision == DecisionSkip {
		return DecisionSkip
	}
	return DecisionRun
}

// DefaultPolicy runs every scenario.
const DefaultPolicy = `
package conformance

default decision = "run"
`
