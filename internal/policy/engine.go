// Package policy evaluates outbound dialing rules with OPA.
//
// Every call placement runs through the dial policy first, so operators can
// block number ranges (premium rate, satellite) without touching code. The
// policy is plain Rego; a custom one can be supplied via POLICY_PATH.
package policy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/v1/rego"
)

// Decisions the dial policy can return.
const (
	DecisionAllow = "allow"
	DecisionDeny  = "deny"
)

// Engine holds a prepared query over the dial policy.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine compiles the given policy content and prepares the decision query.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.dial_policy.decision"),
		rego.Module("dial_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// Evaluate checks whether the given destination may be dialed.
// A policy that yields no result counts as allow.
func (e *Engine) Evaluate(ctx context.Context, phone string) (string, error) {
	input := map[string]interface{}{
		"phone": phone,
	}

	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return "", fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return DecisionAllow, nil
	}

	if s, ok := results[0].Expressions[0].Value.(string); ok {
		return s, nil
	}

	return DecisionAllow, nil
}

// DefaultPolicy is the policy used when no POLICY_PATH is configured. It
// blocks the number ranges that rack up carrier charges and allows the rest.
const DefaultPolicy = `
package dial_policy

default decision := "allow"

# US premium rate (1-900).
decision := "deny" if {
	startswith(input.phone, "+1900")
}

# UK premium rate (09xx band).
decision := "deny" if {
	startswith(input.phone, "+449")
}

# International premium rate service.
decision := "deny" if {
	startswith(input.phone, "+979")
}

# Satellite networks bill by the minute at absurd rates.
decision := "deny" if {
	startswith(input.phone, "+881")
}

decision := "deny" if {
	startswith(input.phone, "+882")
}
`
