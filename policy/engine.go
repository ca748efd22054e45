// Package policy evaluates the admission policy for inbound submissions.
package policy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
)

// Decision values returned by the policy.
const (
	DecisionAllow = "allow"
	DecisionBlock = "block"
)

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a new policy engine with the given policy content.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.message_policy.decision"),
		rego.Module("message_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// SubmissionInput is the policy input for one inbound submission.
type SubmissionInput struct {
	Channel       string `json:"channel"`
	Content       string `json:"content"`
	ContentLength int    `json:"content_length"`
}

// Evaluate checks the admission policy for a submission. Returns "allow" or
// "block".
func (e *Engine) Evaluate(ctx context.Context, input SubmissionInput) (string, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return "", fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		// The policy defines a default; an empty result means the module is
		// broken, not that the message is fine.
		return "", fmt.Errorf("policy returned no decision")
	}

	if s, ok := results[0].Expressions[0].Value.(string); ok {
		return s, nil
	}
	return "", fmt.Errorf("policy returned unexpected type %T", results[0].Expressions[0].Value)
}

// DefaultPolicy is the default policy content. Shape validation happens
// before the policy runs; this layer holds the content rules operators may
// want to tighten without a redeploy.
const DefaultPolicy = `
package message_policy

import rego.v1

default decision := "allow"

# Block zero-width flooding: content that is all whitespace
decision := "block" if {
	trim_space(input.content) == ""
}

# Block prompt-injection attempts at the scenario boundary
decision := "block" if {
	contains(lower(input.content), "ignore all previous instructions")
}
`
