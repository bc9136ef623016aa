// Package policy evaluates inbound requests against the named, typed policy
// rule table loaded from configuration.
package policy

import (
	"fmt"
	"strings"

	"github.com/promptgate/promptgate/pkg/domain"
)

// Evaluator resolves and applies named policy rules. The rule table is
// immutable after construction; configuration reload constructs a fresh
// evaluator rather than mutating a live one.
type Evaluator struct {
	defaultPolicy string
	policies      map[string]domain.PolicyRule
}

// NewEvaluator builds an evaluator over the given rule table. The table is
// copied so later mutation of the caller's map cannot race evaluation.
func NewEvaluator(defaultPolicy string, policies map[string]domain.PolicyRule) *Evaluator {
	table := make(map[string]domain.PolicyRule, len(policies))
	for name, rule := range policies {
		table[name] = rule
	}
	return &Evaluator{defaultPolicy: defaultPolicy, policies: table}
}

// Evaluate checks the request against its named policy, falling back to the
// configured default. An unresolvable policy degrades to deny rather than
// failing the pipeline.
func (e *Evaluator) Evaluate(req *domain.PromptRequest) domain.PolicyResult {
	policyName := req.Policy
	if policyName == "" {
		policyName = e.defaultPolicy
	}

	rule, ok := e.policies[policyName]
	if !ok {
		rule, ok = e.policies[e.defaultPolicy]
	}
	if !ok {
		reason := fmt.Sprintf("Policy not found: %s", policyName)
		return domain.PolicyResult{
			Allowed:    false,
			Violations: []string{reason},
			Policy:     policyName,
			Reason:     reason,
		}
	}

	var violations []string

	if rule.MaxPromptLength > 0 && len(req.Prompt) > rule.MaxPromptLength {
		violations = append(violations, fmt.Sprintf(
			"Prompt length (%d) exceeds maximum (%d)", len(req.Prompt), rule.MaxPromptLength))
	}

	if !rule.AllowExternalAPIs && req.Model != "" {
		if !rule.AllowsModel(req.Model) {
			violations = append(violations, fmt.Sprintf(
				"External API access not allowed for model: %s", req.Model))
		}
	}

	result := domain.PolicyResult{
		Allowed:    len(violations) == 0,
		Violations: violations,
		Policy:     policyName,
	}
	if !result.Allowed {
		result.Reason = strings.Join(violations, "; ")
	}
	return result
}
