package domain

import "strings"

// PolicyRule is a named bundle of request constraints loaded from
// configuration. Rules are typed and validated at load time; a malformed
// rule is rejected eagerly instead of failing per-request.
type PolicyRule struct {
	// MaxPromptLength caps the prompt size for this policy. Zero means the
	// policy imposes no length limit of its own.
	MaxPromptLength int `yaml:"max-prompt-length" json:"max-prompt-length"`
	// AllowExternalAPIs permits requests that name any model.
	AllowExternalAPIs bool `yaml:"allow-external-apis" json:"allow-external-apis"`
	// AllowedDomains lists model-name substrings permitted when external API
	// access is disabled. The wildcard "*" permits every model.
	AllowedDomains []string `yaml:"allowed-domains" json:"allowed-domains"`
}

// AllowsModel reports whether the rule permits the given model name.
// Matching is a case-insensitive substring check against AllowedDomains,
// with "*" acting as a wildcard.
func (r PolicyRule) AllowsModel(model string) bool {
	if model == "" {
		return false
	}
	lower := strings.ToLower(model)
	for _, domain := range r.AllowedDomains {
		if domain == "*" {
			return true
		}
		if strings.Contains(lower, strings.ToLower(domain)) {
			return true
		}
	}
	return false
}

// PolicyResult is the evaluator's verdict for one request. Allowed is true
// iff Violations is empty; Reason joins the violations with "; " when denied.
type PolicyResult struct {
	Allowed    bool
	Violations []string
	Policy     string
	Reason     string
}
