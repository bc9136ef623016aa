// Package risk implements the additive risk scorer for the gate. Scoring is
// deterministic: identical prompt, context, and configuration always yield
// the same assessment.
package risk

import (
	"fmt"
	"strings"

	"github.com/promptgate/promptgate/pkg/domain"
	"github.com/promptgate/promptgate/pkg/sanitize"
)

// Rule weights. Each rule independently contributes its fixed weight and a
// reason string; the total is clamped to 100.
const (
	weightInjection   = 40
	weightVeryLong    = 20
	weightLong        = 10
	weightKeyword     = 30
	weightEncoding    = 15
	weightRepeated    = 25
	weightSuspectIP   = 15
	weightRequestRate = 10

	veryLongPrompt = 10000
	longPrompt     = 5000
)

// Thresholds are the ascending score cutoffs that map a score to a level.
// The naming is historical: a score at or above High maps to CRITICAL, not
// HIGH. The numeric cutoffs and resulting levels are load-bearing for
// downstream consumers, so the mapping is preserved as-is.
type Thresholds struct {
	Low    int
	Medium int
	High   int
}

// DefaultThresholds returns the standard 30/60/80 cutoffs.
func DefaultThresholds() Thresholds {
	return Thresholds{Low: 30, Medium: 60, High: 80}
}

// Level maps a score to its risk level.
func (t Thresholds) Level(score int) domain.RiskLevel {
	switch {
	case score >= t.High:
		return domain.RiskCritical
	case score >= t.Medium:
		return domain.RiskHigh
	case score >= t.Low:
		return domain.RiskMedium
	default:
		return domain.RiskLow
	}
}

// Scorer produces risk assessments from prompt text and request context.
type Scorer struct {
	detector   *sanitize.Detector
	thresholds Thresholds
}

// NewScorer constructs a scorer over the given detector and thresholds.
func NewScorer(detector *sanitize.Detector, thresholds Thresholds) *Scorer {
	return &Scorer{detector: detector, thresholds: thresholds}
}

// Score computes the risk assessment for one prompt. Contributions are
// independent and additive; the total is clamped to [0, 100] and the level
// follows from the configured thresholds.
func (s *Scorer) Score(prompt string, rctx domain.RiskContext) domain.RiskAssessment {
	score := 0
	var reasons []string

	if findings := s.detector.Detect(prompt); len(findings) > 0 {
		score += weightInjection
		reasons = append(reasons, fmt.Sprintf("Prompt injection detected: %d pattern(s)", len(findings)))
	}

	switch {
	case len(prompt) > veryLongPrompt:
		score += weightVeryLong
		reasons = append(reasons, "Very long prompt (>10k chars)")
	case len(prompt) > longPrompt:
		score += weightLong
		reasons = append(reasons, "Long prompt (>5k chars)")
	}

	lower := strings.ToLower(prompt)
	if strings.Contains(lower, "jailbreak") || strings.Contains(lower, "bypass") {
		score += weightKeyword
		reasons = append(reasons, "Suspicious keywords detected")
	}

	if strings.Contains(prompt, "%") || strings.Contains(prompt, `\x`) || strings.Contains(prompt, `\u`) {
		score += weightEncoding
		reasons = append(reasons, "Potential encoding obfuscation")
	}

	if hasRepeatedPatterns(prompt) {
		score += weightRepeated
		reasons = append(reasons, "Repeated patterns detected (potential token abuse)")
	}

	if rctx.SuspiciousIP {
		score += weightSuspectIP
		reasons = append(reasons, "Suspicious IP address")
	}
	if rctx.HighRequestRate {
		score += weightRequestRate
		reasons = append(reasons, "High request rate")
	}

	if score > 100 {
		score = 100
	}

	return domain.RiskAssessment{
		Score:   score,
		Level:   s.thresholds.Level(score),
		Reasons: reasons,
	}
}

const (
	repeatWindowSize = 50
	repeatThreshold  = 3
	minRepeatScanLen = 100
)

// hasRepeatedPatterns flags prompts that look like repeated filler, a common
// token-abuse shape. It scans fixed 50-byte windows and flags the prompt
// when any window recurs more than three times in the text that follows it.
// This is a coarse heuristic, not exact repetition detection: a phrase
// longer than the window still trips it because the window re-occurs at the
// phrase period.
func hasRepeatedPatterns(prompt string) bool {
	if len(prompt) < minRepeatScanLen {
		return false
	}

	for i := 0; i+repeatWindowSize < len(prompt); i++ {
		window := prompt[i : i+repeatWindowSize]
		if strings.Count(prompt[i:], window) > repeatThreshold {
			return true
		}
	}
	return false
}
