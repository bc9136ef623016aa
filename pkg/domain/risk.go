package domain

// RiskLevel is the ordered category derived from a numeric risk score.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// RiskAssessment is the scorer's verdict for one prompt. Score is always in
// [0, 100] and Level is a deterministic function of Score and the configured
// thresholds. Created once per request, never mutated.
type RiskAssessment struct {
	Score   int
	Level   RiskLevel
	Reasons []string
}

// RiskContext carries request-scoped signals the scorer consumes alongside
// the prompt text.
type RiskContext struct {
	UserPlan        string
	SuspiciousIP    bool
	HighRequestRate bool
}
