package domain

import "time"

// Outcome distinguishes which stage settled a decision. The HTTP boundary
// maps it to a status code; it is not part of the response body.
type Outcome string

const (
	// OutcomeProcessed covers completed risk decisions, blocked or not.
	OutcomeProcessed Outcome = "processed"
	// OutcomeRateLimited marks a rate limiter denial.
	OutcomeRateLimited Outcome = "rate_limited"
	// OutcomePolicyDenied marks a policy evaluation denial.
	OutcomePolicyDenied Outcome = "policy_denied"
)

// Decision is the pipeline's final verdict for one request, suitable for
// serialization as the HTTP response body.
type Decision struct {
	Outcome            Outcome        `json:"-"`
	RequestID          string         `json:"requestId"`
	SanitizedPrompt    string         `json:"sanitizedPrompt,omitempty"`
	Response           string         `json:"response,omitempty"`
	RiskScore          int            `json:"riskScore"`
	RiskLevel          RiskLevel      `json:"riskLevel,omitempty"`
	Blocked            bool           `json:"blocked"`
	BlockReason        string         `json:"blockReason,omitempty"`
	Timestamp          time.Time      `json:"timestamp"`
	RateLimitRemaining int64          `json:"-"`
	Metadata           map[string]any `json:"metadata,omitempty"`
}
