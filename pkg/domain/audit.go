package domain

import "time"

// AuditRecord is an immutable account of one security decision, persisted for
// compliance review. Records are append-only and never updated after
// creation. The audit sink owns the record once handed off and assigns
// Timestamp exactly once, at persistence time.
type AuditRecord struct {
	UserID          string         `json:"userId"`
	Endpoint        string         `json:"endpoint"`
	Method          string         `json:"method"`
	Prompt          string         `json:"prompt"`
	Response        string         `json:"response,omitempty"`
	RiskScore       int            `json:"riskScore"`
	RiskLevel       RiskLevel      `json:"riskLevel"`
	Blocked         bool           `json:"blocked"`
	BlockReason     string         `json:"blockReason,omitempty"`
	SanitizedPrompt string         `json:"sanitizedPrompt,omitempty"`
	IPAddress       string         `json:"ipAddress,omitempty"`
	UserAgent       string         `json:"userAgent,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	Timestamp       time.Time      `json:"timestamp"`
}
