package domain

// MaxPromptLength is the hard upper bound on prompt size accepted at the
// boundary, independent of any per-policy limit.
const MaxPromptLength = 16000

// Identity describes the authenticated caller handed to the pipeline by the
// boundary layer. The pipeline never issues or validates credentials; it only
// consumes the resolved identity.
type Identity struct {
	// Key uniquely identifies the caller (API key subject or account email).
	Key string
	// Plan is the caller's plan tier ("free", "premium", "enterprise", ...).
	// Unrecognised tiers fall back to the default rate limit.
	Plan string
}

// PromptRequest is one validated inbound request. It is immutable once
// constructed; the boundary layer builds it from validated client input.
type PromptRequest struct {
	Identity   Identity
	Prompt     string
	Model      string
	Policy     string
	Parameters map[string]any
	Metadata   map[string]string

	// Endpoint, Method, ClientIP, and UserAgent are captured for audit only.
	Endpoint  string
	Method    string
	ClientIP  string
	UserAgent string
}
