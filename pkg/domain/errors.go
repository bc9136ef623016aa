package domain

// ErrorResponse is the JSON error model returned by the HTTP boundary. Code
// is machine-readable and stable; Message is safe to show to clients.
// RequestID carries the correlation id so server-side logs can be matched to
// a client report.
type ErrorResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}
