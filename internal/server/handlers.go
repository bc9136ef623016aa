package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/promptgate/promptgate/internal/governance"
	"github.com/promptgate/promptgate/pkg/audit"
	"github.com/promptgate/promptgate/pkg/domain"
)

// promptRequestBody is the wire shape of the secure-prompt endpoint.
type promptRequestBody struct {
	Prompt     string            `json:"prompt"`
	Model      string            `json:"model,omitempty"`
	Policy     string            `json:"policy,omitempty"`
	Parameters map[string]any    `json:"parameters,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

func (s *Server) handleSecurePrompt(w http.ResponseWriter, r *http.Request, identity domain.Identity) {
	var body promptRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "INVALID_BODY", "request body must be valid JSON", "")
		return
	}

	if strings.TrimSpace(body.Prompt) == "" {
		s.writeError(w, http.StatusBadRequest, "PROMPT_REQUIRED", "prompt is required", "")
		return
	}
	if len(body.Prompt) > domain.MaxPromptLength {
		s.writeError(w, http.StatusBadRequest, "PROMPT_TOO_LARGE",
			"prompt must not exceed "+strconv.Itoa(domain.MaxPromptLength)+" characters", "")
		return
	}

	req := &domain.PromptRequest{
		Identity:   identity,
		Prompt:     body.Prompt,
		Model:      body.Model,
		Policy:     body.Policy,
		Parameters: body.Parameters,
		Metadata:   body.Metadata,
		Endpoint:   r.URL.Path,
		Method:     r.Method,
		ClientIP:   clientIP(r),
		UserAgent:  r.UserAgent(),
	}

	decision, err := s.currentGate().Process(r.Context(), req)
	if err != nil {
		// Full context goes to the log; the caller gets a generic body.
		s.logger.ErrorContext(r.Context(), "pipeline failed", "error", err)
		if errors.Is(err, governance.ErrUpstreamOpen) {
			s.writeError(w, http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", "backend temporarily unavailable", "")
			return
		}
		s.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "request could not be processed", "")
		return
	}

	reset := decision.Timestamp.Add(s.rateLimitWindow())

	switch decision.Outcome {
	case domain.OutcomeRateLimited:
		s.metrics.RecordRateLimitDenial()
		governance.WriteRateLimitHeaders(w, decision.RateLimitRemaining, reset)
		s.writeJSON(w, http.StatusTooManyRequests, decision)

	case domain.OutcomePolicyDenied:
		s.metrics.RecordPolicyDenial()
		s.writeJSON(w, http.StatusForbidden, decision)

	default:
		s.metrics.RecordDecision(string(decision.Outcome), decision.RiskScore)
		governance.WriteRateLimitHeaders(w, decision.RateLimitRemaining, reset)
		w.Header().Set("X-Risk-Score", strconv.Itoa(decision.RiskScore))
		s.writeJSON(w, http.StatusOK, decision)
	}
}

func (s *Server) handleAuditLogs(w http.ResponseWriter, r *http.Request, identity domain.Identity) {
	q := audit.Query{Limit: 20}

	params := r.URL.Query()
	if v := params.Get("startDate"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "INVALID_RANGE", "startDate must be RFC 3339", "")
			return
		}
		q.Start = t
	}
	if v := params.Get("endDate"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "INVALID_RANGE", "endDate must be RFC 3339", "")
			return
		}
		q.End = t
	}
	if v := params.Get("size"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			q.Limit = n
		}
	}
	if v := params.Get("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			q.Offset = n * q.Limit
		}
	}

	records, err := s.store.ListByUser(r.Context(), identity.Key, q)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "audit listing failed", "error", err, "user_id", identity.Key)
		s.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "audit logs unavailable", "")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"records": records,
		"count":   len(records),
	})
}

// defaultStatsThreshold is the HIGH cutoff of the default risk thresholds.
const defaultStatsThreshold = 60

// handleAuditStats summarises the caller's audit trail for compliance
// reporting: how many of their requests scored at or above a risk threshold.
func (s *Server) handleAuditStats(w http.ResponseWriter, r *http.Request, identity domain.Identity) {
	threshold := defaultStatsThreshold
	if v := r.URL.Query().Get("threshold"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > 100 {
			s.writeError(w, http.StatusBadRequest, "INVALID_THRESHOLD",
				"threshold must be an integer between 0 and 100", "")
			return
		}
		threshold = n
	}

	count, err := s.store.CountHighRisk(r.Context(), identity.Key, threshold)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "audit stats failed", "error", err, "user_id", identity.Key)
		s.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "audit stats unavailable", "")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"threshold":     threshold,
		"highRiskCount": count,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, message, requestID string) {
	s.writeJSON(w, status, domain.ErrorResponse{
		Code:      code,
		Message:   message,
		RequestID: requestID,
	})
}

// clientIP extracts the originating address, preferring forwarding headers
// set by upstream proxies.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	return r.RemoteAddr
}
