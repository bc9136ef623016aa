// Package pipeline sequences the security checks for one request: rate
// limiting, policy evaluation, sanitization, risk scoring, the final
// blocking decision, and the audit hand-off.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/promptgate/promptgate/internal/governance"
	"github.com/promptgate/promptgate/pkg/audit"
	"github.com/promptgate/promptgate/pkg/domain"
	"github.com/promptgate/promptgate/pkg/policy"
	"github.com/promptgate/promptgate/pkg/risk"
	"github.com/promptgate/promptgate/pkg/sanitize"
)

const (
	// blockScore is the score-based override: at or above it the request is
	// blocked regardless of the level the thresholds would assign.
	blockScore = 90

	rateLimitReason = "Rate limit exceeded"
)

// Forwarder is the downstream boundary invoked for requests that pass every
// check. How the LLM backend is reached is outside the gate; implementations
// receive the sanitized prompt and return the backend's response text.
type Forwarder interface {
	Forward(ctx context.Context, sanitizedPrompt string, req *domain.PromptRequest) (string, error)
}

// ForwarderFunc adapts a function to the Forwarder interface.
type ForwarderFunc func(ctx context.Context, sanitizedPrompt string, req *domain.PromptRequest) (string, error)

// Forward implements Forwarder.
func (f ForwarderFunc) Forward(ctx context.Context, sanitizedPrompt string, req *domain.PromptRequest) (string, error) {
	return f(ctx, sanitizedPrompt, req)
}

// MockForwarder stands in for the LLM backend during development and tests.
func MockForwarder() Forwarder {
	return ForwarderFunc(func(context.Context, string, *domain.PromptRequest) (string, error) {
		return "This is a mock response. In production, this would call the LLM API with the sanitized prompt.", nil
	})
}

// Gate orchestrates the decision pipeline. All dependencies are injected;
// the gate itself holds no mutable state, so one instance serves concurrent
// requests.
type Gate struct {
	limiter   *governance.RateLimiter
	evaluator *policy.Evaluator
	detector  *sanitize.Detector
	scorer    *risk.Scorer
	sink      *audit.Sink
	forwarder Forwarder
	logger    *slog.Logger
}

// NewGate wires the pipeline components together. A nil forwarder selects
// the mock responder.
func NewGate(
	limiter *governance.RateLimiter,
	evaluator *policy.Evaluator,
	detector *sanitize.Detector,
	scorer *risk.Scorer,
	sink *audit.Sink,
	forwarder Forwarder,
	logger *slog.Logger,
) *Gate {
	if forwarder == nil {
		forwarder = MockForwarder()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		limiter:   limiter,
		evaluator: evaluator,
		detector:  detector,
		scorer:    scorer,
		sink:      sink,
		forwarder: forwarder,
		logger:    logger,
	}
}

// Process runs the full decision pipeline for one request.
//
// Ordering and short-circuits: a rate-limit denial returns immediately with
// no further work and no audit record. A policy denial is audited at score
// 100/CRITICAL before returning. Everything that passes policy is sanitized,
// scored against the original prompt, decided, and audited unconditionally.
func (g *Gate) Process(ctx context.Context, req *domain.PromptRequest) (*domain.Decision, error) {
	requestID := uuid.NewString()
	metadata := map[string]any{
		"requestId": requestID,
		"model":     req.Model,
	}

	consumption := g.limiter.TryConsumeContext(ctx, req.Identity.Key, req.Identity.Plan)
	if !consumption.Consumed {
		g.logger.InfoContext(ctx, "request rate limited",
			"request_id", requestID,
			"user_id", req.Identity.Key)
		return &domain.Decision{
			Outcome:            domain.OutcomeRateLimited,
			RequestID:          requestID,
			Blocked:            true,
			BlockReason:        rateLimitReason,
			Timestamp:          time.Now().UTC(),
			RateLimitRemaining: consumption.Remaining,
			Metadata:           metadata,
		}, nil
	}

	policyResult := g.evaluator.Evaluate(req)
	if !policyResult.Allowed {
		g.logger.InfoContext(ctx, "request denied by policy",
			"request_id", requestID,
			"user_id", req.Identity.Key,
			"policy", policyResult.Policy,
			"reason", policyResult.Reason)
		g.sink.Record(&domain.AuditRecord{
			UserID:      req.Identity.Key,
			Endpoint:    req.Endpoint,
			Method:      req.Method,
			Prompt:      req.Prompt,
			RiskScore:   100,
			RiskLevel:   domain.RiskCritical,
			Blocked:     true,
			BlockReason: policyResult.Reason,
			IPAddress:   req.ClientIP,
			UserAgent:   req.UserAgent,
			Metadata:    metadata,
		})
		return &domain.Decision{
			Outcome:            domain.OutcomePolicyDenied,
			RequestID:          requestID,
			Blocked:            true,
			BlockReason:        policyResult.Reason,
			Timestamp:          time.Now().UTC(),
			RateLimitRemaining: consumption.Remaining,
			Metadata:           metadata,
		}, nil
	}

	sanitized := sanitize.Sanitize(req.Prompt)

	// Risk is scored over the original prompt so obfuscation removed by
	// sanitization still counts against the caller.
	assessment := g.scorer.Score(req.Prompt, riskContext(req))

	metadata["riskReasons"] = assessment.Reasons
	metadata["policy"] = policyResult.Policy

	blocked := assessment.Level == domain.RiskCritical || assessment.Score >= blockScore

	var blockReason string
	if blocked {
		blockReason = fmt.Sprintf("High risk score: %d", assessment.Score)
	}

	var response string
	if !blocked {
		var err error
		response, err = g.forwarder.Forward(ctx, sanitized, req)
		if err != nil {
			g.logger.ErrorContext(ctx, "forwarding failed",
				"request_id", requestID,
				"user_id", req.Identity.Key,
				"error", err)
			metadata["forwardError"] = err.Error()
			g.recordDecision(req, assessment, blocked, blockReason, sanitized, "", metadata)
			return nil, fmt.Errorf("forward request %s: %w", requestID, err)
		}
	}

	g.recordDecision(req, assessment, blocked, blockReason, sanitized, response, metadata)

	if blocked {
		g.logger.InfoContext(ctx, "request blocked on risk",
			"request_id", requestID,
			"user_id", req.Identity.Key,
			"risk_score", assessment.Score,
			"risk_level", assessment.Level)
	}

	return &domain.Decision{
		Outcome:            domain.OutcomeProcessed,
		RequestID:          requestID,
		SanitizedPrompt:    sanitized,
		Response:           response,
		RiskScore:          assessment.Score,
		RiskLevel:          assessment.Level,
		Blocked:            blocked,
		BlockReason:        blockReason,
		Timestamp:          time.Now().UTC(),
		RateLimitRemaining: consumption.Remaining,
		Metadata:           metadata,
	}, nil
}

func (g *Gate) recordDecision(
	req *domain.PromptRequest,
	assessment domain.RiskAssessment,
	blocked bool,
	blockReason string,
	sanitized string,
	response string,
	metadata map[string]any,
) {
	g.sink.Record(&domain.AuditRecord{
		UserID:          req.Identity.Key,
		Endpoint:        req.Endpoint,
		Method:          req.Method,
		Prompt:          req.Prompt,
		Response:        response,
		RiskScore:       assessment.Score,
		RiskLevel:       assessment.Level,
		Blocked:         blocked,
		BlockReason:     blockReason,
		SanitizedPrompt: sanitized,
		IPAddress:       req.ClientIP,
		UserAgent:       req.UserAgent,
		Metadata:        metadata,
	})
}

// riskContext derives scoring signals from the identity's plan and any
// caller-supplied flags.
func riskContext(req *domain.PromptRequest) domain.RiskContext {
	rctx := domain.RiskContext{UserPlan: req.Identity.Plan}
	if v, ok := req.Parameters["suspicious_ip"].(bool); ok {
		rctx.SuspiciousIP = v
	}
	if v, ok := req.Parameters["high_request_rate"].(bool); ok {
		rctx.HighRequestRate = v
	}
	return rctx
}
