package pipeline

import (
	"context"

	"github.com/promptgate/promptgate/internal/governance"
	"github.com/promptgate/promptgate/pkg/domain"
)

// NewBreakerForwarder wraps a forwarder with circuit breaking so a failing
// LLM backend sheds load fast instead of holding every request until its
// timeout. Calls rejected by the breaker fail with
// governance.ErrUpstreamOpen.
func NewBreakerForwarder(inner Forwarder, breaker *governance.Breaker) Forwarder {
	return ForwarderFunc(func(ctx context.Context, sanitizedPrompt string, req *domain.PromptRequest) (string, error) {
		if err := breaker.Allow(); err != nil {
			return "", err
		}
		response, err := inner.Forward(ctx, sanitizedPrompt, req)
		breaker.Observe(err)
		return response, err
	})
}
