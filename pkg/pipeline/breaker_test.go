package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptgate/promptgate/internal/governance"
	"github.com/promptgate/promptgate/pkg/domain"
)

func TestBreakerForwarderShedsLoadWhenOpen(t *testing.T) {
	calls := 0
	failing := ForwarderFunc(func(context.Context, string, *domain.PromptRequest) (string, error) {
		calls++
		return "", errors.New("backend down")
	})

	breaker := governance.NewBreaker(governance.BreakerConfig{MaxFailures: 2, Cooldown: time.Hour})
	fw := NewBreakerForwarder(failing, breaker)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := fw.Forward(ctx, "p", &domain.PromptRequest{})
		require.Error(t, err)
	}
	require.Equal(t, 2, calls)

	// The breaker is open now: the backend is no longer reached.
	_, err := fw.Forward(ctx, "p", &domain.PromptRequest{})
	assert.ErrorIs(t, err, governance.ErrUpstreamOpen)
	assert.Equal(t, 2, calls)
}

func TestBreakerForwarderPassesThroughOnSuccess(t *testing.T) {
	breaker := governance.NewBreaker(governance.BreakerConfig{})
	fw := NewBreakerForwarder(MockForwarder(), breaker)

	response, err := fw.Forward(context.Background(), "p", &domain.PromptRequest{})
	require.NoError(t, err)
	assert.Contains(t, response, "mock response")
	assert.Equal(t, governance.BreakerClosed, breaker.State())
}
