package governance

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errUpstream = errors.New("upstream failed")

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	b := NewBreaker(BreakerConfig{MaxFailures: 3, Cooldown: time.Hour})

	for i := 0; i < 3; i++ {
		require.NoError(t, b.Allow())
		b.Observe(errUpstream)
	}

	assert.Equal(t, BreakerOpen, b.State())
	assert.ErrorIs(t, b.Allow(), ErrUpstreamOpen)
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker(BreakerConfig{MaxFailures: 2, Cooldown: time.Hour})

	require.NoError(t, b.Allow())
	b.Observe(errUpstream)
	require.NoError(t, b.Allow())
	b.Observe(nil)
	require.NoError(t, b.Allow())
	b.Observe(errUpstream)

	// One failure, a success, then one failure: never two in a row.
	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreakerProbesAfterCooldown(t *testing.T) {
	b := NewBreaker(BreakerConfig{MaxFailures: 1, Cooldown: 10 * time.Millisecond, MaxProbes: 2})

	require.NoError(t, b.Allow())
	b.Observe(errUpstream)
	require.Equal(t, BreakerOpen, b.State())

	require.Eventually(t, func() bool {
		return b.Allow() == nil
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, BreakerHalfOpen, b.State())

	// The second probe is admitted; a third is not.
	require.NoError(t, b.Allow())
	assert.ErrorIs(t, b.Allow(), ErrUpstreamOpen)

	// Both probes succeeding closes the breaker.
	b.Observe(nil)
	b.Observe(nil)
	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreakerReopensOnFailedProbe(t *testing.T) {
	b := NewBreaker(BreakerConfig{MaxFailures: 1, Cooldown: 10 * time.Millisecond, MaxProbes: 3})

	require.NoError(t, b.Allow())
	b.Observe(errUpstream)

	require.Eventually(t, func() bool {
		return b.Allow() == nil
	}, time.Second, 5*time.Millisecond)

	b.Observe(errUpstream)
	assert.Equal(t, BreakerOpen, b.State())
	assert.ErrorIs(t, b.Allow(), ErrUpstreamOpen)
}

func TestBreakerReset(t *testing.T) {
	b := NewBreaker(BreakerConfig{MaxFailures: 1, Cooldown: time.Hour})

	require.NoError(t, b.Allow())
	b.Observe(errUpstream)
	require.Equal(t, BreakerOpen, b.State())

	b.Reset()
	assert.Equal(t, BreakerClosed, b.State())
	assert.NoError(t, b.Allow())
}
