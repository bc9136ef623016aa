package governance

import (
	"errors"
	"sync"
	"time"
)

// ErrUpstreamOpen is returned while the breaker is rejecting calls.
var ErrUpstreamOpen = errors.New("upstream circuit open")

// BreakerState names the breaker's current mode.
type BreakerState string

const (
	// BreakerClosed passes calls through and counts failures.
	BreakerClosed BreakerState = "closed"
	// BreakerOpen rejects calls until the cooldown elapses.
	BreakerOpen BreakerState = "open"
	// BreakerHalfOpen admits a limited number of probe calls.
	BreakerHalfOpen BreakerState = "half-open"
)

// BreakerConfig tunes the upstream breaker.
type BreakerConfig struct {
	// MaxFailures is the consecutive failure count that opens the breaker.
	MaxFailures int
	// Cooldown is how long the breaker stays open before probing.
	Cooldown time.Duration
	// MaxProbes is how many half-open calls may run before the breaker
	// forces a verdict: close on that many successes, reopen on any failure.
	MaxProbes int
}

// Breaker shields the downstream LLM boundary from a failing backend. It
// trips on consecutive failures, rejects calls for a cooldown period, then
// probes with a bounded number of requests before closing again.
type Breaker struct {
	mu     sync.Mutex
	config BreakerConfig

	state     BreakerState
	failures  int
	successes int
	probes    int
	openUntil time.Time
}

// NewBreaker creates a breaker, filling unset fields with defaults.
func NewBreaker(config BreakerConfig) *Breaker {
	if config.MaxFailures <= 0 {
		config.MaxFailures = 5
	}
	if config.Cooldown <= 0 {
		config.Cooldown = 30 * time.Second
	}
	if config.MaxProbes <= 0 {
		config.MaxProbes = 3
	}
	return &Breaker{config: config, state: BreakerClosed}
}

// Allow reports whether a call may proceed right now. Callers that proceed
// must report the result through Observe.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if time.Now().Before(b.openUntil) {
			return ErrUpstreamOpen
		}
		b.transition(BreakerHalfOpen)
		b.probes++
		return nil
	case BreakerHalfOpen:
		if b.probes >= b.config.MaxProbes {
			return ErrUpstreamOpen
		}
		b.probes++
		return nil
	default:
		return nil
	}
}

// Observe records the outcome of a call admitted by Allow.
func (b *Breaker) Observe(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		b.failures++
		b.successes = 0
		if b.state == BreakerHalfOpen || b.failures >= b.config.MaxFailures {
			b.transition(BreakerOpen)
			b.openUntil = time.Now().Add(b.config.Cooldown)
		}
		return
	}

	b.successes++
	b.failures = 0
	if b.state == BreakerHalfOpen && b.successes >= b.config.MaxProbes {
		b.transition(BreakerClosed)
	}
}

// State returns the breaker's current mode.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset forces the breaker closed and clears its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transition(BreakerClosed)
	b.openUntil = time.Time{}
}

func (b *Breaker) transition(next BreakerState) {
	if b.state == next {
		return
	}
	b.state = next
	b.failures = 0
	b.successes = 0
	b.probes = 0
}
