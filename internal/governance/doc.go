// Package governance coordinates runtime safety controls for the gate,
// centred on per-identity token bucket rate limiting.
//
// Buckets are keyed by caller identity, sized from the caller's plan tier,
// and refilled in full at each window boundary. An optional janitor evicts
// idle buckets so the identity map stays bounded under many distinct
// callers.
//
// The package also carries the circuit breaker that shields the downstream
// LLM boundary, and helpers that surface rate limit state to the HTTP layer.
package governance
