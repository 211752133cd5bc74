// Package retry provides the shared transient-failure classifier and
// exponential-backoff primitive used by every SmartThings API call.
//
// Only transient failures are retried: network-layer errors (timeouts,
// connection resets, refused connections, DNS failures), HTTP 429, and
// HTTP 5xx responses. Everything else fails on the first attempt.
//
// The delay before attempt k (0-indexed) is
// min(MaxDelay, InitialDelay * Multiplier^k), scaled by a uniform random
// factor in [0,1) when jitter is enabled.
package retry
