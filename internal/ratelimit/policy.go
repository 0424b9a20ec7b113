// Package ratelimit implements per-domain admission control (C1):
// four interchangeable grant algorithms plus an adaptive feedback wrapper
// that scales the effective rate from observed success/failure outcomes.
package ratelimit

import "time"

// Algorithm names one of the four interchangeable grant strategies.
type Algorithm string

const (
	FixedWindow   Algorithm = "fixed_window"
	SlidingWindow Algorithm = "sliding_window"
	TokenBucket   Algorithm = "token_bucket"
	LeakyBucket   Algorithm = "leaky_bucket"
)

// Policy configures one domain's rate limiting. Rate (R) and Window (W) are
// interpreted per Algorithm: fixed/sliding window admit up to Rate*Window
// requests per Window; token/leaky bucket admit Burst at once and refill or
// drain at Rate per second.
type Policy struct {
	Algorithm Algorithm
	Rate      float64       // R: requests per second; fixed/sliding admit R*W per window
	Window    time.Duration // W: window size for fixed/sliding window
	Burst     int           // B: bucket capacity for token/leaky bucket

	// AdaptiveAlpha is the EMA smoothing factor for the success ratio.
	// Zero disables the adaptive wrapper (multiplier stays at 1.0).
	AdaptiveAlpha float64
	// AdaptiveConsecutive is N: the number of consecutive high-success
	// outcomes required before the rate multiplier is raised.
	AdaptiveConsecutive int
}

// DefaultPolicy is used for any domain with no explicit SetPolicy call.
func DefaultPolicy() Policy {
	return Policy{
		Algorithm:           TokenBucket,
		Rate:                5,
		Window:              time.Second,
		Burst:               10,
		AdaptiveAlpha:       0.2,
		AdaptiveConsecutive: 5,
	}
}
