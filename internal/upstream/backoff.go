package upstream

import (
	"math/rand/v2"
	"time"
)

// Backoff computes the sleep before retry number attempt (0-based):
// min(cap, base * 2^attempt), jittered into the [0.5, 1.0) range of the
// exponential value so concurrent retriers spread out instead of
// stampeding in lockstep.
//
// jitter must return a value in [0.0, 1.0); pass nil to use the global
// math/rand/v2 source.
func Backoff(attempt int, base, cap time.Duration, jitter func() float64) time.Duration {
	if jitter == nil {
		jitter = rand.Float64
	}

	expo := base << uint(attempt)
	// Guard against shift overflow for large attempt counts.
	if expo > cap || expo < base {
		expo = cap
	}
	return time.Duration(float64(expo) * (0.5 + jitter()*0.5))
}
