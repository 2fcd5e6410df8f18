// Package backoff implements the full-jitter exponential delay shared by
// the recovery scheduler's probe interval and any retry path that needs
// it. The growth shape (base * 2^retry_count, capped) mirrors
// github.com/cenkalti/backoff/v5's exponential policy and
// marcus-qen-legator's resolvedRetryPolicy.nextRetryDelay, but this
// package only computes a delay — it never owns a sleep loop, so the
// caller keeps control of shutdown.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Calculate returns a delay for the given retry_count using the full
// jitter algorithm: d = min(cap, base * 2^retry_count); return
// uniform(0, d). Full jitter is used over half-jitter or no-jitter
// because it is the cheapest contention-avoidance scheme and dominates
// the alternatives at preventing retry synchronization across callers.
//
// If rng is nil, the package-level math/rand source is used. Tests that
// need determinism should pass rand.New(rand.NewSource(seed)).
func Calculate(retryCount int, base, cap time.Duration, rng *rand.Rand) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	if base <= 0 {
		return 0
	}

	ceiling := ceilingDelay(retryCount, base, cap)
	if ceiling <= 0 {
		return 0
	}

	if rng != nil {
		return time.Duration(rng.Int63n(int64(ceiling) + 1))
	}
	return time.Duration(rand.Int63n(int64(ceiling) + 1))
}

// ceilingDelay computes min(cap, base*2^retryCount) without overflowing
// for large retry counts.
func ceilingDelay(retryCount int, base, cap time.Duration) time.Duration {
	// Clamp the exponent so 2^exponent never overflows float64 precision
	// in a way that matters once it's already far past any sane cap.
	exponent := retryCount
	if exponent > 62 {
		exponent = 62
	}
	multiplier := math.Pow(2, float64(exponent))
	d := time.Duration(float64(base) * multiplier)
	if d <= 0 {
		// overflow or zero growth; treat as "already at cap"
		d = cap
	}
	if cap > 0 && d > cap {
		d = cap
	}
	return d
}
