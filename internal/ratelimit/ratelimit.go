// Package ratelimit implements the graduated rate limiter (RL): a linear
// ramp, a single-token bucket, and an error-rate-adaptive backoff,
// composed to avoid re-crashing a downstream that has just recovered
// from an outage. It is a small struct guarded by an explicit
// sync.Mutex, with state computed lazily on each call rather than
// driven by a background goroutine, so callers can't observe it
// between ticks of a timer they don't control.
package ratelimit

import (
	"sync"
	"time"

	"github.com/yungbote/syncqueue/internal/filestate"
)

// Config holds RL's tunable parameters.
type Config struct {
	InitialRate       float64
	TargetRate        float64
	RampDuration      time.Duration
	BucketCapacity    float64
	ErrorWindow       time.Duration
	ErrorRateHigh     float64
	ErrorRateLow      float64
	DegradedBackoff   time.Duration
	DegradedMultiplier float64
}

// DefaultConfig returns sane defaults for the rate limiter.
func DefaultConfig() Config {
	return Config{
		InitialRate:        5,
		TargetRate:         20,
		RampDuration:        300 * time.Second,
		BucketCapacity:      1.0,
		ErrorWindow:         60 * time.Second,
		ErrorRateHigh:       0.30,
		ErrorRateLow:        0.10,
		DegradedBackoff:     60 * time.Second,
		DegradedMultiplier:  0.5,
	}
}

type outcome struct {
	at      time.Time
	success bool
}

// persisted is the durable sliver of RL's state. Only recovery_started_at
// needs to survive a restart; tokens, the error window, and
// rate_multiplier are in-memory —
// restarting mid-ramp and losing a few seconds of ramp progress is an
// acceptable approximation, but losing track of whether a ramp is active
// at all would leave a freshly-restarted host hammering a downstream
// that JUST recovered.
type persisted struct {
	RecoveryStartedAt time.Time `json:"recovery_started_at"`
}

// Limiter is the graduated rate limiter.
type Limiter struct {
	mu    sync.Mutex
	cfg   Config
	store *filestate.Store

	p                 persisted
	tokens            float64
	lastRefill        time.Time
	rateMultiplier    float64
	degradedUntil     time.Time
	window            []outcome
}

// Open constructs a Limiter, restoring recovery_started_at from
// statePath if a ramp was active when the process last stopped.
func Open(statePath string, cfg Config) (*Limiter, error) {
	store := filestate.New(statePath)
	var p persisted
	if err := store.Load(&p); err != nil {
		p = persisted{}
	}
	return &Limiter{
		cfg:            cfg,
		store:          store,
		p:              p,
		rateMultiplier: 1.0,
	}, nil
}

// IsInRecovery reports whether a ramp is currently active:
// now - recovery_started_at < ramp_duration.
func (l *Limiter) IsInRecovery(now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.isInRecoveryLocked(now)
}

func (l *Limiter) isInRecoveryLocked(now time.Time) bool {
	if l.p.RecoveryStartedAt.IsZero() {
		return false
	}
	return now.Sub(l.p.RecoveryStartedAt) < l.cfg.RampDuration
}

// StartRecoveryPeriod resets tokens and marks the ramp as started at
// now. Idempotent: calling it again while already in recovery keeps the
// original start time; it only resets the in-memory state (tokens,
// rate multiplier, degraded backoff, and error window).
func (l *Limiter) StartRecoveryPeriod(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.isInRecoveryLocked(now) {
		l.p.RecoveryStartedAt = now
		_ = l.store.Save(&l.p)
	}
	l.tokens = l.cfg.BucketCapacity
	l.lastRefill = now
	l.rateMultiplier = 1.0
	l.degradedUntil = time.Time{}
	l.window = nil
}

// EndRecoveryPeriod clears all ramp and limiter state, returning RL to
// its pass-through (should_wait == 0) mode.
func (l *Limiter) EndRecoveryPeriod() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.p.RecoveryStartedAt = time.Time{}
	_ = l.store.Save(&l.p)
	l.tokens = 0
	l.rateMultiplier = 1.0
	l.degradedUntil = time.Time{}
	l.window = nil
}

// rampRateLocked computes the linearly interpolated ramp rate at time now.
func (l *Limiter) rampRateLocked(now time.Time) float64 {
	if l.p.RecoveryStartedAt.IsZero() {
		return l.cfg.TargetRate
	}
	elapsed := now.Sub(l.p.RecoveryStartedAt)
	frac := float64(elapsed) / float64(l.cfg.RampDuration)
	if frac > 1 {
		frac = 1
	}
	if frac < 0 {
		frac = 0
	}
	return l.cfg.InitialRate + (l.cfg.TargetRate-l.cfg.InitialRate)*frac
}

// CurrentRate reports the effective throughput at now, in jobs per
// second, for status/metrics reporting. Outside recovery this is
// TargetRate; the config's unlimited steady-state rate.
func (l *Limiter) CurrentRate(now time.Time) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.isInRecoveryLocked(now) {
		return l.cfg.TargetRate
	}
	return l.rampRateLocked(now) * l.rateMultiplier
}

// ShouldWait returns the number of seconds the caller must wait before
// it may proceed. Outside recovery it always returns 0. Inside
// recovery, it refills the token bucket at rate(t)*rate_multiplier and
// consumes one token if available.
func (l *Limiter) ShouldWait(now time.Time) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.isInRecoveryLocked(now) {
		return 0
	}

	l.maybeAdjustBackoffLocked(now)

	effectiveRate := l.rampRateLocked(now) * l.rateMultiplier
	if effectiveRate <= 0 {
		effectiveRate = 0.01
	}

	if l.lastRefill.IsZero() {
		l.lastRefill = now
	}
	elapsed := now.Sub(l.lastRefill).Seconds()
	if elapsed > 0 {
		l.tokens += elapsed * effectiveRate
		if l.tokens > l.cfg.BucketCapacity {
			l.tokens = l.cfg.BucketCapacity
		}
		l.lastRefill = now
	}

	if l.tokens >= 1 {
		l.tokens -= 1
		return 0
	}
	return (1 - l.tokens) / effectiveRate
}

// RecordResult appends a success/failure outcome to the sliding window,
// prunes entries older than ErrorWindow, and adjusts rate_multiplier
// based on the error rate observed in that window.
func (l *Limiter) RecordResult(success bool, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.window = append(l.window, outcome{at: now, success: success})
	l.pruneWindowLocked(now)
	l.maybeAdjustBackoffLocked(now)
}

func (l *Limiter) pruneWindowLocked(now time.Time) {
	cutoff := now.Add(-l.cfg.ErrorWindow)
	i := 0
	for ; i < len(l.window); i++ {
		if l.window[i].at.After(cutoff) {
			break
		}
	}
	l.window = l.window[i:]
}

func (l *Limiter) errorRateLocked() float64 {
	if len(l.window) == 0 {
		return 0
	}
	failures := 0
	for _, o := range l.window {
		if !o.success {
			failures++
		}
	}
	return float64(failures) / float64(len(l.window))
}

func (l *Limiter) maybeAdjustBackoffLocked(now time.Time) {
	rate := l.errorRateLocked()
	if rate > l.cfg.ErrorRateHigh {
		l.rateMultiplier = l.cfg.DegradedMultiplier
		l.degradedUntil = now.Add(l.cfg.DegradedBackoff)
		return
	}
	if !l.degradedUntil.IsZero() && now.Before(l.degradedUntil) {
		l.rateMultiplier = l.cfg.DegradedMultiplier
		return
	}
	if !l.degradedUntil.IsZero() && !now.Before(l.degradedUntil) && rate < l.cfg.ErrorRateLow {
		l.rateMultiplier = 1.0
		l.degradedUntil = time.Time{}
	}
}
