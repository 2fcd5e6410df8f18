// Package recovery implements the Recovery Scheduler (RS): a
// check-on-invocation pattern where every call consults RS to decide
// whether a health probe is due, based on a stored last-check time and
// a jittered adaptive backoff interval. should_check+record_check
// atomicity is provided by internal/filestate.Lock, a non-blocking
// O_CREATE|O_EXCL lock file.
package recovery

import (
	"math/rand"
	"os"
	"time"

	"github.com/yungbote/syncqueue/internal/backoff"
	"github.com/yungbote/syncqueue/internal/breaker"
	"github.com/yungbote/syncqueue/internal/filestate"
)

// Base and cap for the adaptive probe interval: 5s -> 10s -> 20s -> 40s
// -> 60s cap.
const (
	BaseInterval = 5 * time.Second
	CapInterval  = 60 * time.Second
)

// persisted is the on-disk shape of recovery_state.json.
type persisted struct {
	LastCheckTime        time.Time `json:"last_check_time"`
	LastCheckResult      bool      `json:"last_check_result"`
	LastCheckLatencyMS   float64   `json:"last_check_latency_ms"`
	ConsecutiveSuccesses int       `json:"consecutive_successes"`
	ConsecutiveFailures  int       `json:"consecutive_failures"`
	RecoveryCount        int       `json:"recovery_count"`
	LastRecoveryTime     time.Time `json:"last_recovery_time"`
	RecoveryStartedAt    time.Time `json:"recovery_started_at"`
}

// Snapshot is the read-only view exposed to callers.
type Snapshot struct {
	LastCheckTime        time.Time
	LastCheckResult      bool
	LastCheckLatencyMS   float64
	ConsecutiveSuccesses int
	ConsecutiveFailures  int
	RecoveryCount        int
	LastRecoveryTime     time.Time
	RecoveryStartedAt    time.Time
}

// Scheduler is the Recovery Scheduler.
type Scheduler struct {
	store *filestate.Store
	lock  *filestate.Lock
	rng   *rand.Rand
	p     persisted
}

// Open loads (or initializes) recovery state at statePath, using
// lockPath for the should_check+record_check atomicity guard. rng
// drives the adaptive interval's jitter; pass a seeded *rand.Rand for
// deterministic tests.
func Open(statePath, lockPath string, rng *rand.Rand) (*Scheduler, error) {
	store := filestate.New(statePath)
	var p persisted
	if err := store.Load(&p); err != nil {
		if err != os.ErrNotExist {
			return nil, err
		}
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Scheduler{
		store: store,
		lock:  filestate.NewLock(lockPath),
		rng:   rng,
		p:     p,
	}, nil
}

// ShouldCheck reports whether a probe is due: true iff
// cbState is OPEN or HALF_OPEN and now-last_check_time has reached the
// adaptive backoff interval. Acquires the non-blocking lock for the
// duration of the check; if acquisition fails (another invocation holds
// it), ShouldCheck returns false along with a no-op release.
func (s *Scheduler) ShouldCheck(cbState breaker.State, now time.Time) (due bool, release func()) {
	if cbState != breaker.StateOpen && cbState != breaker.StateHalfOpen {
		return false, func() {}
	}

	acquired, rel, err := s.lock.TryLock()
	if err != nil || !acquired {
		return false, func() {}
	}

	interval := backoff.Calculate(s.p.ConsecutiveFailures, BaseInterval, CapInterval, s.rng)
	if now.Sub(s.p.LastCheckTime) < interval {
		rel()
		return false, func() {}
	}
	return true, rel
}

// ForceRecordCheck performs RecordCheck under the same non-blocking lock
// as ShouldCheck/RecordCheck, but without the adaptive-interval gate —
// for an operator-invoked health-check command where the explicit
// invocation itself is the due signal.
// Reports whether the lock was acquired; if not, the current lock holder
// (e.g. a syncqueued poll already in flight) owns the record and this
// call is a no-op.
func (s *Scheduler) ForceRecordCheck(healthy bool, latency time.Duration, now time.Time, cb *breaker.Breaker) (recorded bool) {
	acquired, release, err := s.lock.TryLock()
	if err != nil || !acquired {
		return false
	}
	defer release()
	s.RecordCheck(healthy, latency, now, cb)
	return true
}

// RecordCheck updates last_check_* and the consecutive counters after a
// probe of the given outcome. For a healthy probe observed while cb is
// HALF_OPEN, it calls cb.RecordSuccess(); if that transitions the
// breaker to CLOSED, it records the recovery (last_recovery_time,
// recovery_count++, recovery_started_at = now).
func (s *Scheduler) RecordCheck(healthy bool, latency time.Duration, now time.Time, cb *breaker.Breaker) {
	s.p.LastCheckTime = now
	s.p.LastCheckResult = healthy
	s.p.LastCheckLatencyMS = float64(latency.Microseconds()) / 1000.0
	if healthy {
		s.p.ConsecutiveSuccesses++
		s.p.ConsecutiveFailures = 0
	} else {
		s.p.ConsecutiveFailures++
		s.p.ConsecutiveSuccesses = 0
	}

	if healthy && cb != nil && cb.State() == breaker.StateHalfOpen {
		transitioned, newState := cb.RecordSuccess()
		if transitioned && newState == breaker.StateClosed {
			s.p.LastRecoveryTime = now
			s.p.RecoveryCount++
			s.p.RecoveryStartedAt = now
		}
	}

	_ = s.store.Save(&s.p)
}

// ClearRecoveryPeriod sets recovery_started_at back to zero, marking the
// rate limiter's ramp as complete.
func (s *Scheduler) ClearRecoveryPeriod() {
	s.p.RecoveryStartedAt = time.Time{}
	_ = s.store.Save(&s.p)
}

// Snapshot returns a read-only copy of the current durable state.
func (s *Scheduler) Snapshot() Snapshot {
	return Snapshot{
		LastCheckTime:        s.p.LastCheckTime,
		LastCheckResult:      s.p.LastCheckResult,
		LastCheckLatencyMS:   s.p.LastCheckLatencyMS,
		ConsecutiveSuccesses: s.p.ConsecutiveSuccesses,
		ConsecutiveFailures:  s.p.ConsecutiveFailures,
		RecoveryCount:        s.p.RecoveryCount,
		LastRecoveryTime:     s.p.LastRecoveryTime,
		RecoveryStartedAt:    s.p.RecoveryStartedAt,
	}
}
