// Package breaker implements the three-state circuit breaker (CLOSED /
// OPEN / HALF_OPEN) with durable, version-guarded state across process
// restarts. State transitions never overwrite a version that is no
// longer current, so a concurrent reader can't clobber a transition it
// didn't observe. Persistence goes through internal/filestate for
// atomic, crash-safe writes.
//
// An in-memory circuit breaker library is deliberately not used here:
// none exposes a hook for durable, optimistically-versioned writes, so
// wrapping one would mean re-deriving all of this state anyway.
package breaker

import (
	"os"
	"sync"
	"time"

	"github.com/yungbote/syncqueue/internal/filestate"
	"github.com/yungbote/syncqueue/internal/platform/logger"
	"github.com/yungbote/syncqueue/internal/syncclient"
)

// State is one of the three circuit breaker states.
type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

// Config holds the breaker's configurable thresholds.
type Config struct {
	FailureThreshold int
	SuccessThreshold int
	RecoveryTimeout  time.Duration
}

// DefaultConfig returns sane defaults for the circuit breaker.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 1,
		RecoveryTimeout:  60 * time.Second,
	}
}

// persisted is the on-disk shape of circuit_breaker.json.
type persisted struct {
	State            State      `json:"state"`
	FailureCount     int        `json:"failure_count"`
	SuccessCount     int        `json:"success_count"`
	OpenedAt         *time.Time `json:"opened_at"`
	LastTransitionAt time.Time  `json:"last_transition_at"`
	Version          uint64     `json:"version"`
}

// Snapshot is the read-only view exposed to callers (e.g. the status
// reporter) without handing out the mutable internal state.
type Snapshot struct {
	State            State
	FailureCount     int
	SuccessCount     int
	OpenedAt         *time.Time
	LastTransitionAt time.Time
	Version          uint64
}

// Breaker is the circuit breaker. Only the sync worker goroutine
// should mutate it; other callers should read only
// (State/Snapshot), sidestepping the multi-writer race entirely.
type Breaker struct {
	mu               sync.Mutex
	store            *filestate.Store
	cfg              Config
	p                persisted
	halfOpenInFlight bool
	log              *logger.Logger
}

// Open loads (or initializes) the circuit breaker state at path.
func Open(path string, cfg Config, log *logger.Logger) (*Breaker, error) {
	store := filestate.New(path)
	var p persisted
	if err := store.Load(&p); err != nil {
		if err != os.ErrNotExist {
			return nil, err
		}
		p = persisted{State: StateClosed, LastTransitionAt: time.Now()}
	}
	return &Breaker{store: store, cfg: cfg, p: p, log: log.With("component", "CB")}, nil
}

// Allow reports whether a call may proceed, applying the lazy
// OPEN->HALF_OPEN transition as a side effect when recovery_timeout has
// elapsed. In HALF_OPEN, exactly one caller is admitted at a time.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeTransitionToHalfOpenLocked()

	switch b.p.State {
	case StateClosed:
		return true
	case StateOpen:
		return false
	case StateHalfOpen:
		if b.halfOpenInFlight {
			return false
		}
		b.halfOpenInFlight = true
		return true
	default:
		return false
	}
}

// State returns the current state, applying the lazy OPEN->HALF_OPEN
// transition as a side effect.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeTransitionToHalfOpenLocked()
	return b.p.State
}

// Snapshot returns a read-only copy of the current durable state,
// applying the lazy transition first.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeTransitionToHalfOpenLocked()
	return Snapshot{
		State:            b.p.State,
		FailureCount:     b.p.FailureCount,
		SuccessCount:     b.p.SuccessCount,
		OpenedAt:         b.p.OpenedAt,
		LastTransitionAt: b.p.LastTransitionAt,
		Version:          b.p.Version,
	}
}

// RecordSuccess must be called after each permitted call that returned
// normally. It returns whether this call caused a HALF_OPEN->CLOSED
// transition, so the sync worker can react (start the rate limiter's
// recovery period, close out the outage history record) without the
// breaker calling back into those components itself.
func (b *Breaker) RecordSuccess() (transitioned bool, newState State) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeTransitionToHalfOpenLocked()

	switch b.p.State {
	case StateHalfOpen:
		b.p.SuccessCount++
		b.halfOpenInFlight = false
		if b.p.SuccessCount >= b.cfg.SuccessThreshold {
			b.transitionLocked(StateClosed)
			b.persistLocked()
			return true, StateClosed
		}
		b.persistLocked()
		return false, StateHalfOpen
	default:
		return false, b.p.State
	}
}

// RecordFailure registers a failed call of the given kind. Only kinds
// that count toward the breaker (transient, downstream-down) affect
// state; rate-limited, not-found, and classification errors are
// recorded as no-ops here. It returns whether this
// call caused a CLOSED->OPEN or HALF_OPEN->OPEN transition.
func (b *Breaker) RecordFailure(kind syncclient.ErrorKind) (transitioned bool, newState State) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeTransitionToHalfOpenLocked()

	if !kind.CountsTowardCircuitBreaker() {
		return false, b.p.State
	}

	switch b.p.State {
	case StateClosed:
		b.p.FailureCount++
		if b.p.FailureCount >= b.cfg.FailureThreshold {
			b.transitionLocked(StateOpen)
			b.persistLocked()
			return true, StateOpen
		}
		b.persistLocked()
		return false, StateClosed
	case StateHalfOpen:
		b.halfOpenInFlight = false
		b.transitionLocked(StateOpen)
		b.persistLocked()
		return true, StateOpen
	default:
		return false, b.p.State
	}
}

// maybeTransitionToHalfOpenLocked performs the OPEN->HALF_OPEN lazy
// transition when recovery_timeout has elapsed since opened_at. Caller
// must hold b.mu.
func (b *Breaker) maybeTransitionToHalfOpenLocked() {
	if b.p.State != StateOpen || b.p.OpenedAt == nil {
		return
	}
	if time.Since(*b.p.OpenedAt) >= b.cfg.RecoveryTimeout {
		b.transitionLocked(StateHalfOpen)
		b.persistLocked()
	}
}

// transitionLocked applies the state-entry side effects for newState.
// Caller must hold b.mu.
func (b *Breaker) transitionLocked(newState State) {
	now := time.Now()
	b.p.State = newState
	b.p.LastTransitionAt = now
	switch newState {
	case StateOpen:
		b.p.OpenedAt = &now
		b.p.SuccessCount = 0
	case StateHalfOpen:
		b.p.SuccessCount = 0
	case StateClosed:
		b.p.OpenedAt = nil
		b.p.FailureCount = 0
		b.p.SuccessCount = 0
	}
}

// persistLocked increments the optimistic version and writes the
// current state atomically. Caller must hold b.mu.
func (b *Breaker) persistLocked() {
	b.p.Version++
	if err := b.store.Save(&b.p); err != nil && b.log != nil {
		b.log.Error("failed to persist circuit breaker state", "error", err, "state", b.p.State)
	}
}
