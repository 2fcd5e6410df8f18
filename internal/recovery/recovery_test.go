package recovery

import (
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/yungbote/syncqueue/internal/breaker"
	"github.com/yungbote/syncqueue/internal/platform/logger"
	"github.com/yungbote/syncqueue/internal/syncclient"
)

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "recovery_state.json"), filepath.Join(dir, "recovery"), rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func newTestBreaker(t *testing.T) *breaker.Breaker {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	cfg := breaker.Config{FailureThreshold: 1, SuccessThreshold: 1, RecoveryTimeout: time.Millisecond}
	b, err := breaker.Open(filepath.Join(t.TempDir(), "circuit_breaker.json"), cfg, log)
	if err != nil {
		t.Fatalf("breaker.Open: %v", err)
	}
	return b
}

func TestShouldCheckFalseWhenClosed(t *testing.T) {
	s := newTestScheduler(t)
	due, release := s.ShouldCheck(breaker.StateClosed, time.Now())
	release()
	if due {
		t.Fatalf("expected should_check=false while CLOSED")
	}
}

func TestShouldCheckTrueWhenDueAndOpen(t *testing.T) {
	s := newTestScheduler(t)
	due, release := s.ShouldCheck(breaker.StateOpen, time.Now())
	defer release()
	if !due {
		t.Fatalf("expected should_check=true on first OPEN check (zero-value last_check_time)")
	}
}

func TestShouldCheckRespectsAdaptiveInterval(t *testing.T) {
	s := newTestScheduler(t)
	now := time.Now()

	due, release := s.ShouldCheck(breaker.StateOpen, now)
	if !due {
		t.Fatalf("expected first check due")
	}
	release()
	s.RecordCheck(false, time.Millisecond, now, nil)

	due, release = s.ShouldCheck(breaker.StateOpen, now.Add(time.Millisecond))
	release()
	if due {
		t.Fatalf("expected should_check=false immediately after a failed check (base interval 5s not elapsed)")
	}

	due, release = s.ShouldCheck(breaker.StateOpen, now.Add(BaseInterval+time.Second))
	defer release()
	if !due {
		t.Fatalf("expected should_check=true once base interval has elapsed")
	}
}

func TestShouldCheckFalseWhenLockHeld(t *testing.T) {
	s := newTestScheduler(t)
	_, release1 := s.ShouldCheck(breaker.StateOpen, time.Now())
	defer release1()

	due, release2 := s.ShouldCheck(breaker.StateOpen, time.Now())
	release2()
	if due {
		t.Fatalf("expected should_check=false while lock is already held")
	}
}

func TestRecordCheckHealthyDuringHalfOpenClosesBreakerAndRecordsRecovery(t *testing.T) {
	s := newTestScheduler(t)
	b := newTestBreaker(t)

	b.RecordFailure(syncclient.KindDownstreamDown)
	time.Sleep(2 * time.Millisecond)
	if got := b.State(); got != breaker.StateHalfOpen {
		t.Fatalf("expected breaker to have lazily transitioned to HALF_OPEN, got %s", got)
	}

	now := time.Now()
	s.RecordCheck(true, time.Millisecond, now, b)

	if got := b.State(); got != breaker.StateClosed {
		t.Fatalf("expected healthy check during HALF_OPEN to close breaker, got %s", got)
	}
	snap := s.Snapshot()
	if snap.RecoveryCount != 1 {
		t.Fatalf("expected recovery_count=1, got %d", snap.RecoveryCount)
	}
	if snap.RecoveryStartedAt.IsZero() {
		t.Fatalf("expected recovery_started_at to be set")
	}
}

func TestForceRecordCheckRecordsRegardlessOfInterval(t *testing.T) {
	s := newTestScheduler(t)
	now := time.Now()

	if !s.ForceRecordCheck(true, time.Millisecond, now, nil) {
		t.Fatalf("expected ForceRecordCheck to acquire the lock on first use")
	}
	if got := s.Snapshot().LastCheckTime; !got.Equal(now) {
		t.Fatalf("expected last_check_time=%v, got %v", now, got)
	}

	// Immediately calling again, with no interval elapsed, must still
	// record since ForceRecordCheck bypasses the adaptive-interval gate.
	later := now.Add(time.Millisecond)
	if !s.ForceRecordCheck(false, time.Millisecond, later, nil) {
		t.Fatalf("expected second ForceRecordCheck to also succeed")
	}
	if got := s.Snapshot().LastCheckTime; !got.Equal(later) {
		t.Fatalf("expected last_check_time=%v, got %v", later, got)
	}
}

func TestForceRecordCheckFailsWhenLockHeld(t *testing.T) {
	s := newTestScheduler(t)
	_, release := s.ShouldCheck(breaker.StateOpen, time.Now())
	defer release()

	if s.ForceRecordCheck(true, 0, time.Now(), nil) {
		t.Fatalf("expected ForceRecordCheck to fail while the lock is held elsewhere")
	}
}

func TestClearRecoveryPeriodZeroesField(t *testing.T) {
	s := newTestScheduler(t)
	b := newTestBreaker(t)
	b.RecordFailure(syncclient.KindDownstreamDown)
	time.Sleep(2 * time.Millisecond)
	s.RecordCheck(true, time.Millisecond, time.Now(), b)

	if s.Snapshot().RecoveryStartedAt.IsZero() {
		t.Fatalf("setup: expected recovery_started_at set before clearing")
	}
	s.ClearRecoveryPeriod()
	if !s.Snapshot().RecoveryStartedAt.IsZero() {
		t.Fatalf("expected recovery_started_at to be zeroed")
	}
}
