package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/yungbote/syncqueue/internal/platform/logger"
)

type fakeProber struct {
	delay time.Duration
	err   error
}

func (f fakeProber) Probe(ctx context.Context, timeout time.Duration) error {
	select {
	case <-time.After(f.delay):
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	return log
}

func TestCheckReportsHealthyOnNilError(t *testing.T) {
	c := New(fakeProber{}, time.Second, newTestLogger(t))
	res := c.Check(context.Background())
	if !res.Healthy {
		t.Fatalf("expected healthy result, got %+v", res)
	}
}

func TestCheckReportsUnhealthyOnError(t *testing.T) {
	c := New(fakeProber{err: errors.New("still warming caches")}, time.Second, newTestLogger(t))
	res := c.Check(context.Background())
	if res.Healthy {
		t.Fatalf("expected unhealthy result, got %+v", res)
	}
}

func TestCheckTimesOutAsUnhealthy(t *testing.T) {
	c := New(fakeProber{delay: 200 * time.Millisecond}, 20*time.Millisecond, newTestLogger(t))
	res := c.Check(context.Background())
	if res.Healthy {
		t.Fatalf("expected probe exceeding timeout to be unhealthy")
	}
	if res.LatencyMS < 15 {
		t.Fatalf("expected latency to reflect the timeout wait, got %f", res.LatencyMS)
	}
}

func TestDefaultTimeoutAppliedWhenNonPositive(t *testing.T) {
	c := New(fakeProber{}, 0, newTestLogger(t))
	if c.timeout != DefaultTimeout {
		t.Fatalf("expected DefaultTimeout fallback, got %v", c.timeout)
	}
}
