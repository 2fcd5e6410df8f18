package backoff

import (
	"math/rand"
	"testing"
	"time"
)

func TestCalculateDeterministicWithSeededRand(t *testing.T) {
	base := 5 * time.Second
	cap := 60 * time.Second

	r1 := rand.New(rand.NewSource(42))
	r2 := rand.New(rand.NewSource(42))

	d1 := Calculate(3, base, cap, r1)
	d2 := Calculate(3, base, cap, r2)
	if d1 != d2 {
		t.Fatalf("expected identical delays for identical seeds, got %v vs %v", d1, d2)
	}
}

func TestCalculateNeverExceedsCap(t *testing.T) {
	base := 5 * time.Second
	cap := 60 * time.Second
	rng := rand.New(rand.NewSource(1))

	for retry := 0; retry < 30; retry++ {
		d := Calculate(retry, base, cap, rng)
		if d > cap {
			t.Fatalf("retry=%d: delay %v exceeded cap %v", retry, d, cap)
		}
		if d < 0 {
			t.Fatalf("retry=%d: delay %v negative", retry, d)
		}
	}
}

func TestCalculateZeroRetryBoundedByBase(t *testing.T) {
	base := 5 * time.Second
	cap := 60 * time.Second
	rng := rand.New(rand.NewSource(7))

	d := Calculate(0, base, cap, rng)
	if d > base {
		t.Fatalf("retry=0: expected delay <= base (%v), got %v", base, d)
	}
}

func TestCalculateGrowsWithRetryCeiling(t *testing.T) {
	base := 1 * time.Second
	cap := 1000 * time.Second

	if got := ceilingDelay(0, base, cap); got != 1*time.Second {
		t.Fatalf("retry=0 ceiling: got %v want 1s", got)
	}
	if got := ceilingDelay(2, base, cap); got != 4*time.Second {
		t.Fatalf("retry=2 ceiling: got %v want 4s", got)
	}
	if got := ceilingDelay(10, base, cap); got != 1000*time.Second {
		t.Fatalf("retry=10 ceiling: expected capped at 1000s, got %v", got)
	}
}
