package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCircuitBreakerStateValueMapping(t *testing.T) {
	cases := map[string]float64{
		"CLOSED":    0,
		"HALF_OPEN": 1,
		"OPEN":      2,
		"":          0,
	}
	for state, want := range cases {
		if got := CircuitBreakerStateValue(state); got != want {
			t.Fatalf("state %q: expected %f, got %f", state, want, got)
		}
	}
}

func TestRecordJobOutcomeIncrementsCounter(t *testing.T) {
	before := testutil.ToFloat64(JobsProcessedTotal.WithLabelValues("success"))
	RecordJobOutcome("success")
	after := testutil.ToFloat64(JobsProcessedTotal.WithLabelValues("success"))
	if after != before+1 {
		t.Fatalf("expected counter to increment by 1, went from %f to %f", before, after)
	}
}

func TestQueueDepthGaugeIsSettable(t *testing.T) {
	QueueDepth.Set(7)
	if got := testutil.ToFloat64(QueueDepth); got != 7 {
		t.Fatalf("expected queue_depth=7, got %f", got)
	}
}
