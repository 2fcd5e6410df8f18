package outage

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestHistory(t *testing.T, capacity int) *History {
	t.Helper()
	h, err := Open(filepath.Join(t.TempDir(), "outage_history.json"), capacity)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return h
}

func TestRecordStartThenEndPopulatesDuration(t *testing.T) {
	h := newTestHistory(t, DefaultCapacity)
	start := time.Now()
	h.RecordStart(start)

	end := start.Add(90 * time.Second)
	h.RecordEnd(end, 12)

	hist := h.History()
	if len(hist) != 1 {
		t.Fatalf("expected 1 record, got %d", len(hist))
	}
	r := hist[0]
	if r.EndedAt == nil || r.Duration == nil {
		t.Fatalf("expected ended_at and duration set, got %+v", r)
	}
	if *r.Duration != 90 {
		t.Fatalf("expected duration=90s, got %f", *r.Duration)
	}
	if r.JobsAffected != 12 {
		t.Fatalf("expected jobs_affected=12, got %d", r.JobsAffected)
	}
}

func TestRecordEndNoOpWhenNoOngoingRecord(t *testing.T) {
	h := newTestHistory(t, DefaultCapacity)
	start := time.Now()
	h.RecordStart(start)
	h.RecordEnd(start.Add(time.Minute), 1)

	h.RecordEnd(start.Add(2*time.Minute), 99)

	hist := h.History()
	if len(hist) != 1 {
		t.Fatalf("expected still 1 record, got %d", len(hist))
	}
	if hist[0].JobsAffected != 1 {
		t.Fatalf("expected record_end on an already-closed record to be a no-op, got jobs_affected=%d", hist[0].JobsAffected)
	}
}

func TestRingDiscardsOldestBeyondCapacity(t *testing.T) {
	h := newTestHistory(t, 2)
	base := time.Now()
	for i := 0; i < 3; i++ {
		h.RecordStart(base.Add(time.Duration(i) * time.Hour))
	}
	hist := h.History()
	if len(hist) != 2 {
		t.Fatalf("expected ring capped at 2, got %d", len(hist))
	}
	if !hist[0].StartedAt.Equal(base.Add(time.Hour)) {
		t.Fatalf("expected oldest record discarded, got %+v", hist)
	}
}

func TestMetricsZeroWhenNoCompletedOutages(t *testing.T) {
	h := newTestHistory(t, DefaultCapacity)
	m := h.Metrics()
	if m.Availability != 100 || m.OutageCount != 0 {
		t.Fatalf("expected default availability=100 and count=0, got %+v", m)
	}
}

func TestMetricsMTBFRequiresAtLeastTwoCompletedOutages(t *testing.T) {
	h := newTestHistory(t, DefaultCapacity)
	base := time.Now()
	h.RecordStart(base)
	h.RecordEnd(base.Add(time.Minute), 1)

	m := h.Metrics()
	if m.OutageCount != 1 {
		t.Fatalf("expected outage_count=1, got %d", m.OutageCount)
	}
	if m.MTBF != 0 {
		t.Fatalf("expected MTBF=0 with only 1 completed outage, got %f", m.MTBF)
	}
	if m.MTTR != 60 {
		t.Fatalf("expected MTTR=60s, got %f", m.MTTR)
	}
}

func TestMetricsComputesMTBFAndAvailabilityAcrossTwoOutages(t *testing.T) {
	h := newTestHistory(t, DefaultCapacity)
	base := time.Now()

	h.RecordStart(base)
	h.RecordEnd(base.Add(time.Minute), 1)

	secondStart := base.Add(time.Hour)
	h.RecordStart(secondStart)
	h.RecordEnd(secondStart.Add(time.Minute), 2)

	m := h.Metrics()
	if m.OutageCount != 2 {
		t.Fatalf("expected outage_count=2, got %d", m.OutageCount)
	}
	if m.MTTR != 60 {
		t.Fatalf("expected MTTR=60s, got %f", m.MTTR)
	}
	// span between starts = 3600s, total downtime = 120s, gaps = 3480s,
	// MTBF = 3480 / (2-1) = 3480s.
	if m.MTBF != 3480 {
		t.Fatalf("expected MTBF=3480s, got %f", m.MTBF)
	}
	expectedAvailability := m.MTBF / (m.MTBF + m.MTTR) * 100
	if m.Availability != expectedAvailability {
		t.Fatalf("expected availability=%f, got %f", expectedAvailability, m.Availability)
	}
}
